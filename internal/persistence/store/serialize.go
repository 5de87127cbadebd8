package store

import (
	"bytes"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// TrimStage removes one unit of optional content from v. It reports false
// once it has nothing left to remove.
type TrimStage[T any] func(v *T) bool

// Outcome tells how SerializeWithCap produced its result.
type Outcome int

const (
	OutcomeFit Outcome = iota
	OutcomeTrimmed
	OutcomeFallback
	OutcomeMinimal
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFit:
		return "fit"
	case OutcomeTrimmed:
		return "trimmed"
	case OutcomeFallback:
		return "fallback"
	case OutcomeMinimal:
		return "minimal"
	default:
		return "empty"
	}
}

// SerializeWithCap encodes v as JSON in at most capBytes bytes. When the
// plain encoding fits it is returned untouched. Otherwise the stages run in
// order on a private copy, each repeated until the payload fits or the stage
// is exhausted; after that the fallback value, then an empty document of the
// same shape, and finally an empty byte string are tried. It never panics.
func SerializeWithCap[T any](v T, capBytes int, stages []TrimStage[T], fallback func() T) (out []byte, outcome Outcome) {
	if capBytes < 0 {
		capBytes = 0
	}
	minimal := []byte("null")
	defer func() {
		if r := recover(); r != nil {
			out, outcome = minimalOrEmpty(minimal, capBytes)
		}
	}()

	raw, err := json.Marshal(v)
	if err == nil {
		minimal = emptyDocFor(raw)
		if len(raw) <= capBytes {
			return raw, OutcomeFit
		}
	}

	if err == nil && len(stages) > 0 {
		var work T
		if json.Unmarshal(raw, &work) == nil {
			for _, stage := range stages {
				for stage(&work) {
					b, err := json.Marshal(work)
					if err != nil {
						break
					}
					if len(b) <= capBytes {
						return b, OutcomeTrimmed
					}
				}
			}
		}
	}

	if fallback != nil {
		if b, err := json.Marshal(fallback()); err == nil {
			if len(raw) == 0 {
				minimal = emptyDocFor(b)
			}
			if len(b) <= capBytes {
				return b, OutcomeFallback
			}
		}
	}
	return minimalOrEmpty(minimal, capBytes)
}

func minimalOrEmpty(minimal []byte, capBytes int) ([]byte, Outcome) {
	if len(minimal) <= capBytes {
		return append([]byte(nil), minimal...), OutcomeMinimal
	}
	return []byte{}, OutcomeEmpty
}

func emptyDocFor(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []byte("null")
	}
	switch raw[0] {
	case '[':
		return []byte("[]")
	case '{':
		return []byte("{}")
	case '"':
		return []byte(`""`)
	default:
		return []byte("null")
	}
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
