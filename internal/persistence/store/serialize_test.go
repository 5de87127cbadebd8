package store

import (
	"math/rand"
	"strings"
	"testing"
)

type logDoc struct {
	Entries []string `json:"entries"`
	Note    string   `json:"note"`
	Tag     string   `json:"tag"`
}

func logStages() []TrimStage[logDoc] {
	return []TrimStage[logDoc]{
		func(d *logDoc) bool {
			if len(d.Entries) == 0 {
				return false
			}
			d.Entries = d.Entries[1:]
			return true
		},
		func(d *logDoc) bool {
			if len(d.Note) <= 8 {
				return false
			}
			d.Note = d.Note[:8]
			return true
		},
		func(d *logDoc) bool {
			if d.Tag == "" {
				return false
			}
			d.Tag = ""
			return true
		},
	}
}

func TestSerializeWithCapUnmodifiedWhenFits(t *testing.T) {
	d := logDoc{Entries: []string{"a", "b"}, Note: "n", Tag: "t"}
	out, outcome := SerializeWithCap(d, 1000, logStages(), nil)
	if outcome != OutcomeFit {
		t.Fatalf("outcome=%v", outcome)
	}
	if string(out) != `{"entries":["a","b"],"note":"n","tag":"t"}` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestSerializeWithCapDropsOldestFirst(t *testing.T) {
	d := logDoc{Entries: []string{"oldest-entry", "middle-entry", "newest-entry"}}
	full, _ := SerializeWithCap(d, 1<<20, nil, nil)
	out, outcome := SerializeWithCap(d, len(full)-5, logStages(), nil)
	if outcome != OutcomeTrimmed {
		t.Fatalf("outcome=%v", outcome)
	}
	if strings.Contains(string(out), "oldest") || !strings.Contains(string(out), "newest") {
		t.Fatalf("expected oldest dropped: %s", out)
	}
	if len(d.Entries) != 3 {
		t.Fatalf("input must not be mutated")
	}
}

func TestSerializeWithCapFallbackChain(t *testing.T) {
	d := logDoc{Entries: []string{strings.Repeat("x", 50)}, Tag: strings.Repeat("t", 40)}
	out, outcome := SerializeWithCap(d, 4, logStages(), func() logDoc { return logDoc{Note: "default"} })
	if outcome != OutcomeMinimal || string(out) != "{}" {
		t.Fatalf("got %q (%v)", out, outcome)
	}
	out, outcome = SerializeWithCap(d, 1, logStages(), nil)
	if outcome != OutcomeEmpty || len(out) != 0 {
		t.Fatalf("got %q (%v)", out, outcome)
	}
	out, outcome = SerializeWithCap(d, 40, logStages(), func() logDoc { return logDoc{} })
	if len(out) > 40 {
		t.Fatalf("over cap: %q (%v)", out, outcome)
	}
}

func TestSerializeWithCapNeverExceedsCap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		var d logDoc
		n := rng.Intn(40)
		for j := 0; j < n; j++ {
			d.Entries = append(d.Entries, strings.Repeat("e", rng.Intn(30)))
		}
		d.Note = strings.Repeat("n", rng.Intn(200))
		d.Tag = strings.Repeat("t", rng.Intn(50))
		capBytes := rng.Intn(600)
		full, _ := SerializeWithCap(d, 1<<20, nil, nil)
		out, outcome := SerializeWithCap(d, capBytes, logStages(), func() logDoc { return logDoc{} })
		if len(out) > capBytes {
			t.Fatalf("case %d: len=%d cap=%d outcome=%v", i, len(out), capBytes, outcome)
		}
		if len(full) <= capBytes && string(out) != string(full) {
			t.Fatalf("case %d: fitting payload was modified", i)
		}
	}
}

type panicky struct{}

func (panicky) MarshalJSON() ([]byte, error) { panic("boom") }

func TestSerializeWithCapRecoversFromPanics(t *testing.T) {
	out, outcome := SerializeWithCap(panicky{}, 10, nil, nil)
	if len(out) > 10 || (outcome != OutcomeMinimal && outcome != OutcomeEmpty) {
		t.Fatalf("got %q (%v)", out, outcome)
	}
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "h"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		if got := TruncateUTF8(c.in, c.n); got != c.want {
			t.Fatalf("TruncateUTF8(%q, %d)=%q want %q", c.in, c.n, got, c.want)
		}
	}
}
