// Package incidents keeps the bounded incident log: one entry per finding,
// oldest dropped first, exported newest first.
package incidents

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/persistence/store"
)

const (
	Key        = "antidupe:logs"
	DefaultCap = 12000
	DefaultMax = 100

	descTrimLen = 24
)

type Entry struct {
	ID            string           `json:"id"`
	AtMS          int64            `json:"at_ms"`
	Offender      string           `json:"offender"`
	Identity      string           `json:"identity"`
	Category      finding.Category `json:"category"`
	Label         string           `json:"label"`
	Description   string           `json:"description"`
	Location      probe.Vec3i      `json:"location"`
	Dimension     string           `json:"dimension"`
	Mitigation    string           `json:"mitigation,omitempty"`
	Nearby        []string         `json:"nearby,omitempty"`
	CategoryCount int              `json:"category_count"`
	Total         int              `json:"total"`
}

const stampLayout = "2006-01-02T15:04:05.000Z"

// Text renders the entry as one log line.
func (e Entry) Text() string {
	near := "None"
	if len(e.Nearby) > 0 {
		near = strings.Join(e.Nearby, ", ")
	}
	stamp := time.UnixMilli(e.AtMS).UTC().Format(stampLayout)
	return fmt.Sprintf("%s | %s | %s | %s | %s | nearby: %s", stamp, e.Offender, e.Label, e.Description, e.Location, near)
}

// Export joins entries one per line; entries are expected newest first.
func Export(entries []Entry) string {
	if len(entries) == 0 {
		return "No dupe logs."
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Text()
	}
	return strings.Join(lines, "\n")
}

// FromFinding builds an entry; counters are the offender's values after
// the finding was recorded.
func FromFinding(f finding.Finding, atMS int64, nearby []string, categoryCount, total int) Entry {
	return Entry{
		AtMS:          atMS,
		Offender:      f.Offender,
		Identity:      f.Identity,
		Category:      f.Category,
		Label:         f.Category.Label(),
		Description:   f.Description,
		Location:      f.Location,
		Dimension:     f.Dimension,
		Mitigation:    f.Mitigation,
		Nearby:        nearby,
		CategoryCount: categoryCount,
		Total:         total,
	}
}

func trimStages() []store.TrimStage[[]Entry] {
	return []store.TrimStage[[]Entry]{
		func(es *[]Entry) bool {
			if len(*es) == 0 {
				return false
			}
			*es = (*es)[1:]
			return true
		},
		func(es *[]Entry) bool {
			for i := range *es {
				if len((*es)[i].Description) > descTrimLen {
					(*es)[i].Description = store.TruncateUTF8((*es)[i].Description, descTrimLen)
					return true
				}
			}
			return false
		},
		func(es *[]Entry) bool {
			for i := range *es {
				if len((*es)[i].Nearby) > 0 || (*es)[i].Mitigation != "" {
					(*es)[i].Nearby = nil
					(*es)[i].Mitigation = ""
					return true
				}
			}
			return false
		},
	}
}

type Options struct {
	Cap            int
	Max            int
	DebounceTicks  int64
	HeartbeatTicks int64
	Logger         *zerolog.Logger
	OnFlush        func(store.FlushInfo)
}

type Log struct {
	rec *store.Record[[]Entry]
	max int
}

func New(surface kv.Surface, opts Options) *Log {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	l := &Log{max: opts.Max}
	l.rec = store.New(surface, store.Options[[]Entry]{
		Key:            Key,
		Cap:            opts.Cap,
		Default:        func() []Entry { return []Entry{} },
		Normalize:      l.normalize,
		Trim:           trimStages(),
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Logger:         opts.Logger,
		OnFlush:        opts.OnFlush,
	})
	return l
}

func (l *Log) normalize(es []Entry) ([]Entry, bool) {
	if es == nil {
		return []Entry{}, true
	}
	if len(es) > l.max {
		return append([]Entry(nil), es[len(es)-l.max:]...), true
	}
	return es, false
}

func (l *Log) Load()          { l.rec.Load() }
func (l *Log) Tick(now int64) { l.rec.Tick(now) }
func (l *Log) Flush() error   { return l.rec.Flush() }
func (l *Log) IsDirty() bool  { return l.rec.IsDirty() }

// SetMax changes the retained entry count, dropping the oldest if needed.
func (l *Log) SetMax(n int) {
	if n <= 0 || n == l.max {
		return
	}
	l.max = n
	if es := l.rec.Value(); len(es) > n {
		l.rec.Update(func(es *[]Entry) { *es = append([]Entry(nil), (*es)[len(*es)-n:]...) })
	}
}

// Append stores e, assigning an id when missing, and returns it.
func (l *Log) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	l.rec.Update(func(es *[]Entry) {
		*es = append(*es, e)
		if over := len(*es) - l.max; over > 0 {
			*es = append([]Entry(nil), (*es)[over:]...)
		}
	})
	return e
}

func (l *Log) Len() int { return len(l.rec.Value()) }

// Newest returns up to limit entries, newest first. limit <= 0 means all.
func (l *Log) Newest(limit int) []Entry {
	es := l.rec.Value()
	n := len(es)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(es) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, es[i])
	}
	return out
}

func (l *Log) Clear() int {
	n := l.Len()
	l.rec.Update(func(es *[]Entry) { *es = []Entry{} })
	return n
}
