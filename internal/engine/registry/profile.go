package registry

import (
	"fmt"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/identity"
)

// DefaultKickLoopIntervalSeconds applies when a kick loop is enabled
// without a usable interval.
const DefaultKickLoopIntervalSeconds = 60

type Location struct {
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Z            int    `json:"z"`
	Dimension    string `json:"dimension"`
	CapturedAtMS int64  `json:"captured_at_ms"`
}

func (l *Location) key() string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%s|%d|%d|%d|%d", l.Dimension, l.X, l.Y, l.Z, l.CapturedAtMS)
}

// KickLoop is the quarantine state. It survives counter resets and is only
// turned off by an explicit disable.
type KickLoop struct {
	Enabled    bool  `json:"enabled"`
	SinceMS    int64 `json:"since_ms,omitempty"`
	LastKickMS int64 `json:"last_kick_ms,omitempty"`
	// LastAttemptMS is stamped on every kick attempt, failed ones included.
	LastAttemptMS   int64 `json:"last_attempt_ms,omitempty"`
	IntervalSeconds int   `json:"interval_seconds,omitempty"`
}

type Profile struct {
	Identity          string                   `json:"identity"`
	Name              string                   `json:"name"`
	Counters          map[finding.Category]int `json:"counters"`
	Total             int                      `json:"total"`
	LastViolationAtMS int64                    `json:"last_violation_at_ms"`
	LastSeenAtMS      int64                    `json:"last_seen_at_ms"`
	LastKnownLocation *Location                `json:"last_known_location,omitempty"`
	Reason            string                   `json:"reason,omitempty"`
	KickLoop          KickLoop                 `json:"kick_loop"`
}

// Quarantined reports whether the profile is in kick-loop mode.
func (p Profile) Quarantined() bool { return p.KickLoop.Enabled }

func (p Profile) Count(c finding.Category) int { return p.Counters[c] }

func (p Profile) Clone() Profile {
	out := p
	out.Counters = make(map[finding.Category]int, len(p.Counters))
	for k, v := range p.Counters {
		out.Counters[k] = v
	}
	if p.LastKnownLocation != nil {
		loc := *p.LastKnownLocation
		out.LastKnownLocation = &loc
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// minNonZero treats zero as unset.
func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// newer orders profiles by activity for picking descriptive fields. It is a
// strict total order over the fields it compares, so Merge does not depend
// on argument order.
func newer(a, b Profile) bool {
	if a.LastViolationAtMS != b.LastViolationAtMS {
		return a.LastViolationAtMS > b.LastViolationAtMS
	}
	if a.LastSeenAtMS != b.LastSeenAtMS {
		return a.LastSeenAtMS > b.LastSeenAtMS
	}
	if a.Name != b.Name {
		return a.Name > b.Name
	}
	if a.Reason != b.Reason {
		return a.Reason > b.Reason
	}
	return a.LastKnownLocation.key() > b.LastKnownLocation.key()
}

// Merge coalesces two records of one identity: counters and timestamps take
// the maximum, descriptive fields come from the more recently active record,
// and kick-loop state is OR'd together. Merge is commutative, associative
// and idempotent.
func Merge(a, b Profile) Profile {
	desc := a
	if newer(b, a) {
		desc = b
	}
	out := Profile{
		Identity:          maxString(a.Identity, b.Identity),
		Name:              desc.Name,
		Counters:          map[finding.Category]int{},
		Total:             maxInt(a.Total, b.Total),
		LastViolationAtMS: maxI64(a.LastViolationAtMS, b.LastViolationAtMS),
		LastSeenAtMS:      maxI64(a.LastSeenAtMS, b.LastSeenAtMS),
		Reason:            desc.Reason,
	}
	if out.Identity == "" {
		out.Identity = identity.Normalize(desc.Name)
	}
	if desc.LastKnownLocation != nil {
		loc := *desc.LastKnownLocation
		out.LastKnownLocation = &loc
	}
	for k, v := range a.Counters {
		out.Counters[k] = v
	}
	for k, v := range b.Counters {
		out.Counters[k] = maxInt(out.Counters[k], v)
	}
	out.KickLoop = mergeKickLoop(a.KickLoop, b.KickLoop)
	return out
}

func maxString(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func mergeKickLoop(a, b KickLoop) KickLoop {
	out := KickLoop{
		Enabled:         a.Enabled || b.Enabled,
		SinceMS:         minNonZero(a.SinceMS, b.SinceMS),
		LastKickMS:      maxI64(a.LastKickMS, b.LastKickMS),
		LastAttemptMS:   maxI64(a.LastAttemptMS, b.LastAttemptMS),
		IntervalSeconds: maxInt(a.IntervalSeconds, b.IntervalSeconds),
	}
	if out.Enabled && out.IntervalSeconds <= 0 {
		out.IntervalSeconds = DefaultKickLoopIntervalSeconds
	}
	return out
}

// MergeOnLoad re-keys raw persisted records by normalized identity and
// coalesces duplicates. It reports whether the result differs from raw.
func MergeOnLoad(raw map[string]Profile) (map[string]Profile, bool) {
	out := make(map[string]Profile, len(raw))
	changed := false
	for key, p := range raw {
		id := identity.Normalize(key)
		if id == "" {
			id = identity.Normalize(p.Name)
		}
		if id == "" {
			changed = true
			continue
		}
		p = normalizeProfile(p, id)
		if id != key || p.Identity != raw[key].Identity {
			changed = true
		}
		if prev, ok := out[id]; ok {
			p = Merge(prev, p)
			p.Identity = id
			changed = true
		}
		out[id] = p
	}
	return out, changed
}

func normalizeProfile(p Profile, id string) Profile {
	p = p.Clone()
	p.Identity = id
	if p.Name == "" {
		p.Name = id
	}
	for k, v := range p.Counters {
		if v < 0 {
			p.Counters[k] = 0
		}
	}
	if p.Total < 0 {
		p.Total = 0
	}
	if p.KickLoop.Enabled && p.KickLoop.IntervalSeconds <= 0 {
		p.KickLoop.IntervalSeconds = DefaultKickLoopIntervalSeconds
	}
	return p
}
