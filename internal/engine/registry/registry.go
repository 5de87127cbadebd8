// Package registry keeps the per-identity violation profiles. The persisted
// copy is authoritative for punishment decisions; the counter backend is a
// best-effort mirror.
package registry

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/identity"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/persistence/store"
)

const (
	Key = "antidupe:registry"
	// DefaultCap leaves headroom below the host's 32 KiB property limit.
	DefaultCap = 30000

	reasonTrimLen = 32
)

var ErrUnknownIdentity = errors.New("registry: unknown identity")

// CounterBackend mirrors counters somewhere external (a scoreboard, a
// metrics system). Failures there are ignored.
type CounterBackend interface {
	Add(identity string, c finding.Category, delta int)
}

type Document struct {
	Version  int                `json:"version"`
	Profiles map[string]Profile `json:"profiles"`
}

func defaultDocument() Document {
	return Document{Version: 1, Profiles: map[string]Profile{}}
}

func normalizeDocument(d Document) (Document, bool) {
	changed := false
	if d.Version != 1 {
		d.Version = 1
		changed = true
	}
	merged, c := MergeOnLoad(d.Profiles)
	d.Profiles = merged
	return d, changed || c
}

// trimStages drop optional detail first (reasons, then locations) and whole
// profiles only as a last resort. Quarantined profiles are never dropped.
func trimStages() []store.TrimStage[Document] {
	return []store.TrimStage[Document]{
		func(d *Document) bool {
			for id, p := range d.Profiles {
				if len(p.Reason) > reasonTrimLen {
					p.Reason = store.TruncateUTF8(p.Reason, reasonTrimLen)
					d.Profiles[id] = p
					return true
				}
			}
			return false
		},
		func(d *Document) bool {
			for id, p := range d.Profiles {
				if p.LastKnownLocation != nil {
					p.LastKnownLocation = nil
					d.Profiles[id] = p
					return true
				}
			}
			return false
		},
		func(d *Document) bool {
			victim := ""
			var oldest int64
			for id, p := range d.Profiles {
				if p.Quarantined() {
					continue
				}
				seen := maxI64(p.LastSeenAtMS, p.LastViolationAtMS)
				if victim == "" || seen < oldest || (seen == oldest && id < victim) {
					victim, oldest = id, seen
				}
			}
			if victim == "" {
				return false
			}
			delete(d.Profiles, victim)
			return true
		},
	}
}

type Options struct {
	Cap            int
	DebounceTicks  int64
	HeartbeatTicks int64
	Counters       CounterBackend
	Logger         *zerolog.Logger
	OnFlush        func(store.FlushInfo)
}

type Registry struct {
	rec      *store.Record[Document]
	counters CounterBackend
}

func New(surface kv.Surface, opts Options) *Registry {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	rec := store.New(surface, store.Options[Document]{
		Key:            Key,
		Cap:            opts.Cap,
		Default:        defaultDocument,
		Normalize:      normalizeDocument,
		Trim:           trimStages(),
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Logger:         opts.Logger,
		OnFlush:        opts.OnFlush,
	})
	return &Registry{rec: rec, counters: opts.Counters}
}

func (r *Registry) Load()                           { r.rec.Load() }
func (r *Registry) Tick(now int64)                  { r.rec.Tick(now) }
func (r *Registry) Flush() error                    { return r.rec.Flush() }
func (r *Registry) IsDirty() bool                   { return r.rec.IsDirty() }
func (r *Registry) Record() *store.Record[Document] { return r.rec }

func (r *Registry) profiles() map[string]Profile { return r.rec.Ptr().Profiles }

// RecordFinding bumps the category and total counters for the offender and
// returns the updated profile.
func (r *Registry) RecordFinding(f finding.Finding, nowMS int64) Profile {
	id := f.Identity
	if id == "" {
		id = identity.Normalize(f.Offender)
	}
	var out Profile
	r.rec.Update(func(d *Document) {
		p, ok := d.Profiles[id]
		if !ok {
			p = Profile{Identity: id, Counters: map[finding.Category]int{}}
		}
		if p.Counters == nil {
			p.Counters = map[finding.Category]int{}
		}
		if f.Offender != "" {
			p.Name = f.Offender
		}
		p.Counters[f.Category]++
		p.Total++
		p.LastViolationAtMS = nowMS
		p.LastSeenAtMS = nowMS
		p.LastKnownLocation = &Location{
			X: f.Location.X, Y: f.Location.Y, Z: f.Location.Z,
			Dimension:    f.Dimension,
			CapturedAtMS: nowMS,
		}
		p.Reason = f.Category.Label() + ": " + f.Description
		d.Profiles[id] = p
		out = p.Clone()
	})
	if r.counters != nil {
		r.counters.Add(id, f.Category, 1)
	}
	return out
}

// Touch refreshes last-seen data for an identity that already has a
// profile. Unknown identities are ignored.
func (r *Registry) Touch(name string, loc *Location, nowMS int64) bool {
	id := identity.Normalize(name)
	p, ok := r.profiles()[id]
	if !ok {
		return false
	}
	r.rec.Update(func(d *Document) {
		p.LastSeenAtMS = nowMS
		if loc != nil {
			l := *loc
			l.CapturedAtMS = nowMS
			p.LastKnownLocation = &l
		}
		d.Profiles[id] = p
	})
	return true
}

// MarkKicked stamps the time of a successful kick.
func (r *Registry) MarkKicked(name string, nowMS int64) {
	r.markKick(name, nowMS, true)
}

// MarkKickAttempt stamps a kick the host refused, so a quarantined actor
// waits out the interval instead of being retried every pass.
func (r *Registry) MarkKickAttempt(name string, nowMS int64) {
	r.markKick(name, nowMS, false)
}

func (r *Registry) markKick(name string, nowMS int64, succeeded bool) {
	id := identity.Normalize(name)
	p, ok := r.profiles()[id]
	if !ok {
		return
	}
	r.rec.Update(func(d *Document) {
		if succeeded {
			p.KickLoop.LastKickMS = nowMS
		}
		p.KickLoop.LastAttemptMS = nowMS
		d.Profiles[id] = p
	})
}

func (r *Registry) Get(name string) (Profile, bool) {
	p, ok := r.profiles()[identity.Normalize(name)]
	if !ok {
		return Profile{}, false
	}
	return p.Clone(), true
}

// List returns every profile ordered by identity.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles()))
	for _, p := range r.profiles() {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Quarantined lists identities with an enabled kick loop.
func (r *Registry) Quarantined() []Profile {
	var out []Profile
	for _, p := range r.List() {
		if p.Quarantined() {
			out = append(out, p)
		}
	}
	return out
}

// Reset zeroes an identity's counters. Kick-loop state is kept.
func (r *Registry) Reset(name string) error {
	id := identity.Normalize(name)
	if _, ok := r.profiles()[id]; !ok {
		return ErrUnknownIdentity
	}
	r.rec.Update(func(d *Document) {
		p := d.Profiles[id]
		p.Counters = map[finding.Category]int{}
		p.Total = 0
		p.Reason = ""
		d.Profiles[id] = p
	})
	return nil
}

// ClearAll drops every profile that is not quarantined. Quarantined
// profiles keep only their identity and kick-loop state.
func (r *Registry) ClearAll() int {
	removed := 0
	r.rec.Update(func(d *Document) {
		for id, p := range d.Profiles {
			if !p.Quarantined() {
				delete(d.Profiles, id)
				removed++
				continue
			}
			d.Profiles[id] = Profile{
				Identity: p.Identity,
				Name:     p.Name,
				Counters: map[finding.Category]int{},
				KickLoop: p.KickLoop,
			}
		}
	})
	return removed
}

// SetKickLoop enables or disables quarantine for an identity, creating the
// profile if needed when enabling.
func (r *Registry) SetKickLoop(name string, enabled bool, intervalSeconds int, nowMS int64) (Profile, error) {
	id := identity.Normalize(name)
	if id == "" {
		return Profile{}, ErrUnknownIdentity
	}
	p, ok := r.profiles()[id]
	if !ok && !enabled {
		return Profile{}, ErrUnknownIdentity
	}
	if !ok {
		p = Profile{Identity: id, Name: name, Counters: map[finding.Category]int{}}
	}
	if enabled {
		if intervalSeconds <= 0 {
			intervalSeconds = DefaultKickLoopIntervalSeconds
		}
		if !p.KickLoop.Enabled {
			p.KickLoop.SinceMS = nowMS
		}
		p.KickLoop.Enabled = true
		p.KickLoop.IntervalSeconds = intervalSeconds
	} else {
		p.KickLoop = KickLoop{LastKickMS: p.KickLoop.LastKickMS}
	}
	r.rec.Update(func(d *Document) { d.Profiles[id] = p })
	return p.Clone(), nil
}
