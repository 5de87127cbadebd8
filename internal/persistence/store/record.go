// Package store layers debounced write-back, size-capped serialization and
// load-or-default on top of a kv.Surface. A Record is owned by the engine
// loop goroutine and is not safe for concurrent use.
package store

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"dupeguard.ai/internal/persistence/kv"
)

const (
	// DefaultDebounceTicks is ~2s at 20 ticks/s.
	DefaultDebounceTicks = 40
	// DefaultHeartbeatTicks is ~10s at 20 ticks/s.
	DefaultHeartbeatTicks = 200
)

// FlushInfo is reported after every write attempt.
type FlushInfo struct {
	Key     string
	Bytes   int
	Outcome Outcome
	Err     error
}

type Options[T any] struct {
	Key string
	// Cap is the byte cap for the serialized value. Zero or anything above
	// the surface limit means the surface limit.
	Cap int

	Default func() T
	// Normalize repairs a loaded value and reports whether it changed it.
	Normalize func(T) (T, bool)
	Trim      []TrimStage[T]

	DebounceTicks  int64
	HeartbeatTicks int64

	Logger  *zerolog.Logger
	OnFlush func(FlushInfo)
}

type Record[T any] struct {
	surface kv.Surface
	opts    Options[T]
	log     zerolog.Logger

	loaded bool
	value  T
	dirty  bool

	now           int64
	debounce      Ticket
	lastHeartbeat int64
}

func New[T any](surface kv.Surface, opts Options[T]) *Record[T] {
	if opts.DebounceTicks <= 0 {
		opts.DebounceTicks = DefaultDebounceTicks
	}
	if opts.HeartbeatTicks <= 0 {
		opts.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if max := surface.MaxValueSize(); opts.Cap <= 0 || (max > 0 && opts.Cap > max) {
		opts.Cap = max
	}
	r := &Record[T]{surface: surface, opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		r.log = opts.Logger.With().Str("key", opts.Key).Logger()
	}
	return r
}

func (r *Record[T]) Key() string { return r.opts.Key }

func (r *Record[T]) defaultValue() T {
	if r.opts.Default != nil {
		return r.opts.Default()
	}
	var zero T
	return zero
}

// Load reads the key once. Absent, unreadable or unparsable values fall
// back to the default and mark the record for rewrite.
func (r *Record[T]) Load() {
	if r.loaded {
		return
	}
	r.loaded = true

	raw, ok, err := r.surface.Get(r.opts.Key)
	switch {
	case err != nil:
		r.log.Warn().Err(err).Msg("load failed; using default")
		r.value = r.defaultValue()
		r.markDirty()
		return
	case !ok:
		r.value = r.defaultValue()
		r.markDirty()
		return
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil || len(raw) == 0 {
		r.log.Warn().Err(err).Int("bytes", len(raw)).Msg("stored value unparsable; using default")
		r.value = r.defaultValue()
		r.markDirty()
		return
	}
	r.value = v
	if r.opts.Normalize != nil {
		nv, changed := r.opts.Normalize(v)
		r.value = nv
		if changed {
			r.markDirty()
		}
	}
}

// Value returns the working copy. Callers must not mutate it outside Update.
func (r *Record[T]) Value() T {
	r.Load()
	return r.value
}

// Ptr exposes the working copy for read-mostly access without copying.
func (r *Record[T]) Ptr() *T {
	r.Load()
	return &r.value
}

// Update mutates the working copy and schedules a debounced flush.
func (r *Record[T]) Update(fn func(*T)) {
	r.Load()
	fn(&r.value)
	r.markDirty()
}

// Replace swaps the working copy wholesale, normalizing it first.
func (r *Record[T]) Replace(v T) {
	r.Load()
	if r.opts.Normalize != nil {
		v, _ = r.opts.Normalize(v)
	}
	r.value = v
	r.markDirty()
}

func (r *Record[T]) MarkDirty() {
	r.Load()
	r.markDirty()
}

func (r *Record[T]) markDirty() {
	r.dirty = true
	r.debounce.Schedule(r.now, r.opts.DebounceTicks)
}

func (r *Record[T]) IsDirty() bool { return r.dirty }

// Pending returns the debounce ticket state.
func (r *Record[T]) Pending() Ticket { return r.debounce }

// Tick advances the record's clock: a due debounce ticket flushes, and the
// heartbeat flushes whenever the record is dirty.
func (r *Record[T]) Tick(now int64) {
	r.now = now
	if r.debounce.Due(now) {
		r.debounce.Clear()
		_ = r.Flush()
	}
	if now-r.lastHeartbeat >= r.opts.HeartbeatTicks {
		r.lastHeartbeat = now
		if r.dirty {
			_ = r.Flush()
		}
	}
}

// Flush writes the working copy if dirty. On failure the record stays
// dirty and the error is returned after being logged.
func (r *Record[T]) Flush() error {
	if !r.loaded || !r.dirty {
		return nil
	}
	b, outcome := SerializeWithCap(r.value, r.opts.Cap, r.opts.Trim, r.opts.Default)
	err := r.surface.Set(r.opts.Key, b)
	if r.opts.OnFlush != nil {
		r.opts.OnFlush(FlushInfo{Key: r.opts.Key, Bytes: len(b), Outcome: outcome, Err: err})
	}
	if err != nil {
		r.log.Error().Err(err).Int("bytes", len(b)).Msg("flush failed; will retry")
		r.debounce.Clear()
		r.debounce.Schedule(r.now, r.opts.DebounceTicks)
		return err
	}
	if outcome != OutcomeFit {
		r.log.Warn().Str("outcome", outcome.String()).Int("bytes", len(b)).Int("cap", r.opts.Cap).Msg("value trimmed to fit")
	}
	r.dirty = false
	r.debounce.Clear()
	return nil
}
