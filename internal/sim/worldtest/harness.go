// Package worldtest drives a sim world and an engine together, one tick at a
// time, for end-to-end tests.
package worldtest

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine"
	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/settings"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/sim/world"
)

// TickMS is the simulated wall time of one tick at 20 Hz.
const TickMS = 50

// Harness owns the world, the KV surface and the engine. Restart builds a
// new engine over the same surface, like a server restart.
type Harness struct {
	T  *testing.T
	W  *world.World
	KV *kv.Memory
	E  *engine.Engine

	Alerts *AlertRecorder

	nowMS int64
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()
	h := &Harness{
		T:      t,
		W:      world.New(world.Config{ID: "W1"}),
		KV:     kv.NewMemory(kv.DefaultMaxValueSize),
		Alerts: &AlertRecorder{},
		nowMS:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}
	h.E = h.newEngine()
	return h
}

func (h *Harness) newEngine() *engine.Engine {
	e := engine.New(engine.Options{
		World:   h.W,
		Surface: h.KV,
		Sinks:   []alerts.Sink{h.Alerts},
		Now:     h.Now,
		Logger:  zerolog.Nop(),
	})
	e.Load()
	return e
}

func (h *Harness) Now() time.Time { return time.UnixMilli(h.nowMS).UTC() }

// Restart flushes the running engine and replaces it.
func (h *Harness) Restart() {
	h.E.Flush()
	h.E = h.newEngine()
}

// Crash replaces the engine without flushing, losing unwritten state.
func (h *Harness) Crash() {
	h.E = h.newEngine()
}

// Configure edits the engine's global config.
func (h *Harness) Configure(fn func(g *settings.GlobalConfig)) settings.GlobalConfig {
	return h.E.UpdateConfig(fn)
}

func (h *Harness) Step() {
	h.nowMS += TickMS
	h.E.Step()
}

func (h *Harness) StepFor(n int) {
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// CompletePasses steps until n more scanner passes have finished.
func (h *Harness) CompletePasses(n int) {
	h.T.Helper()
	want := h.E.Scanner().Passes() + uint64(n)
	for i := 0; h.E.Scanner().Passes() < want; i++ {
		if i > 10000 {
			h.T.Fatalf("scanner stuck at pass %d", h.E.Scanner().Passes())
		}
		h.Step()
	}
}

func (h *Harness) Join(name string, pos probe.Vec3f) string {
	return h.W.Join(name, "", pos)
}

func (h *Harness) Agent(id string) *world.Agent {
	h.T.Helper()
	a, ok := h.W.Agent(id)
	if !ok {
		h.T.Fatalf("unknown agent %q", id)
	}
	return a
}

// AlertRecorder is an alert sink that keeps everything it receives.
type AlertRecorder struct {
	mu  sync.Mutex
	all []alerts.Alert
}

func (r *AlertRecorder) Publish(a alerts.Alert) {
	r.mu.Lock()
	r.all = append(r.all, a)
	r.mu.Unlock()
}

func (r *AlertRecorder) Of(kind alerts.Kind) []alerts.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alerts.Alert
	for _, a := range r.all {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
