package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/settings"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/sim/world"
)

type memArchive struct {
	got []incidents.Entry
	err error
}

func (a *memArchive) WriteIncident(e incidents.Entry) error {
	if a.err != nil {
		return a.err
	}
	a.got = append(a.got, e)
	return nil
}

func newTestEngine(t *testing.T, w *world.World, archive Archiver) *Engine {
	t.Helper()
	e := New(Options{
		World:    w,
		Surface:  kv.NewMemory(kv.DefaultMaxValueSize),
		Archive:  archive,
		TickRate: 200,
		Logger:   zerolog.Nop(),
	})
	e.Load()
	return e
}

func hopperWithBundle(w *world.World, pos probe.Vec3i) {
	w.SetContainer("overworld", pos, "minecraft:hopper", []probe.ItemStack{{Type: "minecraft:bundle", Amount: 1}})
}

func TestReportArchivesIncident(t *testing.T) {
	w := world.New(world.Config{})
	arch := &memArchive{}
	e := newTestEngine(t, w, arch)

	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	w.Join("Alice", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	for i := 0; i < 3; i++ {
		e.Step()
	}
	if len(arch.got) != 1 {
		t.Fatalf("archived=%d", len(arch.got))
	}
	got := arch.got[0]
	if got.ID == "" || got.Category != finding.ContainerExploitA || got.CategoryCount != 1 || got.Total != 1 {
		t.Fatalf("entry=%+v", got)
	}
	if e.Incidents().Newest(1)[0].ID != got.ID {
		t.Fatalf("ring and archive disagree on id")
	}
}

func TestArchiveFailureDoesNotStopReporting(t *testing.T) {
	w := world.New(world.Config{})
	e := newTestEngine(t, w, &memArchive{err: errors.New("disk full")})
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	w.Join("Alice", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	e.Step()
	e.Step()
	if e.Incidents().Len() != 1 {
		t.Fatalf("incident lost")
	}
}

func TestKickFailureCountsAndWaitsOutCooldown(t *testing.T) {
	w := world.New(world.Config{})
	w.KickError = func(string) error { return errors.New("host refused") }
	e := newTestEngine(t, w, nil)
	e.UpdateConfig(func(g *settings.GlobalConfig) {
		g.Punishment.KickEnabled = true
		g.Punishment.Rules[finding.ContainerExploitA] = settings.Rule{Enabled: true, Threshold: 1, KickAtThreshold: true}
	})

	id := w.Join("Mallory", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	e.Step()
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	e.Step()

	s := e.StatsValue()
	if s.KickFailures != 1 || s.Kicks != 0 {
		t.Fatalf("stats=%+v", s)
	}
	if p, _ := e.Registry().Get("mallory"); p.Count(finding.ContainerExploitA) != 2 {
		t.Fatalf("profile=%+v", p)
	}
	if a, _ := w.Agent(id); !a.Online || !a.Tags[settings.DefaultFlagTag] {
		t.Fatalf("agent=%+v", a)
	}
}

func TestBypassTagSkipsPunishmentButRecords(t *testing.T) {
	w := world.New(world.Config{})
	e := newTestEngine(t, w, nil)
	e.UpdateConfig(func(g *settings.GlobalConfig) { g.Punishment.KickEnabled = true })

	id := w.Join("Trent", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	w.AddMarker(id, settings.DefaultBypassTag)
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	e.Step()

	a, _ := w.Agent(id)
	if a.Tags[settings.DefaultFlagTag] {
		t.Fatalf("bypassed actor was tagged")
	}
	if p, ok := e.Registry().Get("trent"); !ok || p.Total != 1 {
		t.Fatalf("bypass must still record: %+v", p)
	}
}

func TestTrackingTouchesOnlyKnownProfiles(t *testing.T) {
	w := world.New(world.Config{})
	e := newTestEngine(t, w, nil)
	e.UpdateConfig(func(g *settings.GlobalConfig) { g.Tracking.TrackEveryTicks = 5 })

	known := w.Join("Known", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	w.Join("Stranger", "", probe.Vec3f{X: 100.5, Y: 0, Z: 0.5})
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	e.Step()

	w.Move(known, "", probe.Vec3f{X: 7.5, Y: 3, Z: -2.5})
	for i := 0; i < 5; i++ {
		e.Step()
	}
	p, _ := e.Registry().Get("known")
	if p.LastKnownLocation == nil || p.LastKnownLocation.X != 7 || p.LastKnownLocation.Z != -3 {
		t.Fatalf("location=%+v", p.LastKnownLocation)
	}
	if _, ok := e.Registry().Get("stranger"); ok {
		t.Fatalf("tracking created a profile")
	}
}

func TestAdminCallsRunOnLoop(t *testing.T) {
	w := world.New(world.Config{})
	e := newTestEngine(t, w, nil)
	hopperWithBundle(w, probe.Vec3i{X: 1, Y: 0, Z: 1})
	w.Join("Olivia", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	e.Step()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	profiles, err := e.Profiles(callCtx)
	if err != nil || len(profiles) != 1 || profiles[0].Identity != "olivia" {
		t.Fatalf("profiles=%+v err=%v", profiles, err)
	}
	if _, err := e.Profile(callCtx, "nobody"); !errors.Is(err, registry.ErrUnknownIdentity) {
		t.Fatalf("unknown profile err=%v", err)
	}
	if err := e.ResetProfile(callCtx, " OLIVIA "); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p, _ := e.Profile(callCtx, "olivia"); p.Total != 0 {
		t.Fatalf("reset did not zero: %+v", p)
	}

	p, err := e.SetKickLoop(callCtx, "Olivia", true, 0)
	if err != nil || !p.KickLoop.Enabled || p.KickLoop.IntervalSeconds != registry.DefaultKickLoopIntervalSeconds {
		t.Fatalf("kickloop=%+v err=%v", p.KickLoop, err)
	}
	if n, err := e.ClearProfiles(callCtx); err != nil || n != 0 {
		t.Fatalf("clear kept quarantined? n=%d err=%v", n, err)
	}

	cfg, err := e.SetPatch(callCtx, finding.PistonExploit, false)
	if err != nil || cfg.Patches[finding.PistonExploit] {
		t.Fatalf("patch err=%v", err)
	}
	if _, err := e.SetPatch(callCtx, finding.Category("nope"), true); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("bad category err=%v", err)
	}
	cfg.Tracking.LogMaxEntries = 5
	if cfg, err = e.SetConfig(callCtx, cfg); err != nil || cfg.Tracking.LogMaxEntries != 5 {
		t.Fatalf("set config=%+v err=%v", cfg.Tracking, err)
	}

	es, err := e.ListIncidents(callCtx, 10)
	if err != nil || len(es) != 1 {
		t.Fatalf("incidents=%d err=%v", len(es), err)
	}
	if n, err := e.ClearIncidents(callCtx); err != nil || n != 1 {
		t.Fatalf("clear incidents n=%d err=%v", n, err)
	}
	st, err := e.Status(callCtx)
	if err != nil || st.Tick < 1 || st.Stats.Total != 1 {
		t.Fatalf("status=%+v err=%v", st, err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine.Run did not exit")
	}
}

func TestAdminCallHonoursContext(t *testing.T) {
	e := newTestEngine(t, world.New(world.Config{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Profiles(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

// brokenInventoryWorld panics when one actor's inventory is read.
type brokenInventoryWorld struct {
	*world.World
	victim string
}

func (b brokenInventoryWorld) InventorySnapshot(actorID string) (probe.Inventory, bool) {
	if actorID == b.victim {
		panic("inventory backend gone")
	}
	return b.World.InventorySnapshot(actorID)
}

func TestEventPanicIsContainedToOneActor(t *testing.T) {
	w := world.New(world.Config{InventorySlots: 3})
	bad := w.Join("Bad", "", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	good := w.Join("Good", "", probe.Vec3f{X: 40.5, Y: 64, Z: 0.5})
	w.FillInventory(good, probe.ItemStack{Type: "minecraft:dirt", Amount: 64})
	ag, _ := w.Agent(good)
	ag.Cursor = probe.ItemStack{Type: "minecraft:diamond", Amount: 64}

	e := New(Options{
		World:    brokenInventoryWorld{World: w, victim: bad},
		Surface:  kv.NewMemory(kv.DefaultMaxValueSize),
		TickRate: 200,
		Logger:   zerolog.Nop(),
	})
	e.Load()

	e.Step()
	e.Step()
	if e.Tick() != 2 {
		t.Fatalf("tick=%d", e.Tick())
	}
	p, ok := e.Registry().Get("good")
	if !ok || p.Count(finding.GhostStack) != 1 {
		t.Fatalf("ghost stack after a panicking event not recorded: %+v", p)
	}
	if _, ok := e.Registry().Get("bad"); ok {
		t.Fatalf("panicking actor got a profile")
	}
}

func TestNearbyIsMeasuredFromExploitLocation(t *testing.T) {
	w := world.New(world.Config{})
	e := newTestEngine(t, w, nil)
	e.UpdateConfig(func(g *settings.GlobalConfig) { g.Tracking.NearbyRadius = 3 })

	hopperWithBundle(w, probe.Vec3i{X: 4, Y: 0, Z: 0})
	w.Join("Alice", "", probe.Vec3f{X: 0.5, Y: 0, Z: 0.5})
	w.Join("Bea", "", probe.Vec3f{X: 6.5, Y: 0, Z: 0.5})
	w.Join("Cal", "", probe.Vec3f{X: -1.5, Y: 0, Z: 0.5})
	for i := 0; i < 3; i++ {
		e.Step()
	}
	es := e.Incidents().Newest(0)
	if len(es) != 1 || es[0].Offender != "Alice" {
		t.Fatalf("incidents=%+v", es)
	}
	if got := es[0].Nearby; len(got) != 1 || got[0] != "Bea" {
		t.Fatalf("nearby=%v want [Bea]", got)
	}
}
