package worldtest

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/settings"
)

const overworld = "overworld"

func fullInventory(n int) []probe.ItemStack {
	out := make([]probe.ItemStack, n)
	for i := range out {
		out[i] = probe.ItemStack{Type: "minecraft:cobblestone", Amount: 64}
	}
	return out
}

func armGhostStack(h *Harness, id string) {
	h.W.SetInventory(id, fullInventory(36), probe.ItemStack{Type: "minecraft:dirt", Amount: 64})
}

func TestGhostStackKickThenCooldown(t *testing.T) {
	h := NewHarness(t)
	h.Configure(func(g *settings.GlobalConfig) {
		g.Punishment.KickEnabled = true
		g.Punishment.Rules[finding.GhostStack] = settings.Rule{
			Enabled:         true,
			Threshold:       1,
			Tag:             "flag",
			KickAtThreshold: true,
		}
	})

	id := h.Join("Alice", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	armGhostStack(h, id)
	h.Agent(id).RejoinAfter = 1
	h.Step()

	p, ok := h.E.Registry().Get("alice")
	if !ok || p.Count(finding.GhostStack) != 1 {
		t.Fatalf("profile after first finding: %+v ok=%v", p, ok)
	}
	if !h.Agent(id).Tags["flag"] {
		t.Fatalf("tag not applied")
	}
	kicks := h.W.Kicks()
	if len(kicks) != 1 || kicks[0].Name != "Alice" {
		t.Fatalf("kicks=%+v", kicks)
	}
	if !strings.Contains(kicks[0].Reason, "Ghost Stack Dupe (1/1)") {
		t.Fatalf("reason=%q", kicks[0].Reason)
	}
	if items := h.W.Items(); len(items) != 1 || items[0].Stack.Amount != 1 {
		t.Fatalf("expected one dropped item, got %+v", items)
	}

	// She comes straight back with the same setup one tick later.
	armGhostStack(h, id)
	h.Step()

	p, _ = h.E.Registry().Get("alice")
	if p.Count(finding.GhostStack) != 2 {
		t.Fatalf("count=%d want 2", p.Count(finding.GhostStack))
	}
	if n := len(h.W.Kicks()); n != 1 {
		t.Fatalf("second kick inside cooldown: kicks=%d", n)
	}
	if !h.Agent(id).Tags["flag"] || !h.Agent(id).Online {
		t.Fatalf("agent state tags=%v online=%v", h.Agent(id).Tags, h.Agent(id).Online)
	}
	if s := h.E.StatsValue(); s.Kicks != 1 || s.Findings[finding.GhostStack] != 2 || s.TagsApplied != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestEmptyRestrictedListDisablesContainerHandlers(t *testing.T) {
	h := NewHarness(t)
	h.Configure(func(g *settings.GlobalConfig) { g.RestrictedContent = []string{} })

	hopper := probe.Vec3i{X: 1, Y: 64, Z: 0}
	h.W.SetContainer(overworld, hopper, "minecraft:hopper", []probe.ItemStack{{Type: "minecraft:bundle", Amount: 1}})
	h.Join("Carol", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	h.CompletePasses(2)

	if got := h.W.Slots(overworld, hopper); got[0].Type != "minecraft:bundle" {
		t.Fatalf("hopper was mutated: %+v", got)
	}
	if n := h.E.Incidents().Len(); n != 0 {
		t.Fatalf("incidents=%d", n)
	}

	// Restoring the list re-arms the handler from the next pass on.
	h.Configure(func(g *settings.GlobalConfig) { g.RestrictedContent = nil })
	h.CompletePasses(2)
	if got := h.W.Slots(overworld, hopper); !got[0].Empty() {
		t.Fatalf("hopper not cleared: %+v", got)
	}
	if n := h.E.Incidents().Len(); n != 1 {
		t.Fatalf("incidents=%d", n)
	}
}

func TestRegistryMergesCaseVariantsOnLoad(t *testing.T) {
	h := NewHarness(t)
	doc := registry.Document{
		Version: 1,
		Profiles: map[string]registry.Profile{
			"Bob": {
				Name:              "Bob",
				Counters:          map[finding.Category]int{finding.PistonExploit: 3},
				Total:             3,
				LastViolationAtMS: 2000,
				LastKnownLocation: &registry.Location{X: 1, Y: 2, Z: 3, Dimension: overworld},
			},
			"bob ": {
				Name:              "bob ",
				Counters:          map[finding.Category]int{finding.PistonExploit: 5},
				Total:             5,
				LastViolationAtMS: 1000,
				LastKnownLocation: &registry.Location{X: 9, Y: 9, Z: 9, Dimension: overworld},
			},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.KV.Set(registry.Key, raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.Crash()

	list := h.E.Registry().List()
	if len(list) != 1 {
		t.Fatalf("profiles=%+v", list)
	}
	p := list[0]
	if p.Identity != "bob" || p.Count(finding.PistonExploit) != 5 {
		t.Fatalf("merged=%+v", p)
	}
	if p.Name != "Bob" || p.LastKnownLocation == nil || p.LastKnownLocation.X != 1 {
		t.Fatalf("descriptive fields should come from the later violation: %+v", p)
	}

	// The merged record is written back.
	h.StepFor(250)
	h.Restart()
	if list := h.E.Registry().List(); len(list) != 1 || list[0].Identity != "bob" {
		t.Fatalf("after rewrite: %+v", list)
	}
}

func TestPistonExploitSpansTicks(t *testing.T) {
	h := NewHarness(t)
	h.Configure(func(g *settings.GlobalConfig) { g.Tracking.OpsPerTick = 50 })
	h.CompletePasses(1) // pick up the smaller budget

	plant := probe.Vec3i{X: 2, Y: 64, Z: 2}
	h.W.SetBlock(overworld, plant, "minecraft:sunflower")
	h.W.SetBlock(overworld, probe.Vec3i{X: 3, Y: 64, Z: 2}, "minecraft:piston")
	h.W.SetBlock(overworld, probe.Vec3i{X: 2, Y: 64, Z: 4}, "minecraft:sticky_piston")
	h.W.SetBlock(overworld, probe.Vec3i{X: 2, Y: 65, Z: 3}, "minecraft:piston") // other layer
	h.Join("Dave", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})

	ticksBefore := h.E.Tick()
	h.CompletePasses(1)
	if h.E.Tick()-ticksBefore < 2 {
		t.Fatalf("a 729-cell cube at 50 ops/tick must span ticks")
	}

	if got := h.W.BlockAt(overworld, probe.Vec3i{X: 3, Y: 64, Z: 2}); got != "minecraft:air" {
		t.Fatalf("piston left: %q", got)
	}
	if got := h.W.BlockAt(overworld, probe.Vec3i{X: 2, Y: 65, Z: 3}); got != "minecraft:piston" {
		t.Fatalf("piston on another layer removed: %q", got)
	}
	if got := h.W.BlockAt(overworld, plant); got != "minecraft:sunflower" {
		t.Fatalf("plant touched: %q", got)
	}
	es := h.E.Incidents().Newest(0)
	if len(es) != 1 || es[0].Category != finding.PistonExploit || es[0].Offender != "Dave" {
		t.Fatalf("incidents=%+v", es)
	}
	if len(h.Alerts.Of(alerts.KindFinding)) != 1 {
		t.Fatalf("finding alert not published")
	}

	// Idempotent: another pass finds nothing new.
	h.CompletePasses(1)
	if n := h.E.Incidents().Len(); n != 1 {
		t.Fatalf("incidents=%d", n)
	}
}

func TestOptOutTagSkipsCategory(t *testing.T) {
	h := NewHarness(t)
	h.W.SetBlock(overworld, probe.Vec3i{X: 1, Y: 64, Z: 1}, "minecraft:tall_grass")
	h.W.SetBlock(overworld, probe.Vec3i{X: 2, Y: 64, Z: 1}, "minecraft:piston")
	id := h.Join("Erin", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	h.W.AddMarker(id, finding.PistonExploit.DisableTag())

	h.CompletePasses(2)
	if got := h.W.BlockAt(overworld, probe.Vec3i{X: 2, Y: 64, Z: 1}); got != "minecraft:piston" {
		t.Fatalf("opted-out actor's surroundings changed: %q", got)
	}
}

func TestGlobalDisableCompletesPassesWithoutWork(t *testing.T) {
	h := NewHarness(t)
	h.Configure(func(g *settings.GlobalConfig) { g.Enabled = false })
	h.CompletePasses(1)

	h.W.SetContainer(overworld, probe.Vec3i{X: 0, Y: 63, Z: 0}, "minecraft:hopper", []probe.ItemStack{{Type: "minecraft:bundle", Amount: 1}})
	id := h.Join("Frank", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	armGhostStack(h, id)

	before := h.E.Scanner().Passes()
	h.StepFor(3)
	if h.E.Scanner().Passes() != before+3 {
		t.Fatalf("disabled scanner should finish one pass per tick")
	}
	if h.E.Incidents().Len() != 0 || len(h.W.Items()) != 0 {
		t.Fatalf("disabled engine acted")
	}
}

func TestDropperAndIllegalStack(t *testing.T) {
	h := NewHarness(t)
	dropper := probe.Vec3i{X: -1, Y: 64, Z: 0}
	chest := probe.Vec3i{X: 0, Y: 63, Z: -1}
	h.W.SetContainer(overworld, dropper, "minecraft:dropper", []probe.ItemStack{{Type: "minecraft:red_bundle", Amount: 1}})
	h.W.SetContainer(overworld, chest, "minecraft:chest", []probe.ItemStack{{Type: "minecraft:ender_pearl", Amount: 40}})
	h.Join("Gina", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})

	h.CompletePasses(1)

	if got := h.W.Slots(overworld, dropper); !got[0].Empty() {
		t.Fatalf("dropper slot=%+v", got[0])
	}
	if got := h.W.Slots(overworld, chest); !got[0].Empty() {
		t.Fatalf("chest slot=%+v", got[0])
	}
	var pearls, bundles int
	for _, it := range h.W.Items() {
		switch it.Stack.Type {
		case "minecraft:ender_pearl":
			pearls += it.Stack.Amount
		case "minecraft:red_bundle":
			bundles += it.Stack.Amount
			if it.Pos.DistSq(probe.Vec3f{X: -0.5, Y: 65.2, Z: 0.5}) > 1e-9 {
				t.Fatalf("bundle ejected at %+v", it.Pos)
			}
		}
	}
	if pearls != 16 || bundles != 1 {
		t.Fatalf("pearls=%d bundles=%d", pearls, bundles)
	}
	p, _ := h.E.Registry().Get("gina")
	if p.Count(finding.ContainerExploitB) != 1 || p.Count(finding.IllegalStackSize) != 1 || p.Total != 2 {
		t.Fatalf("profile=%+v", p)
	}
}

func TestKickLoopOnJoinAndAtPassBoundary(t *testing.T) {
	h := NewHarness(t)
	if _, err := h.E.Registry().SetKickLoop("Hank", true, 5, h.Now().UnixMilli()); err != nil {
		t.Fatalf("SetKickLoop: %v", err)
	}
	id := h.Join("Hank", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	h.Agent(id).RejoinAfter = 10
	h.Step()
	if n := len(h.W.Kicks()); n != 1 {
		t.Fatalf("quarantined join not kicked: %d", n)
	}

	// Back after 10 ticks (0.5s): the 5s interval has not elapsed.
	h.StepFor(15)
	if !h.Agent(id).Online || len(h.W.Kicks()) != 1 {
		t.Fatalf("kicked again too early")
	}

	// After the interval the next pass boundary kicks him again.
	h.StepFor(5 * 20)
	if n := len(h.W.Kicks()); n != 2 {
		t.Fatalf("kicks=%d want 2", n)
	}
	if got := h.Alerts.Of(alerts.KindKickLoop); len(got) != 2 {
		t.Fatalf("kick loop alerts=%d", len(got))
	}

	// A reset keeps quarantine.
	if err := h.E.Registry().Reset("hank"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p, _ := h.E.Registry().Get("hank"); !p.Quarantined() {
		t.Fatalf("reset cleared quarantine")
	}
}

func TestFailedQuarantineKickWaitsForInterval(t *testing.T) {
	h := NewHarness(t)
	h.Configure(func(g *settings.GlobalConfig) { g.Enabled = false })
	if _, err := h.E.Registry().SetKickLoop("Ivy", true, 60, h.Now().UnixMilli()); err != nil {
		t.Fatalf("SetKickLoop: %v", err)
	}
	attempts := 0
	h.W.KickError = func(string) error {
		attempts++
		return errors.New("host refused")
	}
	h.Join("Ivy", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})

	// With scanning disabled every tick is a pass boundary.
	h.StepFor(20)
	if attempts != 1 {
		t.Fatalf("attempts in 1s=%d want 1", attempts)
	}
	if p, _ := h.E.Registry().Get("ivy"); p.KickLoop.LastAttemptMS == 0 || p.KickLoop.LastKickMS != 0 {
		t.Fatalf("kick loop=%+v", p.KickLoop)
	}

	h.StepFor(60 * 20)
	if attempts != 2 {
		t.Fatalf("attempts after interval=%d want 2", attempts)
	}
	if got := h.E.StatsValue().KickFailures; got != 2 {
		t.Fatalf("kick failures=%d", got)
	}
}

func TestAdminAlertsReachTaggedAdmins(t *testing.T) {
	h := NewHarness(t)
	admin := h.Join("Ivy", probe.Vec3f{X: 10.5, Y: 64, Z: 0.5})
	h.W.AddMarker(admin, settings.DefaultAdminTag)
	muted := h.Join("Jack", probe.Vec3f{X: 20.5, Y: 64, Z: 0.5})
	h.W.AddMarker(muted, alerts.DisablePublicMsgTag)

	h.W.SetContainer(overworld, probe.Vec3i{X: 31, Y: 64, Z: 0}, "minecraft:hopper", []probe.ItemStack{{Type: "minecraft:bundle", Amount: 1}})
	h.Join("Kate", probe.Vec3f{X: 30.5, Y: 64, Z: 0.5})
	h.CompletePasses(2)

	var sawAdmin, sawPublic bool
	for _, m := range h.W.Messages(admin) {
		if strings.Contains(m, "Admin Alert: Kate attempted a Hopper Bundle Dupe") && strings.Contains(m, "Nearby:") {
			sawAdmin = true
		}
		if strings.HasPrefix(m, "<Anti-Dupe> Kate attempted a Hopper Bundle Dupe") {
			sawPublic = true
		}
	}
	if !sawAdmin || !sawPublic {
		t.Fatalf("admin messages=%q", h.W.Messages(admin))
	}
	if msgs := h.W.Messages(muted); len(msgs) != 0 {
		t.Fatalf("muted actor got %q", msgs)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	h := NewHarness(t)
	h.W.SetContainer(overworld, probe.Vec3i{X: 1, Y: 64, Z: 1}, "minecraft:hopper", []probe.ItemStack{{Type: "minecraft:bundle", Amount: 1}})
	h.Join("Liam", probe.Vec3f{X: 0.5, Y: 64, Z: 0.5})
	h.CompletePasses(1)
	h.Configure(func(g *settings.GlobalConfig) { g.Patches[finding.IllegalStackSize] = false })

	h.Restart()

	if n := h.E.Incidents().Len(); n != 1 {
		t.Fatalf("incidents after restart=%d", n)
	}
	if p, ok := h.E.Registry().Get("LIAM"); !ok || p.Total != 1 {
		t.Fatalf("profile after restart=%+v", p)
	}
	if h.E.Settings().Patches[finding.IllegalStackSize] {
		t.Fatalf("config change lost")
	}
	if s := h.E.StatsValue(); s.Total != 1 {
		t.Fatalf("stats after restart=%+v", s)
	}
}
