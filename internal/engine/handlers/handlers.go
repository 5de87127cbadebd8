// Package handlers confirms and neutralizes exploits at a matched cell.
// Every handler re-reads the cell through the probe before acting, so a
// second call on an already-cleaned cell finds nothing and reports nothing.
package handlers

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/catalog"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/identity"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/scanner"
	"dupeguard.ai/internal/engine/settings"
)

// EjectOffset places ejected items just above the source cell.
var EjectOffset = probe.Vec3f{X: 0.5, Y: 1.2, Z: 0.5}

type Env struct {
	World   probe.World
	Catalog *catalog.Catalog
	Config  settings.GlobalConfig
}

type Target struct {
	Offender  probe.Actor
	Dimension string
	Pos       probe.Vec3i
}

type Handler interface {
	Category() finding.Category
	Matches(cat *catalog.Catalog, cellType string) bool
	Handle(env Env, t Target) (finding.Finding, bool)
}

// Scanned is the handler set the scanner dispatches to, in match order.
func Scanned() []Handler {
	return []Handler{Piston{}, HopperRestricted{}, DropperRestricted{}, IllegalStack{}}
}

func newFinding(t Target, c finding.Category, desc, mitigation string) finding.Finding {
	return finding.Finding{
		Offender:    t.Offender.Name,
		Identity:    identity.Normalize(t.Offender.Name),
		Category:    c,
		Description: desc,
		Location:    t.Pos,
		Dimension:   t.Dimension,
		Mitigation:  mitigation,
	}
}

func above(pos probe.Vec3i) probe.Vec3f {
	return pos.Center(EjectOffset.X, EjectOffset.Y, EjectOffset.Z)
}

func describe(types []string) string {
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return fmt.Sprintf("%s +%d more", types[0], len(types)-1)
	}
}

// Dispatcher adapts a handler set to the scanner.
type Dispatcher struct {
	World    probe.World
	Catalog  *catalog.Catalog
	Config   func() settings.GlobalConfig
	Handlers []Handler
	Report   func(offender probe.Actor, f finding.Finding)
	Log      zerolog.Logger
}

func (d *Dispatcher) Dispatch(f *scanner.Frame, pos probe.Vec3i, cell probe.Cell) {
	var env *Env
	for _, h := range d.Handlers {
		if !f.Categories.Has(h.Category()) || !h.Matches(d.Catalog, cell.TypeID) {
			continue
		}
		if env == nil {
			env = &Env{World: d.World, Catalog: d.Catalog, Config: d.Config()}
		}
		fd, ok := h.Handle(*env, Target{Offender: f.Actor, Dimension: f.Actor.Dimension, Pos: pos})
		if !ok {
			continue
		}
		d.Log.Info().
			Str("category", string(fd.Category)).
			Str("offender", fd.Offender).
			Str("pos", fd.Location.String()).
			Str("mitigation", fd.Mitigation).
			Msg("exploit neutralized")
		if d.Report != nil {
			d.Report(f.Actor, fd)
		}
	}
}

// Piston removes pistons set up around a two-high plant on the same layer.
type Piston struct{}

var pistonDirs = []probe.Vec3i{
	{X: 1}, {X: -1}, {Z: 1}, {Z: -1},
	{X: 1, Z: 1}, {X: -1, Z: 1}, {X: 1, Z: -1}, {X: -1, Z: -1},
}

func (Piston) Category() finding.Category { return finding.PistonExploit }

func (Piston) Matches(cat *catalog.Catalog, t string) bool { return cat.IsTwoHighPlant(t) }

func (Piston) Handle(env Env, t Target) (finding.Finding, bool) {
	plant, ok := env.World.Cell(t.Dimension, t.Pos)
	if !ok || !env.Catalog.IsTwoHighPlant(plant.TypeID) {
		return finding.Finding{}, false
	}
	removed := 0
	for _, dir := range pistonDirs {
		for d := 1; d <= env.Catalog.PistonReach; d++ {
			p := t.Pos.Add(probe.Vec3i{X: dir.X * d, Z: dir.Z * d})
			c, ok := env.World.Cell(t.Dimension, p)
			if !ok || !env.Catalog.IsPiston(c.TypeID) {
				continue
			}
			if env.World.RemoveContent(probe.BlockRef(t.Dimension, p)) {
				removed++
			}
		}
	}
	if removed == 0 {
		return finding.Finding{}, false
	}
	return newFinding(t, finding.PistonExploit, plant.TypeID, fmt.Sprintf("removed %d piston(s)", removed)), true
}

// HopperRestricted clears restricted content out of hoppers.
type HopperRestricted struct{}

func (HopperRestricted) Category() finding.Category { return finding.ContainerExploitA }

func (HopperRestricted) Matches(cat *catalog.Catalog, t string) bool { return cat.IsHopper(t) }

func (HopperRestricted) Handle(env Env, t Target) (finding.Finding, bool) {
	if len(env.Config.RestrictedContent) == 0 {
		return finding.Finding{}, false
	}
	c, ok := env.World.Cell(t.Dimension, t.Pos)
	if !ok || !env.Catalog.IsHopper(c.TypeID) {
		return finding.Finding{}, false
	}
	var wiped []string
	for i, s := range c.Slots {
		if s.Empty() || !env.Config.IsRestricted(s.Type) {
			continue
		}
		if env.World.RemoveContent(probe.SlotRef(t.Dimension, t.Pos, i)) {
			wiped = append(wiped, s.Type)
		}
	}
	if len(wiped) == 0 {
		return finding.Finding{}, false
	}
	return newFinding(t, finding.ContainerExploitA, describe(wiped), fmt.Sprintf("cleared %d slot(s)", len(wiped))), true
}

// DropperRestricted ejects restricted content from droppers and clears the
// slot.
type DropperRestricted struct{}

func (DropperRestricted) Category() finding.Category { return finding.ContainerExploitB }

func (DropperRestricted) Matches(cat *catalog.Catalog, t string) bool { return cat.IsDropper(t) }

func (DropperRestricted) Handle(env Env, t Target) (finding.Finding, bool) {
	if len(env.Config.RestrictedContent) == 0 {
		return finding.Finding{}, false
	}
	c, ok := env.World.Cell(t.Dimension, t.Pos)
	if !ok || !env.Catalog.IsDropper(c.TypeID) {
		return finding.Finding{}, false
	}
	var ejected []string
	for i, s := range c.Slots {
		if s.Empty() || !env.Config.IsRestricted(s.Type) {
			continue
		}
		ref := probe.SlotRef(t.Dimension, t.Pos, i)
		// Clearing goes ahead even when the host cannot spawn the item.
		env.World.EjectContent(ref, s, above(t.Pos))
		if env.World.RemoveContent(ref) {
			ejected = append(ejected, s.Type)
		}
	}
	if len(ejected) == 0 {
		return finding.Finding{}, false
	}
	return newFinding(t, finding.ContainerExploitB, describe(ejected), fmt.Sprintf("ejected %d item(s)", len(ejected))), true
}

// IllegalStack replaces over-sized stacks in checked containers with a
// legal one dropped above the container.
type IllegalStack struct{}

func (IllegalStack) Category() finding.Category { return finding.IllegalStackSize }

func (IllegalStack) Matches(cat *catalog.Catalog, t string) bool { return cat.IsStackChecked(t) }

func (IllegalStack) Handle(env Env, t Target) (finding.Finding, bool) {
	c, ok := env.World.Cell(t.Dimension, t.Pos)
	if !ok || !env.Catalog.IsStackChecked(c.TypeID) {
		return finding.Finding{}, false
	}
	var fixed []string
	for i, s := range c.Slots {
		if s.Empty() {
			continue
		}
		max := env.Catalog.MaxStackFor(s.Type)
		if s.Amount <= max {
			continue
		}
		ref := probe.SlotRef(t.Dimension, t.Pos, i)
		if !env.World.RemoveContent(ref) {
			continue
		}
		env.World.EjectContent(ref, probe.ItemStack{Type: s.Type, Amount: max}, above(t.Pos))
		fixed = append(fixed, fmt.Sprintf("%dx %s", s.Amount, s.Type))
	}
	if len(fixed) == 0 {
		return finding.Finding{}, false
	}
	return newFinding(t, finding.IllegalStackSize, strings.Join(fixed, ", "), fmt.Sprintf("reset %d stack(s) to legal size", len(fixed))), true
}

// GhostStack checks an actor's cursor on initial spawn: a full stack held
// with no free inventory slot is the ghost-stack setup. One item is dropped
// at the actor and the cursor is cleared.
func GhostStack(env Env, a probe.Actor) (finding.Finding, bool) {
	if env.World.HasMarker(a.ID, finding.GhostStack.DisableTag()) {
		return finding.Finding{}, false
	}
	inv, ok := env.World.InventorySnapshot(a.ID)
	if !ok || inv.Cursor.Empty() {
		return finding.Finding{}, false
	}
	held := inv.Cursor
	if held.Amount != env.Catalog.MaxStackFor(held.Type) || inv.EmptySlots != 0 {
		return finding.Finding{}, false
	}
	ref := probe.CursorRef(a.ID)
	if !env.World.RemoveContent(ref) {
		return finding.Finding{}, false
	}
	env.World.EjectContent(ref, probe.ItemStack{Type: held.Type, Amount: 1}, a.Pos)
	t := Target{Offender: a, Dimension: a.Dimension, Pos: a.Pos.Floor()}
	return newFinding(t, finding.GhostStack, fmt.Sprintf("%dx %s", held.Amount, held.Type), "cursor cleared, one item dropped"), true
}
