// Package probe is the seam between the engine and the host world. Every
// lookup reports absence with a boolean instead of failing, and every
// mutation is best-effort.
package probe

import (
	"fmt"
	"math"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d, %d, %d", v.X, v.Y, v.Z) }

// Center returns the world-space point offset inside the cell.
func (v Vec3i) Center(dx, dy, dz float64) Vec3f {
	return Vec3f{X: float64(v.X) + dx, Y: float64(v.Y) + dy, Z: float64(v.Z) + dz}
}

type Vec3f struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Floor returns the cell containing p.
func (p Vec3f) Floor() Vec3i {
	return Vec3i{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y)), Z: int(math.Floor(p.Z))}
}

func (p Vec3f) DistSq(o Vec3f) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

type Actor struct {
	ID        string
	Name      string
	Dimension string
	Pos       Vec3f
}

type ItemStack struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

func (s ItemStack) Empty() bool { return s.Type == "" || s.Amount <= 0 }

// Cell is what occupies one grid position. Slots is nil for cells that are
// not containers.
type Cell struct {
	TypeID string
	Slots  []ItemStack
}

type RefKind int

const (
	// RefBlock addresses the block itself.
	RefBlock RefKind = iota
	// RefSlot addresses one container slot at Pos.
	RefSlot
	// RefCursor addresses the item an actor is holding on the cursor.
	RefCursor
)

// ContentRef locates removable content.
type ContentRef struct {
	Kind      RefKind
	Dimension string
	Pos       Vec3i
	Slot      int
	ActorID   string
}

func BlockRef(dim string, pos Vec3i) ContentRef {
	return ContentRef{Kind: RefBlock, Dimension: dim, Pos: pos}
}

func SlotRef(dim string, pos Vec3i, slot int) ContentRef {
	return ContentRef{Kind: RefSlot, Dimension: dim, Pos: pos, Slot: slot}
}

func CursorRef(actorID string) ContentRef {
	return ContentRef{Kind: RefCursor, ActorID: actorID}
}

// Inventory is a point-in-time view of an actor's carried items.
type Inventory struct {
	Slots      []ItemStack
	Cursor     ItemStack
	EmptySlots int
}

// World is the capability set the scanner, handlers and punishment path
// consume.
type World interface {
	FindActors() []Actor
	Actor(id string) (Actor, bool)
	Cell(dim string, pos Vec3i) (Cell, bool)

	// RemoveContent clears the referenced content; removing a block leaves
	// air. It reports whether anything changed.
	RemoveContent(ref ContentRef) bool
	// EjectContent spawns stack as a loose item at target in ref's
	// dimension (or the actor's, for cursor refs).
	EjectContent(ref ContentRef, stack ItemStack, target Vec3f) bool

	HasMarker(actorID, marker string) bool
	AddMarker(actorID, marker string) bool
	RemoveMarker(actorID, marker string) bool

	InventorySnapshot(actorID string) (Inventory, bool)
	SendMessage(actorID, text string) bool
	Kick(actorID, reason string) error
}

type EventKind int

const (
	EventJoin EventKind = iota
	EventSpawn
	EventLeave
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventSpawn:
		return "spawn"
	default:
		return "leave"
	}
}

type Event struct {
	Kind    EventKind
	ActorID string
	Name    string
	// Initial is set on the first spawn after joining.
	Initial bool
}

// EventSource is implemented by worlds that can report actor lifecycle.
type EventSource interface {
	DrainEvents() []Event
}
