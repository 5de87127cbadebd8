// Package world is an in-memory voxel world that implements the engine's
// probe contract. It backs the demo server and the end-to-end tests.
//
// World is single-threaded: all state must be accessed only from the engine
// loop goroutine.
package world

import (
	"errors"
	"fmt"
	"sort"

	"dupeguard.ai/internal/engine/probe"
)

type Config struct {
	ID string
	// Air is the type a removed block leaves behind.
	Air string
	// InventorySlots is the carried inventory size of every actor.
	InventorySlots int
	// DefaultDimension is used when a join does not name one.
	DefaultDimension string
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.Air == "" {
		c.Air = "minecraft:air"
	}
	if c.InventorySlots <= 0 {
		c.InventorySlots = 36
	}
	if c.DefaultDimension == "" {
		c.DefaultDimension = "overworld"
	}
	return c
}

type cellKey struct {
	Dim string
	Pos probe.Vec3i
}

// ItemEntity is a loose item spawned into the world.
type ItemEntity struct {
	Dimension string
	Pos       probe.Vec3f
	Stack     probe.ItemStack
}

// KickRecord is one successful kick.
type KickRecord struct {
	ActorID string
	Name    string
	Reason  string
}

var ErrUnknownActor = errors.New("unknown actor")

type World struct {
	cfg Config

	blocks     map[cellKey]string
	containers map[cellKey][]probe.ItemStack

	agents map[string]*Agent
	items  []ItemEntity
	events []probe.Event
	kicks  []KickRecord

	nextAgentNum int

	// KickError, when set, makes Kick fail with the returned error.
	KickError func(actorID string) error

	// Optional audit sink (may be nil).
	auditLogger AuditLogger
	tick        uint64
}

func New(cfg Config) *World {
	return &World{
		cfg:        cfg.withDefaults(),
		blocks:     map[cellKey]string{},
		containers: map[cellKey][]probe.ItemStack{},
		agents:     map[string]*Agent{},
	}
}

func (w *World) ID() string { return w.cfg.ID }

func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

// SetTick stamps subsequent audit entries.
func (w *World) SetTick(t uint64) { w.tick = t }

// SetBlock places a plain block.
func (w *World) SetBlock(dim string, pos probe.Vec3i, typeID string) {
	k := cellKey{dim, pos}
	delete(w.containers, k)
	if typeID == "" || typeID == w.cfg.Air {
		delete(w.blocks, k)
		return
	}
	w.blocks[k] = typeID
}

// SetContainer places a container block with the given slots.
func (w *World) SetContainer(dim string, pos probe.Vec3i, typeID string, slots []probe.ItemStack) {
	k := cellKey{dim, pos}
	w.blocks[k] = typeID
	w.containers[k] = append([]probe.ItemStack(nil), slots...)
}

func (w *World) BlockAt(dim string, pos probe.Vec3i) string {
	if t, ok := w.blocks[cellKey{dim, pos}]; ok {
		return t
	}
	return w.cfg.Air
}

func (w *World) Slots(dim string, pos probe.Vec3i) []probe.ItemStack {
	return append([]probe.ItemStack(nil), w.containers[cellKey{dim, pos}]...)
}

// Items returns the loose items spawned so far.
func (w *World) Items() []ItemEntity { return append([]ItemEntity(nil), w.items...) }

func (w *World) Kicks() []KickRecord { return append([]KickRecord(nil), w.kicks...) }

// --- probe.World ---

func (w *World) FindActors() []probe.Actor {
	out := make([]probe.Actor, 0, len(w.agents))
	for _, a := range w.agents {
		if a.Online {
			out = append(out, a.actor())
		}
	}
	// Join order keeps scans reproducible.
	sort.Slice(out, func(i, j int) bool { return w.agents[out[i].ID].seq < w.agents[out[j].ID].seq })
	return out
}

func (w *World) Actor(id string) (probe.Actor, bool) {
	a := w.agents[id]
	if a == nil || !a.Online {
		return probe.Actor{}, false
	}
	return a.actor(), true
}

func (w *World) Cell(dim string, pos probe.Vec3i) (probe.Cell, bool) {
	k := cellKey{dim, pos}
	t, ok := w.blocks[k]
	if !ok {
		return probe.Cell{}, false
	}
	c := probe.Cell{TypeID: t}
	if slots, ok := w.containers[k]; ok {
		c.Slots = append([]probe.ItemStack(nil), slots...)
	}
	return c, true
}

func (w *World) RemoveContent(ref probe.ContentRef) bool {
	switch ref.Kind {
	case probe.RefBlock:
		k := cellKey{ref.Dimension, ref.Pos}
		from, ok := w.blocks[k]
		if !ok {
			return false
		}
		delete(w.blocks, k)
		delete(w.containers, k)
		w.audit("SET_BLOCK", ref.Dimension, ref.Pos, from, w.cfg.Air, "")
		return true
	case probe.RefSlot:
		slots := w.containers[cellKey{ref.Dimension, ref.Pos}]
		if ref.Slot < 0 || ref.Slot >= len(slots) || slots[ref.Slot].Empty() {
			return false
		}
		w.audit("CLEAR_SLOT", ref.Dimension, ref.Pos, slots[ref.Slot].Type, "", fmt.Sprintf("slot=%d", ref.Slot))
		slots[ref.Slot] = probe.ItemStack{}
		return true
	case probe.RefCursor:
		a := w.agents[ref.ActorID]
		if a == nil || a.Cursor.Empty() {
			return false
		}
		w.audit("CLEAR_CURSOR", a.Dim, a.Pos.Floor(), a.Cursor.Type, "", a.Name)
		a.Cursor = probe.ItemStack{}
		return true
	}
	return false
}

func (w *World) EjectContent(ref probe.ContentRef, stack probe.ItemStack, target probe.Vec3f) bool {
	if stack.Empty() {
		return false
	}
	dim := ref.Dimension
	if ref.Kind == probe.RefCursor {
		a := w.agents[ref.ActorID]
		if a == nil {
			return false
		}
		dim = a.Dim
	}
	w.items = append(w.items, ItemEntity{Dimension: dim, Pos: target, Stack: stack})
	w.audit("SPAWN_ITEM", dim, target.Floor(), "", stack.Type, fmt.Sprintf("amount=%d", stack.Amount))
	return true
}

func (w *World) HasMarker(actorID, marker string) bool {
	a := w.agents[actorID]
	return a != nil && a.Tags[marker]
}

func (w *World) AddMarker(actorID, marker string) bool {
	a := w.agents[actorID]
	if a == nil || marker == "" {
		return false
	}
	a.Tags[marker] = true
	return true
}

func (w *World) RemoveMarker(actorID, marker string) bool {
	a := w.agents[actorID]
	if a == nil || !a.Tags[marker] {
		return false
	}
	delete(a.Tags, marker)
	return true
}

func (w *World) InventorySnapshot(actorID string) (probe.Inventory, bool) {
	a := w.agents[actorID]
	if a == nil {
		return probe.Inventory{}, false
	}
	inv := probe.Inventory{
		Slots:  append([]probe.ItemStack(nil), a.Inventory...),
		Cursor: a.Cursor,
	}
	for _, s := range a.Inventory {
		if s.Empty() {
			inv.EmptySlots++
		}
	}
	return inv, true
}

func (w *World) SendMessage(actorID, text string) bool {
	a := w.agents[actorID]
	if a == nil || !a.Online {
		return false
	}
	a.Messages = append(a.Messages, text)
	return true
}

func (w *World) Kick(actorID, reason string) error {
	a := w.agents[actorID]
	if a == nil || !a.Online {
		return fmt.Errorf("kick %s: %w", actorID, ErrUnknownActor)
	}
	if w.KickError != nil {
		if err := w.KickError(actorID); err != nil {
			return err
		}
	}
	w.kicks = append(w.kicks, KickRecord{ActorID: actorID, Name: a.Name, Reason: reason})
	w.Leave(actorID)
	if a.RejoinAfter > 0 {
		a.rejoinAt = w.tick + a.RejoinAfter
	}
	return nil
}

// DrainEvents implements probe.EventSource.
func (w *World) DrainEvents() []probe.Event {
	out := w.events
	w.events = nil
	return out
}
