package world

import (
	"fmt"
	"sort"

	"dupeguard.ai/internal/engine/probe"
)

type Agent struct {
	ID     string
	Name   string
	Dim    string
	Pos    probe.Vec3f
	Online bool

	Tags      map[string]bool
	Inventory []probe.ItemStack
	Cursor    probe.ItemStack
	Messages  []string

	// RejoinAfter, when non-zero, schedules a rejoin that many ticks after
	// the actor is kicked.
	RejoinAfter uint64
	rejoinAt    uint64

	seq int
}

func (a *Agent) actor() probe.Actor {
	return probe.Actor{ID: a.ID, Name: a.Name, Dimension: a.Dim, Pos: a.Pos}
}

// Join brings an actor online. A name seen before reuses its agent id so a
// kicked actor rejoining keeps its identity in the world.
func (w *World) Join(name, dim string, pos probe.Vec3f) string {
	if dim == "" {
		dim = w.cfg.DefaultDimension
	}
	for _, a := range w.agents {
		if a.Name == name {
			a.Online = true
			a.Dim = dim
			a.Pos = pos
			w.nextAgentNum++
			a.seq = w.nextAgentNum
			w.events = append(w.events,
				probe.Event{Kind: probe.EventJoin, ActorID: a.ID, Name: a.Name},
				probe.Event{Kind: probe.EventSpawn, ActorID: a.ID, Name: a.Name, Initial: true},
			)
			return a.ID
		}
	}
	w.nextAgentNum++
	a := &Agent{
		ID:        fmt.Sprintf("A%d", w.nextAgentNum),
		Name:      name,
		Dim:       dim,
		Pos:       pos,
		Online:    true,
		Tags:      map[string]bool{},
		Inventory: make([]probe.ItemStack, w.cfg.InventorySlots),
		seq:       w.nextAgentNum,
	}
	w.agents[a.ID] = a
	w.events = append(w.events,
		probe.Event{Kind: probe.EventJoin, ActorID: a.ID, Name: a.Name},
		probe.Event{Kind: probe.EventSpawn, ActorID: a.ID, Name: a.Name, Initial: true},
	)
	return a.ID
}

func (w *World) Leave(id string) {
	a := w.agents[id]
	if a == nil || !a.Online {
		return
	}
	a.Online = false
	w.events = append(w.events, probe.Event{Kind: probe.EventLeave, ActorID: id, Name: a.Name})
}

// Respawn reports a non-initial spawn (death, dimension change).
func (w *World) Respawn(id string) bool {
	a := w.agents[id]
	if a == nil || !a.Online {
		return false
	}
	w.events = append(w.events, probe.Event{Kind: probe.EventSpawn, ActorID: id, Name: a.Name})
	return true
}

func (w *World) Agent(id string) (*Agent, bool) {
	a, ok := w.agents[id]
	return a, ok
}

func (w *World) AgentByName(name string) (*Agent, bool) {
	for _, a := range w.agents {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (w *World) Move(id string, dim string, pos probe.Vec3f) bool {
	a := w.agents[id]
	if a == nil {
		return false
	}
	if dim != "" {
		a.Dim = dim
	}
	a.Pos = pos
	return true
}

// SetInventory replaces carried slots and the cursor. Slots beyond the
// configured size are dropped.
func (w *World) SetInventory(id string, slots []probe.ItemStack, cursor probe.ItemStack) bool {
	a := w.agents[id]
	if a == nil {
		return false
	}
	inv := make([]probe.ItemStack, w.cfg.InventorySlots)
	copy(inv, slots)
	a.Inventory = inv
	a.Cursor = cursor
	return true
}

// FillInventory occupies every slot with stack.
func (w *World) FillInventory(id string, stack probe.ItemStack) bool {
	a := w.agents[id]
	if a == nil {
		return false
	}
	for i := range a.Inventory {
		a.Inventory[i] = stack
	}
	return true
}

func (w *World) Messages(id string) []string {
	a := w.agents[id]
	if a == nil {
		return nil
	}
	return append([]string(nil), a.Messages...)
}

func (w *World) ClearMessages(id string) {
	if a := w.agents[id]; a != nil {
		a.Messages = nil
	}
}

// Step runs the world's own scheduled work for tick: actors that were
// kicked come back once their rejoin delay has passed.
func (w *World) Step(tick uint64) {
	w.tick = tick
	var due []*Agent
	for _, a := range w.agents {
		if !a.Online && a.rejoinAt != 0 && tick >= a.rejoinAt {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	for _, a := range due {
		a.rejoinAt = 0
		w.Join(a.Name, a.Dim, a.Pos)
	}
}
