package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dupeguard.ai/internal/engine/probe"
)

// Scenario seeds a world for the demo server and end-to-end tests.
type Scenario struct {
	World struct {
		ID             string `yaml:"id"`
		Air            string `yaml:"air"`
		InventorySlots int    `yaml:"inventory_slots"`
	} `yaml:"world"`

	Blocks     []ScenarioBlock     `yaml:"blocks"`
	Containers []ScenarioContainer `yaml:"containers"`
	Actors     []ScenarioActor     `yaml:"actors"`
}

type ScenarioBlock struct {
	Dim  string `yaml:"dim"`
	Pos  [3]int `yaml:"pos"`
	Type string `yaml:"type"`
}

type ScenarioContainer struct {
	Dim   string          `yaml:"dim"`
	Pos   [3]int          `yaml:"pos"`
	Type  string          `yaml:"type"`
	Slots []ScenarioStack `yaml:"slots"`
}

type ScenarioStack struct {
	Type   string `yaml:"type"`
	Amount int    `yaml:"amount"`
}

func (s ScenarioStack) stack() probe.ItemStack {
	return probe.ItemStack{Type: s.Type, Amount: s.Amount}
}

type ScenarioActor struct {
	Name   string         `yaml:"name"`
	Dim    string         `yaml:"dim"`
	Pos    [3]float64     `yaml:"pos"`
	Tags   []string       `yaml:"tags"`
	Cursor *ScenarioStack `yaml:"cursor"`
	// Fill occupies every inventory slot.
	Fill *ScenarioStack `yaml:"fill"`
	// RejoinAfterTicks brings the actor back this many ticks after a kick.
	RejoinAfterTicks uint64 `yaml:"rejoin_after_ticks"`
}

func LoadScenario(path string) (Scenario, error) {
	var s Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	return s, nil
}

func vec(p [3]int) probe.Vec3i { return probe.Vec3i{X: p[0], Y: p[1], Z: p[2]} }

// NewFromScenario builds a world and applies s to it.
func NewFromScenario(s Scenario) *World {
	w := New(Config{ID: s.World.ID, Air: s.World.Air, InventorySlots: s.World.InventorySlots})
	w.Apply(s)
	return w
}

// Apply places the scenario's blocks and containers and joins its actors.
func (w *World) Apply(s Scenario) {
	for _, b := range s.Blocks {
		w.SetBlock(w.dimOr(b.Dim), vec(b.Pos), b.Type)
	}
	for _, c := range s.Containers {
		slots := make([]probe.ItemStack, len(c.Slots))
		for i, st := range c.Slots {
			slots[i] = st.stack()
		}
		w.SetContainer(w.dimOr(c.Dim), vec(c.Pos), c.Type, slots)
	}
	for _, a := range s.Actors {
		id := w.Join(a.Name, a.Dim, probe.Vec3f{X: a.Pos[0], Y: a.Pos[1], Z: a.Pos[2]})
		for _, tag := range a.Tags {
			w.AddMarker(id, tag)
		}
		if a.Fill != nil {
			w.FillInventory(id, a.Fill.stack())
		}
		if a.Cursor != nil {
			w.agents[id].Cursor = a.Cursor.stack()
		}
		if a.RejoinAfterTicks > 0 {
			w.agents[id].RejoinAfter = a.RejoinAfterTicks
		}
	}
}

func (w *World) dimOr(dim string) string {
	if dim == "" {
		return w.cfg.DefaultDimension
	}
	return dim
}
