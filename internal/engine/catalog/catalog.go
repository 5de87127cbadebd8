// Package catalog holds the exploit signature tables: which cell types the
// scanner reacts to and the item limits the handlers enforce. The tables are
// data, loaded from YAML, so hosts with different identifiers can reuse the
// engine unchanged.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Air string `yaml:"air"`

	TwoHighPlants []string `yaml:"two_high_plants"`
	Pistons       []string `yaml:"pistons"`
	// PistonReach is how many cells out from a plant pistons are searched.
	PistonReach int `yaml:"piston_reach"`

	Hoppers  []string `yaml:"hoppers"`
	Droppers []string `yaml:"droppers"`

	// StackChecked containers have every slot compared against MaxStack.
	StackChecked    []string       `yaml:"stack_checked"`
	DefaultMaxStack int            `yaml:"default_max_stack"`
	MaxStack        map[string]int `yaml:"max_stack"`

	// RestrictedDefault seeds the restricted-content list of a fresh config.
	RestrictedDefault []string `yaml:"restricted_default"`

	sets map[string]map[string]struct{}
}

func Defaults() *Catalog {
	c := &Catalog{
		Air: "minecraft:air",
		TwoHighPlants: []string{
			"minecraft:tall_grass", "minecraft:tall_dry_grass", "minecraft:large_fern",
			"minecraft:sunflower", "minecraft:rose_bush", "minecraft:peony",
			"minecraft:lilac", "minecraft:cornflower", "minecraft:tall_seagrass",
			"minecraft:torchflower_crop", "minecraft:torchflower",
		},
		Pistons:         []string{"minecraft:piston", "minecraft:sticky_piston"},
		PistonReach:     2,
		Hoppers:         []string{"minecraft:hopper"},
		Droppers:        []string{"minecraft:dropper"},
		StackChecked:    []string{"minecraft:chest", "minecraft:barrel", "minecraft:trapped_chest"},
		DefaultMaxStack: 64,
		MaxStack: map[string]int{
			"minecraft:ender_pearl":      16,
			"minecraft:snowball":         16,
			"minecraft:egg":              16,
			"minecraft:totem_of_undying": 1,
		},
		RestrictedDefault: BundleTypes(),
	}
	c.index()
	return c
}

// BundleTypes lists every bundle variant.
func BundleTypes() []string {
	colors := []string{"red", "blue", "black", "cyan", "brown", "gray", "green", "lime",
		"light_blue", "light_gray", "magenta", "orange", "purple", "white", "yellow", "pink"}
	out := []string{"minecraft:bundle"}
	for _, c := range colors {
		out = append(out, "minecraft:"+c+"_bundle")
	}
	return out
}

// Load reads a YAML catalog. Fields left out keep their default values.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	c := Defaults()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("catalog.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func (c *Catalog) Validate() error {
	if strings.TrimSpace(c.Air) == "" {
		return fmt.Errorf("catalog: air type is required")
	}
	if c.PistonReach < 1 || c.PistonReach > 8 {
		return fmt.Errorf("catalog: piston_reach must be in [1,8], got %d", c.PistonReach)
	}
	if c.DefaultMaxStack < 1 {
		return fmt.Errorf("catalog: default_max_stack must be >= 1, got %d", c.DefaultMaxStack)
	}
	for id, n := range c.MaxStack {
		if n < 1 {
			return fmt.Errorf("catalog: max_stack[%s] must be >= 1, got %d", id, n)
		}
	}
	return nil
}

func (c *Catalog) index() {
	mk := func(ids []string) map[string]struct{} {
		m := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			m[id] = struct{}{}
		}
		return m
	}
	c.sets = map[string]map[string]struct{}{
		"plant":   mk(c.TwoHighPlants),
		"piston":  mk(c.Pistons),
		"hopper":  mk(c.Hoppers),
		"dropper": mk(c.Droppers),
		"stack":   mk(c.StackChecked),
	}
}

func (c *Catalog) has(set, id string) bool {
	_, ok := c.sets[set][id]
	return ok
}

func (c *Catalog) IsTwoHighPlant(id string) bool { return c.has("plant", id) }
func (c *Catalog) IsPiston(id string) bool       { return c.has("piston", id) }
func (c *Catalog) IsHopper(id string) bool       { return c.has("hopper", id) }
func (c *Catalog) IsDropper(id string) bool      { return c.has("dropper", id) }
func (c *Catalog) IsStackChecked(id string) bool { return c.has("stack", id) }

// MaxStackFor returns the legal stack size of an item type.
func (c *Catalog) MaxStackFor(itemType string) int {
	if n, ok := c.MaxStack[itemType]; ok && n > 0 {
		return n
	}
	return c.DefaultMaxStack
}

// Digest fingerprints the catalog so archived incidents can name the
// signature set they were detected with.
func (c *Catalog) Digest() string {
	h := sha256.New()
	write := func(label string, ids []string) {
		cp := append([]string(nil), ids...)
		sort.Strings(cp)
		fmt.Fprintf(h, "%s=%s;", label, strings.Join(cp, ","))
	}
	write("air", []string{c.Air})
	write("plants", c.TwoHighPlants)
	write("pistons", c.Pistons)
	write("hoppers", c.Hoppers)
	write("droppers", c.Droppers)
	write("stack", c.StackChecked)
	keys := make([]string, 0, len(c.MaxStack))
	for k, v := range c.MaxStack {
		keys = append(keys, fmt.Sprintf("%s:%d", k, v))
	}
	write("max", keys)
	fmt.Fprintf(h, "reach=%d;default=%d", c.PistonReach, c.DefaultMaxStack)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
