// Package finding defines exploit categories and the record a handler emits
// after it has neutralized an exploit.
package finding

import (
	"fmt"

	"dupeguard.ai/internal/engine/probe"
)

type Category string

const (
	GhostStack        Category = "ghost-stack"
	PistonExploit     Category = "piston-exploit"
	ContainerExploitA Category = "container-exploit-a"
	ContainerExploitB Category = "container-exploit-b"
	IllegalStackSize  Category = "illegal-stack-size"
	Other             Category = "other"
)

// All lists every category in display order.
var All = []Category{GhostStack, PistonExploit, ContainerExploitA, ContainerExploitB, IllegalStackSize, Other}

var labels = map[Category]string{
	GhostStack:        "Ghost Stack Dupe",
	PistonExploit:     "Plant Dupe",
	ContainerExploitA: "Hopper Bundle Dupe",
	ContainerExploitB: "Restricted Item (Ejected)",
	IllegalStackSize:  "Illegal Stack Size",
	Other:             "Other",
}

// disableTags are per-actor markers that opt one actor out of a patch.
var disableTags = map[Category]string{
	GhostStack:        "antidupe:disable_ghost",
	PistonExploit:     "antidupe:disable_plant",
	ContainerExploitA: "antidupe:disable_hopper",
	ContainerExploitB: "antidupe:disable_dropper",
	IllegalStackSize:  "antidupe:disable_stack",
}

func (c Category) Valid() bool {
	_, ok := labels[c]
	return ok
}

func (c Category) Label() string {
	if l, ok := labels[c]; ok {
		return l
	}
	return string(c)
}

// DisableTag returns the opt-out marker for c, or "" if it has none.
func (c Category) DisableTag() string { return disableTags[c] }

// Parse accepts a category name; unknown names map to Other.
func Parse(s string) (Category, bool) {
	c := Category(s)
	if c.Valid() {
		return c, true
	}
	return Other, false
}

// Finding is consumed synchronously by the reporting path and is not
// stored as its own entity.
type Finding struct {
	Offender    string
	Identity    string
	Category    Category
	Description string
	Location    probe.Vec3i
	Dimension   string
	Mitigation  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s by %s at %s (%s)", f.Category, f.Description, f.Offender, f.Location, f.Dimension)
}

// Set is a compact set of categories.
type Set uint8

func index(c Category) int {
	for i, x := range All {
		if x == c {
			return i
		}
	}
	return -1
}

func SetOf(cs ...Category) Set {
	var s Set
	for _, c := range cs {
		s = s.With(c)
	}
	return s
}

func (s Set) Has(c Category) bool {
	i := index(c)
	return i >= 0 && s&(1<<uint(i)) != 0
}

func (s Set) With(c Category) Set {
	if i := index(c); i >= 0 {
		s |= 1 << uint(i)
	}
	return s
}

func (s Set) Without(c Category) Set {
	if i := index(c); i >= 0 {
		s &^= 1 << uint(i)
	}
	return s
}

func (s Set) Empty() bool { return s == 0 }

func (s Set) Categories() []Category {
	var out []Category
	for _, c := range All {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
