package scanner

import "testing"

func TestAdvanceOrder(t *testing.T) {
	c := Start(1)
	c = Advance(c, 1, 2)
	if c != (Cursor{Actor: 0, DX: -1, DY: -1, DZ: 0}) {
		t.Fatalf("dz should vary fastest: %+v", c)
	}
	for i := 0; i < 2; i++ {
		c = Advance(c, 1, 2)
	}
	if c != (Cursor{Actor: 0, DX: -1, DY: 0, DZ: -1}) {
		t.Fatalf("dy should roll after dz: %+v", c)
	}
}

func TestFullPassMarksDone(t *testing.T) {
	const radius, actors = 2, 3
	c := Start(radius)
	steps := 0
	for !c.Done {
		c = Advance(c, radius, actors)
		steps++
		if steps > 1000 {
			t.Fatalf("cursor never finished")
		}
	}
	if steps != actors*CellsPerActor(radius) {
		t.Fatalf("steps=%d want %d", steps, actors*CellsPerActor(radius))
	}
	if Advance(c, radius, actors) != c || NextActor(c, radius, actors) != c {
		t.Fatalf("done cursor must be stable")
	}
}

func TestNextActorAbandonsCube(t *testing.T) {
	c := Cursor{Actor: 0, DX: 0, DY: 1, DZ: -1}
	c = NextActor(c, 1, 2)
	if c != (Cursor{Actor: 1, DX: -1, DY: -1, DZ: -1}) {
		t.Fatalf("next actor=%+v", c)
	}
	c = NextActor(c, 1, 2)
	if !c.Done {
		t.Fatalf("past the last actor must be done: %+v", c)
	}
}
