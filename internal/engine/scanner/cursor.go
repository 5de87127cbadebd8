package scanner

// Cursor points at the next unvisited cell: actor index plus offsets in
// [-R, R] within that actor's cube. Done marks a finished pass; the next
// step reports pass completion and starts over.
type Cursor struct {
	Actor int  `json:"actor"`
	DX    int  `json:"dx"`
	DY    int  `json:"dy"`
	DZ    int  `json:"dz"`
	Done  bool `json:"done"`
}

func Start(radius int) Cursor {
	return Cursor{Actor: 0, DX: -radius, DY: -radius, DZ: -radius}
}

// Advance steps to the next cell. dz varies fastest, then dy, then dx;
// leaving the cube moves to the next actor.
func Advance(c Cursor, radius, actors int) Cursor {
	if c.Done {
		return c
	}
	c.DZ++
	if c.DZ <= radius {
		return c
	}
	c.DZ = -radius
	c.DY++
	if c.DY <= radius {
		return c
	}
	c.DY = -radius
	c.DX++
	if c.DX <= radius {
		return c
	}
	return NextActor(c, radius, actors)
}

// NextActor abandons the rest of the current cube.
func NextActor(c Cursor, radius, actors int) Cursor {
	if c.Done {
		return c
	}
	c.Actor++
	c.DX, c.DY, c.DZ = -radius, -radius, -radius
	if c.Actor >= actors {
		c.Done = true
	}
	return c
}

// CellsPerActor is the cube volume for radius.
func CellsPerActor(radius int) int {
	side := 2*radius + 1
	return side * side * side
}
