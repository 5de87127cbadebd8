// Package scanner walks the cube around every online actor a bounded number
// of steps per tick, handing each cell to a Dispatcher. Progress lives in an
// explicit Cursor, so a pass spans as many ticks as it needs.
package scanner

import (
	"fmt"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/probe"
)

// ScanCategories are the categories found by walking cells. Ghost stacks
// are detected from spawn events instead.
var ScanCategories = finding.SetOf(
	finding.PistonExploit,
	finding.ContainerExploitA,
	finding.ContainerExploitB,
	finding.IllegalStackSize,
)

type Config struct {
	Radius int
	Budget int
	// Enabled holds the globally active categories.
	Enabled finding.Set
}

// Frame is captured when the scanner reaches an actor and stays fixed for
// that actor's cube.
type Frame struct {
	Actor      probe.Actor
	Anchor     probe.Vec3i
	Categories finding.Set
}

type Dispatcher interface {
	Dispatch(f *Frame, pos probe.Vec3i, cell probe.Cell)
}

type DispatcherFunc func(f *Frame, pos probe.Vec3i, cell probe.Cell)

func (fn DispatcherFunc) Dispatch(f *Frame, pos probe.Vec3i, cell probe.Cell) { fn(f, pos, cell) }

// TickResult accounts for one Tick. Visits+Skips+pass completion never
// exceed the budget.
type TickResult struct {
	Ops          int
	Visits       int
	Skips        int
	Recovered    int
	PassComplete bool
}

type Scanner struct {
	world    probe.World
	dispatch Dispatcher
	config   func() Config
	log      zerolog.Logger

	// OnPassComplete runs once per finished pass, after the config reload.
	OnPassComplete func(pass uint64)

	cfg    Config
	cursor Cursor
	actors []string
	frame  *Frame
	passes uint64
}

func New(w probe.World, d Dispatcher, config func() Config, log zerolog.Logger) *Scanner {
	s := &Scanner{world: w, dispatch: d, config: config, log: log}
	s.reload()
	s.cursor = Start(s.cfg.Radius)
	return s
}

func (s *Scanner) reload() {
	cfg := s.config()
	if cfg.Radius < 0 {
		cfg.Radius = 0
	}
	if cfg.Budget < 1 {
		cfg.Budget = 1
	}
	cfg.Enabled &= ScanCategories
	s.cfg = cfg
}

func (s *Scanner) Cursor() Cursor  { return s.cursor }
func (s *Scanner) Passes() uint64  { return s.passes }
func (s *Scanner) Config() Config  { return s.cfg }
func (s *Scanner) ActorCount() int { return len(s.actors) }

// Tick resumes the scan for at most Budget steps. Reaching the end of a
// pass ends the tick early.
func (s *Scanner) Tick() TickResult {
	var res TickResult
	for res.Ops < s.cfg.Budget {
		res.Ops++
		if s.step(&res) {
			res.PassComplete = true
			break
		}
	}
	return res
}

func (s *Scanner) step(res *TickResult) bool {
	if s.actors == nil {
		if s.cfg.Enabled.Empty() {
			return s.completePass()
		}
		s.actors = s.snapshotActors()
	}
	if s.cursor.Done || s.cursor.Actor >= len(s.actors) {
		return s.completePass()
	}

	if s.frame == nil {
		f, ok := s.beginActor(s.actors[s.cursor.Actor])
		if !ok {
			res.Skips++
			s.nextActor()
			return false
		}
		s.frame = f
	}
	if a, ok := s.world.Actor(s.frame.Actor.ID); !ok || a.Dimension != s.frame.Actor.Dimension {
		res.Skips++
		s.nextActor()
		return false
	}

	pos := s.frame.Anchor.Add(probe.Vec3i{X: s.cursor.DX, Y: s.cursor.DY, Z: s.cursor.DZ})
	if err := s.visit(pos); err != nil {
		res.Recovered++
		s.log.Warn().Err(err).Str("actor", s.frame.Actor.Name).Msg("scan aborted for actor")
		s.nextActor()
		return false
	}
	res.Visits++

	prev := s.cursor.Actor
	s.cursor = Advance(s.cursor, s.cfg.Radius, len(s.actors))
	if s.cursor.Actor != prev {
		s.frame = nil
	}
	return false
}

func (s *Scanner) visit(pos probe.Vec3i) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic at %s: %v", pos, r)
		}
	}()
	cell, ok := s.world.Cell(s.frame.Actor.Dimension, pos)
	if !ok {
		return nil
	}
	s.dispatch.Dispatch(s.frame, pos, cell)
	return nil
}

func (s *Scanner) nextActor() {
	s.cursor = NextActor(s.cursor, s.cfg.Radius, len(s.actors))
	s.frame = nil
}

func (s *Scanner) beginActor(id string) (*Frame, bool) {
	a, ok := s.world.Actor(id)
	if !ok {
		return nil, false
	}
	cats := s.cfg.Enabled
	for _, c := range cats.Categories() {
		if tag := c.DisableTag(); tag != "" && s.world.HasMarker(id, tag) {
			cats = cats.Without(c)
		}
	}
	if cats.Empty() {
		return nil, false
	}
	return &Frame{Actor: a, Anchor: a.Pos.Floor(), Categories: cats}, true
}

func (s *Scanner) snapshotActors() []string {
	actors := s.world.FindActors()
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func (s *Scanner) completePass() bool {
	s.passes++
	s.reload()
	s.cursor = Start(s.cfg.Radius)
	s.actors = nil
	s.frame = nil
	if s.OnPassComplete != nil {
		s.OnPassComplete(s.passes)
	}
	return true
}
