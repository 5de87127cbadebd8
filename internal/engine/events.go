package engine

import (
	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/handlers"
	"dupeguard.ai/internal/engine/identity"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/punish"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/metrics"
)

const kickLoopReason = "You are quarantined by Anti-Dupe."

func (e *Engine) drainEvents() {
	src, ok := e.world.(probe.EventSource)
	if !ok {
		return
	}
	for _, ev := range src.DrainEvents() {
		e.guard(ev.Kind.String(), ev.ActorID, func() { e.handleEvent(ev) })
	}
}

// guard runs fn and turns a panic into a logged error, so one bad actor or
// host call costs only its own work for this tick.
func (e *Engine) guard(op, actorID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ScanOps.WithLabelValues("recovered").Inc()
			e.log.Error().Str("op", op).Str("actor", actorID).Interface("panic", r).Msg("recovered from panic")
		}
	}()
	fn()
}

func (e *Engine) handleEvent(ev probe.Event) {
	a, online := e.world.Actor(ev.ActorID)
	switch ev.Kind {
	case probe.EventJoin:
		if !online {
			return
		}
		e.registry.Touch(a.Name, locationOf(a), e.nowMS())
		e.checkKickLoop(a)
	case probe.EventSpawn:
		if !online || !ev.Initial {
			return
		}
		e.checkGhostStack(a)
	case probe.EventLeave:
		if ev.Name != "" {
			e.registry.Touch(ev.Name, nil, e.nowMS())
		}
	}
}

func (e *Engine) checkGhostStack(a probe.Actor) {
	cfg := e.settings.Value()
	if !cfg.PatchEnabled(finding.GhostStack) {
		return
	}
	f, ok := handlers.GhostStack(handlers.Env{World: e.world, Catalog: e.catalog, Config: cfg}, a)
	if !ok {
		return
	}
	e.log.Info().
		Str("category", string(f.Category)).
		Str("offender", f.Offender).
		Str("mitigation", f.Mitigation).
		Msg("exploit neutralized")
	e.report(a, f)
}

func (e *Engine) checkKickLoop(a probe.Actor) {
	p, ok := e.registry.Get(a.Name)
	if !ok || !p.Quarantined() {
		return
	}
	if !punish.KickLoopDue(p.KickLoop, e.nowMS()) {
		return
	}
	e.kick(a, p.Identity, kickLoopReason, punish.PathKickLoop, alerts.KindKickLoop)
}

// sweepKickLoop kicks every online quarantined actor whose interval elapsed.
func (e *Engine) sweepKickLoop() {
	q := e.registry.Quarantined()
	if len(q) == 0 {
		return
	}
	byID := make(map[string]struct{}, len(q))
	for _, p := range q {
		byID[p.Identity] = struct{}{}
	}
	for _, a := range e.world.FindActors() {
		if _, ok := byID[identity.Normalize(a.Name)]; ok {
			e.guard("kick-loop", a.ID, func() { e.checkKickLoop(a) })
		}
	}
}

// track refreshes last-seen data for online actors that already have a
// profile. Actors without one are not recorded.
func (e *Engine) track() {
	now := e.nowMS()
	for _, a := range e.world.FindActors() {
		e.guard("track", a.ID, func() { e.registry.Touch(a.Name, locationOf(a), now) })
	}
}

func locationOf(a probe.Actor) *registry.Location {
	p := a.Pos.Floor()
	return &registry.Location{X: p.X, Y: p.Y, Z: p.Z, Dimension: a.Dimension}
}
