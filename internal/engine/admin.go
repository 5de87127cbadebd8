package engine

import (
	"context"
	"errors"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/scanner"
	"dupeguard.ai/internal/engine/settings"
)

var ErrUnknownCategory = errors.New("engine: unknown category")

// adminReq carries a closure to the loop goroutine. The loop replies on
// Resp without blocking; a caller that gave up is not waited for.
type adminReq struct {
	Fn   func(e *Engine) error
	Resp chan error
}

func (e *Engine) handleAdmin(req adminReq) {
	err := req.Fn(e)
	select {
	case req.Resp <- err:
	default:
	}
}

// call runs fn on the loop goroutine. It is safe to call from any goroutine
// while Run is active.
func (e *Engine) call(ctx context.Context, fn func(e *Engine) error) error {
	req := adminReq{Fn: fn, Resp: make(chan error, 1)}
	select {
	case e.admin <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Profiles(ctx context.Context) ([]registry.Profile, error) {
	var out []registry.Profile
	err := e.call(ctx, func(e *Engine) error {
		out = e.registry.List()
		return nil
	})
	return out, err
}

func (e *Engine) Profile(ctx context.Context, name string) (registry.Profile, error) {
	var out registry.Profile
	err := e.call(ctx, func(e *Engine) error {
		p, ok := e.registry.Get(name)
		if !ok {
			return registry.ErrUnknownIdentity
		}
		out = p
		return nil
	})
	return out, err
}

func (e *Engine) ResetProfile(ctx context.Context, name string) error {
	return e.call(ctx, func(e *Engine) error {
		if err := e.registry.Reset(name); err != nil {
			return err
		}
		e.log.Info().Str("identity", name).Msg("profile reset")
		return nil
	})
}

// ClearProfiles drops every non-quarantined profile and returns how many.
func (e *Engine) ClearProfiles(ctx context.Context) (int, error) {
	var n int
	err := e.call(ctx, func(e *Engine) error {
		n = e.registry.ClearAll()
		e.log.Info().Int("removed", n).Msg("profiles cleared")
		return nil
	})
	return n, err
}

func (e *Engine) SetKickLoop(ctx context.Context, name string, enabled bool, intervalSeconds int) (registry.Profile, error) {
	var out registry.Profile
	err := e.call(ctx, func(e *Engine) error {
		p, err := e.registry.SetKickLoop(name, enabled, intervalSeconds, e.nowMS())
		if err != nil {
			return err
		}
		out = p
		e.log.Info().Str("identity", p.Identity).Bool("enabled", enabled).Int("interval_s", p.KickLoop.IntervalSeconds).Msg("kick loop updated")
		if enabled {
			e.sweepKickLoop()
			if q, ok := e.registry.Get(name); ok {
				out = q
			}
		}
		return nil
	})
	return out, err
}

func (e *Engine) Config(ctx context.Context) (settings.GlobalConfig, error) {
	var out settings.GlobalConfig
	err := e.call(ctx, func(e *Engine) error {
		out = e.settings.Value().Clone()
		return nil
	})
	return out, err
}

// SetConfig replaces the global config. Scanner radius, budget and
// categories take effect at the next pass boundary.
func (e *Engine) SetConfig(ctx context.Context, g settings.GlobalConfig) (settings.GlobalConfig, error) {
	g = g.Clone()
	var out settings.GlobalConfig
	err := e.call(ctx, func(e *Engine) error {
		out = e.UpdateConfig(func(cur *settings.GlobalConfig) { *cur = g })
		e.log.Info().Bool("enabled", out.Enabled).Msg("config replaced")
		return nil
	})
	return out, err
}

func (e *Engine) SetPatch(ctx context.Context, c finding.Category, enabled bool) (settings.GlobalConfig, error) {
	if !c.Valid() {
		return settings.GlobalConfig{}, ErrUnknownCategory
	}
	var out settings.GlobalConfig
	err := e.call(ctx, func(e *Engine) error {
		out = e.UpdateConfig(func(g *settings.GlobalConfig) { g.Patches[c] = enabled })
		e.log.Info().Str("category", string(c)).Bool("enabled", enabled).Msg("patch toggled")
		return nil
	})
	return out, err
}

// ListIncidents returns up to limit entries, newest first.
func (e *Engine) ListIncidents(ctx context.Context, limit int) ([]incidents.Entry, error) {
	var out []incidents.Entry
	err := e.call(ctx, func(e *Engine) error {
		out = e.incidents.Newest(limit)
		return nil
	})
	return out, err
}

func (e *Engine) ClearIncidents(ctx context.Context) (int, error) {
	var n int
	err := e.call(ctx, func(e *Engine) error {
		n = e.incidents.Clear()
		return nil
	})
	return n, err
}

// Status is a point-in-time view of the loop.
type Status struct {
	Tick   int64          `json:"tick"`
	Passes uint64         `json:"passes"`
	Cursor scanner.Cursor `json:"cursor"`
	Actors int            `json:"actors"`
	Stats  Stats          `json:"stats"`
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var out Status
	err := e.call(ctx, func(e *Engine) error {
		out = Status{
			Tick:   e.tick,
			Passes: e.scanner.Passes(),
			Cursor: e.scanner.Cursor(),
			Actors: len(e.world.FindActors()),
			Stats:  e.stats.Value().clone(),
		}
		return nil
	})
	return out, err
}
