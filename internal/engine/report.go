package engine

import (
	"fmt"

	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/identity"
	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/punish"
	"dupeguard.ai/internal/metrics"
)

// report runs once per neutralized exploit: registry, incident log,
// archive, alerts, then punishment.
func (e *Engine) report(offender probe.Actor, f finding.Finding) {
	cfg := e.settings.Value()
	nowMS := e.nowMS()
	if f.Identity == "" {
		f.Identity = identity.Normalize(f.Offender)
	}

	profile := e.registry.RecordFinding(f, nowMS)
	metrics.RecordFinding(f.Category)
	e.stats.Update(func(s *Stats) {
		s.Findings[f.Category]++
		s.Total++
	})

	nearby := alerts.Nearby(e.world, offender.ID, f.Dimension, f.Location.Center(0, 0, 0), cfg.Tracking.NearbyRadius, cfg.Tracking.NearbyCap)
	entry := e.incidents.Append(incidents.FromFinding(f, nowMS, nearby, profile.Count(f.Category), profile.Total))
	if e.archive != nil {
		if err := e.archive.WriteIncident(entry); err != nil {
			metrics.IncidentsArchived.WithLabelValues("error").Inc()
			e.log.Warn().Err(err).Str("incident", entry.ID).Msg("incident archive write failed")
		} else {
			metrics.IncidentsArchived.WithLabelValues("ok").Inc()
		}
	}

	res := e.notifier.Finding(cfg, f, nearby, alerts.Alert{
		ID:          entry.ID,
		Kind:        alerts.KindFinding,
		AtMS:        nowMS,
		Offender:    f.Offender,
		Identity:    f.Identity,
		Category:    f.Category,
		Label:       f.Category.Label(),
		Description: f.Description,
		Location:    f.Location,
		Dimension:   f.Dimension,
		Nearby:      nearby,
		Detail:      f.Mitigation,
	})
	if res.Throttled {
		metrics.AlertsThrottled.Inc()
	}

	e.log.Warn().
		Str("offender", f.Offender).
		Str("category", string(f.Category)).
		Str("desc", f.Description).
		Str("pos", f.Location.String()).
		Int("count", profile.Count(f.Category)).
		Int("total", profile.Total).
		Msg("violation recorded")

	e.punish(offender, f, profile.Count(f.Category))
}

func (e *Engine) punish(offender probe.Actor, f finding.Finding, count int) {
	if offender.ID == "" {
		return
	}
	if _, online := e.world.Actor(offender.ID); !online {
		return
	}
	cfg := e.settings.Value()
	rule := cfg.RuleFor(f.Category)
	tag := cfg.EffectiveTag(rule)
	last, kicked := e.cooldowns.Last(f.Identity)

	d := punish.Evaluate(punish.Input{
		Name:         f.Offender,
		Category:     f.Category,
		Count:        count,
		Bypassed:     e.world.HasMarker(offender.ID, cfg.Punishment.BypassTag),
		Exempt:       cfg.Punishment.ExemptTag != "" && e.world.HasMarker(offender.ID, cfg.Punishment.ExemptTag),
		Tagged:       tag != "" && e.world.HasMarker(offender.ID, tag),
		NowTick:      e.tick,
		LastKickTick: last,
		HasKicked:    kicked,
		Config:       cfg,
	})
	e.log.Debug().Str("offender", f.Offender).Str("path", string(d.Path)).Bool("kick", d.Kick).Str("tag", d.ApplyTag).Msg("punishment decision")

	if d.ApplyTag != "" {
		if e.world.AddMarker(offender.ID, d.ApplyTag) {
			metrics.TagsApplied.Inc()
			e.stats.Update(func(s *Stats) { s.TagsApplied++ })
			e.notifier.Publish(alerts.Alert{
				Kind:     alerts.KindTag,
				AtMS:     e.nowMS(),
				Offender: f.Offender,
				Identity: f.Identity,
				Category: f.Category,
				Detail:   d.ApplyTag,
			})
		} else {
			e.log.Warn().Str("offender", f.Offender).Str("tag", d.ApplyTag).Msg("tag not applied")
		}
	}
	if d.Kick {
		e.kick(offender, f.Identity, d.Reason, d.Path, alerts.KindKick)
	}
}

// kick removes the actor and records the attempt for cooldown purposes
// whether or not the host accepted it.
func (e *Engine) kick(a probe.Actor, id, reason string, path punish.Path, kind alerts.Kind) bool {
	err := e.world.Kick(a.ID, reason)
	e.cooldowns.Mark(id, e.tick)
	if err != nil {
		metrics.KickFailures.Inc()
		e.stats.Update(func(s *Stats) { s.KickFailures++ })
		e.log.Warn().Err(err).Str("actor", a.Name).Str("path", string(path)).Msg("kick failed")
		if path == punish.PathKickLoop {
			e.registry.MarkKickAttempt(a.Name, e.nowMS())
		}
		return false
	}
	nowMS := e.nowMS()
	metrics.KicksTotal.WithLabelValues(string(path)).Inc()
	e.stats.Update(func(s *Stats) { s.Kicks++ })
	e.registry.MarkKicked(a.Name, nowMS)

	cfg := e.settings.Value()
	e.notifier.Admin(cfg, fmt.Sprintf("<Anti-Dupe> %s was kicked: %s", a.Name, reason))
	e.notifier.Publish(alerts.Alert{
		Kind:      kind,
		AtMS:      nowMS,
		Offender:  a.Name,
		Identity:  id,
		Location:  a.Pos.Floor(),
		Dimension: a.Dimension,
		Detail:    reason,
	})
	e.log.Warn().Str("actor", a.Name).Str("path", string(path)).Str("reason", reason).Msg("actor kicked")
	return true
}
