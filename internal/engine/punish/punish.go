// Package punish decides sanctions for a freshly recorded finding. Evaluate
// is pure; the engine applies its Decision through the probe.
package punish

import (
	"strconv"
	"strings"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/settings"
)

// Path names the branch that produced a decision.
type Path string

const (
	PathBypass    Path = "bypass"
	PathExempt    Path = "exempt"
	PathDisabled  Path = "rule-disabled"
	PathTagOnly   Path = "tag-only"
	PathRepeat    Path = "repeat-offender"
	PathThreshold Path = "threshold"
	PathBelow     Path = "below-threshold"
	PathCooldown  Path = "cooldown"
	// PathKickLoop is not produced by Evaluate; quarantine kicks use it.
	PathKickLoop Path = "kick-loop"
)

type Input struct {
	Name     string
	Category finding.Category
	// Count is the category counter after recording the finding.
	Count int

	Bypassed bool
	Exempt   bool
	// Tagged reports whether the actor already carries the rule's tag.
	Tagged bool

	NowTick      int64
	LastKickTick int64
	HasKicked    bool

	Config settings.GlobalConfig
}

// Decision is empty when nothing should happen.
type Decision struct {
	ApplyTag string
	Kick     bool
	Reason   string
	Path     Path
}

func (d Decision) None() bool { return d.ApplyTag == "" && !d.Kick }

// CooldownElapsed reports whether a kick is allowed now: strictly more than
// cooldown ticks since the last one.
func CooldownElapsed(hasKicked bool, lastKickTick, nowTick int64, cooldown int) bool {
	return !hasKicked || nowTick-lastKickTick > int64(cooldown)
}

func Evaluate(in Input) Decision {
	if in.Bypassed {
		return Decision{Path: PathBypass}
	}
	if in.Exempt {
		return Decision{Path: PathExempt}
	}
	cfg := in.Config
	rule := cfg.RuleFor(in.Category)
	if !rule.Enabled {
		return Decision{Path: PathDisabled}
	}
	tag := cfg.EffectiveTag(rule)

	var d Decision
	if tag != "" && !in.Tagged {
		d.ApplyTag = tag
	}
	if rule.Threshold == 0 {
		d.Path = PathTagOnly
		return d
	}

	kickAllowed := cfg.Punishment.KickEnabled &&
		CooldownElapsed(in.HasKicked, in.LastKickTick, in.NowTick, cfg.Punishment.KickCooldownTicks)

	if rule.KickIfTaggedOnRepeat && tag != "" && in.Tagged {
		d.Path = PathRepeat
		if kickAllowed {
			d.Kick = true
			d.Reason = RenderReason(cfg.Punishment.KickReasonTemplate, in.Name, in.Category, in.Count, rule.Threshold)
		} else if cfg.Punishment.KickEnabled {
			d.Path = PathCooldown
		}
		return d
	}

	if !rule.KickAtThreshold || !cfg.Punishment.KickEnabled || in.Count < rule.Threshold {
		d.Path = PathBelow
		return d
	}
	if !kickAllowed {
		d.Path = PathCooldown
		return d
	}
	d.Kick = true
	d.Path = PathThreshold
	d.Reason = RenderReason(cfg.Punishment.KickReasonTemplate, in.Name, in.Category, in.Count, rule.Threshold)
	return d
}

// RenderReason fills {name}, {category}, {count} and {threshold}.
func RenderReason(tmpl, name string, c finding.Category, count, threshold int) string {
	r := strings.NewReplacer(
		"{name}", name,
		"{category}", c.Label(),
		"{count}", strconv.Itoa(count),
		"{threshold}", strconv.Itoa(threshold),
	)
	return r.Replace(tmpl)
}

// KickLoopDue reports whether a quarantined identity should be kicked now.
// Failed attempts count toward the interval like successful kicks.
func KickLoopDue(kl registry.KickLoop, nowMS int64) bool {
	if !kl.Enabled {
		return false
	}
	last := kl.LastKickMS
	if kl.LastAttemptMS > last {
		last = kl.LastAttemptMS
	}
	if last == 0 {
		return true
	}
	interval := kl.IntervalSeconds
	if interval <= 0 {
		interval = registry.DefaultKickLoopIntervalSeconds
	}
	return nowMS-last >= int64(interval)*1000
}

// Cooldowns remembers the tick of the last kick attempt per identity. It
// is runtime state and starts empty after a restart.
type Cooldowns struct {
	last map[string]int64
}

func NewCooldowns() *Cooldowns { return &Cooldowns{last: map[string]int64{}} }

func (c *Cooldowns) Last(id string) (int64, bool) {
	t, ok := c.last[id]
	return t, ok
}

// Mark records an attempt. Failed kicks are marked too so they wait out the
// cooldown instead of retrying every finding.
func (c *Cooldowns) Mark(id string, tick int64) { c.last[id] = tick }
