// Package settings holds the engine's persisted GlobalConfig singleton and
// the normalizer every loaded or submitted copy passes through.
package settings

import (
	"strings"

	"dupeguard.ai/internal/engine/catalog"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/persistence/store"
)

const (
	Key = "antidupe:config"

	DefaultScanRadius      = 4
	DefaultOpsPerTick      = 2000
	DefaultNearbyRadius    = 50
	DefaultNearbyCap       = 12
	DefaultAlertsPerMinute = 30
	DefaultLogMaxEntries   = 100
	DefaultTrackEveryTicks = 100
	DefaultKickCooldown    = 200
	DefaultAdminTag        = "Admin"
	DefaultFlagTag         = "antidupe:flagged"
	DefaultBypassTag       = "antidupe:bypass"
	DefaultKickTemplate    = "Removed by Anti-Dupe: {category} ({count}/{threshold})"

	MaxRestrictedEntries = 64
	MaxTemplateLen       = 200
	MaxTagLen            = 48
)

type GlobalConfig struct {
	Version int  `json:"version"`
	Enabled bool `json:"enabled"`

	// Patches toggles each category's handler globally.
	Patches map[finding.Category]bool `json:"patches"`

	Tracking          Tracking   `json:"tracking"`
	RestrictedContent []string   `json:"restricted_content"`
	Punishment        Punishment `json:"punishment"`
	Alerts            Alerts     `json:"alerts"`
}

type Tracking struct {
	ScanRadius      int `json:"scan_radius"`
	OpsPerTick      int `json:"ops_per_tick"`
	NearbyRadius    int `json:"nearby_radius"`
	NearbyCap       int `json:"nearby_cap"`
	AlertsPerMinute int `json:"alerts_per_minute"`
	LogMaxEntries   int `json:"log_max_entries"`
	TrackEveryTicks int `json:"track_every_ticks"`
}

type Punishment struct {
	KickEnabled        bool   `json:"kick_enabled"`
	KickCooldownTicks  int    `json:"kick_cooldown_ticks"`
	BypassTag          string `json:"bypass_tag"`
	ExemptTag          string `json:"exempt_tag"`
	DefaultTag         string `json:"default_tag"`
	KickReasonTemplate string `json:"kick_reason_template"`

	Rules map[finding.Category]Rule `json:"rules"`
}

// Rule is the per-category punishment policy. Threshold 0 disables kicks
// for the category; tags still apply.
type Rule struct {
	Enabled              bool   `json:"enabled"`
	Threshold            int    `json:"threshold"`
	Tag                  string `json:"tag"`
	KickAtThreshold      bool   `json:"kick_at_threshold"`
	KickIfTaggedOnRepeat bool   `json:"kick_if_tagged_on_repeat"`
}

type Alerts struct {
	Public   bool   `json:"public"`
	Admin    bool   `json:"admin"`
	AdminTag string `json:"admin_tag"`
}

func Default() GlobalConfig {
	g := GlobalConfig{
		Version: 1,
		Enabled: true,
		Patches: map[finding.Category]bool{},
		Tracking: Tracking{
			ScanRadius:      DefaultScanRadius,
			OpsPerTick:      DefaultOpsPerTick,
			NearbyRadius:    DefaultNearbyRadius,
			NearbyCap:       DefaultNearbyCap,
			AlertsPerMinute: DefaultAlertsPerMinute,
			LogMaxEntries:   DefaultLogMaxEntries,
			TrackEveryTicks: DefaultTrackEveryTicks,
		},
		RestrictedContent: catalog.BundleTypes(),
		Punishment: Punishment{
			KickEnabled:        false,
			KickCooldownTicks:  DefaultKickCooldown,
			BypassTag:          DefaultBypassTag,
			ExemptTag:          DefaultAdminTag,
			DefaultTag:         DefaultFlagTag,
			KickReasonTemplate: DefaultKickTemplate,
			Rules:              map[finding.Category]Rule{},
		},
		Alerts: Alerts{Public: true, Admin: true, AdminTag: DefaultAdminTag},
	}
	for _, c := range finding.All {
		g.Patches[c] = true
		g.Punishment.Rules[c] = DefaultRule()
	}
	return g
}

func DefaultRule() Rule {
	return Rule{Enabled: true, Threshold: 3, KickAtThreshold: true}
}

// RuleFor returns the rule for c, falling back to the catch-all rule.
func (g GlobalConfig) RuleFor(c finding.Category) Rule {
	if r, ok := g.Punishment.Rules[c]; ok {
		return r
	}
	return g.Punishment.Rules[finding.Other]
}

// EffectiveTag is the marker a rule applies: its own or the default.
func (g GlobalConfig) EffectiveTag(r Rule) string {
	if r.Tag != "" {
		return r.Tag
	}
	return g.Punishment.DefaultTag
}

// PatchEnabled reports whether c is active globally.
func (g GlobalConfig) PatchEnabled(c finding.Category) bool {
	return g.Enabled && g.Patches[c]
}

// AnyPatchEnabled reports whether the scanner has any work to do.
func (g GlobalConfig) AnyPatchEnabled() bool {
	if !g.Enabled {
		return false
	}
	for _, c := range finding.All {
		if g.Patches[c] {
			return true
		}
	}
	return false
}

func (g GlobalConfig) IsRestricted(itemType string) bool {
	for _, id := range g.RestrictedContent {
		if id == itemType {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi, def int) (int, bool) {
	if v == 0 {
		return def, def != 0
	}
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

func clipString(s string, n int) (string, bool) {
	s2 := strings.TrimSpace(s)
	if len(s2) > n {
		s2 = store.TruncateUTF8(s2, n)
	}
	return s2, s2 != s
}

// Normalize fills missing fields from defaults and clamps out-of-range
// values. It never fails; it reports whether anything changed.
func Normalize(g GlobalConfig) (GlobalConfig, bool) {
	d := Default()
	changed := false
	set := func(c bool) {
		if c {
			changed = true
		}
	}

	if g.Version != d.Version {
		g.Version = d.Version
		changed = true
	}

	patches := make(map[finding.Category]bool, len(finding.All))
	for _, c := range finding.All {
		v, ok := g.Patches[c]
		if !ok {
			v = true
			changed = true
		}
		patches[c] = v
	}
	if len(g.Patches) != len(patches) {
		changed = true
	}
	g.Patches = patches

	var c bool
	t := &g.Tracking
	t.ScanRadius, c = clamp(t.ScanRadius, 1, 16, d.Tracking.ScanRadius)
	set(c)
	t.OpsPerTick, c = clamp(t.OpsPerTick, 1, 100000, d.Tracking.OpsPerTick)
	set(c)
	t.NearbyRadius, c = clamp(t.NearbyRadius, 1, 512, d.Tracking.NearbyRadius)
	set(c)
	t.NearbyCap, c = clamp(t.NearbyCap, 1, 64, d.Tracking.NearbyCap)
	set(c)
	t.AlertsPerMinute, c = clamp(t.AlertsPerMinute, 1, 1200, d.Tracking.AlertsPerMinute)
	set(c)
	t.LogMaxEntries, c = clamp(t.LogMaxEntries, 1, 1000, d.Tracking.LogMaxEntries)
	set(c)
	t.TrackEveryTicks, c = clamp(t.TrackEveryTicks, 1, 72000, d.Tracking.TrackEveryTicks)
	set(c)

	// Restricted list: trimmed, deduplicated, bounded. An explicitly empty
	// list stays empty and turns the container handlers off.
	if g.RestrictedContent == nil {
		g.RestrictedContent = d.RestrictedContent
		changed = true
	} else {
		seen := map[string]bool{}
		out := make([]string, 0, len(g.RestrictedContent))
		for _, id := range g.RestrictedContent {
			id2 := strings.TrimSpace(id)
			if id2 == "" || seen[id2] {
				changed = true
				continue
			}
			if id2 != id {
				changed = true
			}
			seen[id2] = true
			out = append(out, id2)
		}
		if len(out) > MaxRestrictedEntries {
			out = out[:MaxRestrictedEntries]
			changed = true
		}
		g.RestrictedContent = out
	}

	p := &g.Punishment
	if p.KickCooldownTicks <= 0 {
		p.KickCooldownTicks = d.Punishment.KickCooldownTicks
		changed = true
	}
	p.BypassTag, c = clipString(p.BypassTag, MaxTagLen)
	set(c)
	p.ExemptTag, c = clipString(p.ExemptTag, MaxTagLen)
	set(c)
	p.DefaultTag, c = clipString(p.DefaultTag, MaxTagLen)
	set(c)
	if strings.TrimSpace(p.KickReasonTemplate) == "" {
		p.KickReasonTemplate = d.Punishment.KickReasonTemplate
		changed = true
	}
	p.KickReasonTemplate, c = clipString(p.KickReasonTemplate, MaxTemplateLen)
	set(c)

	rules := make(map[finding.Category]Rule, len(finding.All))
	for _, cat := range finding.All {
		r, ok := p.Rules[cat]
		if !ok {
			r = DefaultRule()
			changed = true
		}
		if r.Threshold < 0 {
			r.Threshold = 0
			changed = true
		}
		if r.Threshold > 1000000 {
			r.Threshold = 1000000
			changed = true
		}
		r.Tag, c = clipString(r.Tag, MaxTagLen)
		set(c)
		rules[cat] = r
	}
	if len(p.Rules) != len(rules) {
		changed = true
	}
	p.Rules = rules

	if strings.TrimSpace(g.Alerts.AdminTag) == "" {
		g.Alerts.AdminTag = d.Alerts.AdminTag
		changed = true
	}
	return g, changed
}

// Clone returns a deep copy safe to hand to other goroutines.
func (g GlobalConfig) Clone() GlobalConfig {
	out := g
	out.Patches = make(map[finding.Category]bool, len(g.Patches))
	for k, v := range g.Patches {
		out.Patches[k] = v
	}
	if g.RestrictedContent != nil {
		// An empty, non-nil list means "nothing restricted" and must stay non-nil.
		out.RestrictedContent = append(make([]string, 0, len(g.RestrictedContent)), g.RestrictedContent...)
	}
	out.Punishment.Rules = make(map[finding.Category]Rule, len(g.Punishment.Rules))
	for k, v := range g.Punishment.Rules {
		out.Punishment.Rules[k] = v
	}
	return out
}

// EnabledCategories lists the globally active scan categories.
func (g GlobalConfig) EnabledCategories() []finding.Category {
	var out []finding.Category
	for _, c := range finding.All {
		if g.PatchEnabled(c) {
			out = append(out, c)
		}
	}
	return out
}

// TrimStages shrinks an oversized config: restricted entries from the tail,
// then the kick template, then rule tags.
func TrimStages() []store.TrimStage[GlobalConfig] {
	return []store.TrimStage[GlobalConfig]{
		func(g *GlobalConfig) bool {
			if len(g.RestrictedContent) == 0 {
				return false
			}
			g.RestrictedContent = g.RestrictedContent[:len(g.RestrictedContent)-1]
			return true
		},
		func(g *GlobalConfig) bool {
			if len(g.Punishment.KickReasonTemplate) <= 32 {
				return false
			}
			g.Punishment.KickReasonTemplate = store.TruncateUTF8(g.Punishment.KickReasonTemplate, 32)
			return true
		},
		func(g *GlobalConfig) bool {
			for k, r := range g.Punishment.Rules {
				if r.Tag != "" {
					r.Tag = ""
					g.Punishment.Rules[k] = r
					return true
				}
			}
			return false
		},
	}
}
