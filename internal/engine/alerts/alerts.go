// Package alerts fans a finding out to in-world chat (public broadcast and
// admin alerts) and to external sinks such as the websocket stream.
package alerts

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/settings"
)

const (
	DisableAlertTag     = "antidupe:disable_alert"
	DisablePublicMsgTag = "antidupe:disable_public_msg"
	DisableAdminMsgTag  = "antidupe:disable_admin_msg"
)

type Kind string

const (
	KindFinding  Kind = "finding"
	KindKick     Kind = "kick"
	KindKickLoop Kind = "kick_loop"
	KindTag      Kind = "tag"
)

// Alert is the structured form published to sinks.
type Alert struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	AtMS        int64            `json:"at_ms"`
	Offender    string           `json:"offender"`
	Identity    string           `json:"identity"`
	Category    finding.Category `json:"category,omitempty"`
	Label       string           `json:"label,omitempty"`
	Description string           `json:"description,omitempty"`
	Location    probe.Vec3i      `json:"location"`
	Dimension   string           `json:"dimension,omitempty"`
	Nearby      []string         `json:"nearby,omitempty"`
	Detail      string           `json:"detail,omitempty"`
}

type Sink interface {
	Publish(a Alert)
}

func PublicMessage(name, label, desc string) string {
	return fmt.Sprintf("<Anti-Dupe> %s attempted a %s with %s.", name, label, desc)
}

func AdminMessage(name, label, desc string, pos probe.Vec3i, nearby []string) string {
	return fmt.Sprintf("<Anti-Dupe> Admin Alert: %s attempted a %s with %s at %s.\nNearby: %s.", name, label, desc, pos, nearList(nearby))
}

func nearList(nearby []string) string {
	if len(nearby) == 0 {
		return "None"
	}
	out := nearby[0]
	for _, n := range nearby[1:] {
		out += ", " + n
	}
	return out
}

// Nearby lists up to limit other actors within radius of loc in the same
// dimension, in the world's actor order.
func Nearby(w probe.World, offenderID, dim string, loc probe.Vec3f, radius, limit int) []string {
	r2 := float64(radius) * float64(radius)
	var out []string
	for _, a := range w.FindActors() {
		if a.ID == offenderID || a.Dimension != dim {
			continue
		}
		if a.Pos.DistSq(loc) <= r2 {
			out = append(out, a.Name)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Notifier sends chat alerts. Public broadcasts are throttled; admin
// alerts are not.
type Notifier struct {
	world   probe.World
	limiter *rate.Limiter
	perMin  int
	now     func() time.Time
	sinks   []Sink

	Dropped int
}

func NewNotifier(w probe.World, now func() time.Time, sinks ...Sink) *Notifier {
	if now == nil {
		now = time.Now
	}
	n := &Notifier{world: w, now: now, sinks: sinks}
	n.configure(settings.DefaultAlertsPerMinute)
	return n
}

func (n *Notifier) AddSink(s Sink) { n.sinks = append(n.sinks, s) }

func (n *Notifier) configure(perMinute int) {
	if perMinute <= 0 {
		perMinute = settings.DefaultAlertsPerMinute
	}
	if n.limiter != nil && perMinute == n.perMin {
		return
	}
	n.perMin = perMinute
	limit := rate.Limit(float64(perMinute) / 60)
	if n.limiter == nil {
		n.limiter = rate.NewLimiter(limit, perMinute)
		return
	}
	n.limiter.SetLimitAt(n.now(), limit)
	n.limiter.SetBurstAt(n.now(), perMinute)
}

// Result counts delivered chat messages.
type Result struct {
	Public    int
	Admin     int
	Throttled bool
}

// Finding delivers the chat alerts for f and publishes a to every sink.
func (n *Notifier) Finding(cfg settings.GlobalConfig, f finding.Finding, nearby []string, a Alert) Result {
	n.configure(cfg.Tracking.AlertsPerMinute)
	var res Result
	label := f.Category.Label()
	actors := n.world.FindActors()

	if cfg.Alerts.Public {
		if n.limiter.AllowN(n.now(), 1) {
			msg := PublicMessage(f.Offender, label, f.Description)
			for _, p := range actors {
				if n.world.HasMarker(p.ID, DisablePublicMsgTag) {
					continue
				}
				if n.world.SendMessage(p.ID, msg) {
					res.Public++
				}
			}
		} else {
			res.Throttled = true
			n.Dropped++
		}
	}
	if cfg.Alerts.Admin {
		msg := AdminMessage(f.Offender, label, f.Description, f.Location, nearby)
		res.Admin = n.toAdmins(cfg, actors, msg)
	}
	n.Publish(a)
	return res
}

// Admin sends a free-form message to every admin who has alerts on.
func (n *Notifier) Admin(cfg settings.GlobalConfig, msg string) int {
	if !cfg.Alerts.Admin {
		return 0
	}
	return n.toAdmins(cfg, n.world.FindActors(), msg)
}

func (n *Notifier) toAdmins(cfg settings.GlobalConfig, actors []probe.Actor, msg string) int {
	sent := 0
	for _, p := range actors {
		if !n.world.HasMarker(p.ID, cfg.Alerts.AdminTag) {
			continue
		}
		if n.world.HasMarker(p.ID, DisableAdminMsgTag) || n.world.HasMarker(p.ID, DisableAlertTag) {
			continue
		}
		if n.world.SendMessage(p.ID, msg) {
			sent++
		}
	}
	return sent
}

func (n *Notifier) Publish(a Alert) {
	for _, s := range n.sinks {
		s.Publish(a)
	}
}
