package world

import "dupeguard.ai/internal/engine/probe"

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	World     string `json:"world"`
	Action    string `json:"action"` // e.g. "SET_BLOCK"
	Dimension string `json:"dimension"`
	Pos       [3]int `json:"pos"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (w *World) audit(action, dim string, pos probe.Vec3i, from, to, reason string) {
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{
		Tick:      w.tick,
		World:     w.cfg.ID,
		Action:    action,
		Dimension: dim,
		Pos:       [3]int{pos.X, pos.Y, pos.Z},
		From:      from,
		To:        to,
		Reason:    reason,
	})
}
