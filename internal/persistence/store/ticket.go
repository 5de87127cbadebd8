package store

// Ticket is a deferred action evaluated against the engine tick clock
// instead of a runtime timer.
type Ticket struct {
	Scheduled bool
	DueAt     int64
}

// Schedule arms the ticket for now+delay unless it is already armed.
// It reports whether the ticket was armed by this call.
func (t *Ticket) Schedule(now, delay int64) bool {
	if t.Scheduled {
		return false
	}
	if delay < 0 {
		delay = 0
	}
	t.Scheduled = true
	t.DueAt = now + delay
	return true
}

// Due reports whether an armed ticket has reached its deadline.
func (t *Ticket) Due(now int64) bool {
	return t.Scheduled && now >= t.DueAt
}

func (t *Ticket) Clear() {
	t.Scheduled = false
	t.DueAt = 0
}
