package tquic

import "time"

// connectionTimer aggregates the connection's deadlines into the single
// timeout surfaced by Connection.NextTimeout. Deadlines are recomputed from
// scratch after every state-changing call; a zero time means "not armed".
type connectionTimer struct {
	deadline time.Time
}

func (t *connectionTimer) Reset() { t.deadline = time.Time{} }

// Add arms the timer for the given deadline, keeping the earliest one.
func (t *connectionTimer) Add(deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	if t.deadline.IsZero() || deadline.Before(t.deadline) {
		t.deadline = deadline
	}
}

// Deadline returns the earliest armed deadline.
func (t *connectionTimer) Deadline() (time.Time, bool) {
	return t.deadline, !t.deadline.IsZero()
}
