// Package quota enforces a per-client daily scan budget whose state is held
// by the client and round-tripped on every request.
package quota

import (
	"time"
)

const (
	DefaultDailyLimit = 20
	dateLayout        = "2006-01-02"
)

// State is the caller-held counter for one UTC day.
type State struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

type Status struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Tracker holds no per-client data; it only does the arithmetic.
type Tracker struct {
	limit int
	now   func() time.Time
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Tracker{limit: limit, now: time.Now}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Limit() int { return t.limit }

// Today is the current UTC date as YYYY-MM-DD.
func (t *Tracker) Today() string {
	return t.now().UTC().Format(dateLayout)
}

// normalize resets state from another day, or with a nonsensical count, to
// zero for today.
func (t *Tracker) normalize(s State) State {
	today := t.Today()
	if s.Date != today || s.Count < 0 {
		return State{Count: 0, Date: today}
	}
	return s
}

func (t *Tracker) remaining(count int) int {
	return max(0, t.limit-count)
}

// Check reports whether another scan is allowed. It does not change state.
func (t *Tracker) Check(s State) Status {
	s = t.normalize(s)
	return Status{
		Allowed:   s.Count < t.limit,
		Remaining: t.remaining(s.Count),
		Limit:     t.limit,
	}
}

// Consume records one scan for today.
func (t *Tracker) Consume(s State) (State, int) {
	s = t.normalize(s)
	s.Count++
	return s, t.remaining(s.Count)
}
