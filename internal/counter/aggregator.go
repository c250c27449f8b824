// Package counter accumulates classified-character counts in memory
// until the flusher makes them durable.
package counter

import (
	"sync"
	"time"

	"keytally/internal/model"
)

// Aggregator is the single concurrently-shared mutable state of the
// tracker. The input source and the flusher both touch it, so every
// method takes the lock. Pending deltas are keyed by date and
// (date, hour): a rollover simply starts writing under a new key, and
// the stale bucket's unflushed counts stay under the old key until the
// flusher confirms them.
type Aggregator struct {
	mu  sync.Mutex
	now func() time.Time

	day  string
	hour int

	pendingDaily  map[string]model.Counters
	pendingHourly map[model.HourKey]model.Counters
	session       model.Counters

	sessionID    string
	sessionStart time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source. Used by tests and rollover
// simulation.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an aggregator with empty counters.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:           time.Now,
		pendingDaily:  map[string]model.Counters{},
		pendingHourly: map[model.HourKey]model.Counters{},
	}
	for _, opt := range opts {
		opt(a)
	}
	t := a.now()
	a.day = t.Format(model.DateFormat)
	a.hour = t.Hour()
	return a
}

// StartSession resets the session counters and remembers the session
// identity. Called once when the input source starts.
func (a *Aggregator) StartSession(id string, start time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
	a.sessionStart = start
	a.session = model.Counters{}
}

// Session returns the current session identity and its live counters.
func (a *Aggregator) Session() (id string, start time.Time, counters model.Counters) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID, a.sessionStart, a.session
}

// Record attributes one classified character to the current day, hour
// and session buckets. The bucket identity is re-checked against the
// clock on every call so an event arriving just after midnight lands
// under the new date.
func (a *Aggregator) Record(cat model.Category) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(a.now())

	daily := a.pendingDaily[a.day]
	daily.Add(cat)
	a.pendingDaily[a.day] = daily

	key := model.HourKey{Date: a.day, Hour: a.hour}
	hourly := a.pendingHourly[key]
	hourly.Add(cat)
	a.pendingHourly[key] = hourly

	a.session.Add(cat)
}

func (a *Aggregator) rolloverLocked(t time.Time) {
	a.day = t.Format(model.DateFormat)
	a.hour = t.Hour()
}

// PendingDelta returns a copy of every not-yet-confirmed increment.
// The flusher persists the copy and, only after the store confirms,
// calls Confirm with the same snapshot. Recording continues on top of
// the pending state in between.
func (a *Aggregator) PendingDelta() model.Delta {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := model.Delta{
		Daily:  make(map[string]model.Counters, len(a.pendingDaily)),
		Hourly: make(map[model.HourKey]model.Counters, len(a.pendingHourly)),
	}
	for k, v := range a.pendingDaily {
		d.Daily[k] = v
	}
	for k, v := range a.pendingHourly {
		d.Hourly[k] = v
	}
	return d
}

// Confirm subtracts a successfully persisted delta from the pending
// state. Buckets that reach zero are dropped so stale dates do not
// accumulate across rollovers.
func (a *Aggregator) Confirm(d model.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, v := range d.Daily {
		rest := a.pendingDaily[k]
		rest.Subtract(v)
		if rest.IsZero() {
			delete(a.pendingDaily, k)
		} else {
			a.pendingDaily[k] = rest
		}
	}
	for k, v := range d.Hourly {
		rest := a.pendingHourly[k]
		rest.Subtract(v)
		if rest.IsZero() {
			delete(a.pendingHourly, k)
		} else {
			a.pendingHourly[k] = rest
		}
	}
}

// PendingDaily returns the unflushed counters for one date. The query
// facade adds this to the persisted row to serve live totals.
func (a *Aggregator) PendingDaily(date string) model.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingDaily[date]
}

// Today returns the date the aggregator currently attributes input to.
func (a *Aggregator) Today() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.day
}
