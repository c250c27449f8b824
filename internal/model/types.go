// Package model defines shared data structures.
package model

import "time"

// DateFormat is the canonical calendar-date layout used for bucket keys
// and database columns.
const DateFormat = "2006-01-02"

// Category is the classification assigned to one input character.
type Category int

// Character categories, checked in this order.
const (
	CategoryChinese Category = iota
	CategoryEnglish
	CategoryNumber
	CategorySymbol
	CategoryOther
)

// String returns the category name as stored and displayed.
func (c Category) String() string {
	switch c {
	case CategoryChinese:
		return "chinese"
	case CategoryEnglish:
		return "english"
	case CategoryNumber:
		return "number"
	case CategorySymbol:
		return "symbol"
	default:
		return "other"
	}
}

// Counters holds per-category character counts.
type Counters struct {
	Chinese int64
	English int64
	Number  int64
	Symbol  int64
	Other   int64
	Total   int64
}

// Add increments the field for the given category and the total.
func (c *Counters) Add(cat Category) {
	switch cat {
	case CategoryChinese:
		c.Chinese++
	case CategoryEnglish:
		c.English++
	case CategoryNumber:
		c.Number++
	case CategorySymbol:
		c.Symbol++
	default:
		c.Other++
	}
	c.Total++
}

// Merge adds another counter set into this one.
func (c *Counters) Merge(d Counters) {
	c.Chinese += d.Chinese
	c.English += d.English
	c.Number += d.Number
	c.Symbol += d.Symbol
	c.Other += d.Other
	c.Total += d.Total
}

// Subtract removes another counter set from this one.
func (c *Counters) Subtract(d Counters) {
	c.Chinese -= d.Chinese
	c.English -= d.English
	c.Number -= d.Number
	c.Symbol -= d.Symbol
	c.Other -= d.Other
	c.Total -= d.Total
}

// IsZero reports whether every field is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// HourKey identifies an hourly counter bucket.
type HourKey struct {
	Date string
	Hour int
}

// Delta is the set of not-yet-durable counter increments accumulated
// since the last confirmed flush, keyed by bucket.
type Delta struct {
	Daily  map[string]Counters
	Hourly map[HourKey]Counters
}

// IsZero reports whether the delta carries no increments.
func (d Delta) IsZero() bool {
	return len(d.Daily) == 0 && len(d.Hourly) == 0
}

// DailyRecord is one persisted row of per-date statistics.
type DailyRecord struct {
	Date         string
	Counters     Counters
	SessionCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HourlyRecord is one persisted row of per-(date, hour) statistics.
type HourlyRecord struct {
	Date      string
	Hour      int
	Counters  Counters
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionRecord is one tracking session. EndedAt is nil while the
// session is still open.
type SessionRecord struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Counters  Counters
}

// RangeSummary aggregates daily records over a date window.
type RangeSummary struct {
	StartDate string
	EndDate   string
	Days      int
	Counters  Counters
	Sessions  int64
}

// TrendReport is the per-day sequence for a trailing window plus the
// window average (total divided by the window length, empty days
// included in the denominator).
type TrendReport struct {
	Days         []DailyRecord
	WindowDays   int
	TotalChars   int64
	DailyAverage float64
}

// OverallSummary aggregates everything the store holds.
type OverallSummary struct {
	TrackedDays int64
	Counters    Counters
	Sessions    int64
	AvgChinese  float64
	AvgEnglish  float64
	AvgTotal    float64
	FirstDate   string
	LastDate    string
}
