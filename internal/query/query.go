// Package query is the read-only reporting facade over the store.
package query

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"keytally/internal/counter"
	"keytally/internal/model"
	"keytally/internal/store"
)

// ErrInvalidInput marks a validation failure. Arguments are checked
// before any store access.
var ErrInvalidInput = errors.New("invalid input")

// Service composes read operations over the store. The aggregator is
// optional; it is only consulted for live (unflushed) totals.
type Service struct {
	store *store.Store
	agg   *counter.Aggregator
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAggregator attaches the live aggregator so CurrentCounters can
// include unflushed deltas.
func WithAggregator(agg *counter.Aggregator) Option {
	return func(s *Service) {
		s.agg = agg
	}
}

// WithClock overrides the time source used for "today" and trailing
// windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a query service.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func parseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(model.DateFormat, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q (want YYYY-MM-DD)", ErrInvalidInput, value)
	}
	return t, nil
}

// Daily returns the persisted record for one date. The second return
// value is false when the date has no data.
func (s *Service) Daily(ctx context.Context, date string) (model.DailyRecord, bool, error) {
	if _, err := parseDate(date); err != nil {
		return model.DailyRecord{}, false, err
	}
	return s.store.GetDaily(ctx, date)
}

// Range returns persisted records for [startDate, endDate] inclusive,
// ascending. Dates with no data are absent.
func (s *Service) Range(ctx context.Context, startDate, endDate string) ([]model.DailyRecord, error) {
	start, err := parseDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(endDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s before start date %s", ErrInvalidInput, endDate, startDate)
	}
	return s.store.GetRange(ctx, startDate, endDate)
}

// Hourly returns the persisted hourly rows for one date.
func (s *Service) Hourly(ctx context.Context, date string) ([]model.HourlyRecord, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	return s.store.GetHourly(ctx, date)
}

func (s *Service) sumWindow(ctx context.Context, start time.Time, days int) (model.RangeSummary, error) {
	end := start.AddDate(0, 0, days-1)
	startDate := start.Format(model.DateFormat)
	endDate := end.Format(model.DateFormat)
	records, err := s.store.GetRange(ctx, startDate, endDate)
	if err != nil {
		return model.RangeSummary{}, err
	}
	sum := model.RangeSummary{StartDate: startDate, EndDate: endDate, Days: days}
	for _, rec := range records {
		sum.Counters.Merge(rec.Counters)
		sum.Sessions += rec.SessionCount
	}
	return sum, nil
}

// WeeklySummary sums daily records over the 7-day window starting at
// weekStartDate. Days with no record contribute zero.
func (s *Service) WeeklySummary(ctx context.Context, weekStartDate string) (model.RangeSummary, error) {
	start, err := parseDate(weekStartDate)
	if err != nil {
		return model.RangeSummary{}, err
	}
	return s.sumWindow(ctx, start, 7)
}

// MonthlySummary sums daily records over one calendar month.
func (s *Service) MonthlySummary(ctx context.Context, year, month int) (model.RangeSummary, error) {
	if year < 1 {
		return model.RangeSummary{}, fmt.Errorf("%w: year %d", ErrInvalidInput, year)
	}
	if month < 1 || month > 12 {
		return model.RangeSummary{}, fmt.Errorf("%w: month %d", ErrInvalidInput, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.Local)
	days := start.AddDate(0, 1, -1).Day()
	return s.sumWindow(ctx, start, days)
}

// TrendAnalysis returns the per-day sequence for the trailing days
// window ending today, zero-filled for days with no data, plus the
// daily average computed over the full window length so sparse history
// lowers the average rather than being excluded.
func (s *Service) TrendAnalysis(ctx context.Context, days int) (model.TrendReport, error) {
	if days <= 0 {
		return model.TrendReport{}, fmt.Errorf("%w: days %d", ErrInvalidInput, days)
	}
	end := s.now()
	start := end.AddDate(0, 0, -(days - 1))
	records, err := s.store.GetRange(ctx,
		start.Format(model.DateFormat), end.Format(model.DateFormat))
	if err != nil {
		return model.TrendReport{}, err
	}

	byDate := make(map[string]model.DailyRecord, len(records))
	for _, rec := range records {
		byDate[rec.Date] = rec
	}

	report := model.TrendReport{WindowDays: days, Days: make([]model.DailyRecord, 0, days)}
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(model.DateFormat)
		rec, ok := byDate[date]
		if !ok {
			rec = model.DailyRecord{Date: date}
		}
		report.Days = append(report.Days, rec)
		report.TotalChars += rec.Counters.Total
	}
	report.DailyAverage = float64(report.TotalChars) / float64(days)
	return report, nil
}

// Summary aggregates everything the store holds.
func (s *Service) Summary(ctx context.Context) (model.OverallSummary, error) {
	return s.store.Summary(ctx)
}

// Sessions lists stored sessions, the most recent limit when
// limit > 0.
func (s *Service) Sessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit %d", ErrInvalidInput, limit)
	}
	return s.store.ListSessions(ctx, limit)
}

// CurrentCounters returns today's live totals: the persisted row (if
// any) plus the aggregator's unflushed delta for today.
func (s *Service) CurrentCounters(ctx context.Context) (model.Counters, error) {
	today := s.now().Format(model.DateFormat)
	var total model.Counters
	rec, ok, err := s.store.GetDaily(ctx, today)
	if err != nil {
		return model.Counters{}, err
	}
	if ok {
		total.Merge(rec.Counters)
	}
	if s.agg != nil {
		total.Merge(s.agg.PendingDaily(today))
	}
	return total, nil
}

// WriteCSV writes the daily records for [startDate, endDate] as the
// canonical export projection: header
// date,chinese_chars,english_chars,total_chars,session_count followed
// by one row per stored date, ascending.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, startDate, endDate string) error {
	records, err := s.Range(ctx, startDate, endDate)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "chinese_chars", "english_chars", "total_chars", "session_count"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Date,
			strconv.FormatInt(rec.Counters.Chinese, 10),
			strconv.FormatInt(rec.Counters.English, 10),
			strconv.FormatInt(rec.Counters.Total, 10),
			strconv.FormatInt(rec.SessionCount, 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.Date, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
