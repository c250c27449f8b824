package query

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"keytally/internal/counter"
	"keytally/internal/model"
	"keytally/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "keytally.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func seedDaily(t *testing.T, st *store.Store, date string, c model.Counters) {
	t.Helper()
	if err := st.UpsertDaily(context.Background(), date, c); err != nil {
		t.Fatalf("seed %s: %v", date, err)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWeeklySummarySparseWindow(t *testing.T) {
	st := openTestStore(t)
	seedDaily(t, st, "2024-01-01", model.Counters{Chinese: 150, English: 300, Total: 450})
	seedDaily(t, st, "2024-01-02", model.Counters{Chinese: 200, English: 250, Total: 450})

	sum, err := New(st).WeeklySummary(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("weekly summary: %v", err)
	}
	if sum.Counters.Total != 900 {
		t.Fatalf("weekly total = %d, want 900", sum.Counters.Total)
	}
	if sum.Days != 7 || sum.StartDate != "2024-01-01" || sum.EndDate != "2024-01-07" {
		t.Fatalf("window = %s .. %s over %d days", sum.StartDate, sum.EndDate, sum.Days)
	}
}

func TestMonthlySummary(t *testing.T) {
	st := openTestStore(t)
	seedDaily(t, st, "2024-02-01", model.Counters{Total: 100, Other: 100})
	seedDaily(t, st, "2024-02-29", model.Counters{Total: 50, Other: 50})
	// Outside the month.
	seedDaily(t, st, "2024-03-01", model.Counters{Total: 999, Other: 999})

	sum, err := New(st).MonthlySummary(context.Background(), 2024, 2)
	if err != nil {
		t.Fatalf("monthly summary: %v", err)
	}
	if sum.Counters.Total != 150 {
		t.Fatalf("monthly total = %d, want 150", sum.Counters.Total)
	}
	if sum.Days != 29 {
		t.Fatalf("days = %d, want 29 (leap february)", sum.Days)
	}
}

func TestTrendAnalysisFixedDenominator(t *testing.T) {
	st := openTestStore(t)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.Local)
	// 3 populated days inside a 7-day window.
	seedDaily(t, st, "2024-01-05", model.Counters{Total: 70, Other: 70})
	seedDaily(t, st, "2024-01-07", model.Counters{Total: 70, Other: 70})
	seedDaily(t, st, "2024-01-10", model.Counters{Total: 70, Other: 70})

	report, err := New(st, WithClock(fixedClock(now))).TrendAnalysis(context.Background(), 7)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(report.Days) != 7 {
		t.Fatalf("days = %d, want 7", len(report.Days))
	}
	if report.Days[0].Date != "2024-01-04" || report.Days[6].Date != "2024-01-10" {
		t.Fatalf("window = %s .. %s", report.Days[0].Date, report.Days[6].Date)
	}
	if report.TotalChars != 210 {
		t.Fatalf("total = %d, want 210", report.TotalChars)
	}
	if report.DailyAverage != 30 {
		t.Fatalf("average = %.1f, want 30 (210/7, not 210/3)", report.DailyAverage)
	}
	// Empty days are zero-filled, not skipped.
	if report.Days[2].Date != "2024-01-06" || !report.Days[2].Counters.IsZero() {
		t.Fatalf("empty day = %+v", report.Days[2])
	}
}

func TestValidationRejectedBeforeStore(t *testing.T) {
	st := openTestStore(t)
	svc := New(st)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"bad date", func() error { _, _, err := svc.Daily(ctx, "15-01-2024"); return err }},
		{"bad range order", func() error { _, err := svc.Range(ctx, "2024-01-10", "2024-01-01"); return err }},
		{"bad month", func() error { _, err := svc.MonthlySummary(ctx, 2024, 13); return err }},
		{"zero month", func() error { _, err := svc.MonthlySummary(ctx, 2024, 0); return err }},
		{"zero days", func() error { _, err := svc.TrendAnalysis(ctx, 0); return err }},
		{"negative days", func() error { _, err := svc.TrendAnalysis(ctx, -3); return err }},
		{"negative limit", func() error { _, err := svc.Sessions(ctx, -1); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCurrentCountersMergesPending(t *testing.T) {
	st := openTestStore(t)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	seedDaily(t, st, "2024-01-15", model.Counters{English: 100, Total: 100})

	agg := counter.New(counter.WithClock(fixedClock(now)))
	agg.Record(model.CategoryEnglish)
	agg.Record(model.CategoryChinese)

	svc := New(st, WithAggregator(agg), WithClock(fixedClock(now)))
	live, err := svc.CurrentCounters(context.Background())
	if err != nil {
		t.Fatalf("current counters: %v", err)
	}
	want := model.Counters{English: 101, Chinese: 1, Total: 102}
	if live != want {
		t.Fatalf("live = %+v, want %+v", live, want)
	}
}

func TestCurrentCountersNoData(t *testing.T) {
	st := openTestStore(t)
	svc := New(st, WithClock(fixedClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local))))
	live, err := svc.CurrentCounters(context.Background())
	if err != nil {
		t.Fatalf("current counters: %v", err)
	}
	if !live.IsZero() {
		t.Fatalf("live = %+v, want zero", live)
	}
}

func TestWriteCSV(t *testing.T) {
	st := openTestStore(t)
	seedDaily(t, st, "2024-01-01", model.Counters{Chinese: 150, English: 300, Total: 450})
	if err := st.OpenSession(context.Background(), "s1", time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)); err != nil {
		t.Fatalf("open session: %v", err)
	}
	seedDaily(t, st, "2024-01-02", model.Counters{Chinese: 200, English: 250, Total: 450})

	var buf bytes.Buffer
	if err := New(st).WriteCSV(context.Background(), &buf, "2024-01-01", "2024-01-02"); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	want := "date,chinese_chars,english_chars,total_chars,session_count\n" +
		"2024-01-01,150,300,450,1\n" +
		"2024-01-02,200,250,450,0\n"
	if buf.String() != want {
		t.Fatalf("csv = %q, want %q", buf.String(), want)
	}
}

func TestWriteCSVBadRange(t *testing.T) {
	st := openTestStore(t)
	var buf bytes.Buffer
	err := New(st).WriteCSV(context.Background(), &buf, "2024-02-01", "2024-01-01")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %q despite invalid range", buf.String())
	}
}
