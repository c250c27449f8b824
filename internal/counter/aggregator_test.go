package counter

import (
	"testing"
	"time"

	"keytally/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordAccumulates(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	agg := New(WithClock(fixedClock(now)))
	agg.StartSession("s1", now)

	agg.Record(model.CategoryChinese)
	agg.Record(model.CategoryChinese)
	agg.Record(model.CategoryEnglish)
	agg.Record(model.CategorySymbol)

	delta := agg.PendingDelta()
	daily := delta.Daily["2024-01-15"]
	want := model.Counters{Chinese: 2, English: 1, Symbol: 1, Total: 4}
	if daily != want {
		t.Fatalf("daily delta = %+v, want %+v", daily, want)
	}
	hourly := delta.Hourly[model.HourKey{Date: "2024-01-15", Hour: 10}]
	if hourly != want {
		t.Fatalf("hourly delta = %+v, want %+v", hourly, want)
	}
	_, _, session := agg.Session()
	if session != want {
		t.Fatalf("session counters = %+v, want %+v", session, want)
	}
}

func TestRolloverSplitsBuckets(t *testing.T) {
	now := time.Date(2024, 1, 15, 23, 59, 59, 0, time.Local)
	agg := New(WithClock(func() time.Time { return now }))

	agg.Record(model.CategoryEnglish)
	now = time.Date(2024, 1, 16, 0, 0, 1, 0, time.Local)
	agg.Record(model.CategoryEnglish)

	delta := agg.PendingDelta()
	if got := delta.Daily["2024-01-15"].Total; got != 1 {
		t.Errorf("old day total = %d, want 1", got)
	}
	if got := delta.Daily["2024-01-16"].Total; got != 1 {
		t.Errorf("new day total = %d, want 1", got)
	}
	if got := delta.Hourly[model.HourKey{Date: "2024-01-15", Hour: 23}].Total; got != 1 {
		t.Errorf("old hour total = %d, want 1", got)
	}
	if got := delta.Hourly[model.HourKey{Date: "2024-01-16", Hour: 0}].Total; got != 1 {
		t.Errorf("new hour total = %d, want 1", got)
	}
	if agg.Today() != "2024-01-16" {
		t.Errorf("Today = %s, want 2024-01-16", agg.Today())
	}
}

func TestConfirmSubtractsOnlyFlushed(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	agg := New(WithClock(fixedClock(now)))

	agg.Record(model.CategoryEnglish)
	agg.Record(model.CategoryEnglish)
	snapshot := agg.PendingDelta()

	// Typing continues on top of the snapshot before the flush lands.
	agg.Record(model.CategoryNumber)

	agg.Confirm(snapshot)
	rest := agg.PendingDaily("2024-01-15")
	want := model.Counters{Number: 1, Total: 1}
	if rest != want {
		t.Fatalf("pending after confirm = %+v, want %+v", rest, want)
	}
}

func TestConfirmDropsEmptyBuckets(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	agg := New(WithClock(fixedClock(now)))

	agg.Record(model.CategoryOther)
	agg.Confirm(agg.PendingDelta())

	if delta := agg.PendingDelta(); !delta.IsZero() {
		t.Fatalf("pending delta = %+v, want empty", delta)
	}
}

func TestPendingDeltaIsACopy(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	agg := New(WithClock(fixedClock(now)))

	agg.Record(model.CategoryEnglish)
	snapshot := agg.PendingDelta()
	agg.Record(model.CategoryEnglish)

	if got := snapshot.Daily["2024-01-15"].Total; got != 1 {
		t.Fatalf("snapshot mutated by later record: total = %d, want 1", got)
	}
}
