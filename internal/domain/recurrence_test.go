package domain

import (
	"testing"
	"time"
)

func TestExpandWeekly_Validation(t *testing.T) {
	base := RecurringAvailability{
		ProviderID: "prov-1",
		Timezone:   "UTC",
		DTStart:    time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Duration:   time.Hour,
		Frequency:  RecurrenceFrequencyWeekly,
		Interval:   1,
		ByWeekday:  []int16{1},
	}

	windowStart := base.DTStart
	windowEnd := windowStart.Add(7 * 24 * time.Hour)

	tests := []struct {
		name    string
		pattern RecurringAvailability
		wantErr string
	}{
		{
			name: "unsupported frequency",
			pattern: func() RecurringAvailability {
				r := base
				r.Frequency = "daily"
				return r
			}(),
			wantErr: "unsupported recurrence frequency",
		},
		{
			name: "duration below minimum",
			pattern: func() RecurringAvailability {
				r := base
				r.Duration = 30 * time.Minute
				return r
			}(),
			wantErr: "invalid duration",
		},
		{
			name: "duration off the grid",
			pattern: func() RecurringAvailability {
				r := base
				r.Duration = 70 * time.Minute
				return r
			}(),
			wantErr: "invalid duration",
		},
		{
			name: "invalid timezone",
			pattern: func() RecurringAvailability {
				r := base
				r.Timezone = "Not/AZone"
				return r
			}(),
			wantErr: "invalid timezone",
		},
		{
			name: "misaligned dtstart",
			pattern: func() RecurringAvailability {
				r := base
				r.DTStart = r.DTStart.Add(10 * time.Minute)
				return r
			}(),
			wantErr: "dtstart must fall on a 30-minute boundary",
		},
		{
			name: "invalid weekday",
			pattern: func() RecurringAvailability {
				r := base
				r.ByWeekday = []int16{0}
				return r
			}(),
			wantErr: "invalid weekday",
		},
		{
			name: "empty weekday set",
			pattern: func() RecurringAvailability {
				r := base
				r.ByWeekday = nil
				return r
			}(),
			wantErr: "at least one weekday is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExpandWeekly(tt.pattern, windowStart, windowEnd)
			if err == nil {
				t.Fatalf("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestExpandWeekly_NormalizesIntervalAndWeekdays(t *testing.T) {
	pattern := RecurringAvailability{
		ProviderID: "prov-1",
		Timezone:   "UTC",
		DTStart:    time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Duration:   time.Hour,
		Frequency:  RecurrenceFrequencyWeekly,
		Interval:   0,
		ByWeekday:  []int16{3, 1, 3},
	}

	windowStart := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)

	windows, err := ExpandWeekly(pattern, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("ExpandWeekly error: %v", err)
	}
	if len(windows) != 4 {
		t.Fatalf("len(windows) = %d, want 4", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i-1].StartTime.Before(windows[i].StartTime) {
			t.Fatalf("windows not sorted by start_time: %v then %v", windows[i-1].StartTime, windows[i].StartTime)
		}
	}
	for _, w := range windows {
		if w.ProviderID != "prov-1" || w.Timezone != "UTC" {
			t.Fatalf("unexpected window %+v", w)
		}
	}
}

func TestExpandWeekly_IncludesWindowOverlap(t *testing.T) {
	pattern := RecurringAvailability{
		ProviderID: "prov-1",
		Timezone:   "UTC",
		DTStart:    time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Duration:   2 * time.Hour,
		Frequency:  RecurrenceFrequencyWeekly,
		Interval:   1,
		ByWeekday:  []int16{1},
	}

	windowStart := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)

	windows, err := ExpandWeekly(pattern, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("ExpandWeekly error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(windows))
	}
	if !windows[0].StartTime.Before(windowEnd) || !windows[0].EndTime.After(windowStart) {
		t.Fatalf("window does not overlap range: start=%v end=%v", windows[0].StartTime, windows[0].EndTime)
	}
}

func TestExpandWeekly_RespectsUntilAndCount(t *testing.T) {
	until := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	count := 2

	pattern := RecurringAvailability{
		ProviderID: "prov-1",
		Timezone:   "UTC",
		DTStart:    time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Duration:   time.Hour,
		Frequency:  RecurrenceFrequencyWeekly,
		Interval:   1,
		ByWeekday:  []int16{1},
		Until:      &until,
		Count:      &count,
	}

	windowStart := pattern.DTStart
	windowEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	windows, err := ExpandWeekly(pattern, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("ExpandWeekly error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("len(windows) = %d, want 2", len(windows))
	}
}

func TestExpandWeekly_DSTMaintainsLocalHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	pattern := RecurringAvailability{
		ProviderID: "prov-1",
		Timezone:   "America/New_York",
		DTStart:    time.Date(2026, 3, 1, 9, 0, 0, 0, loc),
		Duration:   time.Hour,
		Frequency:  RecurrenceFrequencyWeekly,
		Interval:   1,
		ByWeekday:  []int16{7},
	}

	windowStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC)

	windows, err := ExpandWeekly(pattern, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("ExpandWeekly error: %v", err)
	}
	if len(windows) == 0 {
		t.Fatalf("expected windows")
	}

	for _, w := range windows {
		if w.StartTime.In(loc).Hour() != 9 {
			t.Fatalf("local hour = %d, want 9 (start_time=%v)", w.StartTime.In(loc).Hour(), w.StartTime)
		}
		if !w.StartTime.Before(w.EndTime) {
			t.Fatalf("start_time must be before end_time: %v %v", w.StartTime, w.EndTime)
		}
		if !w.StartTime.Before(windowEnd) || !w.EndTime.After(windowStart) {
			t.Fatalf("window does not overlap range: %v %v", w.StartTime, w.EndTime)
		}
	}
}
