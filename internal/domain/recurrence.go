package domain

import (
	"errors"
	"sort"
	"time"
)

type RecurrenceFrequency string

const (
	RecurrenceFrequencyWeekly RecurrenceFrequency = "weekly"
)

// RecurringAvailability describes a weekly repeating availability
// pattern. It is expanded into concrete windows at publish time rather
// than stored; weekdays use ISO numbering, Monday is 1.
type RecurringAvailability struct {
	ProviderID string
	Timezone   string
	DTStart    time.Time
	Duration   time.Duration
	Frequency  RecurrenceFrequency
	Interval   int
	ByWeekday  []int16
	Until      *time.Time
	Count      *int
}

// ExpandWeekly materializes the occurrences of a weekly pattern that
// intersect [windowStart, windowEnd). Occurrence clock times follow the
// pattern's timezone, so windows stay pinned to local wall time across
// DST shifts.
func ExpandWeekly(r RecurringAvailability, windowStart, windowEnd time.Time) ([]AvailabilityWindow, error) {
	if r.Frequency != RecurrenceFrequencyWeekly {
		return nil, errors.New("unsupported recurrence frequency")
	}
	if r.Duration < MinReservationLength || r.Duration%SlotUnit != 0 {
		return nil, errors.New("invalid duration")
	}

	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, errors.New("invalid timezone")
	}

	dtstartUTC := r.DTStart.UTC()
	dtstartLocal := r.DTStart.In(loc)
	if !IsAligned(dtstartUTC) {
		return nil, errors.New("dtstart must fall on a 30-minute boundary")
	}

	weekdays := make([]int16, 0, len(r.ByWeekday))
	seen := make(map[int16]struct{}, len(r.ByWeekday))
	for _, wd := range r.ByWeekday {
		if wd < 1 || wd > 7 {
			return nil, errors.New("invalid weekday")
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		weekdays = append(weekdays, wd)
	}
	if len(weekdays) == 0 {
		return nil, errors.New("at least one weekday is required")
	}
	sort.Slice(weekdays, func(i, j int) bool { return weekdays[i] < weekdays[j] })

	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	windowStartLocal := windowStart.In(loc)
	windowEndLocal := windowEnd.In(loc)
	startWeekMondayUTC := mondayDateUTC(dtstartLocal)
	windowStartWeekMondayUTC := mondayDateUTC(windowStartLocal)
	windowEndWeekBoundaryUTC := mondayDateUTC(windowEndLocal).AddDate(0, 0, 7)

	startWeekIndex := 0
	if windowStartWeekMondayUTC.After(startWeekMondayUTC) {
		daysDiff := int(windowStartWeekMondayUTC.Sub(startWeekMondayUTC) / (24 * time.Hour))
		startWeekIndex = daysDiff / (7 * interval)
		if startWeekIndex < 0 {
			startWeekIndex = 0
		}
	}

	maxCount := -1
	if r.Count != nil {
		maxCount = *r.Count
	}

	occPerWeek := len(weekdays)
	skippedInFirstWeek := 0
	for _, wd := range weekdays {
		occDateUTC := startWeekMondayUTC.AddDate(0, 0, weekdayOffsetFromMonday(wd))
		startLocal := time.Date(
			occDateUTC.Year(),
			occDateUTC.Month(),
			occDateUTC.Day(),
			dtstartLocal.Hour(),
			dtstartLocal.Minute(),
			dtstartLocal.Second(),
			dtstartLocal.Nanosecond(),
			loc,
		)
		if startLocal.UTC().Before(dtstartUTC) {
			skippedInFirstWeek++
		}
	}

	out := make([]AvailabilityWindow, 0, 16)

	for weekIndex := startWeekIndex; ; weekIndex++ {
		weekStartMondayUTC := startWeekMondayUTC.AddDate(0, 0, weekIndex*interval*7)
		if !weekStartMondayUTC.Before(windowEndWeekBoundaryUTC) {
			break
		}

		for weekdayIndex, wd := range weekdays {
			occDateUTC := weekStartMondayUTC.AddDate(0, 0, weekdayOffsetFromMonday(wd))
			startLocal := time.Date(
				occDateUTC.Year(),
				occDateUTC.Month(),
				occDateUTC.Day(),
				dtstartLocal.Hour(),
				dtstartLocal.Minute(),
				dtstartLocal.Second(),
				dtstartLocal.Nanosecond(),
				loc,
			)
			startUTC := startLocal.UTC()
			if startUTC.Before(dtstartUTC) {
				continue
			}

			if r.Until != nil && startUTC.After(r.Until.UTC()) {
				return out, nil
			}

			if maxCount >= 0 {
				globalIndex := weekIndex*occPerWeek + weekdayIndex - skippedInFirstWeek
				if globalIndex >= maxCount {
					return out, nil
				}
			}

			endUTC := startUTC.Add(r.Duration)
			if startUTC.Before(windowEnd) && endUTC.After(windowStart) {
				out = append(out, AvailabilityWindow{
					ProviderID: r.ProviderID,
					StartTime:  startUTC,
					EndTime:    endUTC,
					Timezone:   r.Timezone,
				})
			}
		}
	}

	return out, nil
}

func mondayDateUTC(t time.Time) time.Time {
	wd := t.Weekday()
	offset := 0
	if wd == time.Sunday {
		offset = 6
	} else {
		offset = int(wd) - 1
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}

func weekdayOffsetFromMonday(weekday int16) int {
	if weekday == 7 {
		return 6
	}
	return int(weekday) - 1
}
