package domain

import (
	"fmt"
	"time"
)

// SlotUnit is the atomic scheduling granularity. Every window and
// reservation boundary must fall on a SlotUnit boundary.
const SlotUnit = 30 * time.Minute

// MinReservationLength is the shortest reservable span.
const MinReservationLength = 2 * SlotUnit

type MisalignedRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *MisalignedRangeError) Error() string {
	return fmt.Sprintf(
		"range [%s, %s) is not aligned to the %s grid",
		e.Start.UTC().Format(time.RFC3339),
		e.End.UTC().Format(time.RFC3339),
		SlotUnit,
	)
}

// Quantize rounds to the nearest grid boundary. Input normalization for
// UI-adjacent callers only; validation rejects misaligned input instead
// of rounding it.
func Quantize(t time.Time) time.Time {
	return t.Round(SlotUnit).UTC()
}

func IsAligned(t time.Time) bool {
	return t.Truncate(SlotUnit).Equal(t)
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DurationUnits returns the number of atomic units between two aligned
// instants.
func DurationUnits(start, end time.Time) (int, error) {
	if !IsAligned(start) || !IsAligned(end) {
		return 0, &MisalignedRangeError{Start: start, End: end}
	}
	span := end.Sub(start)
	if span < 0 || span%SlotUnit != 0 {
		return 0, &MisalignedRangeError{Start: start, End: end}
	}
	return int(span / SlotUnit), nil
}
