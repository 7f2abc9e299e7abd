package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WindowStatus string

const (
	WindowStatusOpen              WindowStatus = "open"
	WindowStatusPartiallyReserved WindowStatus = "partially_reserved"
	WindowStatusFullyReserved     WindowStatus = "fully_reserved"
	WindowStatusBlocked           WindowStatus = "blocked"
)

type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID         uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	ProviderID string    `bun:"provider_id,notnull" json:"provider_id"`
	StartTime  time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime    time.Time `bun:"end_time,notnull" json:"end_time"`
	Timezone   string    `bun:"timezone,notnull" json:"timezone"`
	Blocked    bool      `bun:"blocked,notnull" json:"blocked"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

func (w *AvailabilityWindow) Contains(start, end time.Time) bool {
	return !start.Before(w.StartTime) && !end.After(w.EndTime)
}

// SubSlot is a derived, non-persisted atomic-unit view of availability
// inside a window. Never a source of truth.
type SubSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Decompose overlays the active reservations onto the window's span and
// produces one SubSlot per atomic unit. Units that end at or before now
// are never available; a blocked window has no available units.
func (w *AvailabilityWindow) Decompose(active []Reservation, now time.Time) []SubSlot {
	start := w.StartTime.UTC()
	end := w.EndTime.UTC()

	out := make([]SubSlot, 0, end.Sub(start)/SlotUnit)
	for t := start; t.Before(end); t = t.Add(SlotUnit) {
		unitEnd := t.Add(SlotUnit)
		available := !w.Blocked && unitEnd.After(now)
		if available {
			for _, r := range active {
				if !r.Status.Active() {
					continue
				}
				if Overlaps(t, unitEnd, r.StartTime.UTC(), r.EndTime.UTC()) {
					available = false
					break
				}
			}
		}
		out = append(out, SubSlot{Start: t, End: unitEnd, Available: available})
	}
	return out
}

// EffectiveStatus is always recomputed from live reservations; only the
// explicit blocked flag is stored as independent truth.
func (w *AvailabilityWindow) EffectiveStatus(active []Reservation) WindowStatus {
	if w.Blocked {
		return WindowStatusBlocked
	}

	reserved := 0
	total := 0
	for t := w.StartTime.UTC(); t.Before(w.EndTime.UTC()); t = t.Add(SlotUnit) {
		total++
		for _, r := range active {
			if !r.Status.Active() {
				continue
			}
			if Overlaps(t, t.Add(SlotUnit), r.StartTime.UTC(), r.EndTime.UTC()) {
				reserved++
				break
			}
		}
	}

	switch {
	case reserved == 0:
		return WindowStatusOpen
	case reserved == total:
		return WindowStatusFullyReserved
	default:
		return WindowStatusPartiallyReserved
	}
}

// OfferableSlot is a bookable start time together with the session
// durations that fit in the contiguous available run beginning there.
type OfferableSlot struct {
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Durations []time.Duration `json:"-"`
}

// OfferableStarts coalesces adjacent available SubSlots into maximal
// contiguous runs and keeps every start whose run is at least
// MinReservationLength long. Offered durations step by SlotUnit up to
// the run length, capped by maxSession (<= 0 means uncapped).
func OfferableStarts(slots []SubSlot, maxSession time.Duration) []OfferableSlot {
	out := make([]OfferableSlot, 0, len(slots))

	for i := range slots {
		if !slots[i].Available {
			continue
		}

		runEnd := slots[i].End
		for j := i + 1; j < len(slots) && slots[j].Available; j++ {
			runEnd = slots[j].End
		}

		runLen := runEnd.Sub(slots[i].Start)
		if runLen < MinReservationLength {
			continue
		}

		maxDur := runLen
		if maxSession > 0 && maxSession < maxDur {
			maxDur = maxSession
		}

		durations := make([]time.Duration, 0, maxDur/SlotUnit)
		for d := MinReservationLength; d <= maxDur; d += SlotUnit {
			durations = append(durations, d)
		}

		out = append(out, OfferableSlot{
			Start:     slots[i].Start,
			End:       runEnd,
			Durations: durations,
		})
	}

	return out
}
