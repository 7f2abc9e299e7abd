package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bookwise/internal/domain"
	"bookwise/internal/store"
)

func seedWindow(t *testing.T, s *Store, providerID string, start, end time.Time) domain.AvailabilityWindow {
	t.Helper()
	w, err := s.CreateWindow(context.Background(), domain.AvailabilityWindow{
		ProviderID: providerID,
		StartTime:  start,
		EndTime:    end,
		Timezone:   "UTC",
	})
	if err != nil {
		t.Fatalf("CreateWindow error: %v", err)
	}
	return w
}

func TestTryReserve_WindowResolution(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	seedWindow(t, s, "p1", start, start.Add(3*time.Hour))

	_, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start.Add(24 * time.Hour),
		EndTime:      start.Add(25 * time.Hour),
		ContactEmail: "r1@example.com",
	})
	if !errors.Is(err, store.ErrWindowNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrWindowNotFound)
	}

	_, err = s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start.Add(2 * time.Hour),
		EndTime:      start.Add(4 * time.Hour),
		ContactEmail: "r1@example.com",
	})
	if !errors.Is(err, store.ErrOutOfRange) {
		t.Fatalf("err = %v, want %v", err, store.ErrOutOfRange)
	}
}

func TestTryReserve_BlockedWindow(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := seedWindow(t, s, "p1", start, start.Add(2*time.Hour))

	if _, err := s.SetWindowBlocked(context.Background(), "p1", w.ID, true); err != nil {
		t.Fatalf("SetWindowBlocked error: %v", err)
	}

	_, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		ContactEmail: "r1@example.com",
	})
	if !errors.Is(err, store.ErrWindowBlocked) {
		t.Fatalf("err = %v, want %v", err, store.ErrWindowBlocked)
	}
}

func TestTryReserve_OverlapAndAdjacency(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	seedWindow(t, s, "p1", start, start.Add(3*time.Hour))

	first, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		ContactEmail: "r1@example.com",
	})
	if err != nil {
		t.Fatalf("TryReserve error: %v", err)
	}
	if first.Status != domain.ReservationStatusPending {
		t.Fatalf("status = %q, want %q", first.Status, domain.ReservationStatusPending)
	}

	_, err = s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r2",
		StartTime:    start.Add(30 * time.Minute),
		EndTime:      start.Add(90 * time.Minute),
		ContactEmail: "r2@example.com",
	})
	if !errors.Is(err, store.ErrOverlapConflict) {
		t.Fatalf("err = %v, want %v", err, store.ErrOverlapConflict)
	}

	if _, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r3",
		StartTime:    start.Add(time.Hour),
		EndTime:      start.Add(2 * time.Hour),
		ContactEmail: "r3@example.com",
	}); err != nil {
		t.Fatalf("adjacent TryReserve error: %v", err)
	}

	// Another provider's grid is independent.
	start2 := start
	seedWindow(t, s, "p2", start2, start2.Add(2*time.Hour))
	if _, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p2",
		RequesterID:  "r4",
		StartTime:    start2,
		EndTime:      start2.Add(time.Hour),
		ContactEmail: "r4@example.com",
	}); err != nil {
		t.Fatalf("other-provider TryReserve error: %v", err)
	}
}

func TestTryReserve_ConcurrentAttemptsSingleWinner(t *testing.T) {
	s := NewStore(5 * time.Second)
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	seedWindow(t, s, "p1", start, start.Add(2*time.Hour))

	const attempts = 32
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.TryReserve(context.Background(), domain.Reservation{
				ProviderID:   "p1",
				RequesterID:  fmt.Sprintf("r%d", i),
				StartTime:    start,
				EndTime:      start.Add(time.Hour),
				ContactEmail: fmt.Sprintf("r%d@example.com", i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrOverlapConflict):
		default:
			t.Fatalf("attempt %d error = %v, want nil or %v", i, err, store.ErrOverlapConflict)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestTryReserve_AcceptedRangeDecomposesUnavailable(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := seedWindow(t, s, "p1", start, start.Add(3*time.Hour))

	res, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start.Add(time.Hour),
		EndTime:      start.Add(2*time.Hour + 30*time.Minute),
		ContactEmail: "r1@example.com",
	})
	if err != nil {
		t.Fatalf("TryReserve error: %v", err)
	}

	active, err := s.ListActiveReservations(context.Background(), "p1", w.StartTime, w.EndTime)
	if err != nil {
		t.Fatalf("ListActiveReservations error: %v", err)
	}

	for _, slot := range w.Decompose(active, start.Add(-time.Hour)) {
		covered := domain.Overlaps(slot.Start, slot.End, res.StartTime, res.EndTime)
		if covered && slot.Available {
			t.Fatalf("unit [%v, %v) covered by accepted reservation but still available", slot.Start, slot.End)
		}
		if !covered && !slot.Available {
			t.Fatalf("unit [%v, %v) outside accepted reservation but unavailable", slot.Start, slot.End)
		}
	}
}

func TestUpdateReservation_StatusGuard(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	seedWindow(t, s, "p1", start, start.Add(2*time.Hour))

	res, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		ContactEmail: "r1@example.com",
	})
	if err != nil {
		t.Fatalf("TryReserve error: %v", err)
	}

	confirmed := res
	if err := confirmed.Confirm("p1"); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if _, err := s.UpdateReservation(context.Background(), confirmed, domain.ReservationStatusPending); err != nil {
		t.Fatalf("UpdateReservation error: %v", err)
	}

	if _, err := s.UpdateReservation(context.Background(), confirmed, domain.ReservationStatusPending); !errors.Is(err, store.ErrStaleStatus) {
		t.Fatalf("err = %v, want %v", err, store.ErrStaleStatus)
	}
}

func TestDeleteWindow_ActiveReservationGuard(t *testing.T) {
	s := NewStore(time.Second)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := seedWindow(t, s, "p1", start, start.Add(2*time.Hour))

	res, err := s.TryReserve(context.Background(), domain.Reservation{
		ProviderID:   "p1",
		RequesterID:  "r1",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		ContactEmail: "r1@example.com",
	})
	if err != nil {
		t.Fatalf("TryReserve error: %v", err)
	}

	if err := s.DeleteWindow(context.Background(), "p1", w.ID); !errors.Is(err, store.ErrWindowNotEmpty) {
		t.Fatalf("err = %v, want %v", err, store.ErrWindowNotEmpty)
	}

	cancelled := res
	if err := cancelled.Cancel("r1", "", time.Now().UTC()); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if _, err := s.UpdateReservation(context.Background(), cancelled, domain.ReservationStatusPending); err != nil {
		t.Fatalf("UpdateReservation error: %v", err)
	}

	if err := s.DeleteWindow(context.Background(), "p1", w.ID); err != nil {
		t.Fatalf("DeleteWindow error: %v", err)
	}
}
