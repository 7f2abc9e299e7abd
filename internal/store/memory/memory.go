package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookwise/internal/domain"
	"bookwise/internal/store"
)

// Store is an in-memory ScheduleRepository. The reserve critical
// section is a per-provider semaphore, the single-writer alternative to
// the postgres advisory lock; it honors the same contract, so it backs
// tests and local runs without a database.
type Store struct {
	lockTimeout time.Duration

	mu           sync.Mutex
	providerSems map[string]chan struct{}
	windows      map[uuid.UUID]domain.AvailabilityWindow
	reservations map[uuid.UUID]domain.Reservation
}

func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{
		lockTimeout:  lockTimeout,
		providerSems: make(map[string]chan struct{}),
		windows:      make(map[uuid.UUID]domain.AvailabilityWindow),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}
}

func (s *Store) TryReserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	release, err := s.acquireProvider(ctx, res.ProviderID)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := res.StartTime.UTC()
	end := res.EndTime.UTC()

	var owning *domain.AvailabilityWindow
	sawOverlap := false
	for _, w := range s.windows {
		if w.ProviderID != res.ProviderID {
			continue
		}
		if !domain.Overlaps(start, end, w.StartTime, w.EndTime) {
			continue
		}
		sawOverlap = true
		if w.Contains(start, end) {
			owning = &w
			break
		}
	}
	if owning == nil {
		if sawOverlap {
			return domain.Reservation{}, store.ErrOutOfRange
		}
		return domain.Reservation{}, store.ErrWindowNotFound
	}
	if owning.Blocked {
		return domain.Reservation{}, store.ErrWindowBlocked
	}

	for _, r := range s.reservations {
		if r.ProviderID != res.ProviderID || !r.Status.Active() {
			continue
		}
		if domain.Overlaps(start, end, r.StartTime, r.EndTime) {
			return domain.Reservation{}, store.ErrOverlapConflict
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Reservation{}, err
	}

	now := time.Now().UTC()
	m := res
	m.ID = id
	m.WindowID = owning.ID
	m.Status = domain.ReservationStatusPending
	m.StartTime = start
	m.EndTime = end
	m.CreatedAt = now
	m.UpdatedAt = now

	s.reservations[m.ID] = m
	return m, nil
}

func (s *Store) GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateReservation(ctx context.Context, res domain.Reservation, expect domain.ReservationStatus) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reservations[res.ID]
	if !ok {
		return domain.Reservation{}, store.ErrNotFound
	}
	if current.Status != expect {
		return domain.Reservation{}, store.ErrStaleStatus
	}

	m := res
	m.UpdatedAt = time.Now().UTC()
	s.reservations[m.ID] = m
	return m, nil
}

func (s *Store) ListActiveReservations(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Reservation, 0)
	for _, r := range s.reservations {
		if r.ProviderID != providerID || !r.Status.Active() {
			continue
		}
		if domain.Overlaps(r.StartTime, r.EndTime, windowStart.UTC(), windowEnd.UTC()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status != domain.ReservationStatusConfirmed {
			continue
		}
		if !r.StartTime.Before(from.UTC()) && r.StartTime.Before(to.UTC()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) CreateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	now := time.Now().UTC()
	m := w
	m.ID = id
	m.StartTime = w.StartTime.UTC()
	m.EndTime = w.EndTime.UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	s.windows[m.ID] = m
	return m, nil
}

func (s *Store) ListWindows(ctx context.Context, providerID string, from, to time.Time) ([]domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AvailabilityWindow, 0)
	for _, w := range s.windows {
		if w.ProviderID != providerID {
			continue
		}
		if domain.Overlaps(w.StartTime, w.EndTime, from.UTC(), to.UTC()) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) SetWindowBlocked(ctx context.Context, providerID string, windowID uuid.UUID, blocked bool) (domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[windowID]
	if !ok || w.ProviderID != providerID {
		return domain.AvailabilityWindow{}, store.ErrWindowNotFound
	}
	w.Blocked = blocked
	w.UpdatedAt = time.Now().UTC()
	s.windows[windowID] = w
	return w, nil
}

func (s *Store) DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error {
	release, err := s.acquireProvider(ctx, providerID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[windowID]
	if !ok || w.ProviderID != providerID {
		return store.ErrWindowNotFound
	}
	for _, r := range s.reservations {
		if r.WindowID == windowID && r.Status.Active() {
			return store.ErrWindowNotEmpty
		}
	}
	delete(s.windows, windowID)
	return nil
}

func (s *Store) acquireProvider(ctx context.Context, providerID string) (func(), error) {
	s.mu.Lock()
	sem, ok := s.providerSems[providerID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.providerSems[providerID] = sem
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, store.ErrLockTimeout
	}
}
