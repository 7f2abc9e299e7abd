package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookwise/internal/domain"
)

// ScheduleRepository is the persistence and concurrency boundary of the
// scheduling core. TryReserve is the single mutating reserve entry
// point: its window lookup, overlap check and insert are indivisible
// with respect to any other concurrent call for the same provider.
type ScheduleRepository interface {
	TryReserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	UpdateReservation(ctx context.Context, res domain.Reservation, expect domain.ReservationStatus) (domain.Reservation, error)
	ListActiveReservations(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error)
	ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Reservation, error)

	CreateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	ListWindows(ctx context.Context, providerID string, from, to time.Time) ([]domain.AvailabilityWindow, error)
	SetWindowBlocked(ctx context.Context, providerID string, windowID uuid.UUID, blocked bool) (domain.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error
}
