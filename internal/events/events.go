package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookwise/internal/domain"
)

type Type string

const (
	TypeReservationCreated   Type = "reservation.created"
	TypeReservationConfirmed Type = "reservation.confirmed"
	TypeReservationCancelled Type = "reservation.cancelled"
	TypeReservationCompleted Type = "reservation.completed"
	TypeReservationReminder  Type = "reservation.reminder"
)

// Event carries the participant identifiers and time range of a
// reservation lifecycle transition. Message content and delivery are
// the notification subsystem's concern, not ours.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	ReservationID uuid.UUID `json:"reservation_id"`
	WindowID      uuid.UUID `json:"window_id"`
	ProviderID    string    `json:"provider_id"`
	RequesterID   string    `json:"requester_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func FromReservation(t Type, r domain.Reservation, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		ReservationID: r.ID,
		WindowID:      r.WindowID,
		ProviderID:    r.ProviderID,
		RequesterID:   r.RequesterID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        string(r.Status),
		OccurredAt:    at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev Event) error { return nil }
func (NopPublisher) Close() error                                { return nil }
