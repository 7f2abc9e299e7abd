package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// Active statuses are the ones that occupy time on the grid.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusPending || s == ReservationStatusConfirmed
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusCompleted
}

type ActorRole string

const (
	ActorProvider  ActorRole = "provider"
	ActorRequester ActorRole = "requester"
)

var (
	ErrActorNotAllowed        = errors.New("actor not allowed to perform this transition")
	ErrCancelReasonRequired   = errors.New("cancel reason is required")
	ErrSessionNotEnded        = errors.New("session has not ended yet")
	ErrCompletionNoteRequired = errors.New("completion note is required")
)

type InvalidTransitionError struct {
	From ReservationStatus
	To   ReservationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID             uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	WindowID       uuid.UUID         `bun:"window_id,type:uuid" json:"window_id"`
	ProviderID     string            `bun:"provider_id,notnull" json:"provider_id"`
	RequesterID    string            `bun:"requester_id,notnull" json:"requester_id"`
	StartTime      time.Time         `bun:"start_time,notnull" json:"start_time"`
	EndTime        time.Time         `bun:"end_time,notnull" json:"end_time"`
	Status         ReservationStatus `bun:"status,notnull" json:"status"`
	ContactEmail   string            `bun:"contact_email,notnull" json:"contact_email"`
	ContactPhone   string            `bun:"contact_phone" json:"contact_phone,omitempty"`
	Notes          string            `bun:"notes" json:"notes,omitempty"`
	PaymentRef     string            `bun:"payment_ref" json:"payment_ref,omitempty"`
	CancelledBy    ActorRole         `bun:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason   string            `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time        `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletionNote string            `bun:"completion_note" json:"completion_note,omitempty"`
	CreatedAt      time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull" json:"updated_at"`
}

func (r *Reservation) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

// RoleOf maps a caller identifier onto its side of the reservation.
func (r *Reservation) RoleOf(actorID string) (ActorRole, error) {
	switch actorID {
	case r.ProviderID:
		return ActorProvider, nil
	case r.RequesterID:
		return ActorRequester, nil
	default:
		return "", ErrActorNotAllowed
	}
}

// Confirm moves pending -> confirmed. Only the provider who owns the
// window may confirm; no time-range re-validation happens here because
// overlap was enforced at creation.
func (r *Reservation) Confirm(actorID string) error {
	if r.Status != ReservationStatusPending {
		return &InvalidTransitionError{From: r.Status, To: ReservationStatusConfirmed}
	}
	if actorID != r.ProviderID {
		return ErrActorNotAllowed
	}
	r.Status = ReservationStatusConfirmed
	return nil
}

// Cancel moves pending|confirmed -> cancelled. Either participant may
// cancel; the provider must state a reason, the requester may omit it.
func (r *Reservation) Cancel(actorID, reason string, at time.Time) error {
	if !r.Status.Active() {
		return &InvalidTransitionError{From: r.Status, To: ReservationStatusCancelled}
	}
	role, err := r.RoleOf(actorID)
	if err != nil {
		return err
	}
	if role == ActorProvider && reason == "" {
		return ErrCancelReasonRequired
	}
	cancelledAt := at.UTC()
	r.Status = ReservationStatusCancelled
	r.CancelledBy = role
	r.CancelReason = reason
	r.CancelledAt = &cancelledAt
	return nil
}

// Complete moves confirmed -> completed. Gated on wall-clock time: the
// session must have ended, and the provider must record a note.
func (r *Reservation) Complete(actorID, note string, now time.Time) error {
	if r.Status != ReservationStatusConfirmed {
		return &InvalidTransitionError{From: r.Status, To: ReservationStatusCompleted}
	}
	if actorID != r.ProviderID {
		return ErrActorNotAllowed
	}
	if now.Before(r.EndTime) {
		return ErrSessionNotEnded
	}
	if note == "" {
		return ErrCompletionNoteRequired
	}
	r.Status = ReservationStatusCompleted
	r.CompletionNote = note
	return nil
}
