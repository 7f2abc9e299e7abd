package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookwise/internal/domain"
	"bookwise/internal/events"
	"bookwise/internal/store"
)

type Reason string

const (
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonMisalignedTime       Reason = "misaligned_time"
	ReasonDurationTooShort     Reason = "duration_too_short"
	ReasonDurationNotAligned   Reason = "duration_not_aligned"
	ReasonPastStart            Reason = "past_start"
	ReasonInsufficientLeadTime Reason = "insufficient_lead_time"
	ReasonUnknownAction        Reason = "unknown_action"
)

type ValidationError struct {
	Reason Reason
	msg    string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(reason Reason, msg string) error {
	return &ValidationError{Reason: reason, msg: msg}
}

type Rules struct {
	LeadTime         time.Duration
	MaxSessionLength time.Duration
}

const (
	DefaultLeadTime         = 24 * time.Hour
	DefaultMaxSessionLength = 4 * time.Hour
)

func (r Rules) withDefaults() Rules {
	if r.LeadTime <= 0 {
		r.LeadTime = DefaultLeadTime
	}
	if r.MaxSessionLength <= 0 {
		r.MaxSessionLength = DefaultMaxSessionLength
	}
	return r
}

type Service struct {
	repo   store.ScheduleRepository
	events events.Publisher
	rules  Rules
	log    *slog.Logger
	now    func() time.Time
}

func NewService(repo store.ScheduleRepository, pub events.Publisher, rules Rules, log *slog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:   repo,
		events: pub,
		rules:  rules.withDefaults(),
		log:    log.With(slog.String("component", "scheduling")),
		now:    time.Now,
	}
}

type ReserveInput struct {
	ProviderID   string
	RequesterID  string
	StartTime    time.Time
	EndTime      time.Time
	ContactEmail string
	ContactPhone string
	Notes        string
}

// Reserve validates the candidate range in order, each failure with a
// distinct reason, then hands off to the store's atomic reserve. All
// validation failures are pure and side-effect free.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (domain.Reservation, error) {
	if strings.TrimSpace(in.ProviderID) == "" {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "provider_id is required")
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "requester_id is required")
	}
	if strings.TrimSpace(in.ContactEmail) == "" {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "contact_email is required")
	}

	start := in.StartTime.UTC()
	end := in.EndTime.UTC()

	if !domain.IsAligned(start) || !domain.IsAligned(end) {
		return domain.Reservation{}, validationError(ReasonMisalignedTime, "start_time and end_time must fall on a 30-minute boundary")
	}
	span := end.Sub(start)
	if span < domain.MinReservationLength {
		return domain.Reservation{}, validationError(ReasonDurationTooShort, "reservations must be at least 60 minutes long")
	}
	if span%domain.SlotUnit != 0 {
		return domain.Reservation{}, validationError(ReasonDurationNotAligned, "duration must be a multiple of 30 minutes")
	}
	if s.rules.MaxSessionLength > 0 && span > s.rules.MaxSessionLength {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "duration exceeds the maximum session length")
	}

	now := s.now().UTC()
	if start.Before(now) {
		return domain.Reservation{}, validationError(ReasonPastStart, "start_time is in the past")
	}
	if start.Sub(now) < s.rules.LeadTime {
		return domain.Reservation{}, validationError(ReasonInsufficientLeadTime, "start_time is closer than the required lead time")
	}

	res, err := s.repo.TryReserve(ctx, domain.Reservation{
		ProviderID:   in.ProviderID,
		RequesterID:  in.RequesterID,
		StartTime:    start,
		EndTime:      end,
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		Notes:        in.Notes,
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.publish(ctx, events.TypeReservationCreated, res)
	return res, nil
}

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

var eventForAction = map[Action]events.Type{
	ActionConfirm:  events.TypeReservationConfirmed,
	ActionCancel:   events.TypeReservationCancelled,
	ActionComplete: events.TypeReservationCompleted,
}

var targetForAction = map[Action]domain.ReservationStatus{
	ActionConfirm:  domain.ReservationStatusConfirmed,
	ActionCancel:   domain.ReservationStatusCancelled,
	ActionComplete: domain.ReservationStatusCompleted,
}

// Transition applies a lifecycle action to a reservation. The free-text
// argument is the cancel reason for cancel and the completion note for
// complete.
func (s *Service) Transition(ctx context.Context, reservationID uuid.UUID, action Action, actorID, reason string) (domain.Reservation, error) {
	if actorID == "" {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "actor_id is required")
	}
	target, ok := targetForAction[action]
	if !ok {
		return domain.Reservation{}, validationError(ReasonUnknownAction, "action must be confirm, cancel or complete")
	}

	res, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}
	prev := res.Status

	switch action {
	case ActionConfirm:
		err = res.Confirm(actorID)
	case ActionCancel:
		err = res.Cancel(actorID, strings.TrimSpace(reason), s.now())
	case ActionComplete:
		err = res.Complete(actorID, strings.TrimSpace(reason), s.now())
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	out, err := s.repo.UpdateReservation(ctx, res, prev)
	if errors.Is(err, store.ErrStaleStatus) {
		current, getErr := s.repo.GetReservation(ctx, reservationID)
		if getErr != nil {
			return domain.Reservation{}, getErr
		}
		return domain.Reservation{}, &domain.InvalidTransitionError{From: current.Status, To: target}
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	s.publish(ctx, eventForAction[action], out)
	return out, nil
}

func (s *Service) GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	return s.repo.GetReservation(ctx, reservationID)
}

// AttachPaymentReference records an opaque payment reference after the
// fact. Reservation creation never waits on payment.
func (s *Service) AttachPaymentReference(ctx context.Context, reservationID uuid.UUID, actorID, reference string) (domain.Reservation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Reservation{}, validationError(ReasonInvalidInput, "payment reference is required")
	}

	// The status-guarded update can lose to a concurrent transition;
	// re-reading once picks up the new status since the reference does
	// not depend on it.
	for attempt := 0; ; attempt++ {
		res, err := s.repo.GetReservation(ctx, reservationID)
		if err != nil {
			return domain.Reservation{}, err
		}
		if _, err := res.RoleOf(actorID); err != nil {
			return domain.Reservation{}, err
		}

		res.PaymentRef = reference
		out, err := s.repo.UpdateReservation(ctx, res, res.Status)
		if errors.Is(err, store.ErrStaleStatus) && attempt == 0 {
			continue
		}
		return out, err
	}
}

type ProviderSlot struct {
	WindowID  uuid.UUID
	Start     time.Time
	End       time.Time
	Durations []time.Duration
}

// ListOfferableSlots computes the offerable start times for a provider
// inside [from, to). Purely a query-time view; nothing is written.
func (s *Service) ListOfferableSlots(ctx context.Context, providerID string, from, to time.Time) ([]ProviderSlot, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, validationError(ReasonInvalidInput, "provider_id is required")
	}
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return nil, validationError(ReasonInvalidInput, "to must be after from")
	}

	windows, err := s.repo.ListWindows(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return []ProviderSlot{}, nil
	}

	// Reservations are scanned over the union of window spans:
	// windows may extend past the query range, and decomposition
	// needs every reservation that touches them.
	spanStart := windows[0].StartTime
	spanEnd := windows[0].EndTime
	for _, w := range windows[1:] {
		if w.StartTime.Before(spanStart) {
			spanStart = w.StartTime
		}
		if w.EndTime.After(spanEnd) {
			spanEnd = w.EndTime
		}
	}

	active, err := s.repo.ListActiveReservations(ctx, providerID, spanStart, spanEnd)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]ProviderSlot, 0)
	for _, w := range windows {
		slots := w.Decompose(active, now)
		for _, offer := range domain.OfferableStarts(slots, s.rules.MaxSessionLength) {
			if offer.Start.Before(from) || !offer.Start.Before(to) {
				continue
			}
			out = append(out, ProviderSlot{
				WindowID:  w.ID,
				Start:     offer.Start,
				End:       offer.End,
				Durations: offer.Durations,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

type PublishWindowInput struct {
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Timezone   string
}

func (s *Service) PublishWindow(ctx context.Context, in PublishWindowInput) (domain.AvailabilityWindow, error) {
	if strings.TrimSpace(in.ProviderID) == "" {
		return domain.AvailabilityWindow{}, validationError(ReasonInvalidInput, "provider_id is required")
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return domain.AvailabilityWindow{}, validationError(ReasonInvalidInput, "invalid timezone")
	}

	start := in.StartTime.UTC()
	end := in.EndTime.UTC()
	if !domain.IsAligned(start) || !domain.IsAligned(end) {
		return domain.AvailabilityWindow{}, validationError(ReasonMisalignedTime, "start_time and end_time must fall on a 30-minute boundary")
	}
	if !end.After(start) {
		return domain.AvailabilityWindow{}, validationError(ReasonInvalidInput, "end_time must be after start_time")
	}

	return s.repo.CreateWindow(ctx, domain.AvailabilityWindow{
		ProviderID: in.ProviderID,
		StartTime:  start,
		EndTime:    end,
		Timezone:   tz,
	})
}

// materializeHorizon bounds open-ended recurring patterns so a pattern
// without until or count cannot create windows indefinitely.
const materializeHorizon = 12 * 7 * 24 * time.Hour

type PublishRecurringInput struct {
	ProviderID string
	Timezone   string
	DTStart    time.Time
	Duration   time.Duration
	Interval   int
	ByWeekday  []int16
	Until      *time.Time
	Count      *int
}

// PublishRecurringWindows expands a weekly availability pattern and
// creates a concrete window per occurrence.
func (s *Service) PublishRecurringWindows(ctx context.Context, in PublishRecurringInput) ([]domain.AvailabilityWindow, error) {
	if strings.TrimSpace(in.ProviderID) == "" {
		return nil, validationError(ReasonInvalidInput, "provider_id is required")
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}

	from := in.DTStart.UTC()
	to := from.Add(materializeHorizon)
	if in.Until != nil && in.Until.Before(to) {
		to = in.Until.UTC().Add(24 * time.Hour)
	}

	occurrences, err := domain.ExpandWeekly(domain.RecurringAvailability{
		ProviderID: in.ProviderID,
		Timezone:   tz,
		DTStart:    from,
		Duration:   in.Duration,
		Frequency:  domain.RecurrenceFrequencyWeekly,
		Interval:   in.Interval,
		ByWeekday:  in.ByWeekday,
		Until:      in.Until,
		Count:      in.Count,
	}, from, to)
	if err != nil {
		return nil, validationError(ReasonInvalidInput, err.Error())
	}
	if len(occurrences) == 0 {
		return nil, validationError(ReasonInvalidInput, "pattern yields no occurrences")
	}

	out := make([]domain.AvailabilityWindow, 0, len(occurrences))
	for _, occ := range occurrences {
		w, err := s.repo.CreateWindow(ctx, occ)
		if err != nil {
			return out, err
		}
		out = append(out, w)
	}
	return out, nil
}

type WindowView struct {
	domain.AvailabilityWindow
	Status domain.WindowStatus `json:"status"`
}

// ListWindows returns a provider's windows with their effective status
// derived from live reservations.
func (s *Service) ListWindows(ctx context.Context, providerID string, from, to time.Time) ([]WindowView, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, validationError(ReasonInvalidInput, "provider_id is required")
	}
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return nil, validationError(ReasonInvalidInput, "to must be after from")
	}

	windows, err := s.repo.ListWindows(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return []WindowView{}, nil
	}

	spanStart := windows[0].StartTime
	spanEnd := windows[0].EndTime
	for _, w := range windows[1:] {
		if w.StartTime.Before(spanStart) {
			spanStart = w.StartTime
		}
		if w.EndTime.After(spanEnd) {
			spanEnd = w.EndTime
		}
	}

	active, err := s.repo.ListActiveReservations(ctx, providerID, spanStart, spanEnd)
	if err != nil {
		return nil, err
	}

	out := make([]WindowView, 0, len(windows))
	for _, w := range windows {
		intersecting := make([]domain.Reservation, 0, len(active))
		for _, r := range active {
			if domain.Overlaps(r.StartTime, r.EndTime, w.StartTime, w.EndTime) {
				intersecting = append(intersecting, r)
			}
		}
		out = append(out, WindowView{AvailabilityWindow: w, Status: w.EffectiveStatus(intersecting)})
	}
	return out, nil
}

func (s *Service) SetWindowBlocked(ctx context.Context, providerID string, windowID uuid.UUID, blocked bool) (domain.AvailabilityWindow, error) {
	if strings.TrimSpace(providerID) == "" {
		return domain.AvailabilityWindow{}, validationError(ReasonInvalidInput, "provider_id is required")
	}
	return s.repo.SetWindowBlocked(ctx, providerID, windowID, blocked)
}

func (s *Service) DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error {
	if strings.TrimSpace(providerID) == "" {
		return validationError(ReasonInvalidInput, "provider_id is required")
	}
	return s.repo.DeleteWindow(ctx, providerID, windowID)
}

// publish fires a lifecycle event. Notification failures are logged
// and never roll back or block the transition that triggered them.
func (s *Service) publish(ctx context.Context, t events.Type, r domain.Reservation) {
	if err := s.events.Publish(ctx, events.FromReservation(t, r, s.now())); err != nil {
		s.log.Warn(
			"event publish failed",
			slog.Any("err", err),
			slog.String("event_type", string(t)),
			slog.String("reservation_id", r.ID.String()),
		)
	}
}
