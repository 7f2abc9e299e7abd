package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"bookwise/internal/domain"
	"bookwise/internal/store"
)

const defaultLockTimeout = 3 * time.Second

type ScheduleRepo struct {
	db          *bun.DB
	lockTimeout time.Duration
}

func NewScheduleRepo(db *bun.DB, lockTimeout time.Duration) *ScheduleRepo {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &ScheduleRepo{db: db, lockTimeout: lockTimeout}
}

var activeStatuses = []domain.ReservationStatus{
	domain.ReservationStatusPending,
	domain.ReservationStatusConfirmed,
}

func (r *ScheduleRepo) TryReserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	var out domain.Reservation
	err := r.inProviderTx(ctx, res.ProviderID, func(ctx context.Context, tx bun.Tx) error {
		w, err := findContainingWindow(ctx, tx, res.ProviderID, res.StartTime.UTC(), res.EndTime.UTC())
		if err != nil {
			return err
		}
		if w.Blocked {
			return store.ErrWindowBlocked
		}

		count, err := tx.NewSelect().
			Model((*domain.Reservation)(nil)).
			Where("provider_id = ?", res.ProviderID).
			Where("status IN (?)", bun.In(activeStatuses)).
			Where("start_time < ?", res.EndTime.UTC()).
			Where("end_time > ?", res.StartTime.UTC()).
			Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return store.ErrOverlapConflict
		}

		m := res
		m.WindowID = w.ID
		m.Status = domain.ReservationStatusPending
		m.StartTime = res.StartTime.UTC()
		m.EndTime = res.EndTime.UTC()

		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "reservations_no_overlap" {
				return store.ErrOverlapConflict
			}
			return err
		}

		out = m
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return out, nil
}

func (r *ScheduleRepo) GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	var row domain.Reservation
	err := r.db.NewSelect().
		Model(&row).
		Where("id = ?", reservationID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	return row, nil
}

// UpdateReservation persists a status transition as a single guarded
// row update. The whole-provider critical section is not needed here:
// transitions never widen the occupied range, so the status guard alone
// is enough to keep concurrent transitions consistent.
func (r *ScheduleRepo) UpdateReservation(ctx context.Context, res domain.Reservation, expect domain.ReservationStatus) (domain.Reservation, error) {
	m := res
	result, err := r.db.NewUpdate().
		Model(&m).
		Column("status", "payment_ref", "cancelled_by", "cancel_reason", "cancelled_at", "completion_note", "updated_at").
		Where("id = ?", m.ID).
		Where("status = ?", expect).
		Exec(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Reservation{}, err
	}
	if affected == 0 {
		exists, err := r.db.NewSelect().
			Model((*domain.Reservation)(nil)).
			Where("id = ?", m.ID).
			Exists(ctx)
		if err != nil {
			return domain.Reservation{}, err
		}
		if !exists {
			return domain.Reservation{}, store.ErrNotFound
		}
		return domain.Reservation{}, store.ErrStaleStatus
	}
	return m, nil
}

func (r *ScheduleRepo) ListActiveReservations(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("status IN (?)", bun.In(activeStatuses)).
		Where("start_time < ?", windowEnd.UTC()).
		Where("end_time > ?", windowStart.UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.ReservationStatusConfirmed).
		Where("start_time >= ?", from.UTC()).
		Where("start_time < ?", to.UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) CreateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	m := w
	m.StartTime = w.StartTime.UTC()
	m.EndTime = w.EndTime.UTC()
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return m, nil
}

func (r *ScheduleRepo) ListWindows(ctx context.Context, providerID string, from, to time.Time) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_time < ?", to.UTC()).
		Where("end_time > ?", from.UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) SetWindowBlocked(ctx context.Context, providerID string, windowID uuid.UUID, blocked bool) (domain.AvailabilityWindow, error) {
	var m domain.AvailabilityWindow
	result, err := r.db.NewUpdate().
		Model(&m).
		Set("blocked = ?", blocked).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", windowID).
		Where("provider_id = ?", providerID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if affected == 0 {
		return domain.AvailabilityWindow{}, store.ErrWindowNotFound
	}
	return m, nil
}

func (r *ScheduleRepo) DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error {
	return r.inProviderTx(ctx, providerID, func(ctx context.Context, tx bun.Tx) error {
		var w domain.AvailabilityWindow
		err := tx.NewSelect().
			Model(&w).
			Where("id = ?", windowID).
			Where("provider_id = ?", providerID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrWindowNotFound
		}
		if err != nil {
			return err
		}

		count, err := tx.NewSelect().
			Model((*domain.Reservation)(nil)).
			Where("window_id = ?", windowID).
			Where("status IN (?)", bun.In(activeStatuses)).
			Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return store.ErrWindowNotEmpty
		}

		_, err = tx.NewDelete().
			Model((*domain.AvailabilityWindow)(nil)).
			Where("id = ?", windowID).
			Exec(ctx)
		return err
	})
}

func (r *ScheduleRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ScheduleRepo) inProviderTx(ctx context.Context, providerID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())).Exec(ctx); err != nil {
			return err
		}
		if err := lockProviderSchedule(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func lockProviderSchedule(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return store.ErrLockTimeout
	}
	return err
}

func findContainingWindow(ctx context.Context, tx bun.Tx, providerID string, start, end time.Time) (domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_time < ?", end).
		Where("end_time > ?", start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if len(rows) == 0 {
		return domain.AvailabilityWindow{}, store.ErrWindowNotFound
	}
	for _, w := range rows {
		if w.Contains(start, end) {
			return w, nil
		}
	}
	return domain.AvailabilityWindow{}, store.ErrOutOfRange
}
