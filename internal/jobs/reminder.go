package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"bookwise/internal/events"
	"bookwise/internal/store"
)

// ReminderJob periodically publishes reminder events for confirmed
// reservations starting within the lookahead horizon. Deduplication of
// repeat reminders is left to the notification consumer.
type ReminderJob struct {
	repo      store.ScheduleRepository
	events    events.Publisher
	lookahead time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewReminderJob(repo store.ScheduleRepository, pub events.Publisher, lookahead time.Duration, log *slog.Logger) *ReminderJob {
	if lookahead <= 0 {
		lookahead = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReminderJob{
		repo:      repo,
		events:    pub,
		lookahead: lookahead,
		log:       log.With(slog.String("component", "reminder_job")),
		now:       time.Now,
	}
}

func (j *ReminderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	upcoming, err := j.repo.ListConfirmedStartingBetween(ctx, now, now.Add(j.lookahead))
	if err != nil {
		return err
	}

	for _, res := range upcoming {
		if err := j.events.Publish(ctx, events.FromReservation(events.TypeReservationReminder, res, now)); err != nil {
			j.log.Warn(
				"reminder publish failed",
				slog.Any("err", err),
				slog.String("reservation_id", res.ID.String()),
			)
			continue
		}
		j.log.Info(
			"reminder published",
			slog.String("reservation_id", res.ID.String()),
			slog.Time("start_time", res.StartTime),
		)
	}
	return nil
}

// Schedule registers the job on a cron runner. The returned cron must
// be started and stopped by the caller.
func (j *ReminderJob) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := j.Run(ctx); err != nil {
			j.log.Error("reminder sweep failed", slog.Any("err", err))
		}
	})
	return err
}
