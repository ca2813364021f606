// Package reminders schedules the renewal reminder sent ahead of a
// subscription's period end.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/jobs"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/notify"
)

const (
	JobKind     = "subscription.reminder"
	DefaultLead = 72 * time.Hour
)

var ErrReminderNotSent = errors.New("reminder not sent")

type Users interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job jobs.Job) (bool, error)
}

// Markers is a small key/value store for "reminder pending" markers.
type Markers interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, html string) notify.Result
}

type Payload struct {
	UserID    string    `json:"user_id"`
	PeriodEnd time.Time `json:"period_end"`
}

type Scheduler struct {
	users   Users
	queue   Queue
	markers Markers
	mailer  Mailer
	logger  *slog.Logger
	lead    time.Duration
	now     func() time.Time
}

func NewScheduler(users Users, queue Queue, markers Markers, mailer Mailer, logger *slog.Logger, lead time.Duration) *Scheduler {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Scheduler{
		users:   users,
		queue:   queue,
		markers: markers,
		mailer:  mailer,
		logger:  logger,
		lead:    lead,
		now:     time.Now,
	}
}

func MarkerKey(userID string) string {
	return "reminder:" + userID
}

func JobKey(userID string, periodEnd time.Time) string {
	return fmt.Sprintf("reminder:%s:%d", userID, periodEnd.Unix())
}

// Schedule queues one reminder for the user's period end. Scheduling the same
// period end twice is a no-op; a new period end queues a new reminder and
// replaces the marker.
func (s *Scheduler) Schedule(ctx context.Context, email string, periodEnd time.Time) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	key := MarkerKey(user.ID)
	value := periodEnd.UTC().Format(time.RFC3339)
	if current, ok, err := s.markers.Get(ctx, key); err != nil {
		return fmt.Errorf("read marker: %w", err)
	} else if ok && current == value {
		s.logger.Debug("reminder already scheduled", "user_id", user.ID, "period_end", value)
		return nil
	}

	now := s.now()
	runAt := periodEnd.Add(-s.lead)
	if runAt.Before(now) {
		runAt = now
	}

	payload, err := json.Marshal(Payload{UserID: user.ID, PeriodEnd: periodEnd.UTC()})
	if err != nil {
		return err
	}
	enqueued, err := s.queue.Enqueue(ctx, jobs.Job{
		IdempotencyKey: JobKey(user.ID, periodEnd),
		Kind:           JobKind,
		Payload:        payload,
		RunAt:          runAt,
	})
	if err != nil {
		return fmt.Errorf("enqueue reminder: %w", err)
	}

	ttl := periodEnd.Sub(now) + 24*time.Hour
	if ttl < 24*time.Hour {
		ttl = 24 * time.Hour
	}
	if err := s.markers.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	s.logger.Info("reminder scheduled", "user_id", user.ID, "run_at", runAt, "new", enqueued)
	return nil
}

// Dispatch sends the reminder and clears the marker if it still refers to
// this period end.
func (s *Scheduler) Dispatch(ctx context.Context, userID string, periodEnd time.Time) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	email := notify.Reminder(periodEnd)
	res := s.mailer.Send(ctx, user.Email, email.Subject, email.HTML)

	if _, err := s.markers.CompareAndDelete(ctx, MarkerKey(userID), periodEnd.UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("clear reminder marker failed", "user_id", userID, "err", err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrReminderNotSent, res.Message)
	}
	return nil
}

// HandleJob adapts Dispatch to the jobs worker.
func (s *Scheduler) HandleJob(ctx context.Context, job jobs.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode reminder payload: %w", err)
	}
	return s.Dispatch(ctx, p.UserID, p.PeriodEnd)
}
