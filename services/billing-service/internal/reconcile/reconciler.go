// Package reconcile periodically re-reads subscribed users' subscriptions
// from the provider, healing snapshots whose webhooks were lost.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/subsync/libs/db"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

const defaultLockKey int64 = 4242001

type Users interface {
	ListSubscribed(ctx context.Context, afterID string, limit int) ([]model.User, error)
}

type Syncer interface {
	Sync(ctx context.Context, userID string) (model.User, error)
}

// Leader elects a single reconciling instance. release must be called once
// the lock is no longer needed.
type Leader interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	// Retry is how long a follower waits before contending again.
	Retry time.Duration
}

type Reconciler struct {
	users  Users
	syncer Syncer
	leader Leader
	logger *slog.Logger
	cfg    Config

	// cursor is the last user id visited; a short batch wraps it back to "".
	cursor string
}

func New(users Users, syncer Syncer, leader Leader, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 30 * time.Second
	}
	return &Reconciler{users: users, syncer: syncer, leader: leader, logger: logger, cfg: cfg}
}

// Run blocks until ctx is done. Only the instance holding the leader lock
// reconciles; the others keep contending.
func (r *Reconciler) Run(ctx context.Context) {
	release, ok := r.acquire(ctx)
	if !ok {
		return
	}
	defer release()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

func (r *Reconciler) acquire(ctx context.Context) (func(), bool) {
	for {
		release, ok, err := r.leader.TryLock(ctx)
		switch {
		case err != nil:
			r.logger.Error("reconcile: failed to acquire leader lock", "err", err)
		case ok:
			r.logger.Info("reconcile: leader lock acquired")
			return release, true
		default:
			r.logger.Debug("reconcile: leader lock held by another instance")
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(r.cfg.Retry):
		}
	}
}

// Once syncs the next batch after the cursor and reports how many snapshots
// were checked. Successive calls sweep every subscribed user. It is not safe
// for concurrent use.
func (r *Reconciler) Once(ctx context.Context) int {
	users, err := r.users.ListSubscribed(ctx, r.cursor, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("reconcile: failed to list subscribed users", "err", err, "cursor", r.cursor)
		return 0
	}
	if len(users) < r.cfg.BatchSize {
		r.cursor = ""
	} else {
		r.cursor = users[len(users)-1].ID
	}

	checked := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		synced, err := r.syncer.Sync(ctx, u.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrUserNotFound) || errors.Is(err, apperr.ErrSubscriptionNotFound) {
				continue
			}
			r.logger.Warn("reconcile: sync failed", "err", err, "user_id", u.ID, "subscription_id", u.Subscription.SubscriptionID)
			continue
		}
		checked++
		if synced.IsSubscribed != u.IsSubscribed || !synced.Subscription.Equal(u.Subscription) {
			r.logger.Info("reconcile: snapshot corrected", "user_id", u.ID, "subscription_id", u.Subscription.SubscriptionID, "is_subscribed", synced.IsSubscribed)
		}
	}
	return checked
}

// AdvisoryLock is a postgres session advisory lock held on a dedicated
// pooled connection.
type AdvisoryLock struct {
	pool *db.Pool
	key  int64
}

func NewAdvisoryLock(pool *db.Pool, key int64) *AdvisoryLock {
	if key == 0 {
		key = defaultLockKey
	}
	return &AdvisoryLock{pool: pool, key: key}
}

func (l *AdvisoryLock) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		conn.Release()
	}, true, nil
}
