package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/outbox"
)

const userColumns = `
	id::text, name, email, password_hash, role, is_subscribed,
	subscription_id, customer_id, session_id, plan_id, plan_type,
	plan_start_date, plan_end_date, plan_duration,
	previous_price_id, previous_plan_id, previous_plan_type,
	created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	s := &u.Subscription
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsSubscribed,
		&s.SubscriptionID, &s.CustomerID, &s.SessionID, &s.PlanID, &s.PlanType,
		&s.PlanStartDate, &s.PlanEndDate, &s.PlanDuration,
		&s.PreviousPriceID, &s.PreviousPlanID, &s.PreviousPlanType,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, apperr.ErrUserNotFound
	}
	return u, err
}

func (s *Store) Create(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = model.NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, apperr.ErrEmailTaken
		}
		return model.User{}, err
	}
	return created, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (model.User, error) {
	if !validID(id) {
		return model.User{}, apperr.ErrUserNotFound
	}
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, model.NormalizeEmail(email)))
}

func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (model.User, error) {
	if customerID == "" {
		return model.User{}, apperr.ErrUserNotFound
	}
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE customer_id = $1 LIMIT 1`, customerID))
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (model.User, error) {
	if sessionID == "" {
		return model.User{}, apperr.ErrUserNotFound
	}
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE session_id = $1 LIMIT 1`, sessionID))
}

// Mutate locks the user row, lets fn edit a copy and writes the full snapshot
// back in the same transaction. An error from fn aborts without writing.
func (s *Store) Mutate(ctx context.Context, userID string, fn func(*model.User) error) (model.User, error) {
	if !validID(userID) {
		return model.User{}, apperr.ErrUserNotFound
	}
	return s.mutate(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID, fn)
}

// MutateBySessionID is Mutate for the user holding a pending checkout session.
func (s *Store) MutateBySessionID(ctx context.Context, sessionID string, fn func(*model.User) error) (model.User, error) {
	if sessionID == "" {
		return model.User{}, apperr.ErrUserNotFound
	}
	return s.mutate(ctx, `SELECT `+userColumns+` FROM users WHERE session_id = $1 LIMIT 1 FOR UPDATE`, sessionID, fn)
}

func (s *Store) mutate(ctx context.Context, query, arg string, fn func(*model.User) error) (model.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanUser(tx.QueryRow(ctx, query, arg))
	if err != nil {
		return model.User{}, err
	}
	after := before
	if err := fn(&after); err != nil {
		return model.User{}, err
	}
	// Identity columns are not part of the snapshot.
	after.ID, after.Email, after.PasswordHash, after.CreatedAt = before.ID, before.Email, before.PasswordHash, before.CreatedAt

	if snapshotEqual(before, after) {
		return before, tx.Commit(ctx)
	}

	sub := after.Subscription
	updated, err := scanUser(tx.QueryRow(ctx, `
		UPDATE users SET
			name = $2, role = $3, is_subscribed = $4,
			subscription_id = $5, customer_id = $6, session_id = $7, plan_id = $8, plan_type = $9,
			plan_start_date = $10, plan_end_date = $11, plan_duration = $12,
			previous_price_id = $13, previous_plan_id = $14, previous_plan_type = $15,
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		before.ID, after.Name, after.Role, after.IsSubscribed,
		sub.SubscriptionID, sub.CustomerID, sub.SessionID, sub.PlanID, sub.PlanType,
		sub.PlanStartDate, sub.PlanEndDate, sub.PlanDuration,
		sub.PreviousPriceID, sub.PreviousPlanID, sub.PreviousPlanType,
	))
	if err != nil {
		return model.User{}, fmt.Errorf("update user: %w", err)
	}

	if err := s.outbox.Insert(ctx, tx, changedEvent(updated)); err != nil {
		return model.User{}, fmt.Errorf("outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.User{}, err
	}
	return updated, nil
}

// ListSubscribed pages through subscribed users with a provider
// subscription in id order, starting after afterID. An empty afterID
// starts from the beginning.
func (s *Store) ListSubscribed(ctx context.Context, afterID string, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 100
	}
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	if !validID(afterID) {
		return nil, fmt.Errorf("invalid cursor %q", afterID)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_subscribed AND subscription_id <> '' AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// validID keeps malformed ids from metadata or tokens from reaching the uuid column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func snapshotEqual(a, b model.User) bool {
	return a.Name == b.Name && a.Role == b.Role && a.IsSubscribed == b.IsSubscribed &&
		a.Subscription.Equal(b.Subscription)
}

func changedEvent(u model.User) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"user_id":         u.ID,
		"is_subscribed":   u.IsSubscribed,
		"subscription_id": u.Subscription.SubscriptionID,
		"customer_id":     u.Subscription.CustomerID,
		"plan_id":         u.Subscription.PlanID,
		"plan_type":       u.Subscription.PlanType,
		"plan_end_date":   u.Subscription.PlanEndDate,
		"occurred_at":     time.Now().UTC().Format(time.RFC3339),
	})
	return outbox.Event{
		AggregateType: "user",
		AggregateID:   u.ID,
		EventType:     outbox.TypeSubscriptionChanged,
		Payload:       payload,
	}
}
