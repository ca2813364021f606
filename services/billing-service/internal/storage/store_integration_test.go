//go:build integration

package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/subsync/libs/db"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./services/billing-service/internal/storage/
func openStore(t *testing.T) (*Store, *db.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.Options{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, Migrations, MigrationsDir, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return New(pool, outbox.NewRepository()), pool
}

func createUser(t *testing.T, s *Store) model.User {
	t.Helper()
	u, err := s.Create(context.Background(), model.User{Name: "Ada", Email: uuid.NewString() + "@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func outboxRows(t *testing.T, pool *db.Pool, userID string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM outbox_events WHERE aggregate_id = $1`, userID).Scan(&n))
	return n
}

func TestMutateWritesSnapshotAndEvent(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()
	u := createUser(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.Mutate(ctx, u.ID, func(m *model.User) error {
		m.IsSubscribed = true
		m.Subscription = model.Active("sub_"+u.ID, "cus_"+u.ID, "price_basic", "month", model.Period{Start: start, End: start.AddDate(0, 1, 0)})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.IsSubscribed)
	assert.Equal(t, 31, updated.Subscription.PlanDuration)
	assert.Equal(t, 1, outboxRows(t, pool, u.ID))

	again, err := s.Mutate(ctx, u.ID, func(*model.User) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, updated.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, 1, outboxRows(t, pool, u.ID))

	_, err = s.Mutate(ctx, u.ID, func(*model.User) error { return apperr.ErrSubscriptionNotFound })
	assert.ErrorIs(t, err, apperr.ErrSubscriptionNotFound)
	assert.Equal(t, 1, outboxRows(t, pool, u.ID))
}

func TestMutateRejectsMalformedID(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.Mutate(context.Background(), "not-a-uuid", func(*model.User) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestListSubscribedPagesByID(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	mine := map[string]bool{}
	for i := 0; i < 3; i++ {
		u := createUser(t, s)
		_, err := s.Mutate(ctx, u.ID, func(m *model.User) error {
			m.IsSubscribed = true
			m.Subscription = model.Active("sub_"+u.ID, "cus_"+u.ID, "price_basic", "month", model.Period{})
			return nil
		})
		require.NoError(t, err)
		mine[u.ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := s.ListSubscribed(ctx, cursor, 2)
		require.NoError(t, err)
		for _, u := range page {
			assert.Greater(t, u.ID, cursor)
			assert.False(t, seen[u.ID])
			seen[u.ID] = true
		}
		if len(page) < 2 {
			break
		}
		cursor = page[len(page)-1].ID
	}
	for id := range mine {
		assert.True(t, seen[id], "user %s not listed", id)
	}

	_, err := s.ListSubscribed(ctx, "garbage", 2)
	assert.Error(t, err)
}
