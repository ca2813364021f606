package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/billing"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/fakes"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type leader struct {
	mu       sync.Mutex
	free     bool
	attempts int
	released bool
}

func (l *leader) TryLock(context.Context) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if !l.free {
		return nil, false, nil
	}
	return func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
	}, true, nil
}

func (l *leader) state() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts, l.released
}

func setup(t *testing.T) (*fakes.Store, *fakes.Provider, *billing.Service) {
	t.Helper()
	store := fakes.NewStore()
	prov := fakes.NewProvider()
	svc := billing.NewService(store, prov, discard(), billing.Config{FrontendHost: "https://app.test"})
	return store, prov, svc
}

func subscribedUser(store *fakes.Store, email, subID, customerID string) model.User {
	return store.Put(model.User{
		Name:         "User",
		Email:        email,
		IsSubscribed: true,
		Subscription: model.Active(subID, customerID, "price_basic", "month", model.Period{Start: jan1, End: feb1}),
	})
}

func TestOnceHealsSnapshots(t *testing.T) {
	store, prov, svc := setup(t)
	renewed := subscribedUser(store, "a@example.com", "sub_a", "cus_a")
	ended := subscribedUser(store, "b@example.com", "sub_b", "cus_b")
	prov.SetSubscription(provider.Subscription{ID: "sub_a", CustomerID: "cus_a", Status: provider.StatusActive, PriceID: "price_basic", Interval: "month", Period: model.Period{Start: feb1, End: mar1}})
	prov.SetSubscription(provider.Subscription{ID: "sub_b", CustomerID: "cus_b", Status: provider.StatusCanceled})

	r := reconcile.New(store, svc, &leader{free: true}, discard(), reconcile.Config{})
	assert.Equal(t, 2, r.Once(context.Background()))

	got, err := store.GetByID(context.Background(), renewed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Subscription.PlanEndDate)
	assert.True(t, got.Subscription.PlanEndDate.Equal(mar1))
	assert.Equal(t, 29, got.Subscription.PlanDuration)

	got, err = store.GetByID(context.Background(), ended.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSubscribed)
	assert.Empty(t, got.Subscription.SubscriptionID)
	assert.Equal(t, "cus_b", got.Subscription.CustomerID)
}

type recordingSyncer struct {
	next reconcile.Syncer
	seen []string
}

func (s *recordingSyncer) Sync(ctx context.Context, userID string) (model.User, error) {
	s.seen = append(s.seen, userID)
	return s.next.Sync(ctx, userID)
}

func TestOnceSweepsBeyondFirstBatch(t *testing.T) {
	store, prov, svc := setup(t)
	want := map[string]bool{}
	for i := 0; i < 5; i++ {
		subID, cusID := fmt.Sprintf("sub_%d", i), fmt.Sprintf("cus_%d", i)
		u := subscribedUser(store, fmt.Sprintf("u%d@example.com", i), subID, cusID)
		prov.SetSubscription(provider.Subscription{ID: subID, CustomerID: cusID, Status: provider.StatusActive, PriceID: "price_basic", Interval: "month", Period: model.Period{Start: jan1, End: feb1}})
		want[u.ID] = true
	}

	rec := &recordingSyncer{next: svc}
	r := reconcile.New(store, rec, &leader{free: true}, discard(), reconcile.Config{BatchSize: 2})

	assert.Equal(t, 2, r.Once(context.Background()))
	assert.Equal(t, 2, r.Once(context.Background()))
	assert.Equal(t, 1, r.Once(context.Background()))

	got := map[string]bool{}
	for _, id := range rec.seen {
		assert.False(t, got[id], "user %s synced twice in one sweep", id)
		got[id] = true
	}
	assert.Equal(t, want, got)

	// A short batch wraps the cursor so the next pass starts over.
	first := rec.seen[0]
	rec.seen = nil
	assert.Equal(t, 2, r.Once(context.Background()))
	assert.Equal(t, first, rec.seen[0])
}

func TestOnceSkipsProviderFailures(t *testing.T) {
	store, prov, svc := setup(t)
	subscribedUser(store, "a@example.com", "sub_a", "cus_a")
	prov.Err = assert.AnError

	r := reconcile.New(store, svc, &leader{free: true}, discard(), reconcile.Config{})
	assert.Zero(t, r.Once(context.Background()))
	assert.Zero(t, store.Writes)
}

func TestRunWaitsForLeadership(t *testing.T) {
	store, _, svc := setup(t)
	l := &leader{}
	r := reconcile.New(store, svc, l, discard(), reconcile.Config{Retry: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	attempts, released := l.state()
	assert.Greater(t, attempts, 1)
	assert.False(t, released)
}

func TestRunReleasesLeadership(t *testing.T) {
	store, _, svc := setup(t)
	l := &leader{free: true}
	r := reconcile.New(store, svc, l, discard(), reconcile.Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, released := l.state()
	assert.True(t, released)
}
