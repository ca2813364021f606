// Package fakes holds in-memory stand-ins for the store, the payment
// provider and the reminder plumbing, shared by package tests.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

// Store is an in-memory user, plan, refund and event store. Mutate has the
// same copy, compare and write semantics as the postgres store.
type Store struct {
	mu      sync.Mutex
	users   map[string]model.User
	plans   map[string]model.Plan
	refunds []model.Refund
	events  map[string]string

	// Writes counts snapshot writes made through Mutate.
	Writes int
	// MutateErr fails every Mutate call when set.
	MutateErr error
}

func NewStore() *Store {
	return &Store{
		users:  map[string]model.User{},
		plans:  map[string]model.Plan{},
		events: map[string]string{},
	}
}

// Put stores u as is, for test setup.
func (s *Store) Put(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	u.Email = model.NormalizeEmail(u.Email)
	s.users[u.ID] = clone(u)
	return clone(u)
}

func (s *Store) PutPlan(p model.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.PriceID] = p
}

func (s *Store) Create(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	email := model.NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			s.mu.Unlock()
			return model.User{}, apperr.ErrEmailTaken
		}
	}
	s.mu.Unlock()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	return s.Put(u), nil
}

func (s *Store) GetByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (model.User, error) {
	return s.find(func(u model.User) bool { return u.Email == model.NormalizeEmail(email) })
}

func (s *Store) GetByCustomerID(_ context.Context, customerID string) (model.User, error) {
	if customerID == "" {
		return model.User{}, apperr.ErrUserNotFound
	}
	return s.find(func(u model.User) bool { return u.Subscription.CustomerID == customerID })
}

func (s *Store) GetBySessionID(_ context.Context, sessionID string) (model.User, error) {
	if sessionID == "" {
		return model.User{}, apperr.ErrUserNotFound
	}
	return s.find(func(u model.User) bool { return u.Subscription.SessionID == sessionID })
}

func (s *Store) find(match func(model.User) bool) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return model.User{}, apperr.ErrUserNotFound
}

func (s *Store) Mutate(ctx context.Context, userID string, fn func(*model.User) error) (model.User, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return s.mutate(u.ID, fn)
}

func (s *Store) MutateBySessionID(ctx context.Context, sessionID string, fn func(*model.User) error) (model.User, error) {
	u, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return model.User{}, err
	}
	return s.mutate(u.ID, fn)
}

func (s *Store) mutate(id string, fn func(*model.User) error) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MutateErr != nil {
		return model.User{}, s.MutateErr
	}
	before, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.ErrUserNotFound
	}
	after := clone(before)
	if err := fn(&after); err != nil {
		return model.User{}, err
	}
	after.ID, after.Email, after.PasswordHash, after.CreatedAt = before.ID, before.Email, before.PasswordHash, before.CreatedAt
	if after.Name == before.Name && after.Role == before.Role && after.IsSubscribed == before.IsSubscribed &&
		after.Subscription.Equal(before.Subscription) {
		return clone(before), nil
	}
	after.UpdatedAt = time.Now().UTC()
	s.users[id] = clone(after)
	s.Writes++
	return clone(after), nil
}

func (s *Store) ListSubscribed(_ context.Context, afterID string, limit int) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		if u.IsSubscribed && u.Subscription.SubscriptionID != "" && u.ID > afterID {
			out = append(out, clone(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreatePlan(_ context.Context, p model.Plan) (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.PriceID]; ok {
		return model.Plan{}, apperr.ErrPlanExists
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	s.plans[p.PriceID] = p
	return p, nil
}

func (s *Store) GetPlanByPriceID(_ context.Context, priceID string) (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[priceID]
	if !ok {
		return model.Plan{}, apperr.ErrPlanNotFound
	}
	return p, nil
}

func (s *Store) ListPlans(_ context.Context) ([]model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Plan{}
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out, nil
}

func (s *Store) AppendRefund(_ context.Context, r model.Refund) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.refunds {
		if existing.ProviderEventID == r.ProviderEventID {
			return false, nil
		}
	}
	r.ID = int64(len(s.refunds) + 1)
	r.RecordedAt = time.Now().UTC()
	s.refunds = append(s.refunds, r)
	return true, nil
}

func (s *Store) ListRefunds(_ context.Context, userID string) ([]model.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Refund{}
	for _, r := range s.refunds {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) EventSeen(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[provider+"/"+eventID]
	return ok, nil
}

func (s *Store) RecordEvent(_ context.Context, provider, eventID, eventType string) error {
	if eventID == "" {
		return errors.New("empty event id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[fmt.Sprintf("%s/%s", provider, eventID)] = eventType
	return nil
}

func clone(u model.User) model.User {
	u.Subscription.PlanStartDate = cloneTime(u.Subscription.PlanStartDate)
	u.Subscription.PlanEndDate = cloneTime(u.Subscription.PlanEndDate)
	return u
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
