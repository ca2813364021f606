// Package billing drives the user initiated subscription flows against the
// payment provider and writes the confirmed result to the user's snapshot.
// Every flow is fail-closed: nothing is written unless the provider
// confirmed the outcome.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
)

const DefaultProviderTimeout = 10 * time.Second

type Store interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	Mutate(ctx context.Context, userID string, fn func(*model.User) error) (model.User, error)
	GetPlanByPriceID(ctx context.Context, priceID string) (model.Plan, error)
}

type Config struct {
	FrontendHost    string
	ProviderTimeout time.Duration
}

type Service struct {
	store    Store
	provider provider.Client
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(store Store, client provider.Client, logger *slog.Logger, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	cfg.FrontendHost = strings.TrimRight(cfg.FrontendHost, "/")
	return &Service{store: store, provider: client, logger: logger, cfg: cfg, now: time.Now}
}

// Session is the handle of a hosted checkout page.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Details is the provider side view of a user's latest subscription.
type Details struct {
	User         model.User            `json:"user"`
	Subscription provider.Subscription `json:"subscription"`
	Price        provider.Price        `json:"price"`
	Product      provider.Product      `json:"product"`
}

func (s *Service) User(ctx context.Context, userID string) (model.User, error) {
	return s.store.GetByID(ctx, userID)
}

// call bounds one provider call. A failure, including a timeout, is
// reported as a provider error.
func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, apperr.Provider(op, err)
	}
	return v, nil
}

func (s *Service) StartCheckout(ctx context.Context, userID, priceID string) (Session, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	plan, err := s.store.GetPlanByPriceID(ctx, priceID)
	if err != nil {
		return Session{}, err
	}

	customerID := user.Subscription.CustomerID
	if customerID == "" {
		created, err := call(ctx, s, "create customer", func(ctx context.Context) (string, error) {
			return s.provider.CreateCustomer(ctx, provider.CustomerParams{Email: user.Email, Name: user.Name, UserID: user.ID})
		})
		if err != nil {
			return Session{}, err
		}
		// Persist right away. A concurrent checkout may have won; its id is kept.
		user, err = s.store.Mutate(ctx, userID, func(u *model.User) error {
			if u.Subscription.CustomerID == "" {
				u.Subscription.CustomerID = created
			}
			return nil
		})
		if err != nil {
			return Session{}, err
		}
		customerID = user.Subscription.CustomerID
	}

	sess, err := call(ctx, s, "create checkout session", func(ctx context.Context) (provider.CheckoutSession, error) {
		return s.provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
			CustomerID: customerID,
			PriceID:    plan.PriceID,
			UserID:     user.ID,
			SuccessURL: s.cfg.FrontendHost + "/success/{CHECKOUT_SESSION_ID}",
			CancelURL:  s.cfg.FrontendHost + "/cancel/{CHECKOUT_SESSION_ID}",
		})
	})
	if err != nil {
		return Session{}, err
	}

	_, err = s.store.Mutate(ctx, userID, func(u *model.User) error {
		sub := &u.Subscription
		sub.SessionID = sess.ID
		sub.PreviousPriceID = sub.PlanID
		sub.PreviousPlanID = sub.PlanID
		sub.PreviousPlanType = sub.PlanType
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("checkout started", "user_id", user.ID, "session_id", sess.ID, "price_id", plan.PriceID)
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Service) ResolveCheckout(ctx context.Context, userID, sessionID string) (model.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	sess, err := call(ctx, s, "get checkout session", func(ctx context.Context) (provider.CheckoutSession, error) {
		return s.provider.GetCheckoutSession(ctx, sessionID)
	})
	if err != nil {
		return model.User{}, err
	}
	if user.Subscription.CustomerID == "" || sess.CustomerID != user.Subscription.CustomerID {
		return model.User{}, apperr.ErrCheckoutSessionNotFound
	}

	switch sess.PaymentStatus {
	case provider.PaymentStatusPaid:
		if sess.SubscriptionID == "" {
			return model.User{}, apperr.ErrSubscriptionNotFound
		}
		sub, err := call(ctx, s, "get subscription", func(ctx context.Context) (provider.Subscription, error) {
			return s.provider.GetSubscription(ctx, sess.SubscriptionID)
		})
		if err != nil {
			return model.User{}, err
		}
		plan, err := s.store.GetPlanByPriceID(ctx, sub.PriceID)
		if err != nil {
			return model.User{}, err
		}
		updated, err := s.store.Mutate(ctx, userID, func(u *model.User) error {
			u.Subscription = model.Active(sub.ID, u.Subscription.CustomerID, sub.PriceID, plan.Interval, sub.Period)
			u.IsSubscribed = true
			return nil
		})
		if err != nil {
			return model.User{}, err
		}
		s.logger.Info("checkout paid", "user_id", userID, "subscription_id", sub.ID, "plan_id", sub.PriceID)
		return updated, nil

	case provider.PaymentStatusUnpaid:
		// The plan fields were never touched by StartCheckout, so restoring
		// them only means dropping the session and its rollback values.
		return s.store.Mutate(ctx, userID, func(u *model.User) error {
			sub := &u.Subscription
			sub.SessionID = ""
			sub.PreviousPriceID, sub.PreviousPlanID, sub.PreviousPlanType = "", "", ""
			return nil
		})

	default:
		return model.User{}, fmt.Errorf("%w: %q", apperr.ErrInvalidPaymentStatus, sess.PaymentStatus)
	}
}

// Upgrade swaps the subscription's price with prorations. The snapshot is only
// written once the resulting payment intent succeeded.
func (s *Service) Upgrade(ctx context.Context, userID, newPriceID string) (model.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	subID := user.Subscription.SubscriptionID
	if subID == "" {
		return model.User{}, apperr.ErrSubscriptionNotFound
	}
	plan, err := s.store.GetPlanByPriceID(ctx, newPriceID)
	if err != nil {
		return model.User{}, err
	}

	current, err := call(ctx, s, "get subscription", func(ctx context.Context) (provider.Subscription, error) {
		return s.provider.GetSubscription(ctx, subID)
	})
	if err != nil {
		return model.User{}, err
	}

	anchor := s.now()
	if end := current.Period.End; !end.IsZero() && end.Before(anchor) {
		anchor = end
	}

	updated, err := call(ctx, s, "update subscription", func(ctx context.Context) (provider.Subscription, error) {
		return s.provider.UpdateSubscriptionItem(ctx, provider.ItemUpdate{
			SubscriptionID: subID,
			ItemID:         current.ItemID,
			PriceID:        plan.PriceID,
			Proration:      provider.ProrationCreate,
			ProrationDate:  anchor,
			ExpandIntent:   true,
			Metadata: map[string]string{
				provider.MetadataUserID: user.ID,
				"user_name":             user.Name,
				"user_email":            user.Email,
			},
		})
	})
	if err != nil {
		return model.User{}, err
	}
	if updated.PaymentIntentStatus != provider.IntentSucceeded {
		s.logger.Warn("upgrade payment not succeeded", "user_id", userID, "subscription_id", subID, "intent_status", updated.PaymentIntentStatus)
		return model.User{}, fmt.Errorf("%w: intent status %q", apperr.ErrPaymentNotSucceeded, updated.PaymentIntentStatus)
	}

	return s.store.Mutate(ctx, userID, func(u *model.User) error {
		u.Subscription = model.Active(updated.ID, u.Subscription.CustomerID, plan.PriceID, plan.Interval, updated.Period)
		u.IsSubscribed = true
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, userID string) (model.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	subID := user.Subscription.SubscriptionID
	if subID == "" {
		return model.User{}, apperr.ErrSubscriptionNotFound
	}

	sub, err := call(ctx, s, "cancel subscription", func(ctx context.Context) (provider.Subscription, error) {
		return s.provider.CancelSubscription(ctx, subID)
	})
	if err != nil {
		return model.User{}, err
	}
	if sub.Status != provider.StatusCanceled {
		return model.User{}, fmt.Errorf("%w: status %q", apperr.ErrCancelNotConfirmed, sub.Status)
	}

	return s.store.Mutate(ctx, userID, func(u *model.User) error {
		u.Subscription = u.Subscription.Empty()
		u.IsSubscribed = false
		return nil
	})
}

// RequestRefund refunds the payment intent of the subscription's most recent
// invoice.
func (s *Service) RequestRefund(ctx context.Context, userID string) (provider.Refund, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return provider.Refund{}, err
	}
	subID := user.Subscription.SubscriptionID
	if subID == "" {
		return provider.Refund{}, apperr.ErrSubscriptionNotFound
	}

	invoices, err := call(ctx, s, "list invoices", func(ctx context.Context) ([]provider.Invoice, error) {
		return s.provider.ListInvoices(ctx, subID, 1)
	})
	if err != nil {
		return provider.Refund{}, err
	}
	if len(invoices) == 0 || invoices[0].PaymentIntentID == "" {
		return provider.Refund{}, apperr.ErrInvoiceNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	refund, err := s.provider.CreateRefund(ctx, provider.RefundParams{
		PaymentIntentID: invoices[0].PaymentIntentID,
		Metadata: map[string]string{
			provider.MetadataUserID: user.ID,
			"user_email":            user.Email,
		},
	})
	switch {
	case errors.Is(err, provider.ErrAlreadyRefunded):
		return provider.Refund{}, apperr.ErrAlreadyRefunded
	case err != nil:
		return provider.Refund{}, apperr.Provider("create refund", err)
	}
	s.logger.Info("refund requested", "user_id", userID, "refund_id", refund.ID, "invoice_id", invoices[0].ID)
	return refund, nil
}

func (s *Service) BillingPortal(ctx context.Context, userID string) (string, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.Subscription.CustomerID == "" {
		return "", apperr.ErrCustomerNotFound
	}
	return call(ctx, s, "create billing portal session", func(ctx context.Context) (string, error) {
		return s.provider.CreateBillingPortalSession(ctx, user.Subscription.CustomerID, s.cfg.FrontendHost+"/profile")
	})
}

// SubscriptionDetails reads the customer's latest subscription through from
// the provider. When it is the subscription on record the local snapshot is
// refreshed from it.
func (s *Service) SubscriptionDetails(ctx context.Context, userID string) (Details, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return Details{}, err
	}
	customerID := user.Subscription.CustomerID
	if customerID == "" {
		return Details{}, apperr.ErrCustomerNotFound
	}

	subs, err := call(ctx, s, "list subscriptions", func(ctx context.Context) ([]provider.Subscription, error) {
		return s.provider.ListSubscriptions(ctx, customerID, 1)
	})
	if err != nil {
		return Details{}, err
	}
	if len(subs) == 0 {
		return Details{}, apperr.ErrSubscriptionNotFound
	}
	sub := subs[0]

	price, err := call(ctx, s, "get price", func(ctx context.Context) (provider.Price, error) {
		return s.provider.GetPrice(ctx, sub.PriceID)
	})
	if err != nil {
		return Details{}, err
	}
	product, err := call(ctx, s, "get product", func(ctx context.Context) (provider.Product, error) {
		return s.provider.GetProduct(ctx, price.ProductID)
	})
	if err != nil {
		return Details{}, err
	}

	if sub.ID == user.Subscription.SubscriptionID {
		if user, err = s.mirror(ctx, userID, sub); err != nil {
			return Details{}, err
		}
	}
	return Details{User: user, Subscription: sub, Price: price, Product: product}, nil
}

// Sync re-reads the user's subscription from the provider and mirrors it
// into the snapshot.
func (s *Service) Sync(ctx context.Context, userID string) (model.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	subID := user.Subscription.SubscriptionID
	if subID == "" {
		return model.User{}, apperr.ErrSubscriptionNotFound
	}
	sub, err := call(ctx, s, "get subscription", func(ctx context.Context) (provider.Subscription, error) {
		return s.provider.GetSubscription(ctx, subID)
	})
	if err != nil {
		return model.User{}, err
	}
	return s.mirror(ctx, userID, sub)
}

func (s *Service) mirror(ctx context.Context, userID string, sub provider.Subscription) (model.User, error) {
	return s.store.Mutate(ctx, userID, func(u *model.User) error {
		if u.Subscription.SubscriptionID != sub.ID {
			return nil
		}
		Mirror(u, sub)
		return nil
	})
}

// Mirror copies the provider's view of sub onto u. Live subscriptions refresh
// the plan and period, ended ones clear the snapshot and statuses in between
// leave it alone.
func Mirror(u *model.User, sub provider.Subscription) {
	switch sub.Status {
	case provider.StatusActive, provider.StatusTrialing:
		cur := u.Subscription
		next := model.Active(sub.ID, cur.CustomerID, sub.PriceID, sub.Interval, sub.Period)
		next.SessionID = cur.SessionID
		next.PreviousPriceID, next.PreviousPlanID, next.PreviousPlanType = cur.PreviousPriceID, cur.PreviousPlanID, cur.PreviousPlanType
		u.Subscription = next
		u.IsSubscribed = true
	case provider.StatusCanceled, provider.StatusIncompleteExpired:
		u.Subscription = u.Subscription.Empty()
		u.IsSubscribed = false
	}
}
