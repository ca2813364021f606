// Package webhook applies verified payment provider events to local state.
//
// Each event is routed by its decoded variant to one handler. Handlers are
// idempotent: they either overwrite the snapshot from provider data or only
// notify, so a replayed delivery converges on the same state. A user that
// cannot be resolved is logged and the event acknowledged; store failures
// are returned so the provider redelivers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/notify"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
)

const ProviderName = "stripe"

type Store interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByCustomerID(ctx context.Context, customerID string) (model.User, error)
	GetBySessionID(ctx context.Context, sessionID string) (model.User, error)
	Mutate(ctx context.Context, userID string, fn func(*model.User) error) (model.User, error)
	MutateBySessionID(ctx context.Context, sessionID string, fn func(*model.User) error) (model.User, error)
	AppendRefund(ctx context.Context, r model.Refund) (bool, error)
	EventSeen(ctx context.Context, provider, eventID string) (bool, error)
	RecordEvent(ctx context.Context, provider, eventID, eventType string) error
}

type Reminders interface {
	Schedule(ctx context.Context, email string, periodEnd time.Time) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, html string) notify.Result
}

// Outcome is how a delivery was settled.
type Outcome string

const (
	Processed Outcome = "processed"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

type Dispatcher struct {
	store     Store
	provider  provider.Client
	reminders Reminders
	mailer    Mailer
	logger    *slog.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. timeout bounds provider calls and the
// background reminder scheduling.
func NewDispatcher(store Store, client provider.Client, reminders Reminders, mailer Mailer, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:     store,
		provider:  client,
		reminders: reminders,
		mailer:    mailer,
		logger:    logger,
		timeout:   timeout,
	}
}

// Handle verifies and applies one raw delivery. Verification failures wrap
// apperr.ErrVerification and touch nothing.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	evt, err := d.provider.DecodeEvent(payload, signature)
	if err != nil {
		return "", err
	}
	log := d.logger.With("provider_event_id", evt.EventID(), "event_type", evt.EventType())

	if _, ok := evt.(provider.Unhandled); ok {
		log.Info("provider event ignored")
		return Ignored, nil
	}

	seen, err := d.store.EventSeen(ctx, ProviderName, evt.EventID())
	if err != nil {
		return "", fmt.Errorf("check provider event: %w", err)
	}
	if seen {
		log.Info("provider event duplicate ignored")
		return Duplicate, nil
	}

	if err := d.Dispatch(ctx, evt); err != nil {
		log.Error("provider event failed", "err", err)
		return "", err
	}
	if err := d.store.RecordEvent(ctx, ProviderName, evt.EventID(), evt.EventType()); err != nil {
		return "", fmt.Errorf("record provider event: %w", err)
	}
	log.Info("provider event processed")
	return Processed, nil
}

// Dispatch routes a decoded event to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, evt provider.Event) error {
	var err error
	switch e := evt.(type) {
	case provider.CheckoutCompleted:
		err = d.checkoutCompleted(ctx, e)
	case provider.CheckoutAsyncPaymentFailed:
		err = d.checkoutAsyncPaymentFailed(ctx, e)
	case provider.PaymentIntentSucceeded:
		err = d.notifyCustomer(ctx, e.CustomerID, notify.PaymentSucceeded())
	case provider.PaymentIntentFailed:
		err = d.notifyCustomer(ctx, e.CustomerID, notify.PaymentFailed())
	case provider.InvoicePaid:
		err = d.notifyCustomer(ctx, e.Invoice.CustomerID, notify.InvoicePaid())
	case provider.InvoicePaymentFailed:
		err = d.notifyCustomer(ctx, e.Invoice.CustomerID, notify.InvoicePaymentFailed())
	case provider.SubscriptionUpdated:
		err = d.subscriptionUpdated(ctx, e)
	case provider.SubscriptionDeleted:
		err = d.subscriptionDeleted(ctx, e)
	case provider.RefundUpdated:
		err = d.refundUpdated(ctx, e)
	case provider.Unhandled:
	default:
		d.logger.Warn("unknown event variant", "event_type", evt.EventType())
	}

	if errors.Is(err, apperr.ErrUserNotFound) {
		d.logger.Warn("no local user for provider event", "provider_event_id", evt.EventID(), "event_type", evt.EventType())
		return nil
	}
	return err
}

// Wait blocks until background reminder scheduling has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, to string, e notify.Email) {
	if res := d.mailer.Send(ctx, to, e.Subject, e.HTML); !res.Success {
		d.logger.Warn("notification not sent", "to", to, "subject", e.Subject, "reason", res.Message)
	}
}

func (d *Dispatcher) notifyCustomer(ctx context.Context, customerID string, e notify.Email) error {
	user, err := d.store.GetByCustomerID(ctx, customerID)
	if err != nil {
		return err
	}
	d.send(ctx, user.Email, e)
	return nil
}

func (d *Dispatcher) checkoutCompleted(ctx context.Context, e provider.CheckoutCompleted) error {
	user, err := d.store.GetByID(ctx, provider.UserIDFromMetadata(e.Session.Metadata))
	if err != nil {
		return err
	}
	d.send(ctx, user.Email, notify.SubscriptionCreated())
	return nil
}

// checkoutAsyncPaymentFailed rolls the user back to the plan held before the
// failed checkout.
func (d *Dispatcher) checkoutAsyncPaymentFailed(ctx context.Context, e provider.CheckoutAsyncPaymentFailed) error {
	user, err := d.store.GetBySessionID(ctx, e.Session.ID)
	if err != nil {
		return err
	}

	sub := user.Subscription
	if sub.SubscriptionID != "" && sub.PreviousPriceID != "" {
		if err := d.revertItem(ctx, sub.SubscriptionID, sub.PreviousPriceID); err != nil {
			return err
		}
	}

	user, err = d.store.MutateBySessionID(ctx, e.Session.ID, func(u *model.User) error {
		s := &u.Subscription
		if s.SubscriptionID != "" {
			s.PlanID = s.PreviousPlanID
			s.PlanType = s.PreviousPlanType
			s.PlanStartDate, s.PlanEndDate, s.PlanDuration = nil, nil, 0
			u.IsSubscribed = false
		}
		s.SessionID = ""
		s.PreviousPriceID, s.PreviousPlanID, s.PreviousPlanType = "", "", ""
		return nil
	})
	if err != nil {
		return err
	}
	d.send(ctx, user.Email, notify.CheckoutPaymentFailed())
	return nil
}

func (d *Dispatcher) revertItem(ctx context.Context, subscriptionID, priceID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	current, err := d.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return apperr.Provider("get subscription", err)
	}
	if current.PriceID == priceID {
		return nil
	}
	_, err = d.provider.UpdateSubscriptionItem(ctx, provider.ItemUpdate{
		SubscriptionID: subscriptionID,
		ItemID:         current.ItemID,
		PriceID:        priceID,
		Proration:      provider.ProrationNone,
	})
	if err != nil {
		return apperr.Provider("revert subscription item", err)
	}
	return nil
}

func (d *Dispatcher) subscriptionUpdated(ctx context.Context, e provider.SubscriptionUpdated) error {
	user, err := d.store.GetByCustomerID(ctx, e.Subscription.CustomerID)
	if err != nil {
		return err
	}
	d.send(ctx, user.Email, notify.SubscriptionUpdated())

	if e.Subscription.Status == provider.StatusActive && !e.Subscription.Period.End.IsZero() {
		d.scheduleReminder(ctx, user.Email, e.Subscription.Period.End)
	}
	return nil
}

// scheduleReminder runs off the request path. It outlives the delivery but
// not the process: Wait drains it on shutdown.
func (d *Dispatcher) scheduleReminder(ctx context.Context, email string, periodEnd time.Time) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.reminders.Schedule(ctx, email, periodEnd); err != nil {
			d.logger.Error("schedule reminder failed", "email", email, "period_end", periodEnd, "err", err)
		}
	}()
}

func (d *Dispatcher) subscriptionDeleted(ctx context.Context, e provider.SubscriptionDeleted) error {
	sub := e.Subscription
	user, err := d.store.GetByCustomerID(ctx, sub.CustomerID)
	if err != nil {
		return err
	}

	canceled := sub.CancellationReason == provider.ReasonCancellationRequested
	user, err = d.store.Mutate(ctx, user.ID, func(u *model.User) error {
		if canceled {
			u.Subscription = u.Subscription.Empty()
			u.IsSubscribed = false
			return nil
		}
		s := &u.Subscription
		s.PlanID = sub.PriceID
		s.PlanType = sub.Interval
		s.PlanStartDate = timePtr(sub.StartDate)
		s.PlanEndDate = timePtr(sub.Period.End)
		s.PlanDuration = 0
		if s.PlanStartDate != nil && s.PlanEndDate != nil {
			s.PlanDuration = model.Period{Start: sub.StartDate, End: sub.Period.End}.Days()
		}
		u.IsSubscribed = sub.Status == provider.StatusActive
		return nil
	})
	if err != nil {
		return err
	}

	if canceled {
		d.send(ctx, user.Email, notify.SubscriptionCanceled())
	} else {
		d.send(ctx, user.Email, notify.SubscriptionUpdated())
	}
	return nil
}

// refundUpdated appends one refund row per provider event. Later status
// changes of the same refund become new rows.
func (d *Dispatcher) refundUpdated(ctx context.Context, e provider.RefundUpdated) error {
	user, err := d.store.GetByID(ctx, provider.UserIDFromMetadata(e.Refund.Metadata))
	if err != nil {
		return err
	}
	inserted, err := d.store.AppendRefund(ctx, model.Refund{
		UserID:          user.ID,
		RefundID:        e.Refund.ID,
		ProviderEventID: e.EventID(),
		Amount:          e.Refund.Amount,
		Status:          e.Refund.Status,
		CreatedAt:       e.Refund.Created,
	})
	if err != nil {
		return fmt.Errorf("append refund: %w", err)
	}
	if !inserted {
		d.logger.Info("refund event already recorded", "refund_id", e.Refund.ID, "provider_event_id", e.EventID())
	}
	d.send(ctx, user.Email, notify.RefundUpdated(e.Refund.ID))
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
