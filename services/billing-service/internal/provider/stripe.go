package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	// Backends overrides the API endpoint; tests point it at httptest.
	Backends *stripe.Backends
}

// Stripe implements Client with an owned API client instead of the
// package level stripe.Key.
type Stripe struct {
	api              *client.API
	webhookSecret    string
	webhookTolerance time.Duration
}

var _ Client = (*Stripe)(nil)

func NewStripe(cfg StripeConfig) *Stripe {
	api := &client.API{}
	api.Init(strings.TrimSpace(cfg.SecretKey), cfg.Backends)
	tol := cfg.WebhookTolerance
	if tol <= 0 {
		tol = webhook.DefaultTolerance
	}
	return &Stripe{
		api:              api,
		webhookSecret:    strings.TrimSpace(cfg.WebhookSecret),
		webhookTolerance: tol,
	}
}

func (s *Stripe) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
		Name:  stripe.String(p.Name),
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, p.UserID)
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(p.CustomerID),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, p.UserID)
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return fromCheckoutSession(sess), nil
}

func (s *Stripe) GetCheckoutSession(ctx context.Context, id string) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return fromCheckoutSession(sess), nil
}

func (s *Stripe) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		return Subscription{}, err
	}
	return fromSubscription(sub), nil
}

func (s *Stripe) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(orOne(limit)))
	params.Single = true

	var out []Subscription
	it := s.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, fromSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stripe) UpdateSubscriptionItem(ctx context.Context, p ItemUpdate) (Subscription, error) {
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(p.ItemID),
				Price: stripe.String(p.PriceID),
			},
		},
		ProrationBehavior: stripe.String(p.Proration),
	}
	params.Context = ctx
	if !p.ProrationDate.IsZero() {
		params.ProrationDate = stripe.Int64(p.ProrationDate.Unix())
	}
	if p.ExpandIntent {
		params.AddExpand("latest_invoice.payment_intent")
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	sub, err := s.api.Subscriptions.Update(p.SubscriptionID, params)
	if err != nil {
		return Subscription{}, err
	}
	return fromSubscription(sub), nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, id string) (Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return Subscription{}, err
	}
	return fromSubscription(sub), nil
}

func (s *Stripe) ListInvoices(ctx context.Context, subscriptionID string, limit int) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{Subscription: stripe.String(subscriptionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(orOne(limit)))
	params.Single = true

	var out []Invoice
	it := s.api.Invoices.List(params)
	for it.Next() {
		out = append(out, fromInvoice(it.Invoice()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stripe) CreateRefund(ctx context.Context, p RefundParams) (Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(p.PaymentIntentID)}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	r, err := s.api.Refunds.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return Refund{}, fmt.Errorf("%w: %s", ErrAlreadyRefunded, se.Msg)
		}
		return Refund{}, err
	}
	return fromRefund(r), nil
}

func (s *Stripe) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (s *Stripe) GetPrice(ctx context.Context, id string) (Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	p, err := s.api.Prices.Get(id, params)
	if err != nil {
		return Price{}, err
	}
	return fromPrice(p), nil
}

func (s *Stripe) GetProduct(ctx context.Context, id string) (Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	p, err := s.api.Products.Get(id, params)
	if err != nil {
		return Product{}, err
	}
	return Product{ID: p.ID, Name: p.Name}, nil
}

func (s *Stripe) CreateProduct(ctx context.Context, name string) (Product, error) {
	params := &stripe.ProductParams{Name: stripe.String(name)}
	params.Context = ctx
	p, err := s.api.Products.New(params)
	if err != nil {
		return Product{}, err
	}
	return Product{ID: p.ID, Name: p.Name}, nil
}

func (s *Stripe) CreatePrice(ctx context.Context, p PriceParams) (Price, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(p.ProductID),
		UnitAmount: stripe.Int64(p.UnitAmount),
		Currency:   stripe.String(p.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(p.Interval),
		},
	}
	params.Context = ctx
	price, err := s.api.Prices.New(params)
	if err != nil {
		return Price{}, err
	}
	return fromPrice(price), nil
}

// DecodeEvent verifies the Stripe-Signature header against the raw body and
// resolves the event into one variant of Event.
func (s *Stripe) DecodeEvent(payload []byte, signature string) (Event, error) {
	if s.webhookSecret == "" || strings.TrimSpace(signature) == "" {
		return nil, ErrVerification
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	return decodeEvent(evt)
}

func decodeEvent(evt stripe.Event) (Event, error) {
	meta := Meta{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: unixTime(evt.Created),
	}
	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch meta.Type {
	case "checkout.session.completed", "checkout.session.async_payment_failed":
		var sess stripe.CheckoutSession
		if err := unmarshal(raw, &sess); err != nil {
			return nil, err
		}
		if meta.Type == "checkout.session.completed" {
			return CheckoutCompleted{Meta: meta, Session: fromCheckoutSession(&sess)}, nil
		}
		return CheckoutAsyncPaymentFailed{Meta: meta, Session: fromCheckoutSession(&sess)}, nil

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		customerID := ""
		if pi.Customer != nil {
			customerID = pi.Customer.ID
		}
		if meta.Type == "payment_intent.succeeded" {
			return PaymentIntentSucceeded{Meta: meta, PaymentIntentID: pi.ID, CustomerID: customerID}, nil
		}
		return PaymentIntentFailed{Meta: meta, PaymentIntentID: pi.ID, CustomerID: customerID}, nil

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		if meta.Type == "invoice.paid" {
			return InvoicePaid{Meta: meta, Invoice: fromInvoice(&inv)}, nil
		}
		return InvoicePaymentFailed{Meta: meta, Invoice: fromInvoice(&inv)}, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		if meta.Type == "customer.subscription.updated" {
			return SubscriptionUpdated{Meta: meta, Subscription: fromSubscription(&sub)}, nil
		}
		return SubscriptionDeleted{Meta: meta, Subscription: fromSubscription(&sub)}, nil

	case "charge.refund.updated":
		var r stripe.Refund
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return RefundUpdated{Meta: meta, Refund: fromRefund(&r)}, nil

	default:
		return Unhandled{Meta: meta}, nil
	}
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrMalformedEvent
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return nil
}

func fromCheckoutSession(sess *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out
}

func fromSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
		Period: model.Period{
			Start: unixTime(sub.CurrentPeriodStart),
			End:   unixTime(sub.CurrentPeriodEnd),
		},
		StartDate: unixTime(sub.StartDate),
		Metadata:  sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
		if item.Plan != nil {
			if out.PriceID == "" {
				out.PriceID = item.Plan.ID
			}
			if out.Interval == "" {
				out.Interval = string(item.Plan.Interval)
			}
		}
	}
	if sub.CancellationDetails != nil {
		out.CancellationReason = string(sub.CancellationDetails.Reason)
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.PaymentIntentID = sub.LatestInvoice.PaymentIntent.ID
		out.PaymentIntentStatus = string(sub.LatestInvoice.PaymentIntent.Status)
	}
	return out
}

func fromInvoice(inv *stripe.Invoice) Invoice {
	out := Invoice{ID: inv.ID, Created: unixTime(inv.Created)}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	return out
}

func fromRefund(r *stripe.Refund) Refund {
	return Refund{
		ID:       r.ID,
		Amount:   r.Amount,
		Status:   string(r.Status),
		Created:  unixTime(r.Created),
		Metadata: r.Metadata,
	}
}

func fromPrice(p *stripe.Price) Price {
	out := Price{
		ID:         p.ID,
		Currency:   string(p.Currency),
		UnitAmount: p.UnitAmount,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
