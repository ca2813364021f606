// Package provider is the boundary to the payment processor. Everything the
// orchestrator and the webhook dispatcher need from it goes through Client.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

var (
	ErrVerification    = apperr.ErrInvalidSignature
	ErrAlreadyRefunded = errors.New("charge already refunded")
	ErrMalformedEvent  = fmt.Errorf("%w: malformed event payload", apperr.ErrVerification)
)

const (
	ProrationCreate = "create_prorations"
	ProrationNone   = "none"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"

	IntentSucceeded = "succeeded"

	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusCanceled          = "canceled"
	StatusIncompleteExpired = "incomplete_expired"

	ReasonCancellationRequested = "cancellation_requested"

	// MetadataUserID is the metadata key carrying the local user id on
	// customers, sessions, subscriptions and refunds.
	MetadataUserID = "userId"
	// legacyMetadataUserID was written by earlier releases.
	legacyMetadataUserID = "user_id"
)

// UserIDFromMetadata returns the local user id stamped on a provider object.
func UserIDFromMetadata(md map[string]string) string {
	if id := md[MetadataUserID]; id != "" {
		return id
	}
	return md[legacyMetadataUserID]
}

type Client interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, p ItemUpdate) (Subscription, error)
	CancelSubscription(ctx context.Context, id string) (Subscription, error)
	ListInvoices(ctx context.Context, subscriptionID string, limit int) ([]Invoice, error)
	CreateRefund(ctx context.Context, p RefundParams) (Refund, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetPrice(ctx context.Context, id string) (Price, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	CreateProduct(ctx context.Context, name string) (Product, error)
	CreatePrice(ctx context.Context, p PriceParams) (Price, error)
	DecodeEvent(payload []byte, signature string) (Event, error)
}

type CustomerParams struct {
	Email  string
	Name   string
	UserID string
}

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	SubscriptionID string
	PaymentStatus  string
	Metadata       map[string]string
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	ItemID             string
	PriceID            string
	Interval           string
	Period             model.Period
	StartDate          time.Time
	CancellationReason string
	// Payment intent of the latest invoice, present when it was expanded.
	PaymentIntentID     string
	PaymentIntentStatus string
	Metadata            map[string]string
}

// ItemUpdate swaps the price of a subscription's single item.
type ItemUpdate struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	Proration      string
	ProrationDate  time.Time
	ExpandIntent   bool
	Metadata       map[string]string
}

type Invoice struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	Created         time.Time
}

type RefundParams struct {
	PaymentIntentID string
	Metadata        map[string]string
}

type Refund struct {
	ID       string
	Amount   int64
	Status   string
	Created  time.Time
	Metadata map[string]string
}

type Price struct {
	ID         string
	ProductID  string
	Currency   string
	UnitAmount int64
	Interval   string
}

type PriceParams struct {
	ProductID  string
	UnitAmount int64
	Currency   string
	Interval   string
}

type Product struct {
	ID   string
	Name string
}
