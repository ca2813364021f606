package provider

import "time"

// Event is the closed set of inbound provider notifications. The set is
// fixed by the unexported marker method on Meta.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m Meta) EventID() string   { return m.ID }
func (m Meta) EventType() string { return m.Type }
func (Meta) isEvent()            {}

type CheckoutCompleted struct {
	Meta
	Session CheckoutSession
}

type CheckoutAsyncPaymentFailed struct {
	Meta
	Session CheckoutSession
}

type PaymentIntentSucceeded struct {
	Meta
	PaymentIntentID string
	CustomerID      string
}

type PaymentIntentFailed struct {
	Meta
	PaymentIntentID string
	CustomerID      string
}

type InvoicePaid struct {
	Meta
	Invoice Invoice
}

type InvoicePaymentFailed struct {
	Meta
	Invoice Invoice
}

type SubscriptionUpdated struct {
	Meta
	Subscription Subscription
}

type SubscriptionDeleted struct {
	Meta
	Subscription Subscription
}

type RefundUpdated struct {
	Meta
	Refund Refund
}

// Unhandled is any verified event this service does not act on.
type Unhandled struct {
	Meta
}
