package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
)

// ValidSignature is the only signature Provider.DecodeEvent accepts.
const ValidSignature = "valid"

// Provider is a scripted provider.Client. Tests seed its maps and read back
// the recorded calls.
type Provider struct {
	mu  sync.Mutex
	seq int

	Sessions      map[string]provider.CheckoutSession
	Subscriptions map[string]provider.Subscription
	Invoices      map[string][]provider.Invoice
	Prices        map[string]provider.Price
	Products      map[string]provider.Product
	// Events maps a raw payload to the event DecodeEvent returns for it.
	Events map[string]provider.Event

	// IntentStatus is the latest invoice payment intent status reported by
	// UpdateSubscriptionItem when ExpandIntent is set. Defaults to succeeded.
	IntentStatus string
	// CancelStatus is the status CancelSubscription reports. Defaults to canceled.
	CancelStatus string
	RefundErr    error
	// Err fails every outbound call when set.
	Err error

	Customers []provider.CustomerParams
	Checkouts []provider.CheckoutParams
	Updates   []provider.ItemUpdate
	Cancels   []string
	Refunds   []provider.RefundParams
}

var _ provider.Client = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{
		Sessions:      map[string]provider.CheckoutSession{},
		Subscriptions: map[string]provider.Subscription{},
		Invoices:      map[string][]provider.Invoice{},
		Prices:        map[string]provider.Price{},
		Products:      map[string]provider.Product{},
		Events:        map[string]provider.Event{},
	}
}

func (p *Provider) next(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *Provider) CreateCustomer(_ context.Context, params provider.CustomerParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.Customers = append(p.Customers, params)
	return p.next("cus"), nil
}

func (p *Provider) CreateCheckoutSession(_ context.Context, params provider.CheckoutParams) (provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.CheckoutSession{}, p.Err
	}
	p.Checkouts = append(p.Checkouts, params)
	id := p.next("cs")
	s := provider.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.test/" + id,
		CustomerID:    params.CustomerID,
		PaymentStatus: provider.PaymentStatusUnpaid,
		Metadata:      map[string]string{provider.MetadataUserID: params.UserID},
	}
	p.Sessions[id] = s
	return s, nil
}

func (p *Provider) GetCheckoutSession(_ context.Context, id string) (provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.CheckoutSession{}, p.Err
	}
	s, ok := p.Sessions[id]
	if !ok {
		return provider.CheckoutSession{}, fmt.Errorf("no such checkout session: %s", id)
	}
	return s, nil
}

func (p *Provider) GetSubscription(_ context.Context, id string) (provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Subscription{}, p.Err
	}
	s, ok := p.Subscriptions[id]
	if !ok {
		return provider.Subscription{}, fmt.Errorf("no such subscription: %s", id)
	}
	return s, nil
}

func (p *Provider) ListSubscriptions(_ context.Context, customerID string, limit int) ([]provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	var out []provider.Subscription
	for _, s := range p.Subscriptions {
		if s.CustomerID == customerID {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Provider) UpdateSubscriptionItem(_ context.Context, u provider.ItemUpdate) (provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Subscription{}, p.Err
	}
	s, ok := p.Subscriptions[u.SubscriptionID]
	if !ok {
		return provider.Subscription{}, fmt.Errorf("no such subscription: %s", u.SubscriptionID)
	}
	p.Updates = append(p.Updates, u)
	s.PriceID = u.PriceID
	if price, ok := p.Prices[u.PriceID]; ok && price.Interval != "" {
		s.Interval = price.Interval
	}
	p.Subscriptions[s.ID] = s

	if u.ExpandIntent {
		s.PaymentIntentID = p.next("pi")
		s.PaymentIntentStatus = p.IntentStatus
		if s.PaymentIntentStatus == "" {
			s.PaymentIntentStatus = provider.IntentSucceeded
		}
	}
	return s, nil
}

func (p *Provider) CancelSubscription(_ context.Context, id string) (provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Subscription{}, p.Err
	}
	s, ok := p.Subscriptions[id]
	if !ok {
		return provider.Subscription{}, fmt.Errorf("no such subscription: %s", id)
	}
	p.Cancels = append(p.Cancels, id)
	s.Status = p.CancelStatus
	if s.Status == "" {
		s.Status = provider.StatusCanceled
	}
	p.Subscriptions[id] = s
	return s, nil
}

func (p *Provider) ListInvoices(_ context.Context, subscriptionID string, limit int) ([]provider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	out := p.Invoices[subscriptionID]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Provider) CreateRefund(_ context.Context, params provider.RefundParams) (provider.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Refund{}, p.Err
	}
	p.Refunds = append(p.Refunds, params)
	if p.RefundErr != nil {
		return provider.Refund{}, p.RefundErr
	}
	return provider.Refund{ID: p.next("re"), Status: "succeeded", Metadata: params.Metadata}, nil
}

func (p *Provider) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return fmt.Sprintf("https://portal.test/%s?return=%s", customerID, returnURL), nil
}

func (p *Provider) GetPrice(_ context.Context, id string) (provider.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Price{}, p.Err
	}
	price, ok := p.Prices[id]
	if !ok {
		return provider.Price{}, fmt.Errorf("no such price: %s", id)
	}
	return price, nil
}

func (p *Provider) GetProduct(_ context.Context, id string) (provider.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Product{}, p.Err
	}
	prod, ok := p.Products[id]
	if !ok {
		return provider.Product{}, fmt.Errorf("no such product: %s", id)
	}
	return prod, nil
}

func (p *Provider) CreateProduct(_ context.Context, name string) (provider.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Product{}, p.Err
	}
	prod := provider.Product{ID: p.next("prod"), Name: name}
	p.Products[prod.ID] = prod
	return prod, nil
}

func (p *Provider) CreatePrice(_ context.Context, params provider.PriceParams) (provider.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return provider.Price{}, p.Err
	}
	price := provider.Price{
		ID:         p.next("price"),
		ProductID:  params.ProductID,
		Currency:   params.Currency,
		UnitAmount: params.UnitAmount,
		Interval:   params.Interval,
	}
	p.Prices[price.ID] = price
	return price, nil
}

func (p *Provider) DecodeEvent(payload []byte, signature string) (provider.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if signature != ValidSignature {
		return nil, provider.ErrVerification
	}
	evt, ok := p.Events[string(payload)]
	if !ok {
		return nil, provider.ErrMalformedEvent
	}
	return evt, nil
}

// SetSession replaces a stored checkout session.
func (p *Provider) SetSession(s provider.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sessions[s.ID] = s
}

func (p *Provider) SetSubscription(s provider.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subscriptions[s.ID] = s
}
