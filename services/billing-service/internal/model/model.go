package model

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         string       `json:"role"`
	IsSubscribed bool         `json:"is_subscribed"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Subscription is the single embedded subscription snapshot of a user.
// CustomerID is assigned once and survives every reset.
type Subscription struct {
	SubscriptionID   string     `json:"subscription_id"`
	CustomerID       string     `json:"customer_id"`
	SessionID        string     `json:"session_id"`
	PlanID           string     `json:"plan_id"`
	PlanType         string     `json:"plan_type"`
	PlanStartDate    *time.Time `json:"plan_start_date"`
	PlanEndDate      *time.Time `json:"plan_end_date"`
	PlanDuration     int        `json:"plan_duration"`
	PreviousPriceID  string     `json:"previous_price_id,omitempty"`
	PreviousPlanID   string     `json:"previous_plan_id,omitempty"`
	PreviousPlanType string     `json:"previous_plan_type,omitempty"`
}

// Empty is the cleared snapshot. Only the customer id is kept.
func (s Subscription) Empty() Subscription {
	return Subscription{CustomerID: s.CustomerID}
}

// Equal compares snapshots, treating dates as instants.
func (s Subscription) Equal(o Subscription) bool {
	a, b := s, o
	a.PlanStartDate, a.PlanEndDate, b.PlanStartDate, b.PlanEndDate = nil, nil, nil, nil
	return a == b && sameInstant(s.PlanStartDate, o.PlanStartDate) && sameInstant(s.PlanEndDate, o.PlanEndDate)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Period is a provider billing period.
type Period struct {
	Start time.Time
	End   time.Time
}

// Days is end - start in whole days.
func (p Period) Days() int {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return 0
	}
	return int(p.End.Sub(p.Start) / (24 * time.Hour))
}

// Active builds the snapshot written after a confirmed payment. The session
// id and rollback fields are cleared.
func Active(subscriptionID, customerID, planID, planType string, period Period) Subscription {
	s := Subscription{
		SubscriptionID: subscriptionID,
		CustomerID:     customerID,
		PlanID:         planID,
		PlanType:       planType,
		PlanDuration:   period.Days(),
	}
	if !period.Start.IsZero() {
		start := period.Start.UTC()
		s.PlanStartDate = &start
	}
	if !period.End.IsZero() {
		end := period.End.UTC()
		s.PlanEndDate = &end
	}
	return s
}

// Entitled reports whether the user currently holds a live subscription.
func (u User) Entitled(now time.Time) bool {
	if !u.IsSubscribed || u.Subscription.SubscriptionID == "" {
		return false
	}
	return u.Subscription.PlanEndDate == nil || u.Subscription.PlanEndDate.After(now)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Plan struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PriceID   string    `json:"stripe_price_id"`
	ProductID string    `json:"stripe_product_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Interval  string    `json:"type"`
	TrialDays int       `json:"trial_days"`
	IsTrial   bool      `json:"is_trial"`
	Features  Features  `json:"features"`
	CreatedAt time.Time `json:"created_at"`
}

type Features struct {
	UserCount            int    `json:"user_count"`
	ChatInference        string `json:"chat_inference"`
	ImageGeneration      int    `json:"image_generation"`
	VideoSummarization   string `json:"youtube_video_summarization"`
	StockInsights        bool   `json:"financial_data_insight_for_stocks"`
	NewsAggregatorPerDay int    `json:"news_aggregator_per_day"`
}

// Refund is an append-only record of one provider refund event.
type Refund struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	RefundID        string    `json:"refund_id"`
	ProviderEventID string    `json:"provider_event_id"`
	Amount          int64     `json:"amount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	RecordedAt      time.Time `json:"recorded_at"`
}
