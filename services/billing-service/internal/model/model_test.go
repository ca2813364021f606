package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodDays(t *testing.T) {
	p := Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 31, p.Days())
	assert.Equal(t, 0, Period{}.Days())
	assert.Equal(t, 0, Period{Start: p.End, End: p.Start}.Days())
}

func TestEmptyKeepsCustomer(t *testing.T) {
	s := Active("sub_1", "cus_1", "price_basic", "month", Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	s.SessionID = "cs_1"
	assert.Equal(t, Subscription{CustomerID: "cus_1"}, s.Empty())
}

func TestEntitled(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	u := User{IsSubscribed: true, Subscription: Active("sub_1", "cus_1", "p", "month", Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})}
	assert.True(t, u.Entitled(now))
	assert.False(t, u.Entitled(now.AddDate(0, 1, 0)))

	u.Subscription = u.Subscription.Empty()
	assert.False(t, u.Entitled(now))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@example.com", NormalizeEmail("  A@Example.COM "))
}

func TestSubscriptionEqual(t *testing.T) {
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	local := end.In(time.FixedZone("X", 3600))
	a := Subscription{SubscriptionID: "sub_1", PlanEndDate: &end}
	b := Subscription{SubscriptionID: "sub_1", PlanEndDate: &local}
	assert.True(t, a.Equal(b))

	b.PlanEndDate = nil
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(Subscription{SubscriptionID: "sub_2", PlanEndDate: &end}))
}
