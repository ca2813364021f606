package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func params(eventType string) eventParams {
	return eventParams{
		EventID:        "evt_1",
		Type:           eventType,
		Created:        time.Now().UTC(),
		UserID:         "user-1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		SessionID:      "cs_1",
		PriceID:        "price_1",
		Status:         "active",
		PaymentStatus:  "paid",
		RefundID:       "re_1",
	}
}

func TestSignedPayloadVerifies(t *testing.T) {
	p := params("customer.subscription.updated")
	payload, err := buildEventJSON(p)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test", Timestamp: p.Created, Scheme: "v1"})
	evt, err := webhook.ConstructEventWithOptions(payload, signed.Header, "whsec_test", webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)

	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal(evt.Data.Raw, &sub))
	assert.Equal(t, "cus_1", sub.Customer.ID)
	require.Len(t, sub.Items.Data, 1)
	assert.Equal(t, "price_1", sub.Items.Data[0].Price.ID)
	assert.Equal(t, "month", string(sub.Items.Data[0].Price.Recurring.Interval))
}

func TestCheckoutEventCarriesUserMetadata(t *testing.T) {
	payload, err := buildEventJSON(params("checkout.session.completed"))
	require.NoError(t, err)

	var evt stripe.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	var sess stripe.CheckoutSession
	require.NoError(t, json.Unmarshal(evt.Data.Raw, &sess))
	assert.Equal(t, "user-1", sess.Metadata["userId"])
	assert.Equal(t, "paid", string(sess.PaymentStatus))
}

func TestDeletedEventIsCanceled(t *testing.T) {
	payload, err := buildEventJSON(params("customer.subscription.deleted"))
	require.NoError(t, err)

	var evt stripe.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal(evt.Data.Raw, &sub))
	assert.Equal(t, "canceled", string(sub.Status))
	assert.Equal(t, "cancellation_requested", string(sub.CancellationDetails.Reason))
}

func TestUnsupportedEventType(t *testing.T) {
	_, err := buildEventJSON(params("customer.created"))
	assert.Error(t, err)
}
