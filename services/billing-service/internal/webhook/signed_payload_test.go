package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

const signingSecret = "whsec_dispatch"

// stripeDispatcher decodes real signed payloads instead of the fake
// provider's registered events.
func (h *harness) stripeDispatcher() *webhook.Dispatcher {
	client := provider.NewStripe(provider.StripeConfig{SecretKey: "sk_test", WebhookSecret: signingSecret})
	return webhook.NewDispatcher(h.store, client, h.reminders, h.mailer, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
}

func signedEvent(t *testing.T, id, typ string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    typ,
		"created": jan1.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	sp := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    signingSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return payload, sp.Header
}

func TestSignedCheckoutCompletedResolvesUser(t *testing.T) {
	for _, key := range []string{"userId", "user_id"} {
		t.Run(key, func(t *testing.T) {
			h := newHarness(t)
			d := h.stripeDispatcher()

			payload, sig := signedEvent(t, "evt_cs_"+key, "checkout.session.completed", map[string]any{
				"id":       "cs_1",
				"object":   "checkout.session",
				"customer": "cus_1",
				"metadata": map[string]string{key: h.user.ID},
			})
			out, err := d.Handle(context.Background(), payload, sig)
			require.NoError(t, err)
			assert.Equal(t, webhook.Processed, out)
			assert.Equal(t, []string{"Subscription Created"}, h.mailer.Subjects())
		})
	}
}

func TestSignedRefundUpdatedResolvesUser(t *testing.T) {
	h := newHarness(t)
	d := h.stripeDispatcher()

	payload, sig := signedEvent(t, "evt_re_1", "charge.refund.updated", map[string]any{
		"id":       "re_1",
		"object":   "refund",
		"amount":   1000,
		"status":   "succeeded",
		"created":  jan1.Unix(),
		"metadata": map[string]string{"userId": h.user.ID},
	})
	out, err := d.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, webhook.Processed, out)

	rows, err := h.store.ListRefunds(context.Background(), h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "re_1", rows[0].RefundID)
	assert.Len(t, h.mailer.Sent, 1)
}
