// Command stripe-webhook-sim posts signed test events to a running billing
// service so webhook flows can be exercised without the Stripe CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

type eventParams struct {
	EventID        string
	Type           string
	Created        time.Time
	UserID         string
	CustomerID     string
	SubscriptionID string
	SessionID      string
	PriceID        string
	Status         string
	PaymentStatus  string
	RefundID       string
}

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "billing service base url")
		secret  = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		p       eventParams
	)
	flag.StringVar(&p.Type, "type", getenv("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
	flag.StringVar(&p.EventID, "event-id", "", "event id, generated when empty; reuse one to test replays")
	flag.StringVar(&p.UserID, "user-id", getenv("USER_ID", ""), "userId metadata")
	flag.StringVar(&p.CustomerID, "customer", getenv("CUSTOMER_ID", "cus_test_123"), "customer id")
	flag.StringVar(&p.SubscriptionID, "subscription", getenv("SUBSCRIPTION_ID", "sub_test_123"), "subscription id")
	flag.StringVar(&p.SessionID, "session", getenv("SESSION_ID", "cs_test_123"), "checkout session id")
	flag.StringVar(&p.PriceID, "price", getenv("PRICE_ID", "price_test_123"), "price id on the subscription item")
	flag.StringVar(&p.Status, "status", "active", "subscription status")
	flag.StringVar(&p.PaymentStatus, "payment-status", "paid", "checkout session payment status")
	flag.StringVar(&p.RefundID, "refund", "re_test_123", "refund id")
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}

	p.Created = time.Now().UTC()
	if p.EventID == "" {
		p.EventID = fmt.Sprintf("evt_test_%d", p.Created.UnixNano())
	}
	payload, err := buildEventJSON(p)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: p.Created,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	fmt.Printf("event=%s status=%d body=%s\n", p.EventID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(p eventParams) ([]byte, error) {
	var object map[string]any
	switch p.Type {
	case "checkout.session.completed", "checkout.session.async_payment_failed":
		object = map[string]any{
			"id":             p.SessionID,
			"object":         "checkout.session",
			"customer":       p.CustomerID,
			"subscription":   p.SubscriptionID,
			"payment_status": p.PaymentStatus,
			"metadata":       map[string]any{"userId": p.UserID},
		}
	case "customer.subscription.updated", "customer.subscription.deleted":
		object = map[string]any{
			"id":                   p.SubscriptionID,
			"object":               "subscription",
			"customer":             p.CustomerID,
			"status":               p.Status,
			"start_date":           p.Created.Unix(),
			"current_period_start": p.Created.Unix(),
			"current_period_end":   p.Created.AddDate(0, 1, 0).Unix(),
			"metadata":             map[string]any{"userId": p.UserID},
			"items": map[string]any{
				"object": "list",
				"data": []any{map[string]any{
					"id":     "si_test_123",
					"object": "subscription_item",
					"price": map[string]any{
						"id":        p.PriceID,
						"object":    "price",
						"recurring": map[string]any{"interval": "month"},
					},
				}},
			},
		}
		if p.Type == "customer.subscription.deleted" {
			object["status"] = "canceled"
			object["cancellation_details"] = map[string]any{"reason": "cancellation_requested"}
		}
	case "invoice.paid", "invoice.payment_failed":
		object = map[string]any{
			"id":           "in_test_123",
			"object":       "invoice",
			"customer":     p.CustomerID,
			"subscription": p.SubscriptionID,
		}
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		object = map[string]any{
			"id":       "pi_test_123",
			"object":   "payment_intent",
			"customer": p.CustomerID,
		}
	case "charge.refund.updated":
		object = map[string]any{
			"id":       p.RefundID,
			"object":   "refund",
			"amount":   1000,
			"status":   "succeeded",
			"created":  p.Created.Unix(),
			"metadata": map[string]any{"userId": p.UserID},
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", p.Type)
	}

	return json.Marshal(map[string]any{
		"id":          p.EventID,
		"object":      "event",
		"created":     p.Created.Unix(),
		"type":        p.Type,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
