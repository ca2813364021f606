package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/subsync/libs/auth"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/billing"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/fakes"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/plans"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testEnv struct {
	store  *fakes.Store
	prov   *fakes.Provider
	mailer *fakes.Mailer
	srv    *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &testEnv{store: fakes.NewStore(), prov: fakes.NewProvider(), mailer: &fakes.Mailer{}}
	e.store.PutPlan(model.Plan{Name: "Basic", PriceID: "price_basic", Amount: 1000, Currency: "usd", Interval: "month"})

	svc := billing.NewService(e.store, e.prov, logger, billing.Config{FrontendHost: "https://app.test"})
	catalog := plans.NewCatalog(e.store, e.prov, logger, time.Second)
	dispatcher := webhook.NewDispatcher(e.store, e.prov, &fakes.Reminders{}, e.mailer, logger, time.Second)
	h := New(e.store, svc, catalog, dispatcher, logger, Config{JWTSecret: testSecret})

	e.srv = httptest.NewServer(h.Routes(nil))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *testEnv) tokenFor(t *testing.T, u model.User) string {
	t.Helper()
	token, err := auth.Issue(u.ID, u.Email, u.Role, testSecret, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Token   string          `json:"token"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestSignupAndLogin(t *testing.T) {
	e := newEnv(t)

	status, resp := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Ada Lovelace", "email": "Ada@Example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)

	status, _ = e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Ada Again", "email": "ada@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, resp = e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, status)
	claims, err := auth.ParseAndVerifyHS256(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)

	status, resp = e.do(t, http.MethodGet, "/api/v1/users/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var me model.User
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, claims.Sub, me.ID)
	assert.NotContains(t, string(resp.Data), "password")
	assert.Contains(t, string(resp.Data), `"entitled":false`)
}

func TestMeReportsEntitlement(t *testing.T) {
	e := newEnv(t)
	now := time.Now().UTC()
	live := e.store.Put(model.User{
		Name: "Ada", Email: "ada@example.com", IsSubscribed: true,
		Subscription: model.Active("sub_1", "cus_1", "price_basic", "month", model.Period{Start: now.Add(-time.Hour), End: now.Add(24 * time.Hour)}),
	})
	lapsed := e.store.Put(model.User{
		Name: "Bob", Email: "bob@example.com", IsSubscribed: true,
		Subscription: model.Active("sub_2", "cus_2", "price_basic", "month", model.Period{Start: now.Add(-48 * time.Hour), End: now.Add(-time.Hour)}),
	})

	var me struct {
		ID       string `json:"id"`
		Entitled bool   `json:"entitled"`
	}
	status, resp := e.do(t, http.MethodGet, "/api/v1/users/me", e.tokenFor(t, live), nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, live.ID, me.ID)
	assert.True(t, me.Entitled)

	status, resp = e.do(t, http.MethodGet, "/api/v1/users/me", e.tokenFor(t, lapsed), nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.False(t, me.Entitled)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	e.store.Put(model.User{Name: "Ada", Email: "ada@example.com", PasswordHash: hash})

	status, _ := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSignupValidation(t *testing.T) {
	e := newEnv(t)
	status, resp := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": "Al", "email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Message, "email")
	assert.Contains(t, resp.Message, "password")
}

func TestOversizedBodiesRejected(t *testing.T) {
	e := newEnv(t)
	huge := strings.Repeat("a", jsonBodyLimit+1)

	status, resp := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": huge, "email": "ada@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "request body too large", resp.Message)

	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})
	status, _ = e.do(t, http.MethodPost, "/api/v1/billing/checkout", e.tokenFor(t, user), map[string]string{"price_id": huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodPost, "/api/v1/billing/checkout", "garbage", map[string]string{"price_id": "price_basic"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreatePlanRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})
	admin := e.store.Put(model.User{Name: "Root", Email: "root@example.com", Role: model.RoleAdmin})
	body := map[string]any{
		"name": "Pro Plan", "amount": 29.99, "type": "month",
		"chat_inference": "unlimited", "youtube_video_summarization": "10 per day",
	}

	status, _ := e.do(t, http.MethodPost, "/api/v1/plans/", e.tokenFor(t, user), body)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := e.do(t, http.MethodPost, "/api/v1/plans/", e.tokenFor(t, admin), body)
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var plan model.Plan
	require.NoError(t, json.Unmarshal(resp.Data, &plan))
	assert.Equal(t, int64(2999), plan.Amount)
	assert.NotEmpty(t, plan.PriceID)

	body["type"] = "decade"
	status, _ = e.do(t, http.MethodPost, "/api/v1/plans/", e.tokenFor(t, admin), body)
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = e.do(t, http.MethodGet, "/api/v1/plans/", "", nil)
	require.Equal(t, http.StatusOK, status)
	var all []model.Plan
	require.NoError(t, json.Unmarshal(resp.Data, &all))
	assert.Len(t, all, 2)
}

func TestCheckoutFlow(t *testing.T) {
	e := newEnv(t)
	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})
	token := e.tokenFor(t, user)

	status, resp := e.do(t, http.MethodPost, "/api/v1/billing/checkout", token, map[string]string{"price_id": "price_basic"})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var sess billing.Session
	require.NoError(t, json.Unmarshal(resp.Data, &sess))
	assert.Equal(t, "https://checkout.test/"+sess.ID, sess.URL)

	status, _ = e.do(t, http.MethodPost, "/api/v1/billing/checkout", token, map[string]string{"price_id": "price_missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, http.MethodPost, "/api/v1/billing/checkout/resolve", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPortalWithoutCustomer(t *testing.T) {
	e := newEnv(t)
	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})

	status, resp := e.do(t, http.MethodPost, "/api/v1/billing/portal", e.tokenFor(t, user), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
}

func TestCancelWithoutSubscription(t *testing.T) {
	e := newEnv(t)
	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})

	status, _ := e.do(t, http.MethodPost, "/api/v1/billing/subscription/cancel", e.tokenFor(t, user), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func postWebhook(t *testing.T, e *testEnv, payload, signature string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/billing/webhooks/stripe", bytes.NewBufferString(payload))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStripeWebhook(t *testing.T) {
	e := newEnv(t)
	e.store.Put(model.User{
		Name:         "Ada",
		Email:        "ada@example.com",
		IsSubscribed: true,
		Subscription: model.Active("sub_1", "cus_1", "price_basic", "month", model.Period{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		}),
	})
	e.prov.Events["evt_paid"] = provider.InvoicePaid{
		Meta:    provider.Meta{ID: "evt_paid", Type: "invoice.paid"},
		Invoice: provider.Invoice{ID: "in_1", CustomerID: "cus_1"},
	}

	status, _ := postWebhook(t, e, "evt_paid", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = postWebhook(t, e, "evt_paid", "forged")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, e.mailer.Sent)

	status, body := postWebhook(t, e, "evt_paid", fakes.ValidSignature)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Len(t, e.mailer.Sent, 1)

	status, body = postWebhook(t, e, "evt_paid", fakes.ValidSignature)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate", body["status"])
	assert.Len(t, e.mailer.Sent, 1)
}

func TestListRefunds(t *testing.T) {
	e := newEnv(t)
	user := e.store.Put(model.User{Name: "Ada", Email: "ada@example.com"})
	_, err := e.store.AppendRefund(context.Background(), model.Refund{UserID: user.ID, RefundID: "re_1", ProviderEventID: "evt_1", Amount: 1000, Status: "succeeded"})
	require.NoError(t, err)

	status, resp := e.do(t, http.MethodGet, "/api/v1/billing/refunds", e.tokenFor(t, user), nil)
	require.Equal(t, http.StatusOK, status)
	var refunds []model.Refund
	require.NoError(t, json.Unmarshal(resp.Data, &refunds))
	require.Len(t, refunds, 1)
	assert.Equal(t, "re_1", refunds[0].RefundID)
}
