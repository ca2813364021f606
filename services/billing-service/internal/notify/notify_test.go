package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	sent []Message
	err  error
}

func (s *stubSender) Send(_ context.Context, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

type stubRecorder struct {
	got []Delivery
	err error
}

func (r *stubRecorder) Record(_ context.Context, d Delivery) error {
	r.got = append(r.got, d)
	return r.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMailerSendSuccess(t *testing.T) {
	s := &stubSender{}
	rec := &stubRecorder{}
	m := NewMailer(s, "smtp", rec, discard())

	res := m.Send(context.Background(), " a@example.com ", "Invoice Paid", "<p>ok</p>")

	assert.True(t, res.Success)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "a@example.com", s.sent[0].To)
	require.Len(t, rec.got, 1)
	assert.Equal(t, StatusSent, rec.got[0].Status)
	assert.Equal(t, "smtp", rec.got[0].Channel)
}

func TestMailerSendFailureIsReported(t *testing.T) {
	s := &stubSender{err: errors.New("relay down")}
	rec := &stubRecorder{err: errors.New("db down")}
	m := NewMailer(s, "smtp", rec, discard())

	res := m.Send(context.Background(), "a@example.com", "x", "y")

	assert.False(t, res.Success)
	assert.Equal(t, "relay down", res.Message)
	require.Len(t, rec.got, 1)
	assert.Equal(t, StatusFailed, rec.got[0].Status)
	assert.Equal(t, "relay down", rec.got[0].Error)
}

func TestMailerSendNoRecipient(t *testing.T) {
	s := &stubSender{}
	res := NewMailer(s, "smtp", nil, discard()).Send(context.Background(), "  ", "x", "y")
	assert.False(t, res.Success)
	assert.Empty(t, s.sent)
}

func TestBuildMessageIsHTML(t *testing.T) {
	msg := buildMessage("from@x.io", Message{To: "to@x.io", Subject: "Hi", HTML: "<p>b</p>"})
	assert.Contains(t, msg, "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, msg, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(msg, "<p>b</p>\r\n"))
}

func TestPostmarkSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		status := 0
		if got["To"] == "bad@example.com" {
			status = 300
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": status, "Message": "Invalid email"})
	}))
	defer srv.Close()

	s := NewPostmarkSender("server-token", "account-token", "billing@example.com")
	s.client = &postmark.Client{
		HTTPClient:   srv.Client(),
		ServerToken:  "server-token",
		AccountToken: "account-token",
		BaseURL:      srv.URL,
	}

	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "S", HTML: "<p>h</p>"}))
	assert.Equal(t, "billing@example.com", got["From"])
	assert.Equal(t, "<p>h</p>", got["HtmlBody"])

	err := s.Send(context.Background(), Message{To: "bad@example.com"})
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestReminderTemplate(t *testing.T) {
	e := Reminder(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "Subscription Reminder", e.Subject)
	assert.Contains(t, e.HTML, "Thu Feb 01 2024")
}

func TestRefundTemplateEscapes(t *testing.T) {
	assert.Contains(t, RefundUpdated("<re_1>").HTML, "&lt;re_1&gt;")
}
