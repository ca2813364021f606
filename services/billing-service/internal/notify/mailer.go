package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/subsync/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Result reports a delivery attempt. Callers never fail on it.
type Result struct {
	Success bool
	Message string
}

type Delivery struct {
	Recipient string
	Subject   string
	Channel   string
	Status    string
	Error     string
}

// Recorder persists delivery attempts.
type Recorder interface {
	Record(ctx context.Context, d Delivery) error
}

type Mailer struct {
	sender   Sender
	channel  string
	recorder Recorder
	logger   *slog.Logger
}

// NewMailer wraps sender. recorder may be nil.
func NewMailer(sender Sender, channel string, recorder Recorder, logger *slog.Logger) *Mailer {
	return &Mailer{sender: sender, channel: channel, recorder: recorder, logger: logger}
}

func (m *Mailer) Send(ctx context.Context, to, subject, html string) Result {
	to = strings.TrimSpace(to)
	if to == "" {
		return Result{Message: "no recipient"}
	}

	d := Delivery{Recipient: to, Subject: subject, Channel: m.channel, Status: StatusSent}
	res := Result{Success: true, Message: "email sent"}
	if err := m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html}); err != nil {
		m.logger.Warn("email send failed", "to", to, "subject", subject, "err", err)
		d.Status, d.Error = StatusFailed, err.Error()
		res = Result{Message: err.Error()}
	}

	if m.recorder != nil {
		if err := m.recorder.Record(ctx, d); err != nil {
			m.logger.Warn("record notification failed", "to", to, "err", err)
		}
	}
	return res
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (recipient, subject, channel, status, error)
		VALUES ($1, $2, $3, $4, $5)
	`, d.Recipient, d.Subject, d.Channel, d.Status, d.Error)
	return err
}
