package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/jobs"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/notify"
)

// Queue keeps enqueued jobs, dropping repeated idempotency keys.
type Queue struct {
	mu   sync.Mutex
	Jobs []jobs.Job
	Err  error
}

func (q *Queue) Enqueue(_ context.Context, job jobs.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return false, q.Err
	}
	for _, j := range q.Jobs {
		if j.IdempotencyKey == job.IdempotencyKey {
			return false, nil
		}
	}
	q.Jobs = append(q.Jobs, job)
	return true, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Jobs)
}

type Markers struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMarkers() *Markers {
	return &Markers{values: map[string]string{}}
}

func (m *Markers) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Markers) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Markers) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

// Sent is one email captured by Mailer.
type Sent struct {
	To      string
	Subject string
	HTML    string
}

type Mailer struct {
	mu   sync.Mutex
	Sent []Sent
	Fail bool
}

func (m *Mailer) Send(_ context.Context, to, subject, html string) notify.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, Sent{To: to, Subject: subject, HTML: html})
	if m.Fail {
		return notify.Result{Message: "mailer down"}
	}
	return notify.Result{Success: true, Message: "email sent"}
}

func (m *Mailer) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Sent))
	for _, s := range m.Sent {
		out = append(out, s.Subject)
	}
	return out
}

// Scheduled is one call captured by Reminders.
type Scheduled struct {
	Email     string
	PeriodEnd time.Time
}

type Reminders struct {
	mu    sync.Mutex
	Calls []Scheduled
}

func (r *Reminders) Schedule(_ context.Context, email string, periodEnd time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Scheduled{Email: email, PeriodEnd: periodEnd})
	return nil
}

func (r *Reminders) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
