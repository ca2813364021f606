package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/subsync/libs/db"
	"github.com/md-rashed-zaman/subsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/subsync/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// batchSource hands out unpublished rows. claim runs send on at most limit
// rows and marks them published only if send succeeds.
type batchSource interface {
	claim(ctx context.Context, limit int, send func([]Record) error) (int, error)
}

// txSource claims rows with FOR UPDATE SKIP LOCKED so several replicas can
// publish side by side.
type txSource struct {
	pool *db.Pool
	repo *Repository
}

func (s txSource) claim(ctx context.Context, limit int, send func([]Record) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := s.repo.FetchUnpublished(ctx, tx, limit)
	if err != nil || len(records) == 0 {
		return 0, err
	}
	if err := send(records); err != nil {
		return 0, err
	}
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := s.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays outbox rows to kafka, one topic per event type.
type Publisher struct {
	source  batchSource
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	return newPublisher(txSource{pool: pool, repo: repo}, logger, cfg)
}

func newPublisher(source batchSource, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{source: source, logger: logger, brokers: kafkax.SplitBrokers(cfg.Brokers), cfg: cfg}
}

// Run drains the backlog at startup and then on every poll tick until ctx
// is done. Without brokers it returns immediately and rows accumulate.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled: no kafka brokers configured")
		return
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	defer func() { _ = writer.Close() }()

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()
	for {
		if n, err := p.drain(ctx, writer); err != nil {
			p.logger.Error("outbox publish failed", "err", err, "published", n)
		} else if n > 0 {
			p.logger.Debug("outbox events published", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain publishes full batches back to back until one comes up short.
func (p *Publisher) drain(ctx context.Context, w MessageWriter) (int, error) {
	total := 0
	for ctx.Err() == nil {
		n, err := p.source.claim(ctx, p.cfg.BatchSize, func(records []Record) error {
			msgs := make([]kafka.Message, len(records))
			for i, r := range records {
				msgs[i] = Message(ctx, r)
			}
			return w.WriteMessages(ctx, msgs...)
		})
		total += n
		if err != nil || n < p.cfg.BatchSize {
			return total, err
		}
	}
	return total, ctx.Err()
}

// Message converts an outbox row to a kafka message keyed by aggregate id,
// restoring the trace context captured when the row was written.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.TraceContext{Parent: r.Traceparent, State: r.Tracestate}.Into(ctx)
	return kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, kafkax.EventHeaders(r.EventID, r.EventType)),
	}
}
