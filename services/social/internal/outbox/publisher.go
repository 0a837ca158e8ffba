// Package outbox relays committed social events from the social_outbox table
// to NATS JetStream.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	StreamName    = "SOCIAL_EVENTS"
	StreamSubject = "social.>"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_outbox_published_total",
	Help: "Outbox events relayed to JetStream, by subject.",
}, []string{"subject"})

// StreamManager is the stream administration slice of nats.JetStreamContext.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// JetStream is the slice of nats.JetStreamContext the publisher needs.
type JetStream interface {
	StreamManager
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Publisher struct {
	Log          *zap.Logger
	DB           *pgxpool.Pool
	JS           JetStream
	BatchSize    int
	PollInterval time.Duration
}

type outboxRow struct {
	ID        string
	EventType string
	Payload   json.RawMessage
}

func NewPublisher(log *zap.Logger, db *pgxpool.Pool, nc *nats.Conn, batchSize int, poll time.Duration) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Publisher{
		Log:          log,
		DB:           db,
		JS:           js,
		BatchSize:    batchSize,
		PollInterval: poll,
	}, nil
}

func (p *Publisher) EnsureStream() error {
	return EnsureStream(p.JS)
}

// EnsureStream creates SOCIAL_EVENTS or widens an existing one to cover social.>.
// Every producer and consumer of social subjects calls it before first use.
func EnsureStream(js StreamManager) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == StreamSubject {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{StreamSubject}
		if _, err := js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", StreamName, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{StreamSubject},
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}

func (p *Publisher) Run(ctx context.Context) error {
	if err := p.EnsureStream(); err != nil {
		return err
	}
	p.Log.Info("outbox publisher started",
		zap.Int("batch_size", p.BatchSize), zap.Duration("poll_interval", p.PollInterval))

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.flushOnce(ctx)
			if err != nil {
				p.Log.Warn("outbox flush failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.Log.Debug("outbox flushed", zap.Int("events", n))
			}
		}
	}
}

// flushOnce publishes one batch of pending rows and marks them published.
// The outbox id doubles as the JetStream message id, so a batch replayed after
// a failed commit is dropped by the stream's duplicate window.
func (p *Publisher) flushOnce(ctx context.Context) (int, error) {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, event_type, payload
FROM social_outbox
WHERE published_at IS NULL
ORDER BY seq
LIMIT $1
FOR UPDATE SKIP LOCKED
`, p.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("select pending: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outboxRow, error) {
		var item outboxRow
		err := row.Scan(&item.ID, &item.EventType, &item.Payload)
		return item, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan pending: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, err := p.JS.Publish(item.EventType, item.Payload, nats.MsgId(item.ID)); err != nil {
			return 0, fmt.Errorf("publish %s: %w", item.EventType, err)
		}
		publishedTotal.WithLabelValues(item.EventType).Inc()
		ids = append(ids, item.ID)
	}

	if _, err := tx.Exec(ctx, `UPDATE social_outbox SET published_at = now() WHERE id::text = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(items), nil
}
