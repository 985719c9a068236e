package changefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Rejection is the dead-letter record for a row the indexer refused.
type Rejection struct {
	Source     string          `json:"source"`
	Reason     string          `json:"reason"`
	Row        json.RawMessage `json:"row,omitempty"`
	RejectedAt time.Time       `json:"rejected_at"`
}

// DeadLetter forwards rejected rows to a Kafka topic. A nil *DeadLetter only
// logs.
type DeadLetter struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewDeadLetter(p Publisher) *DeadLetter {
	return &DeadLetter{
		publisher: p,
		logger:    slog.Default().With("component", "dead-letter"),
	}
}

// Send records a rejected row. Publishing failures are logged, not returned:
// a rejected row must never block the rest of the feed.
func (d *DeadLetter) Send(ctx context.Context, source, key string, row []byte, reason error) {
	if d == nil || d.publisher == nil {
		slog.Warn("changefeed row rejected", "source", source, "key", key, "reason", reason)
		return
	}
	rec := Rejection{
		Source:     source,
		Reason:     reason.Error(),
		RejectedAt: time.Now().UTC(),
	}
	if json.Valid(row) {
		rec.Row = row
	} else if len(row) > 0 {
		rec.Row, _ = json.Marshal(string(row))
	}
	if err := d.publisher.Publish(ctx, kafka.Event{Key: key, Value: rec}); err != nil {
		d.logger.Error("failed to publish rejected row", "source", source, "key", key, "error", err)
		return
	}
	d.logger.Info("rejected row sent to dead-letter topic", "source", source, "key", key, "reason", reason)
}
