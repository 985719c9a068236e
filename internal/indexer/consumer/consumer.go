// Package consumer reads changefeed rows from a Kafka sink topic and applies
// them to the indexer engine. Rows the engine rejects are forwarded to the
// dead-letter topic and committed so they are not redelivered.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/kafka"
)

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that decodes each changefeed
// message and applies it. Malformed and rejected rows go to dl and are
// acknowledged; any other failure is returned, and the Kafka consumer
// retries the message without committing it.
func HandleMessage(applier changefeed.Applier, dec changefeed.Decoder, dl *changefeed.DeadLetter) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := dec.DecodeMessage(key, value)
		if err == nil {
			var res indexer.Result
			res, err = applier.Apply(ctx, ev)
			if err == nil {
				logger.Debug("change applied", "id", ev.ID, "kind", res.Kind, "outcome", res.Outcome)
				return nil
			}
		}
		if errors.Is(err, apperrors.ErrRejectedEvent) || errors.Is(err, apperrors.ErrInvalidInput) {
			dl.Send(ctx, "kafka", string(key), value, err)
			return nil
		}
		return fmt.Errorf("applying change for key %s: %w", key, err)
	}
}
