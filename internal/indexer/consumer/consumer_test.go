package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/kafka"
)

type capturePublisher struct {
	events []kafka.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev kafka.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) Put(context.Context, store.Record) error {
	return errors.New("connection reset")
}

func setup(st store.Store) (kafka.MessageHandler, *indexer.Engine, *capturePublisher) {
	cfg := config.Default()
	engine := indexer.NewEngine(cfg.Indexer, index.NewMemoryIndex(), st)
	pub := &capturePublisher{}
	h := HandleMessage(engine, changefeed.NewDecoder(cfg.CDC), changefeed.NewDeadLetter(pub))
	return h, engine, pub
}

func TestHandleMessageAppliesChanges(t *testing.T) {
	ctx := context.Background()
	h, engine, pub := setup(store.NewMemoryStore())

	require.NoError(t, h(ctx, []byte(`["id1"]`), []byte(`{"after":{"id":"id1","name":"LA Galaxy"},"updated":"1.0"}`)))
	require.NoError(t, h(ctx, []byte(`["id2"]`), []byte(`{"after":{"id":"id2","name":"LA Galaxy II"},"updated":"2.0"}`)))
	assert.Equal(t, []string{"id1", "id2"}, engine.Index().Postings("gal"))

	require.NoError(t, h(ctx, []byte(`["id1"]`), []byte(`{"after":null,"updated":"3.0"}`)))
	assert.Equal(t, []string{"id2"}, engine.Index().Postings("gal"))
	assert.Empty(t, pub.events)
}

func TestHandleMessageDeadLettersBadRows(t *testing.T) {
	ctx := context.Background()
	h, engine, pub := setup(store.NewMemoryStore())

	require.NoError(t, h(ctx, nil, []byte(`{"after":{"name":"orphan"}}`)))
	require.NoError(t, h(ctx, []byte(`garbage`), []byte(`{`)))
	assert.Equal(t, 0, engine.Index().Len())
	assert.Len(t, pub.events, 2)
}

func TestHandleMessageReturnsStoreErrors(t *testing.T) {
	h, _, pub := setup(brokenStore{store.NewMemoryStore()})
	err := h(context.Background(), []byte(`["id1"]`), []byte(`{"after":{"id":"id1","name":"LA Galaxy"}}`))
	assert.Error(t, err)
	assert.Empty(t, pub.events)
}
