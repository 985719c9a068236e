package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/resilience"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	commitCh  chan int64
	closed    bool
}

func newFakeReader(offsets ...int64) *fakeReader {
	r := &fakeReader{commitCh: make(chan int64, len(offsets))}
	for _, off := range offsets {
		r.queue = append(r.queue, kafka.Message{Offset: off, Key: []byte{byte('a' + off)}})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
		r.commitCh <- m.Offset
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func waitCommit(t *testing.T, r *fakeReader) int64 {
	t.Helper()
	select {
	case off := <-r.commitCh:
		return off
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commit")
		return -1
	}
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	reader := newFakeReader(0, 1)

	var mu sync.Mutex
	var seen []string
	failures := 3
	c := newConsumer(reader, "changes", func(_ context.Context, key, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(key))
		if string(key) == "a" && failures > 0 {
			failures--
			return errors.New("store unavailable")
		}
		return nil
	})
	c.retry = fastRetry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	assert.Equal(t, int64(0), waitCommit(t, reader))
	assert.Equal(t, int64(1), waitCommit(t, reader))
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	// three failures and one success for the first message, then the second
	assert.Equal(t, []string{"a", "a", "a", "a", "b"}, seen)
}

func TestConsumerStopsWithoutCommittingOnCancel(t *testing.T) {
	reader := newFakeReader(0)
	ctx, cancel := context.WithCancel(context.Background())

	calls := make(chan struct{}, 16)
	c := newConsumer(reader, "changes", func(context.Context, []byte, []byte) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return errors.New("store unavailable")
	})
	c.retry = fastRetry()

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	<-calls
	<-calls
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.commits())
	assert.True(t, reader.closed)
}
