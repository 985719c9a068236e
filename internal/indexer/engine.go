// Package indexer applies record change events to the inverted index and
// the record store, and rebuilds the index from the store at startup.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
)

type Kind int

const (
	KindCreated Kind = iota
	KindUpdated
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Outcome says what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeRejected  Outcome = "rejected"
)

// Event is one decoded change notification. A nil Text means the record was
// deleted or its text column unset. Updated is the optional changefeed
// timestamp of the row version.
type Event struct {
	ID      string  `json:"id"`
	Text    *string `json:"text"`
	Updated string  `json:"updated,omitempty"`
}

// Upsert builds a create/update event.
func Upsert(id, text string) Event {
	return Event{ID: id, Text: &text}
}

// Delete builds a delete event.
func Delete(id string) Event {
	return Event{ID: id}
}

func (ev Event) Deleted() bool {
	return ev.Text == nil
}

type Result struct {
	Kind    Kind
	Outcome Outcome
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

type Engine struct {
	tokenizer tokenizer.Tokenizer
	index     *index.MemoryIndex
	store     store.Store
	cfg       config.IndexerConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// mu orders Apply calls so a version check and the write it guards
	// happen together.
	mu       sync.Mutex
	versions map[string]Timestamp
}

func NewEngine(cfg config.IndexerConfig, idx *index.MemoryIndex, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		tokenizer: tokenizer.Tokenizer{N: cfg.NgramSize, FoldPunctuation: cfg.FoldPunctuation},
		index:     idx,
		store:     st,
		cfg:       cfg,
		logger:    slog.Default().With("component", "indexer"),
		versions:  make(map[string]Timestamp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tokenizer returns the tokenizer used for records, so queries can be
// tokenized the same way.
func (e *Engine) Tokenizer() tokenizer.Tokenizer {
	return e.tokenizer
}

func (e *Engine) Index() *index.MemoryIndex {
	return e.index
}

// Apply folds one change event into the store and the index. Reapplying an
// event converges to the same state. Events without an id are rejected
// with ErrRejectedEvent and leave all state untouched.
func (e *Engine) Apply(ctx context.Context, ev Event) (Result, error) {
	if strings.TrimSpace(ev.ID) == "" {
		e.logger.Warn("rejecting change event without id", "updated", ev.Updated)
		e.observe("unknown", OutcomeRejected)
		return Result{Outcome: OutcomeRejected},
			apperrors.New(apperrors.ErrRejectedEvent, http.StatusBadRequest, "change event has no id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, known, err := e.current(ctx, ev.ID)
	if err != nil {
		e.observe("unknown", "error")
		return Result{}, err
	}
	kind := e.kindOf(ev, known)
	version, stale := e.checkVersion(ev)
	if stale {
		e.logger.Debug("dropping stale change event", "id", ev.ID, "kind", kind, "updated", ev.Updated)
		e.observe(kind.String(), OutcomeStale)
		return Result{Kind: kind, Outcome: OutcomeStale}, nil
	}

	var changed bool
	if kind == KindDeleted {
		changed, err = e.remove(ctx, ev.ID, known)
	} else {
		changed, err = e.put(ctx, ev.ID, *ev.Text, prev, known)
	}
	if err != nil {
		e.observe(kind.String(), "error")
		return Result{Kind: kind}, err
	}
	if !version.IsZero() {
		e.versions[ev.ID] = version
	}

	outcome := OutcomeApplied
	if !changed {
		outcome = OutcomeUnchanged
	}
	e.observe(kind.String(), outcome)
	e.logger.Debug("change event applied",
		"id", ev.ID,
		"kind", kind,
		"outcome", outcome,
		"records", e.index.Len(),
	)
	return Result{Kind: kind, Outcome: outcome}, nil
}

// current returns the stored text of id. Records too short to tokenize are
// only in the store, so the index alone cannot answer this.
func (e *Engine) current(ctx context.Context, id string) (string, bool, error) {
	names, err := e.store.Names(ctx, []string{id})
	if err != nil {
		return "", false, fmt.Errorf("reading record %s: %w", id, err)
	}
	text, ok := names[id]
	return text, ok, nil
}

func (e *Engine) kindOf(ev Event, known bool) Kind {
	if ev.Deleted() {
		return KindDeleted
	}
	if known {
		return KindUpdated
	}
	if _, ok := e.index.Ngrams(ev.ID); ok {
		return KindUpdated
	}
	return KindCreated
}

// checkVersion reports whether ev is older than the last applied version of
// its id. Without ordering enforcement, or without a parseable timestamp,
// nothing is stale.
func (e *Engine) checkVersion(ev Event) (Timestamp, bool) {
	if !e.cfg.EnforceOrdering || ev.Updated == "" {
		return Timestamp{}, false
	}
	ts, err := ParseTimestamp(ev.Updated)
	if err != nil {
		e.logger.Warn("ignoring unparseable change timestamp", "id", ev.ID, "error", err)
		return Timestamp{}, false
	}
	last, ok := e.versions[ev.ID]
	return ts, ok && ts.Before(last)
}

func (e *Engine) put(ctx context.Context, id, text, prev string, known bool) (bool, error) {
	grams := e.tokenizer.Tokenize(text)
	if err := e.store.Put(ctx, store.Record{ID: id, Text: text, Ngrams: grams}); err != nil {
		return false, fmt.Errorf("storing record %s: %w", id, err)
	}
	if e.index.Put(id, grams) {
		return true, nil
	}
	if known && prev == text {
		return false, nil
	}
	// same n-grams, new display text: cached results carry the old name
	e.index.Touch()
	return true, nil
}

func (e *Engine) remove(ctx context.Context, id string, known bool) (bool, error) {
	if err := e.store.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("deleting record %s: %w", id, err)
	}
	return e.index.Remove(id) || known, nil
}

// Hydrate rebuilds the index from every record in src. Records are
// re-tokenized rather than trusting stored n-grams.
func (e *Engine) Hydrate(ctx context.Context, src store.Store) (int, error) {
	start := time.Now()
	count := 0
	err := src.Scan(ctx, func(rec store.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.index.Put(rec.ID, e.tokenizer.Tokenize(rec.Text))
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("hydrating index: %w", err)
	}
	e.updateGauges()
	e.logger.Info("index hydrated",
		"records", count,
		"indexed", e.index.Len(),
		"ngrams", e.index.Terms(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return count, nil
}

func (e *Engine) observe(kind string, outcome Outcome) {
	if e.metrics == nil {
		return
	}
	e.metrics.ChangeEventsTotal.WithLabelValues(kind, string(outcome)).Inc()
	e.updateGauges()
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexedRecords.Set(float64(e.index.Len()))
	e.metrics.IndexedNgrams.Set(float64(e.index.Terms()))
}
