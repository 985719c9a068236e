// Package executor runs fuzzy queries: tokenize, fetch candidates sharing at
// least one n-gram, rank them, and resolve display names for the top results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/tracing"
)

// Candidate sources reported in SearchResult.Source.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// CandidateSource returns the records sharing at least one n-gram with a
// query, with their n-gram sequences.
type CandidateSource interface {
	Lookup(ctx context.Context, query []string) ([]index.Candidate, error)
}

// NameResolver maps record ids to display text.
type NameResolver interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

type SearchResult struct {
	Query     string             `json:"query"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	Source    string             `json:"source"`
}

type Option func(*Executor)

// WithFallback guards the primary source with breaker and answers from
// fallback when the primary fails or the breaker is open.
func WithFallback(fallback CandidateSource, breaker *resilience.CircuitBreaker) Option {
	return func(e *Executor) {
		e.fallback = fallback
		e.breaker = breaker
	}
}

// WithTimeout bounds each primary lookup.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithMetrics counts fallback lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

type Executor struct {
	tokenizer tokenizer.Tokenizer
	source    CandidateSource
	fallback  CandidateSource
	breaker   *resilience.CircuitBreaker
	names     NameResolver
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(tok tokenizer.Tokenizer, source CandidateSource, names NameResolver, opts ...Option) *Executor {
	e := &Executor{
		tokenizer: tok,
		source:    source,
		names:     names,
		logger:    slog.Default().With("component", "query-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute returns at most limit records ranked by similarity to query. A
// query too short to tokenize, or one with no candidates, yields an empty
// result rather than an error.
func (e *Executor) Execute(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be >= 1, got %d", limit)
	}
	result := &SearchResult{
		Query:   query,
		Results: []ranker.ScoredDoc{},
		Source:  SourcePrimary,
	}
	q := e.tokenizer.Tokenize(query)
	if len(q) == 0 {
		return result, nil
	}

	lookupCtx, span := tracing.StartChildSpan(ctx, "candidate_lookup")
	candidates, source, err := e.lookup(lookupCtx, q)
	span.SetAttr("source", source)
	span.SetAttr("candidates", len(candidates))
	span.End()
	if err != nil {
		return nil, err
	}
	result.Source = source
	result.TotalHits = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	_, span = tracing.StartChildSpan(ctx, "rank")
	ranked := ranker.Rank(q, candidates, 0)
	span.End()

	namesCtx, span := tracing.StartChildSpan(ctx, "resolve_names")
	result.Results, err = e.resolve(namesCtx, ranked, limit)
	span.End()
	if err != nil {
		return nil, err
	}

	e.logger.Debug("query executed",
		"query", query,
		"ngrams", len(q),
		"candidates", len(candidates),
		"results", len(result.Results),
		"source", source,
	)
	return result, nil
}

// resolve names the best limit documents of ranked. Ids deleted since the
// lookup are skipped and the page is refilled from the next ranked ones.
func (e *Executor) resolve(ctx context.Context, ranked []ranker.ScoredDoc, limit int) ([]ranker.ScoredDoc, error) {
	out := make([]ranker.ScoredDoc, 0, min(limit, len(ranked)))
	for next := 0; next < len(ranked) && len(out) < limit; {
		page := ranked[next:min(next+limit-len(out), len(ranked))]
		next += len(page)

		ids := make([]string, len(page))
		for i, d := range page {
			ids[i] = d.ID
		}
		names, err := e.names.Names(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolving names: %w", err)
		}
		for _, d := range page {
			name, ok := names[d.ID]
			if !ok {
				e.logger.Debug("skipping unresolved candidate", "id", d.ID)
				continue
			}
			d.Name = name
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Executor) lookup(ctx context.Context, q []string) ([]index.Candidate, string, error) {
	primary := func() ([]index.Candidate, error) {
		return resilience.CallWithTimeout(ctx, e.timeout, "candidate lookup", func(ctx context.Context) ([]index.Candidate, error) {
			return e.source.Lookup(ctx, q)
		})
	}
	if e.fallback == nil {
		cands, err := primary()
		if err != nil {
			return nil, "", fmt.Errorf("looking up candidates: %w", err)
		}
		return cands, SourcePrimary, nil
	}

	var cands []index.Candidate
	run := func() error {
		var err error
		cands, err = primary()
		return err
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(run)
	} else {
		err = run()
	}
	if err == nil {
		return cands, SourcePrimary, nil
	}
	if ctx.Err() != nil {
		return nil, "", fmt.Errorf("looking up candidates: %w", ctx.Err())
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		e.logger.Warn("primary candidate source failed, using fallback", "error", err)
	}
	if e.metrics != nil {
		e.metrics.CandidateFallbacksTotal.Inc()
	}
	cands, err = e.fallback.Lookup(ctx, q)
	if err != nil {
		return nil, "", fmt.Errorf("looking up candidates from fallback: %w", err)
	}
	return cands, SourceFallback, nil
}
