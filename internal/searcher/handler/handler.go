package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/tracing"
)

type SearchExecutor interface {
	Execute(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
}

type Handler struct {
	executor     SearchExecutor
	cache        *cache.QueryCache
	aggregator   *analytics.Aggregator
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New builds the search handler. queryCache, aggregator and m may be nil.
func New(exec SearchExecutor, queryCache *cache.QueryCache, aggregator *analytics.Aggregator, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		executor:     exec,
		cache:        queryCache,
		aggregator:   aggregator,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// SearchEncoded serves GET /search/{query}/{limit}, where query is base64
// encoded UTF-8. The response is a bare JSON array of {pk, name, score}.
func (h *Handler) SearchEncoded(w http.ResponseWriter, r *http.Request) {
	query, err := decodeQuery(r.PathValue("query"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := h.parseLimit(r.PathValue("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, ok := h.run(w, r, query, limit)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, result.Results)
}

// Search serves GET /api/v1/search?q=...&limit=... with the full result
// envelope.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := h.parseLimit(limitStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit = parsed
	}
	result, ok := h.run(w, r, query, limit)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// run executes a query through the cache and records it. On failure it
// writes the error response and reports false.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, query string, limit int) (*executor.SearchResult, bool) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(log)
	}()

	var (
		result   *executor.SearchResult
		err      error
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, query, limit, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, query, limit)
		})
	} else {
		result, err = h.executor.Execute(ctx, query, limit)
	}
	latency := time.Since(start)
	span.SetAttr("cache_hit", cacheHit)

	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.observe("error", cacheHit, latency, 0)
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		message := "search failed"
		if status == http.StatusBadRequest {
			message = err.Error()
		}
		h.writeError(w, status, message)
		return nil, false
	}

	resultType := "miss"
	switch {
	case len(result.Results) == 0:
		resultType = "zero_result"
	case cacheHit:
		resultType = "hit"
	}
	h.observe(resultType, cacheHit, latency, len(result.Results))

	log.Info("search completed",
		"query", query,
		"limit", limit,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"source", result.Source,
		"latency_ms", latency.Milliseconds(),
	)
	if h.aggregator != nil {
		h.aggregator.Record(analytics.SearchEvent{
			Query:     query,
			TotalHits: result.TotalHits,
			Returned:  len(result.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Source:    result.Source,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(ctx),
		})
	}
	return result, true
}

func (h *Handler) observe(resultType string, cacheHit bool, latency time.Duration, returned int) {
	if h.metrics == nil {
		return
	}
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"backend":  h.cache.Backend(),
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) parseLimit(s string) (int, error) {
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > h.maxResults {
		limit = h.maxResults
	}
	return limit, nil
}

// decodeQuery accepts standard and URL-safe base64, padded or not.
func decodeQuery(encoded string) (string, error) {
	var (
		raw []byte
		err error
	)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err = enc.DecodeString(encoded); err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("query is not valid base64")
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("query is not valid UTF-8")
	}
	return strings.TrimSpace(string(raw)), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
