package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/middleware"
)

func newRouter(t *testing.T, server config.ServerConfig) (http.Handler, *metrics.Metrics) {
	t.Helper()
	cfg := config.Default()
	m := metrics.New(prometheus.NewRegistry())
	idx := index.NewMemoryIndex()
	st := store.NewMemoryStore()
	engine := indexer.NewEngine(cfg.Indexer, idx, st, indexer.WithMetrics(m))
	agg := analytics.NewAggregator()
	d := Deps{
		Search:    handler.New(executor.New(engine.Tokenizer(), idx, st), nil, agg, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults),
		Webhook:   changefeed.NewWebhookHandler(engine, changefeed.NewDecoder(cfg.CDC), nil),
		Analytics: analytics.NewHandler(agg),
		Health:    health.NewChecker(),
		Metrics:   m,
	}
	return New(d, server), m
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.1.1.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChangefeedThenSearch(t *testing.T) {
	h, m := newRouter(t, config.Default().Server)

	rec := serve(h, http.MethodPost, "/cdc", `{"payload":[
		{"after":{"id":"id1","name":"LA Galaxy"},"key":["id1"]},
		{"after":{"id":"id2","name":"LA Galaxy II"},"key":["id2"]},
		{"after":{"id":"id3","name":"LA Giltinis"},"key":["id3"]}
	],"length":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = serve(h, http.MethodGet, "/search/UEEgR2FsdXh5/5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"pk":"id1","name":"LA Galaxy","score":"42.8571"},
		{"pk":"id2","name":"LA Galaxy II","score":"10.7143"},
		{"pk":"id3","name":"LA Giltinis","score":"4.7619"}
	]`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/v1/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_searches":1`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/cdc", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IndexedRecords))
}

func TestHealthRoutes(t *testing.T) {
	h, _ := newRouter(t, config.Default().Server)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/ready", "").Code)
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newRouter(t, config.Default().Server)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodDelete, "/search/UEEgR2FsdXh5/5", "").Code)
}

func TestRateLimitSkipsChangefeed(t *testing.T) {
	server := config.Default().Server
	server.RateLimitPerMinute = 1
	server.RateLimitBurst = 1
	h, _ := newRouter(t, server)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/search/UEEgR2FsdXh5/5", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/search/UEEgR2FsdXh5/5", "").Code)

	for i := 0; i < 3; i++ {
		rec := serve(h, http.MethodPost, "/cdc", `{"payload":[{"after":{"id":"id1","name":"LA Galaxy"}}],"length":1}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
