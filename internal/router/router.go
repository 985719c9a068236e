// Package router wires the service's HTTP routes and applies the middleware
// chain.
package router

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/middleware"
)

// Deps are the handlers behind the routes. Metrics may be nil.
type Deps struct {
	Search    *handler.Handler
	Webhook   *changefeed.WebhookHandler
	Analytics *analytics.Handler
	Health    *health.Checker
	Metrics   *metrics.Metrics
}

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /search/{query}/{limit}     → base64 query, bare result array
//	GET    /api/v1/search              → ?q=&limit=, result envelope
//	GET    /api/v1/analytics           → query statistics
//	GET    /api/v1/cache/stats         → cache hit/miss counters
//	POST   /api/v1/cache/invalidate    → drop cached results
//	POST   /cdc, GET /cdc              → changefeed webhook sink
//	GET    /health/live, /health/ready → probes
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → RateLimit → Timeout → mux
//
// The changefeed webhook is not rate limited.
func New(d Deps, cfg config.ServerConfig) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /search/{query}/{limit}", d.Search.SearchEncoded)
	api.HandleFunc("GET /api/v1/search", d.Search.Search)
	api.HandleFunc("GET /api/v1/cache/stats", d.Search.CacheStats)
	api.HandleFunc("POST /api/v1/cache/invalidate", d.Search.CacheInvalidate)
	if d.Analytics != nil {
		api.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
	}

	var apiChain http.Handler = api
	apiChain = middleware.Timeout(cfg.RequestTimeout.Std())(apiChain)
	if cfg.RateLimitPerMinute > 0 {
		apiChain = middleware.RateLimit(middleware.NewClientLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst))(apiChain)
	}
	if len(cfg.CORSOrigins) > 0 {
		apiChain = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins))(apiChain)
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiChain)
	mux.Handle("POST /cdc", d.Webhook)
	mux.Handle("GET /cdc", d.Webhook)
	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	var chain http.Handler = mux
	if d.Metrics != nil {
		chain = middleware.Metrics(d.Metrics)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}
