package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/router"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to a .yaml or .toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("trigram search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("trigram search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting trigram search service",
		"port", cfg.Server.Port,
		"ngram_size", cfg.Indexer.NgramSize,
		"candidate_source", cfg.Search.CandidateSource,
	)
	m := metrics.New(nil)
	checker := health.NewChecker()
	idx := index.NewMemoryIndex()

	var (
		st     store.Store = store.NewMemoryStore()
		pgRecs *store.PostgresStore
	)
	if cfg.Postgres.Enabled {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to record store: %w", err)
		}
		defer client.Close()
		pgRecs = store.NewPostgresStore(client, cfg.Postgres.Table, cfg.Postgres.FollowerReadStaleness.Std())
		st = pgRecs
		checker.Register("postgres", health.Ping(client.Ping, false))
		slog.Info("record store connected", "table", cfg.Postgres.Table)
	}

	engine := indexer.NewEngine(cfg.Indexer, idx, st, indexer.WithMetrics(m))
	if cfg.Indexer.HydrateOnStart && pgRecs != nil {
		if _, err := engine.Hydrate(ctx, pgRecs); err != nil {
			return err
		}
	}
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d records, %d n-grams", idx.Len(), idx.Terms()),
		}
	})

	exec := newExecutor(cfg, engine, idx, st, pgRecs, m)

	var backend cache.Backend = cache.NewLocalBackend(cfg.Search.LocalCacheSize)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-process result cache", "error", err)
		} else {
			defer redisClient.Close()
			backend = cache.NewRedisBackend(redisClient, cfg.Redis.CacheTTL.Std())
			checker.Register("redis", health.Ping(redisClient.Ping, true))
		}
	}
	queryCache := cache.New(backend, engine.Tokenizer(), idx.Generation, m)
	slog.Info("search cache enabled", "backend", backend.Name())

	aggregator := analytics.NewAggregator()
	decoder := changefeed.NewDecoder(cfg.CDC)

	deadLetter := changefeed.NewDeadLetter(nil)
	var feedConsumer *consumer.IndexConsumer
	if cfg.Kafka.Enabled {
		if cfg.Kafka.Topics.DeadLetter != "" {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DeadLetter)
			defer producer.Close()
			deadLetter = changefeed.NewDeadLetter(producer)
		}
		brokers := cfg.Kafka.Brokers
		checker.Register("kafka", health.Ping(func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}, true))
		feedConsumer = consumer.New(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.Changefeed,
			consumer.HandleMessage(engine, decoder, deadLetter),
		))
	}

	deps := router.Deps{
		Search:    handler.New(exec, queryCache, aggregator, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults),
		Webhook:   changefeed.NewWebhookHandler(engine, decoder, deadLetter),
		Analytics: analytics.NewHandler(aggregator),
		Health:    checker,
		Metrics:   m,
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(deps, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if feedConsumer != nil {
		g.Go(func() error {
			return feedConsumer.Start(gctx)
		})
	}
	g.Go(func() error {
		slog.Info("trigram search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newExecutor answers candidate lookups from the record table when
// configured, falling back to the in-memory index while the table is
// unreachable.
func newExecutor(cfg *config.Config, engine *indexer.Engine, idx *index.MemoryIndex, names executor.NameResolver, pg *store.PostgresStore, m *metrics.Metrics) *executor.Executor {
	opts := []executor.Option{
		executor.WithTimeout(cfg.Search.Timeout.Std()),
		executor.WithMetrics(m),
	}
	if cfg.Search.CandidateSource != config.BackendPostgres || pg == nil {
		return executor.New(engine.Tokenizer(), idx, names, opts...)
	}

	breaker := resilience.NewCircuitBreaker("candidate-lookup", resilience.CircuitBreakerConfig{})
	gauge := m.CircuitBreakerState.WithLabelValues("candidate-lookup")
	breaker.OnStateChange(func(s resilience.State) {
		gauge.Set(float64(s))
	})
	opts = append(opts, executor.WithFallback(idx, breaker))
	return executor.New(engine.Tokenizer(), pg, names, opts...)
}
