package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/discount"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

const serviceName = "storefront-cart"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.With().Str("service", serviceName).Logger()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(cfg, zlog.Logger); err != nil {
		zlog.Fatal().Err(err).Msg("storefront stopped with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	kv, checks, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	codes, err := cfg.DiscountCodes()
	if err != nil {
		return errors.Wrap(err, "load discount codes")
	}
	registry := discount.NewRegistry(codes)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessions := session.NewRegistry(kv, registry, logger,
		session.WithMetrics(m),
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
	)

	router := h.NewRouter(h.RouterConfig{
		Cart:           h.NewCartHandler(sessions, registry, m, cfg.RequestTimeout),
		Health:         h.HealthHandler(checks),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.HTTPPort).
			Str("storage", string(cfg.StorageBackend)).
			Int("discount_codes", len(codes)).
			Msg("storefront starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			_ = sessions.Close()
			return errors.Wrap(err, "server error")
		}
	case <-quit:
	}

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// flush pending snapshots after the last request has finished
	if err := sessions.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to flush sessions")
	}

	logger.Info().Msg("server exited")
	return nil
}

// openStorage connects the configured snapshot backend. Remote backends are
// wrapped in a circuit breaker whose state is reported on /health.
func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.SnapshotStore, map[string]h.Check, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, errors.Wrap(err, "redis connection failed")
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis ping succeeded")

		store := storage.NewBreakerStore(
			storage.NewRedisStore(client, cfg.SnapshotTTL), "redis", storage.DefaultBreakerSettings(), logger)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close redis client")
			}
		}
		return store, map[string]h.Check{"storage": store.Check}, closeFn, nil

	case config.BackendMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("database", cfg.MongoDBName).Msg("connected to MongoDB")

		store := storage.NewBreakerStore(
			storage.NewMongoStore(db), "mongo", storage.DefaultBreakerSettings(), logger)
		closeFn := func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				logger.Error().Err(err).Msg("failed to disconnect from MongoDB")
			}
		}
		return store, map[string]h.Check{"storage": store.Check}, closeFn, nil

	default:
		logger.Warn().Msg("using in-memory snapshot storage, carts are lost on restart")
		return storage.NewMemoryStore(), nil, func() {}, nil
	}
}
