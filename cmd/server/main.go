package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nilecruise/internal/api"
	"nilecruise/internal/availability"
	"nilecruise/internal/booking"
	"nilecruise/internal/cache"
	"nilecruise/internal/clock"
	"nilecruise/internal/config"
	"nilecruise/internal/database"
	"nilecruise/internal/events"
	"nilecruise/internal/metrics"
	"nilecruise/internal/pricing"
	"nilecruise/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// A missing .env is fine outside local development.
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Tracing.Enabled {
		if shutdown := tracing.Init(cfg.Tracing.ServiceName); shutdown != nil {
			defer shutdown()
			logger.Info().Msg("tracing enabled")
		} else {
			logger.Warn().Msg("tracing enabled but OTEL_EXPORTER_OTLP_ENDPOINT is not set")
		}
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = config.WatchCatalog(ctx, cfg.CatalogPath(), cfg.CatalogWatchInterval(), func(cat *config.Catalog) {
		if err := db.SyncCatalog(ctx, cat); err != nil {
			logger.Error().Err(err).Msg("catalog sync failed")
			return
		}
		logger.Info().Str("catalog", cat.String()).Msg("catalog synced")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CatalogPath()).Msg("failed to load catalog")
	}

	var (
		rdb       *redis.Client
		readCache cache.Cache = cache.Nop{}
	)
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		readCache = cache.NewRedis(rdb, cfg.CacheTTL(), &logger)
	}

	avail := availability.NewService(db, pricing.NewEngine(cfg.VesselPricing()), availability.Options{
		Clock:        clock.System{},
		Location:     cfg.Location(),
		MaxRangeDays: cfg.MaxRangeDays(),
		Cache:        readCache,
	}, &logger)
	bookings := booking.NewService(db, avail, readCache, &logger)
	bookings.UseEvents(newEventBus(&logger))

	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	rps, burst := cfg.RateLimit()
	srv := api.NewHTTPServer(avail, bookings, api.Options{
		Port:           cfg.Server.Port,
		APIKeys:        cfg.Server.APIKeys,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		RequestTimeout: cfg.RequestTimeout(),
	}, &logger)

	logger.Info().
		Str("vessel_pricing", string(cfg.VesselPricing())).
		Str("timezone", cfg.Location().String()).
		Msg("booking service started")
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
}

func newEventBus(logger *zerolog.Logger) *events.Bus {
	bus := events.NewBus()
	bus.OnError(func(ev events.Event, err error) {
		logger.Warn().Err(err).Str("event", ev.Type).Int64("reservation_id", ev.Reservation.ID).Msg("event handler failed")
	})
	bus.Subscribe(func(ev events.Event) error {
		metrics.IncReservationEvent(ev.Type)
		logger.Debug().
			Str("event", ev.Type).
			Int64("reservation_id", ev.Reservation.ID).
			Int64("unit_id", ev.Reservation.UnitID).
			Str("status", string(ev.Reservation.Status)).
			Msg("reservation event")
		return nil
	}, events.ReservationCommitted, events.ReservationConfirmed, events.ReservationCancelled, events.ReservationReplaced)
	return bus
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, h http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
