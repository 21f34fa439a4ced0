package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pitchbook/internal/api"
	"pitchbook/internal/auth"
	"pitchbook/internal/availability"
	"pitchbook/internal/booking"
	"pitchbook/internal/config"
	"pitchbook/internal/events"
	"pitchbook/internal/metrics"
	"pitchbook/internal/payment"
	"pitchbook/internal/prefs"
	"pitchbook/internal/pricing"
	"pitchbook/internal/server"
	"pitchbook/internal/slots"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PITCHBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.API.BaseURL == "" {
		logger.Fatal().Msg("set api.base_url in config")
	}

	store, err := prefs.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open prefs db error")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := os.Getenv("PITCHBOOK_TOKEN")
	if token == "" {
		token, _ = store.Token(ctx)
	}
	bus := events.NewBus()

	session := auth.NewSession(token)
	session.OnUnauthorized(func() {
		logger.Warn().Msg("session expired, signing out")
		_ = store.SetToken(context.Background(), "")
		bus.Publish(events.Event{Type: events.TypeSessionExpired})
	})

	clientOpts := []api.Option{
		api.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout()}),
	}
	if cfg.API.RateLimitPerSec > 0 {
		clientOpts = append(clientOpts, api.WithRateLimit(cfg.API.RateLimitPerSec, cfg.API.RateLimitBurst))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		clientOpts = append(clientOpts, api.WithRedisCache(rdb, cfg.APICacheTTL()))
	}

	client := api.New(cfg.API.BaseURL, session, logger, clientOpts...)

	cache := availability.New(client, logger,
		availability.WithMinFetchGap(cfg.AvailabilityGap()),
		availability.WithWarning(func(reason string) {
			logger.Warn().Str("reason", reason).Msg("availability degraded")
		}),
	)

	validator := slots.NewValidator()
	if cfg.Booking.MinDurationMinutes > 0 {
		validator.MinDurationMinutes = cfg.Booking.MinDurationMinutes
	}
	if cfg.Booking.BufferMinutes > 0 {
		validator.BufferMinutes = cfg.Booking.BufferMinutes
	}

	resolver := pricing.NewResolver(client, logger)
	resolver.SetDebounce(cfg.PricingDebounce())

	engine := booking.New(client, cache, validator, resolver, session, logger)
	reconciler := payment.NewReconciler(client, logger)

	bus.Subscribe(events.TypeBookingCreated, func(e events.Event) {
		logger.Info().Int64("booking_id", e.BookingID).Msg("booking created")
	})
	bus.Subscribe(events.TypeBookingCancelled, func(e events.Event) {
		logger.Info().Int64("booking_id", e.BookingID).Msg("booking cancelled")
	})
	bus.Subscribe(events.TypePaymentReconciled, func(e events.Event) {
		logger.Info().Int64("bill_id", e.BillID).Int64("booking_id", e.BookingID).Msg("payment reconciled")
	})
	bus.Subscribe(events.TypeSessionExpired, func(events.Event) {
		logger.Info().Msg("session cleared")
	})
	engine.UseEvents(bus)
	reconciler.UseEvents(bus)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	userID := func(ctx context.Context) (int64, error) {
		return session.ResolveUserID(ctx, client.CurrentUser)
	}
	srv := server.New(engine, reconciler, cache, client, store, userID, logger, cfg.Monitoring.PrometheusEnabled)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Handler(),
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("pitchbook started")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}
