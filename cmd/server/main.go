package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/hitchr-matching/internal/availability"
	"github.com/example/hitchr-matching/internal/config"
	"github.com/example/hitchr-matching/internal/dispatch"
	"github.com/example/hitchr-matching/internal/eta"
	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/geocode"
	httpapi "github.com/example/hitchr-matching/internal/http"
	"github.com/example/hitchr-matching/internal/ingest"
	"github.com/example/hitchr-matching/internal/logging"
	"github.com/example/hitchr-matching/internal/matcher"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/pricing"
	"github.com/example/hitchr-matching/internal/redact"
	"github.com/example/hitchr-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var (
		store  storage.ListingStore = storage.NewMemoryStore()
		checks []func(context.Context) error
		closer []func() error
	)
	defer func() {
		for _, c := range closer {
			if err := c(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		closer = append(closer, ps.Close)
		if cfg.RunMigrations {
			if err := migrate(ctx, ps, logger); err != nil {
				return err
			}
		}
		store = ps
		checks = append(checks, ps.PingContext)
	} else {
		logger.Warn("PG_DSN not set, listings are kept in memory")
	}

	var locations geo.Locations = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rl := geo.NewRedisLocations(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		closer = append(closer, rl.Close)
		checks = append(checks, rl.Ping)
		locations = rl
	}

	var publisher ingest.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaPingTopic, cfg.KafkaListingTopic)
		closer = append(closer, kp.Close)
		publisher = kp
	}

	var notifier ingest.ListingPublisher
	if cfg.AMQPURL != "" {
		an, err := ingest.NewAMQPNotifier(cfg.AMQPURL, cfg.ListingExchange)
		if err != nil {
			return err
		}
		closer = append(closer, an.Close)
		notifier = an
	}

	calc := &eta.RoutedCalculator{Base: eta.NewCalculator(cfg.SpeedKmh), Logger: logger}
	if cfg.OSRMEndpoint != "" {
		calc.Router = eta.NewOSRMClient(cfg.OSRMEndpoint)
		calc.Cache = eta.NewCache(cfg.RouteCacheTTL)
	}

	pc := pricing.DefaultConfig()
	pc.BaseRatePerKm = cfg.Pricing.BaseRatePerKm
	pc.FloorPrice = cfg.Pricing.FloorPrice
	pc.BeerRunBase = cfg.Pricing.BeerRunBase
	pc.BeerRunSurcharge = cfg.Pricing.BeerRunSurcharge
	pc.RidesharePerSeat = cfg.Pricing.RidesharePerSeat
	engine := pricing.NewEngine(pc)

	resolver := availability.NewResolver(cfg.LookaheadDays, cfg.DefaultTimezone)
	svc := &matcher.Service{
		Store:          store,
		Locations:      locations,
		Pipeline:       matcher.NewPipeline(models.Coord{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng}, redact.New(nil)),
		ETA:            calc,
		Pricing:        engine,
		Availability:   resolver,
		Publisher:      publisher,
		Notifier:       notifier,
		Logger:         logger,
		LocationMaxAge: cfg.LocationMaxAge,
	}

	var geocoder *geocode.Client
	if cfg.GeocoderKey != "" {
		geocoder = geocode.NewClient(cfg.GeocoderEndpoint, cfg.GeocoderKey,
			geocode.NewSuggestionCache(geocode.DefaultSuggestionTTL, geocode.DefaultSuggestionMax))
	}

	srv := httpapi.NewServer(httpapi.Options{
		Matcher:     svc,
		Pricing:     engine,
		ETA:         calc,
		Resolver:    resolver,
		Geocoder:    geocoder,
		WSReg:       dispatch.NewWSRegistry(svc.Feed, cfg.FeedRefresh, logger),
		RadiusSteps: cfg.RadiusSteps,
		Ready:       ready(checks),
	}, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hitchr-matching listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// ready reports the first failing dependency check.
func ready(checks []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func migrate(ctx context.Context, ps *storage.PostgresStore, logger *slog.Logger) error {
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if err := ps.Migrate(ctx, string(b)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
