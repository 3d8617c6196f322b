package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/hitchr-matching/internal/config"
	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/ingest"
	"github.com/example/hitchr-matching/internal/logging"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/observability"
)

const (
	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond
	maxBackoff    = 30 * time.Second
)

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ConsumerConfig, logger *slog.Logger) error {
	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	ops := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, reader, newPingApplier(&redisAdapter{c: rc}, cfg.RedisGeoKey, cfg.MoveThreshold), logger)
	logger.Info("shutting down consumer")
	return nil
}

// messageReader is the part of *kafka.Reader the loop needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume applies pings until ctx is done. Read errors back off
// exponentially up to maxBackoff; bad messages are counted and skipped.
func consume(ctx context.Context, r messageReader, applier *pingApplier, logger *slog.Logger) {
	backoff := time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		p, err := ingest.DecodePing(m.Value)
		if err != nil {
			observability.ConsumerMessagesTotal.WithLabelValues("invalid").Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}
		applied, err := applier.Apply(ctx, p, retryAttempts, retryDelay)
		switch {
		case err != nil:
			observability.ConsumerMessagesTotal.WithLabelValues("failed").Inc()
			logger.Error("redis update failed", "user_id", p.UserID, "error", err)
		case !applied:
			observability.ConsumerMessagesTotal.WithLabelValues("stale").Inc()
		default:
			observability.ConsumerMessagesTotal.WithLabelValues("applied").Inc()
		}
	}
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// pingApplier writes pings to the location cache. It remembers the last
// ping applied per user so out-of-order pings are dropped and a position
// within the move threshold only refreshes the timestamp.
type pingApplier struct {
	rc        RedisUpdater
	geoKey    string
	threshold float64

	mu   sync.Mutex
	last map[string]models.LocationPing
}

func newPingApplier(rc RedisUpdater, geoKey string, thresholdMeters float64) *pingApplier {
	return &pingApplier{rc: rc, geoKey: geoKey, threshold: thresholdMeters, last: make(map[string]models.LocationPing)}
}

// Apply reports false when the ping is older than the last applied one.
func (a *pingApplier) Apply(ctx context.Context, p models.LocationPing, attempts int, delay time.Duration) (bool, error) {
	a.mu.Lock()
	prev, seen := a.last[p.UserID]
	a.mu.Unlock()
	if seen && p.Timestamp.Before(prev.Timestamp) {
		return false, nil
	}
	move := !seen || geo.Moved(prev, p, a.threshold)
	if err := updateRedisWithRetry(ctx, a.rc, a.geoKey, p, move, attempts, delay); err != nil {
		return false, err
	}
	if !move {
		// keep the stored position as the reference so slow drift still
		// crosses the threshold eventually
		p.Lat, p.Lng = prev.Lat, prev.Lng
	}
	a.mu.Lock()
	a.last[p.UserID] = p
	a.mu.Unlock()
	return true, nil
}

// updateRedisWithRetry writes the position (when move is set) and the ping
// timestamp, retrying each attempt with a doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, p models.LocationPing, move bool, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if move {
			if err = rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.UserID}); err != nil {
				continue
			}
		}
		if err = rc.HSet(ctx, geo.MetaKey(p.UserID), map[string]interface{}{"ts": geo.FormatTimestamp(p.Timestamp)}); err != nil {
			continue
		}
		return nil
	}
	return err
}
