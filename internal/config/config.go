package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers      []string
	KafkaPingTopic    string
	KafkaListingTopic string

	AMQPURL         string
	ListingExchange string

	PGDSN string

	OSRMEndpoint  string
	RouteCacheTTL time.Duration

	GeocoderEndpoint string
	GeocoderKey      string

	Pricing PricingConfig

	SpeedKmh        float64
	RadiusSteps     []float64
	LookaheadDays   int
	DefaultLat      float64
	DefaultLng      float64
	DefaultTimezone string
	LocationMaxAge  time.Duration
	FeedRefresh     time.Duration

	LogLevel      string
	RunMigrations bool
}

// PricingConfig mirrors the fare constants that operators may override.
type PricingConfig struct {
	BaseRatePerKm    float64
	FloorPrice       float64
	BeerRunBase      float64
	BeerRunSurcharge float64
	RidesharePerSeat float64
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "users_geo",
		KafkaPingTopic:    "user-locations",
		KafkaListingTopic: "listing-events",
		ListingExchange:   "hitchr.listings",
		RouteCacheTTL:     5 * time.Minute,
		GeocoderEndpoint:  "https://us1.locationiq.com/v1",
		Pricing: PricingConfig{
			BaseRatePerKm:    0.35,
			FloorPrice:       10,
			BeerRunBase:      25,
			BeerRunSurcharge: 1.2,
			RidesharePerSeat: 5,
		},
		SpeedKmh:        70,
		RadiusSteps:     []float64{10, 25, 100, 200, 300},
		LookaheadDays:   14,
		DefaultLat:      51.6426,
		DefaultLng:      -121.2960,
		DefaultTimezone: "America/Vancouver",
		LocationMaxAge:  5 * time.Minute,
		FeedRefresh:     10 * time.Second,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaPingTopic, "KAFKA_PING_TOPIC")
	setStringFromEnv(&cfg.KafkaListingTopic, "KAFKA_LISTING_TOPIC")
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.ListingExchange, "AMQP_LISTING_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setStringFromEnv(&cfg.GeocoderEndpoint, "GEOCODER_ENDPOINT")
	cfg.GeocoderKey = os.Getenv("GEOCODER_KEY")

	setFloatFromEnv(&cfg.Pricing.BaseRatePerKm, "PRICING_BASE_RATE_PER_KM", &errs)
	setFloatFromEnv(&cfg.Pricing.FloorPrice, "PRICING_FLOOR", &errs)
	setFloatFromEnv(&cfg.Pricing.BeerRunBase, "PRICING_BEER_RUN_BASE", &errs)
	setFloatFromEnv(&cfg.Pricing.BeerRunSurcharge, "PRICING_BEER_RUN_SURCHARGE", &errs)
	setFloatFromEnv(&cfg.Pricing.RidesharePerSeat, "PRICING_RIDESHARE_PER_SEAT", &errs)

	setFloatFromEnv(&cfg.SpeedKmh, "ETA_SPEED_KMH", &errs)
	setFloatListFromEnv(&cfg.RadiusSteps, "RADIUS_STEPS_KM", &errs)
	setIntFromEnv(&cfg.LookaheadDays, "HOTSHOT_LOOKAHEAD_DAYS", &errs)
	setFloatFromEnv(&cfg.DefaultLat, "DEFAULT_CENTER_LAT", &errs)
	setFloatFromEnv(&cfg.DefaultLng, "DEFAULT_CENTER_LNG", &errs)
	setStringFromEnv(&cfg.DefaultTimezone, "DEFAULT_TIMEZONE")
	setDurationFromEnv(&cfg.LocationMaxAge, "LOCATION_MAX_AGE", &errs)
	setDurationFromEnv(&cfg.FeedRefresh, "FEED_REFRESH", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.SpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("ETA_SPEED_KMH must be > 0"))
	}
	if cfg.LookaheadDays <= 0 {
		errs = append(errs, fmt.Errorf("HOTSHOT_LOOKAHEAD_DAYS must be > 0"))
	}
	if len(cfg.RadiusSteps) == 0 {
		errs = append(errs, fmt.Errorf("RADIUS_STEPS_KM must list at least one radius"))
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig is the configuration of the location ingest worker.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	MoveThreshold float64
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "user-locations",
		KafkaGroup:    "hitchr-location-consumer",
		RedisAddr:     "localhost:6379",
		RedisGeoKey:   "users_geo",
		MoveThreshold: 30,
		LogLevel:      "info",
	}
	var errs []error
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_PING_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setFloatFromEnv(&cfg.MoveThreshold, "LOCATION_MOVE_THRESHOLD_M", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setFloatListFromEnv(target *[]float64, key string, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitAndTrim(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		out = append(out, f)
	}
	*target = out
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
