package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/hitchr-matching/internal/models"
)

const (
	DefaultPingTopic    = "user-locations"
	DefaultListingTopic = "listing-events"

	publishTimeout = 2 * time.Second
)

// ListingEvent announces that a listing was created, replaced or removed.
type ListingEvent struct {
	Type      string          `json:"type"`
	ListingID string          `json:"listing_id"`
	Listing   *models.Listing `json:"listing,omitempty"`
	At        time.Time       `json:"at"`
}

const (
	EventUpserted = "upserted"
	EventDeleted  = "deleted"
)

// ListingPublisher announces listing changes to downstream consumers.
type ListingPublisher interface {
	PublishListing(ctx context.Context, e ListingEvent) error
}

// Publisher is what the services need from the event bus.
type Publisher interface {
	ListingPublisher
	PublishPing(ctx context.Context, p models.LocationPing) error
}

type KafkaProducer struct {
	pings    *kafka.Writer
	listings *kafka.Writer
}

func NewKafkaProducer(brokers []string, pingTopic, listingTopic string) *KafkaProducer {
	return &KafkaProducer{
		pings:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: pingTopic, Balancer: &kafka.LeastBytes{}}),
		listings: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: listingTopic, Balancer: &kafka.Hash{}}),
	}
}

// PublishPing keys the message by user so one user's pings stay ordered.
func (k *KafkaProducer) PublishPing(ctx context.Context, p models.LocationPing) error {
	return write(ctx, k.pings, p.UserID, p)
}

func (k *KafkaProducer) PublishListing(ctx context.Context, e ListingEvent) error {
	return write(ctx, k.listings, e.ListingID, e)
}

func write(ctx context.Context, w *kafka.Writer, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", w.Topic, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("publish to %s: %w", w.Topic, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	var err error
	for _, w := range []*kafka.Writer{k.pings, k.listings} {
		if w == nil {
			continue
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DecodePing parses a ping message and rejects records that cannot be
// placed on the map.
func DecodePing(b []byte) (models.LocationPing, error) {
	var p models.LocationPing
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode ping: %w", err)
	}
	if p.UserID == "" {
		return p, fmt.Errorf("decode ping: missing user_id")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return p, fmt.Errorf("decode ping: coordinates out of range (%v, %v)", p.Lat, p.Lng)
	}
	return p, nil
}
