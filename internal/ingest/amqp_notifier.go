package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultListingExchange = "hitchr.listings"

// amqpChannel is the slice of *amqp.Channel the notifier uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier fans listing events out on a RabbitMQ topic exchange so
// services that do not read Kafka (notifications, admin tooling) can follow
// the marketplace.
type AMQPNotifier struct {
	exchange string
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultListingExchange
	}
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{exchange: exchange, conn: conn, ch: ch}, nil
}

// RoutingKey is listing.<type>.<id>, e.g. listing.deleted.abc.
func RoutingKey(e ListingEvent) string {
	return fmt.Sprintf("listing.%s.%s", e.Type, e.ListingID)
}

func (n *AMQPNotifier) PublishListing(ctx context.Context, e ListingEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode listing event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == nil {
		return fmt.Errorf("publish to %s: notifier closed", n.exchange)
	}
	err = n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ListingID,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", n.exchange, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	if n.ch != nil {
		err = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		if cerr := n.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		n.conn = nil
	}
	return err
}
