/**
 * @description
 * This package provides a simple producer for publishing lockbox lifecycle events
 * to RabbitMQ. It encapsulates the logic for connecting to RabbitMQ and publishing
 * a message to a topic exchange with a routing key per lifecycle transition.
 *
 * @dependencies
 * - context, encoding/json, errors, log, net/url, strings, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys for lockbox lifecycle events.
const (
	RoutingKeyInitialized        = "lockbox.initialized"
	RoutingKeyDeposited          = "lockbox.deposited"
	RoutingKeyWithdrawn          = "lockbox.withdrawn"
	RoutingKeyEmergencyWithdrawn = "lockbox.emergency_withdrawn"
	RoutingKeyClosed             = "lockbox.closed"
)

// LockBoxEvent represents the payload published to RabbitMQ for each lifecycle transition.
type LockBoxEvent struct {
	LockBoxID    uuid.UUID `json:"lockbox_id"`
	OwnerAddress string    `json:"owner_address"`
	VaultAddress string    `json:"vault_address"`
	Amount       int64     `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishLockBoxEvent(ctx context.Context, routingKey string, event LockBoxEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) PublishLockBoxEvent(ctx context.Context, routingKey string, event LockBoxEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"event publish skipped\" routing_key=%s lockbox_id=%s", routingKey, event.LockBoxID)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer bound to the given
// topic exchange, declaring it if necessary.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// PublishLockBoxEvent publishes a lifecycle event with the given routing key.
func (p *EventProducer) PublishLockBoxEvent(ctx context.Context, routingKey string, event LockBoxEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lockbox event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
