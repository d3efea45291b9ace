package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const connectRetryDelay = 2 * time.Second

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// ContactSavedEvent is published to the durable audit stream whenever a
// session persists a peer's contact card
type ContactSavedEvent struct {
	SessionID   string `json:"session_id"`
	PeerSession string `json:"peer_session"`
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
	Timestamp   int64  `json:"timestamp"`
}

// ReceiptEvent fans out to every service instance so the peer's
// connection receives the receipt no matter which instance holds it
type ReceiptEvent struct {
	PeerSession string `json:"peer_session"`
	Token       string `json:"token"`
	Event       string `json:"event"`
	Timestamp   int64  `json:"timestamp"`
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing until the broker accepts the
// connection or ctx expires. The broker routinely comes up after the
// service in containerized deployments.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			if attempt > 1 {
				slog.Info("connected to rabbitmq",
					slog.Int("attempt", attempt))
			}
			return rmq, nil
		}
		lastErr = err

		slog.Warn("rabbitmq connection failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq connection: %w", lastErr)
		case <-time.After(connectRetryDelay):
		}
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		"exchange.events", // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	if err := r.channel.ExchangeDeclare(
		"exchange.receipts", // name
		"fanout",            // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	); err != nil {
		return fmt.Errorf("failed to declare receipts exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		"exchange.events.audit", // name
		true,                    // durable
		false,                   // delete when unused
		false,                   // exclusive
		false,                   // no-wait
		nil,                     // arguments
	); err != nil {
		return fmt.Errorf("failed to declare audit queue: %w", err)
	}

	if err := r.channel.QueueBind(
		"exchange.events.audit", // queue name
		"contact.*",             // routing key
		"exchange.events",       // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind audit queue: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// PublishContactSaved records a completed save on the durable audit
// stream
func (r *RabbitMQ) PublishContactSaved(ctx context.Context, sessionID, peerSession, token, displayName string) error {
	event := &ContactSavedEvent{
		SessionID:   sessionID,
		PeerSession: peerSession,
		Token:       token,
		DisplayName: displayName,
		Timestamp:   time.Now().Unix(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal contact saved event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		"exchange.events",
		"contact.saved",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish contact saved event: %w", err)
	}

	slog.Info("published contact saved event",
		slog.String("session_id", sessionID),
		slog.String("token", token))
	return nil
}

// PublishReceipt fans a handshake receipt out to all service instances.
// Receipts only matter to live connections, so they are not persisted.
func (r *RabbitMQ) PublishReceipt(ctx context.Context, peerSession, token, event string) error {
	receipt := &ReceiptEvent{
		PeerSession: peerSession,
		Token:       token,
		Event:       event,
		Timestamp:   time.Now().Unix(),
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		"exchange.receipts",
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish receipt event: %w", err)
	}

	slog.Info("published receipt event",
		slog.String("peer_session", peerSession),
		slog.String("event", event))
	return nil
}

// ConsumeAuditEvents delivers the durable contact event stream. Used by
// audit tooling; deliveries must be acked by the caller.
func (r *RabbitMQ) ConsumeAuditEvents() (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(
		"exchange.events.audit",
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming audit events",
		slog.String("queue", "exchange.events.audit"))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
