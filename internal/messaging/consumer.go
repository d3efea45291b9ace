package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"bumplink/internal/protocol"
)

// Deliverer pushes a frame to a session's live connection on this
// instance. Returns false when the session is not connected here.
type Deliverer interface {
	DeliverTo(sessionID, frameType string, payload []byte) bool
}

// ReceiptConsumer bridges the receipt fanout back onto websocket
// connections. Every instance consumes the full stream; the one holding
// the peer's connection delivers, the rest drop.
type ReceiptConsumer struct {
	rmq       *RabbitMQ
	deliverer Deliverer
}

func NewReceiptConsumer(rmq *RabbitMQ, deliverer Deliverer) *ReceiptConsumer {
	return &ReceiptConsumer{
		rmq:       rmq,
		deliverer: deliverer,
	}
}

func (c *ReceiptConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,          // queue name
		"",                  // routing key
		"exchange.receipts", // exchange
		false,
		nil,
	); err != nil {
		return err
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	slog.Info("started consuming receipt events",
		slog.String("queue", queue.Name),
		slog.String("exchange", "exchange.receipts"))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping receipt consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("receipt consumer channel closed")
					return
				}

				var event ReceiptEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					slog.Error("error unmarshaling receipt event",
						slog.String("error", err.Error()),
						slog.String("body", string(msg.Body)))
					continue
				}

				c.deliverReceipt(&event)
			}
		}
	}()

	return nil
}

// deliverReceipt pushes the receipt envelope to the peer's connection
// if it lives on this instance
func (c *ReceiptConsumer) deliverReceipt(event *ReceiptEvent) {
	env := protocol.ServerEnvelope{
		Type:      protocol.TypeReceipt,
		SessionID: event.PeerSession,
		Token:     event.Token,
		Event:     event.Event,
	}

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("error marshaling receipt envelope",
			slog.String("error", err.Error()))
		return
	}

	if c.deliverer.DeliverTo(event.PeerSession, protocol.TypeReceipt, data) {
		slog.Info("delivered receipt to session",
			slog.String("peer_session", event.PeerSession),
			slog.String("event", event.Event))
	} else {
		slog.Debug("peer session not connected to this instance",
			slog.String("peer_session", event.PeerSession))
	}
}
