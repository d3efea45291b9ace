// +build integration

package messaging_test

import (
	"context"
	"testing"
	"time"

	"bumplink/internal/messaging"
	"bumplink/internal/protocol"
	"bumplink/internal/testutil"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReceiptConsumerIntegration tests the receipt consumer with real RabbitMQ
func TestReceiptConsumerIntegration(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	rmq, err := messaging.NewRabbitMQ(testContainer.url)
	require.NoError(t, err)
	defer rmq.Close()

	deliverer := testutil.NewMockDeliverer()
	consumer := messaging.NewReceiptConsumer(rmq, deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.Start(ctx)
	require.NoError(t, err)

	// Give consumer time to bind its queue
	time.Sleep(500 * time.Millisecond)

	t.Run("delivers_receipt_frame", func(t *testing.T) {
		publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer publishCancel()

		err := rmq.PublishReceipt(publishCtx, "sess-peer-1", "tok-receipt-1", protocol.ReceiptPeerSaved)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(deliverer.GetDeliveries()) >= 1
		}, 5*time.Second, 100*time.Millisecond, "timeout waiting for receipt delivery")

		delivery := deliverer.GetDeliveries()[0]
		assert.Equal(t, "sess-peer-1", delivery.SessionID)
		assert.Equal(t, protocol.TypeReceipt, delivery.FrameType)

		env, err := protocol.ParseServerEnvelope(delivery.Payload)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeReceipt, env.Type)
		assert.Equal(t, "sess-peer-1", env.SessionID)
		assert.Equal(t, "tok-receipt-1", env.Token)
		assert.Equal(t, protocol.ReceiptPeerSaved, env.Event)
	})

	t.Run("skips_malformed_events", func(t *testing.T) {
		baseline := len(deliverer.GetDeliveries())

		conn, err := amqp.Dial(testContainer.url)
		require.NoError(t, err)
		defer conn.Close()

		ch, err := conn.Channel()
		require.NoError(t, err)

		publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer publishCancel()

		// Garbage on the receipt exchange is logged and dropped, it must
		// not wedge the consumer.
		err = ch.PublishWithContext(publishCtx, "exchange.receipts", "", false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte("{not json"),
		})
		require.NoError(t, err)

		err = rmq.PublishReceipt(publishCtx, "sess-peer-2", "tok-receipt-2", protocol.ReceiptPeerRejected)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(deliverer.GetDeliveries()) == baseline+1
		}, 5*time.Second, 100*time.Millisecond, "valid receipt should still arrive")

		// The malformed event never surfaces as a delivery
		time.Sleep(500 * time.Millisecond)
		deliveries := deliverer.GetDeliveries()
		require.Len(t, deliveries, baseline+1)

		env, err := protocol.ParseServerEnvelope(deliveries[baseline].Payload)
		require.NoError(t, err)
		assert.Equal(t, "tok-receipt-2", env.Token)
		assert.Equal(t, protocol.ReceiptPeerRejected, env.Event)
	})

	t.Run("every_consumer_sees_the_stream", func(t *testing.T) {
		// A second consumer stands in for another server instance. Each
		// binds its own queue, so each sees every receipt.
		secondDeliverer := testutil.NewMockDeliverer()
		second := messaging.NewReceiptConsumer(rmq, secondDeliverer)

		secondCtx, secondCancel := context.WithCancel(context.Background())
		defer secondCancel()

		err := second.Start(secondCtx)
		require.NoError(t, err)

		time.Sleep(500 * time.Millisecond)

		firstBaseline := len(deliverer.GetDeliveries())

		publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer publishCancel()

		err = rmq.PublishReceipt(publishCtx, "sess-peer-3", "tok-receipt-3", protocol.ReceiptPeerSaved)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(deliverer.GetDeliveries()) > firstBaseline && len(secondDeliverer.GetDeliveries()) >= 1
		}, 5*time.Second, 100*time.Millisecond, "both consumers should receive the receipt")

		env, err := protocol.ParseServerEnvelope(secondDeliverer.GetDeliveries()[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, "sess-peer-3", env.SessionID)
		assert.Equal(t, "tok-receipt-3", env.Token)
	})
}

// TestReceiptConsumerShutdown tests that a cancelled consumer stops delivering
func TestReceiptConsumerShutdown(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	rmq, err := messaging.NewRabbitMQ(testContainer.url)
	require.NoError(t, err)
	defer rmq.Close()

	deliverer := testutil.NewMockDeliverer()
	consumer := messaging.NewReceiptConsumer(rmq, deliverer)

	ctx, cancel := context.WithCancel(context.Background())

	err = consumer.Start(ctx)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	// Stop the consumer, then publish
	cancel()
	time.Sleep(500 * time.Millisecond)

	publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer publishCancel()

	err = rmq.PublishReceipt(publishCtx, "sess-gone", "tok-after-stop", protocol.ReceiptPeerSaved)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)
	assert.Empty(t, deliverer.GetDeliveries(), "stopped consumer should not deliver")
}
