package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the queue surface used by publishers and consumers.
type ClientInterface interface {
	// Push publishes data and waits for the broker's confirmation.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes data without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume returns the delivery stream. Each delivery must be acknowledged.
	Consume() (<-chan amqp.Delivery, error)

	// Close shuts down the channel and connection.
	Close() error
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)
