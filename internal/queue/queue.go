package queue

import "context"

const (
	// CallbackQueueName is the durable queue provider delivery receipts
	// land on before they are fed into the orchestrator.
	CallbackQueueName = "callback.dlr"

	// CallbackDLQName receives receipts that could not be parsed.
	CallbackDLQName = "dlq.callback.dlr"
)

// Publisher publishes callback messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg CallbackMessage) error
	Close() error
}

// MessageHandler handles a consumed callback message.
type MessageHandler func(ctx context.Context, msg CallbackMessage) error

// Consumer consumes callback messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
