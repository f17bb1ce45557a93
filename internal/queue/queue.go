// Package queue provides the outbound notification queue for staged
// package versions.
package queue

import "context"

const (
	// BackendSQS sends notifications to an SQS queue
	BackendSQS = "sqs"

	// BackendMemory keeps notifications in process memory (tests, dry runs)
	BackendMemory = "memory"
)

// Message is a single queue message with optional string attributes
type Message struct {
	Body       string
	Attributes map[string]string
}

// Queue defines the interface for sending notification messages.
// Delivery is at-least-once from the sender's perspective; consumers
// must tolerate duplicates.
type Queue interface {
	// Send enqueues one message. An error means the queue did not
	// accept the message.
	Send(ctx context.Context, msg Message) error
}
