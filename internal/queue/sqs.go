package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the subset of the SQS client used by the queue
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// sqsQueue implements Queue on top of an SQS queue URL
type sqsQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSQueue creates a Queue backed by the given SQS queue URL,
// resolving credentials and region from the default AWS config chain.
func NewSQSQueue(ctx context.Context, queueURL string) (Queue, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &sqsQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

// NewSQSQueueWithClient creates a Queue using an existing SQS client
func NewSQSQueueWithClient(client sqsAPI, queueURL string) Queue {
	return &sqsQueue{
		client:   client,
		queueURL: queueURL,
	}
}

func (q *sqsQueue) Send(ctx context.Context, msg Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(msg.Body),
	}

	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for name, value := range msg.Attributes {
			input.MessageAttributes[name] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(value),
			}
		}
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", q.queueURL, err)
	}
	return nil
}
