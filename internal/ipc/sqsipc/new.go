package sqsipc

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the subset of the SQS client the transport needs
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewClient loads the default AWS configuration for region
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// New reads parent messages from requestURL and writes worker messages to
// responseURL. groupID is the message group on FIFO response queues.
func New(client API, requestURL string, responseURL string, groupID string) *sqsTransport {
	return &sqsTransport{
		client:      client,
		requestURL:  requestURL,
		responseURL: responseURL,
		groupID:     groupID,
		waitSeconds: 20,
	}
}
