package sqsipc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

type sqsTransport struct {
	client      API
	requestURL  string
	responseURL string
	groupID     string
	waitSeconds int32

	mu      sync.Mutex
	pending []types.Message
}

func (s *sqsTransport) WriteFrame(ctx context.Context, frame []byte) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.responseURL),
		MessageBody: aws.String(string(frame)),
	}
	if strings.HasSuffix(s.responseURL, ".fifo") {
		group := s.groupID
		if group == "" {
			group = "testworker"
		}
		in.MessageGroupId = aws.String(group)
		in.MessageDeduplicationId = aws.String(uuid.NewString())
	}
	if _, err := s.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// ReadFrame long-polls the request queue. Each message is deleted once it
// is handed out.
func (s *sqsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if msg, ok := s.next(); ok {
			if err := s.delete(ctx, msg); err != nil {
				return nil, err
			}
			return []byte(aws.ToString(msg.Body)), nil
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.requestURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     s.waitSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to receive messages: %w", err)
		}
		s.mu.Lock()
		s.pending = append(s.pending, out.Messages...)
		s.mu.Unlock()
	}
}

func (s *sqsTransport) next() (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return types.Message{}, false
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	return msg, true
}

func (s *sqsTransport) delete(ctx context.Context, msg types.Message) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.requestURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *sqsTransport) Close() error {
	return nil
}
