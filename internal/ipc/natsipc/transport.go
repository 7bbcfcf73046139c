package natsipc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/nats-io/nats.go"
)

const (
	encodingHeader = "Content-Encoding"
	snappyEncoding = "snappy"
)

type natsTransport struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	outbox   string
	compress bool
}

func (s *natsTransport) WriteFrame(_ context.Context, frame []byte) error {
	msg := nats.NewMsg(s.outbox)
	msg.Data = frame
	if s.compress {
		msg.Data = snappy.Encode(nil, frame)
		msg.Header.Set(encodingHeader, snappyEncoding)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.outbox, err)
	}
	return nil
}

func (s *natsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return decodeFrame(msg)
}

func decodeFrame(msg *nats.Msg) ([]byte, error) {
	if msg.Header.Get(encodingHeader) != snappyEncoding {
		return msg.Data, nil
	}
	frame, err := snappy.Decode(nil, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress frame: %w", err)
	}
	return frame, nil
}

func (s *natsTransport) Flush(ctx context.Context) error {
	return s.nc.FlushWithContext(ctx)
}

func (s *natsTransport) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}
