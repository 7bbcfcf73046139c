package natsipc

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Subjects derives the worker's outbound and inbound subjects
func Subjects(prefix string, workerID string) (out string, in string) {
	return fmt.Sprintf("%s.%s.out", prefix, workerID), fmt.Sprintf("%s.%s.in", prefix, workerID)
}

// New subscribes to the worker's inbound subject on nc. The connection
// stays owned by the caller.
func New(nc *nats.Conn, prefix string, workerID string, compress bool) (*natsTransport, error) {
	out, in := Subjects(prefix, workerID)
	sub, err := nc.SubscribeSync(in)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", in, err)
	}
	return &natsTransport{
		nc:       nc,
		sub:      sub,
		outbox:   out,
		compress: compress,
	}, nil
}
