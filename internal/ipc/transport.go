package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Transport moves whole frames between the worker and its parent. A frame
// is one JSON-encoded message. ReadFrame returns io.EOF once the parent
// side is gone.
type Transport interface {
	WriteFrame(ctx context.Context, frame []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Flusher is implemented by transports that buffer outside the process
type Flusher interface {
	Flush(ctx context.Context) error
}

// maxFrameSize bounds a single NDJSON line
const maxFrameSize = 16 << 20

// StdioTransport speaks newline-delimited JSON over a reader/writer pair,
// normally the worker's stdin and stdout.
type StdioTransport struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer

	wmu sync.Mutex
}

// NewStdioTransport reads frames from r and writes them to w. closer, if
// not nil, is closed by Close.
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	return &StdioTransport{
		r: bufio.NewReaderSize(r, 64<<10),
		w: w,
		c: closer,
	}
}

func (s *StdioTransport) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	line := make([]byte, 0, len(frame)+1)
	line = append(line, frame...)
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame blocks until a full line arrives. Reads from a pipe cannot be
// interrupted, so ctx is only checked before reading.
func (s *StdioTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (s *StdioTransport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := s.r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func (s *StdioTransport) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
