package ipc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/ipc"
	"github.com/programme-lv/testworker/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTransport delivers inbound frames pushed by the test and records
// outbound ones.
type memTransport struct {
	in chan []byte

	mu      sync.Mutex
	out     [][]byte
	flushes int
	closed  bool
}

func newMemTransport() *memTransport {
	return &memTransport{in: make(chan []byte, 16)}
}

func (m *memTransport) WriteFrame(_ context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = append(m.out, append([]byte(nil), frame...))
	return nil
}

func (m *memTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-m.in:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memTransport) Flush(context.Context) error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memTransport) types(t *testing.T) []api.MsgType {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]api.MsgType, 0, len(m.out))
	for _, f := range m.out {
		var h api.Header
		require.NoError(t, json.Unmarshal(f, &h))
		res = append(res, h.MsgType)
	}
	return res
}

func push(t *testing.T, m *memTransport, msg any) {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	m.in <- b
}

func TestSendAndFlushPreserveOrder(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())

	require.NoError(t, ch.Send(api.NewReadyForOptions()))
	require.NoError(t, ch.Send(api.NewTestPassed("a", 1)))
	require.NoError(t, ch.Send(api.NewTouchedFiles([]string{"x.snap"})))
	require.NoError(t, ch.Flush(context.Background()))

	assert.Equal(t, []api.MsgType{
		api.ReadyForOptionsMsg,
		api.TestPassedMsg,
		api.TouchedFilesMsg,
	}, tr.types(t))
	assert.Equal(t, 1, tr.flushes)

	ch.Unref()
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(api.NewReadyForOptions()), ipc.ErrClosed)
}

func TestOptionsDeliveredOnce(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	defer ch.Close()

	push(t, tr, api.NewOptions(api.RunOptions{File: "first"}))
	push(t, tr, api.NewOptions(api.RunOptions{File: "second"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opts, err := ch.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", opts.File)

	// the repeated envelope is ignored even after it has been read
	push(t, tr, api.NewPeerFailed())
	<-ch.PeerFailed()
	opts, err = ch.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", opts.File)
}

func TestEOFBeforeOptionsFailsHandshake(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	close(tr.in)

	_, err := ch.Options(context.Background())
	assert.ErrorIs(t, err, ipc.ErrNoOptions)

	select {
	case <-ch.PeerFailed():
		t.Fatal("EOF before options must not count as peer failure")
	default:
	}
}

func TestEOFAfterOptionsSignalsPeerFailure(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	push(t, tr, api.NewOptions(api.RunOptions{File: "f"}))
	_, err := ch.Options(context.Background())
	require.NoError(t, err)

	close(tr.in)
	select {
	case <-ch.PeerFailed():
	case <-time.After(2 * time.Second):
		t.Fatal("peer failure not signalled")
	}
}

func TestUnknownFramesAreDropped(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	defer ch.Close()

	tr.in <- []byte(`not json`)
	tr.in <- []byte(`{"type":"mystery"}`)
	push(t, tr, api.NewOptions(api.RunOptions{File: "f"}))

	opts, err := ch.Options(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f", opts.File)
}

func TestMalformedOptionsFailHandshake(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	defer ch.Close()

	tr.in <- []byte(`{"type":"options","options":{"file":42}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.Options(ctx)
	require.ErrorIs(t, err, ipc.ErrMalformedOptions)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	// a valid envelope arriving later does not reopen the handshake
	push(t, tr, api.NewOptions(api.RunOptions{File: "f"}))
	push(t, tr, api.NewPeerFailed())
	<-ch.PeerFailed()
	_, err = ch.Options(ctx)
	assert.ErrorIs(t, err, ipc.ErrMalformedOptions)
}

func TestMalformedOptionsAfterHandshakeAreDropped(t *testing.T) {
	tr := newMemTransport()
	ch := ipc.NewChannel(tr, logging.Discard())
	defer ch.Close()

	push(t, tr, api.NewOptions(api.RunOptions{File: "f"}))
	tr.in <- []byte(`{"type":"options","options":{"file":42}}`)
	push(t, tr, api.NewPeerFailed())
	<-ch.PeerFailed()

	opts, err := ch.Options(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f", opts.File)
}

func TestFlushHonoursContext(t *testing.T) {
	ch := ipc.NewChannel(blockingTransport{newMemTransport()}, logging.Discard())
	require.NoError(t, ch.Send(api.NewReadyForOptions()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Flush(ctx), context.DeadlineExceeded)
}

type blockingTransport struct{ *memTransport }

func (blockingTransport) WriteFrame(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStdioTransportRoundTrip(t *testing.T) {
	in := bytes.NewBufferString("{\"type\":\"peer-failed\"}\n\n{\"type\":\"options\"}")
	var out bytes.Buffer
	tr := ipc.NewStdioTransport(in, &out, nil)

	ctx := context.Background()
	f, err := tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"peer-failed"}`, string(f))

	f, err = tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"options"}`, string(f))

	_, err = tr.ReadFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, tr.WriteFrame(ctx, []byte(`{"type":"a"}`)))
	require.NoError(t, tr.WriteFrame(ctx, []byte(`{"type":"b"}`)))
	assert.Equal(t, "{\"type\":\"a\"}\n{\"type\":\"b\"}\n", out.String())
	assert.NoError(t, tr.Close())
}
