package deptrack_test

import (
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/deptrack"
	"github.com/programme-lv/testworker/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []api.Message
}

func (r *recorder) Send(msg api.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) deps() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res [][]string
	for _, m := range r.msgs {
		res = append(res, m.(api.Dependencies).Dependencies)
	}
	return res
}

func TestFlushSendsNewPathsOnce(t *testing.T) {
	rec := &recorder{}
	tr := deptrack.New(rec, logging.Discard(), 0)

	tr.Track("early.go")
	tr.Install("suite/math_test.go")
	tr.Track("suite/math_test.go")
	tr.Track("suite/helpers.go")
	tr.Track("./suite/helpers.go")
	tr.Track("__snapshots__/math.snap")
	tr.Flush()

	tr.Track("suite/helpers.go")
	tr.Track("other.go")
	tr.Flush()
	tr.Flush()

	assert.Equal(t, [][]string{
		{"suite/helpers.go", "__snapshots__/math.snap"},
		{"other.go"},
	}, rec.deps())
}

func TestDebouncedFlush(t *testing.T) {
	rec := &recorder{}
	tr := deptrack.New(rec, logging.Discard(), 5*time.Millisecond)
	tr.Install("t.go")
	tr.Track("a.go")
	tr.Track("b.go")

	require.Eventually(t, func() bool {
		return len(rec.deps()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a.go", "b.go"}, rec.deps()[0])
}
