// Package deptrack records the source files a test file depended on and
// reports them to the parent in batches.
package deptrack

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/testworker/api"
)

type Sender interface {
	Send(msg api.Message) error
}

type Tracker struct {
	sender   Sender
	log      *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	installed bool
	testPath  string
	seen      mapset.Set[string]
	fresh     []string
	timer     *time.Timer
}

// New creates a tracker. A positive debounce flushes automatically that
// long after the last tracked path.
func New(sender Sender, log *slog.Logger, debounce time.Duration) *Tracker {
	return &Tracker{
		sender:   sender,
		log:      log.With("component", "deptrack"),
		debounce: debounce,
		seen:     mapset.NewThreadUnsafeSet[string](),
	}
}

// Install starts tracking on behalf of testPath. Paths tracked before
// Install are ignored.
func (t *Tracker) Install(testPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.installed = true
	t.testPath = filepath.Clean(testPath)
}

func (t *Tracker) Track(path string) {
	path = filepath.Clean(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.installed {
		t.log.Debug("dependency before install", "path", path)
		return
	}
	if path == t.testPath || !t.seen.Add(path) {
		return
	}
	t.fresh = append(t.fresh, path)

	if t.debounce <= 0 {
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.debounce, t.Flush)
	} else {
		t.timer.Reset(t.debounce)
	}
}

// Flush sends the paths tracked since the previous flush
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	fresh := t.fresh
	t.fresh = nil
	t.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	if err := t.sender.Send(api.NewDependencies(fresh)); err != nil {
		t.log.Warn("failed to send dependencies", "error", err, "count", len(fresh))
	}
}
