package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/debugattach"
	"github.com/prometheus/client_golang/prometheus"
)

type httpDebugAttacher struct {
	gatherer prometheus.Gatherer
	log      *slog.Logger

	mu  sync.Mutex
	srv *debugattach.Server
}

// NewDebugAttacher serves debug endpoints over HTTP on the requested port
func NewDebugAttacher(gatherer prometheus.Gatherer, log *slog.Logger) DebugAttacher {
	return &httpDebugAttacher{gatherer: gatherer, log: log}
}

func (d *httpDebugAttacher) Attach(ctx context.Context, opts api.DebugOptions) error {
	srv := debugattach.New(d.gatherer, d.log)
	if err := srv.Listen(opts.Port); err != nil {
		return err
	}
	d.mu.Lock()
	d.srv = srv
	d.mu.Unlock()
	if !opts.Break {
		return nil
	}
	return srv.WaitForContinue(ctx)
}

func (d *httpDebugAttacher) Close(ctx context.Context) error {
	d.mu.Lock()
	srv := d.srv
	d.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close(ctx)
}
