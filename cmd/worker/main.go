package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/deptrack"
	"github.com/programme-lv/testworker/internal/environment"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/ipc"
	"github.com/programme-lv/testworker/internal/ipc/natsipc"
	"github.com/programme-lv/testworker/internal/ipc/sqsipc"
	"github.com/programme-lv/testworker/internal/loader"
	"github.com/programme-lv/testworker/internal/logging"
	"github.com/programme-lv/testworker/internal/metrics"
	"github.com/programme-lv/testworker/internal/runner"
	_ "github.com/programme-lv/testworker/internal/samples"
	"github.com/programme-lv/testworker/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

func main() {
	panicOnError(environment.LoadDotEnv())
	env, err := environment.ReadEnvConfig()
	panicOnError(err)

	cmd := &cli.Command{
		Name:  "worker",
		Usage: "run one test file on behalf of a parent orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Value: string(env.Transport), Usage: "stdio, nats or sqs"},
			&cli.StringFlag{Name: "worker-id", Value: env.WorkerID},
			&cli.StringFlag{Name: "nats-url", Value: env.NatsURL},
			&cli.StringFlag{Name: "nats-subject-prefix", Value: env.NatsSubjectPrefix},
			&cli.BoolFlag{Name: "nats-compress", Value: env.NatsCompress},
			&cli.StringFlag{Name: "sqs-region", Value: env.SqsRegion},
			&cli.StringFlag{Name: "sqs-request-queue", Value: env.SqsRequestQueueURL},
			&cli.StringFlag{Name: "sqs-response-queue", Value: env.SqsResponseQueueURL},
			&cli.StringFlag{Name: "log-level", Value: env.LogLevel},
			&cli.StringFlag{Name: "log-format", Value: env.LogFormat, Usage: "text or json"},
			&cli.DurationFlag{Name: "fault-tick", Value: env.FaultTick},
			&cli.DurationFlag{Name: "flush-timeout", Value: env.FlushTimeout},
			&cli.StringFlag{Name: "metrics-addr", Value: env.MetricsAddr, Usage: "serve /metrics on this address"},
			&cli.BoolFlag{Name: "list-files", Usage: "print the registered test files and exit"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("list-files") {
				for _, f := range loader.Default.Files() {
					fmt.Println(f)
				}
				return nil
			}
			cfg := &environment.EnvConfig{
				Transport:           environment.Transport(cmd.String("transport")),
				WorkerID:            cmd.String("worker-id"),
				NatsURL:             cmd.String("nats-url"),
				NatsSubjectPrefix:   cmd.String("nats-subject-prefix"),
				NatsCompress:        cmd.Bool("nats-compress"),
				SqsRegion:           cmd.String("sqs-region"),
				SqsRequestQueueURL:  cmd.String("sqs-request-queue"),
				SqsResponseQueueURL: cmd.String("sqs-response-queue"),
				LogLevel:            cmd.String("log-level"),
				LogFormat:           cmd.String("log-format"),
				FaultTick:           cmd.Duration("fault-tick"),
				FlushTimeout:        cmd.Duration("flush-timeout"),
				MetricsAddr:         cmd.String("metrics-addr"),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			code, err := run(ctx, cfg)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	panicOnError(cmd.Run(ctx, os.Args))
}

func run(ctx context.Context, cfg *environment.EnvConfig) (int, error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)
	lc.JSON = cfg.LogFormat == "json"
	logger := logging.New(lc).With("worker", cfg.WorkerID)
	slog.SetDefault(logger)

	transport, cleanup, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, m, logger)
	}

	ch := ipc.NewChannel(transport, logger)
	hub := faults.NewHub()
	sup := supervisor.New(supervisor.Config{
		Channel: ch,
		NewEngine: func(opts api.RunOptions, hub *faults.Hub) (supervisor.Engine, error) {
			return runner.New(runner.ConfigFromOptions(opts), hub, logger), nil
		},
		Hub:          hub,
		Loader:       loader.New(loader.Default, logger),
		Tracker:      deptrack.New(ch, logger, 100*time.Millisecond),
		Debug:        supervisor.NewDebugAttacher(m.Registry(), logger),
		Metrics:      m,
		Log:          logger,
		FaultTick:    cfg.FaultTick,
		FlushTimeout: cfg.FlushTimeout,
	})

	code, err := sup.Run(ctx)
	if err != nil {
		return 0, err
	}
	closeChannel(ch, cfg.FlushTimeout, logger)
	return code, nil
}

// closeChannel gives the transport a bounded chance to shut down. A stdio
// reader blocked on the parent's pipe cannot be interrupted.
func closeChannel(ch *ipc.Channel, timeout time.Duration, logger *slog.Logger) {
	ch.Unref()
	done := make(chan error, 1)
	go func() { done <- ch.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("failed to close channel", "error", err)
		}
	case <-time.After(timeout):
		logger.Warn("channel close timed out")
	}
}

func openTransport(ctx context.Context, cfg *environment.EnvConfig, logger *slog.Logger) (ipc.Transport, func(), error) {
	switch cfg.Transport {
	case environment.TransportStdio:
		return ipc.NewStdioTransport(os.Stdin, os.Stdout, nil), func() {}, nil

	case environment.TransportNATS:
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("testworker-"+cfg.WorkerID))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		t, err := natsipc.New(nc, cfg.NatsSubjectPrefix, cfg.WorkerID, cfg.NatsCompress)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		out, in := natsipc.Subjects(cfg.NatsSubjectPrefix, cfg.WorkerID)
		logger.Info("using nats transport", "out", out, "in", in)
		return t, nc.Close, nil

	case environment.TransportSQS:
		client, err := sqsipc.NewClient(ctx, cfg.SqsRegion)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqs transport", "request_queue", cfg.SqsRequestQueueURL)
		return sqsipc.New(client, cfg.SqsRequestQueueURL, cfg.SqsResponseQueueURL, cfg.WorkerID), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

func panicOnError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
