// Command test drives a built worker binary through the behaviour
// scenarios and reports what the parent observed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/programme-lv/testworker/internal/behave"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := &cli.Command{
		Name:  "test",
		Usage: "run behaviour scenarios against a worker binary",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "worker", Value: "./worker", Usage: "path to the worker binary"},
			&cli.StringFlag{Name: "scenarios", Value: "internal/behave/testdata/scenarios.toml"},
			&cli.IntFlag{Name: "parallel", Value: 4},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "per scenario"},
			&cli.StringSliceFlag{Name: "env", Usage: "extra KEY=VALUE for the worker"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cases, err := behave.Parse(cmd.String("scenarios"))
			if err != nil {
				return err
			}
			r := &behave.Runner{
				WorkerPath: cmd.String("worker"),
				Env:        cmd.StringSlice("env"),
				Timeout:    cmd.Duration("timeout"),
			}
			rep := behave.NewReporter(os.Stdout)
			rep.Start(len(cases), r.WorkerPath)

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(1, int(cmd.Int("parallel"))))
			for _, c := range cases {
				g.Go(func() error {
					s, stderr, err := r.Run(gctx, c)
					var problems []string
					if err == nil {
						problems = c.Check(s)
					}
					rep.Result(c, s, problems, err, stderr)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if !rep.Finish() {
				return fmt.Errorf("some scenarios failed")
			}
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
