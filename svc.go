package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/api"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Serve the ledger API, snapshotting state and refreshing metrics in the background",
		Before:  loadLedger,
		Action:  runAsDaemon,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address the HTTP API (and /metrics) listens on",
				Sources: cli.EnvVars("LEDGER_LISTEN"),
				Value:   ":8080",
			},
			&cli.DurationFlag{
				Name:    "snapshot-every",
				Usage:   "How often the state file is written",
				Sources: cli.EnvVars("LEDGER_SNAPSHOT_EVERY"),
				Value:   time.Minute,
			},
			&cli.DurationFlag{
				Name:    "metrics-every",
				Usage:   "How often pool metrics are recomputed",
				Sources: cli.EnvVars("LEDGER_METRICS_EVERY"),
				Value:   30 * time.Second,
			},
			&cli.FloatFlag{
				Name:    "rate-limit",
				Usage:   "Requests per second allowed per client ip.  0 disables limiting",
				Sources: cli.EnvVars("LEDGER_RATE_LIMIT"),
				Value:   20,
			},
			&cli.DurationFlag{
				Name:    "nonce-window",
				Usage:   "How far a signed request's nonce may be from the server clock",
				Sources: cli.EnvVars("LEDGER_NONCE_WINDOW"),
				Value:   api.DefaultNonceWindow,
			},
			&cli.IntFlag{
				Name:    "burst",
				Usage:   "Request burst allowed per client ip",
				Sources: cli.EnvVars("LEDGER_BURST"),
				Value:   40,
			},
		},
	}
}

func runAsDaemon(ctx context.Context, cmd *cli.Command) error {
	var wg sync.WaitGroup

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)

	daemon := newDaemon(DaemonConfig{
		Listen:        cmd.String("listen"),
		SnapshotEvery: cmd.Duration("snapshot-every"),
		MetricsEvery:  cmd.Duration("metrics-every"),
		RateLimit:     cmd.Float("rate-limit"),
		Burst:         int(cmd.Int("burst")),
		NonceWindow:   cmd.Duration("nonce-window"),
	})
	if err := daemon.start(ctx, &wg, errc); err != nil {
		cancel()
		return err
	}

	misc.Infof(App.logger, "exiting (%v)", <-errc) // wait for termination signal

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on background tasks..")
	wg.Wait()

	// one last snapshot so nothing since the previous tick is lost
	if err := daemon.snapshot(); err != nil {
		return err
	}
	misc.Infof(App.logger, "exited")
	return nil
}
