package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/mailgun/holster/v4/syncutil"
	"github.com/robfig/cron/v3"
	"github.com/ssgreg/repeat"

	"github.com/TxnLab/stakeledger/internal/api"
	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/journal"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

type DaemonConfig struct {
	Listen        string
	SnapshotEvery time.Duration
	MetricsEvery  time.Duration
	RateLimit     float64
	Burst         int
	NonceWindow   time.Duration
}

// Daemon serves the ledger API and runs the periodic jobs keeping the state file and metrics current. It
// takes its ledger, bank and journal from the App global at construction.
type Daemon struct {
	logger  *slog.Logger
	ledger  *ledger.Ledger
	bank    *bank.Memory
	journal *journal.Journal
	save    func() error
	cfg     DaemonConfig

	// API mutations hold the read side, snapshot takes it exclusively
	stateMu sync.RWMutex
	cron    *cron.Cron
}

func newDaemon(cfg DaemonConfig) *Daemon {
	return &Daemon{
		logger:  App.logger,
		ledger:  App.ledger,
		bank:    App.bank,
		journal: App.journal,
		save:    App.save,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

func (d *Daemon) router() *gin.Engine {
	cfg := api.Config{
		Ledger:      d.ledger,
		Bank:        d.bank,
		Mutations:   d.stateMu.RLocker(),
		RateLimit:   d.cfg.RateLimit,
		Burst:       d.cfg.Burst,
		NonceWindow: d.cfg.NonceWindow,
		Logger:      d.logger,
	}
	if d.journal != nil {
		cfg.Events = d.journal
	}
	return api.NewRouter(cfg)
}

// start launches the http server and the cron jobs. Server failures are reported on errc.
func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) error {
	d.logger.Info("Starting ledger daemon", "listen", d.cfg.Listen, "pools", d.ledger.PoolCount())
	gin.SetMode(gin.ReleaseMode)

	if d.cfg.SnapshotEvery > 0 {
		if _, err := d.cron.AddFunc(fmt.Sprintf("@every %s", d.cfg.SnapshotEvery), func() {
			if err := d.snapshot(); err != nil {
				misc.Errorf(d.logger, "state snapshot failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling snapshots: %w", err)
		}
	}
	if d.cfg.MetricsEvery > 0 {
		if _, err := d.cron.AddFunc(fmt.Sprintf("@every %s", d.cfg.MetricsEvery), func() {
			d.refreshMetrics(ctx)
		}); err != nil {
			return fmt.Errorf("scheduling metrics: %w", err)
		}
	}
	d.refreshMetrics(ctx)
	d.cron.Start()

	srv := &http.Server{
		Addr:              d.cfg.Listen,
		Handler:           d.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errc <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.logger.Info("exiting daemon start function")
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			misc.Warnf(d.logger, "http shutdown: %v", err)
		}
		// wait for any running job
		<-d.cron.Stop().Done()
	}()
	return nil
}

// snapshot writes the state file, retrying transient failures (ie: a full disk being cleaned up).
func (d *Daemon) snapshot() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	return repeat.Repeat(
		repeat.Fn(func() error {
			if err := d.save(); err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(5),
		repeat.FnOnError(func(err error) error {
			misc.Warnf(d.logger, "retrying state snapshot, error:%v", err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 100 * time.Millisecond,
				MaxDelay:  2 * time.Second,
			}).Set(),
		),
	)
}

// refreshMetrics recomputes what each pool owes its stakers (in parallel - NFT pools walk every token) and
// publishes the pool gauges.
func (d *Daemon) refreshMetrics(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pools := d.ledger.Pools()
	metrics := make([]ledger.PoolMetrics, len(pools))

	fanOut := syncutil.NewFanOut(4)
	for i := range pools {
		fanOut.Run(func(val any) error {
			idx := val.(int)
			pool := pools[idx]
			owed, err := d.ledger.PoolObligations(pool.ID)
			if err != nil {
				return fmt.Errorf("pool %d: %w", pool.ID, err)
			}
			unowed := new(uint256.Int)
			if available := pool.RewardAvailable(); available.Gt(owed) {
				unowed.Sub(available, owed)
			}
			metrics[idx] = ledger.PoolMetrics{
				PoolID:       pool.ID,
				NumStakers:   pool.NumStakers,
				TotalStaked:  wholeUnits(pool.TotalStaked, pool.StakingDecimals),
				RewardUnowed: wholeUnits(unowed, pool.RewardDecimals),
			}
			return nil
		}, i)
	}
	for _, err := range fanOut.Wait() {
		misc.Warnf(d.logger, "metrics refresh: %v", err)
	}
	// failed pools are left zeroed (pool ids start at 1)
	published := metrics[:0]
	for _, m := range metrics {
		if m.PoolID != 0 {
			published = append(published, m)
		}
	}
	d.ledger.PublishMetrics(published)
	misc.Debugf(d.logger, "refreshed metrics for %d of %d pools", len(published), len(pools))
}

func wholeUnits(amount *uint256.Int, decimals uint8) float64 {
	value, _ := strconv.ParseFloat(algo.FormattedAmount(amount, decimals), 64)
	return value
}
