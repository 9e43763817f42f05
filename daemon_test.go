package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

type daemonFixture struct {
	daemon *Daemon
	bank   *bank.Memory
	ledger *ledger.Ledger
	owner  types.Address
	token  types.Address
}

func newDaemonFixture(t *testing.T, save func() error) *daemonFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	custody := crypto.GetApplicationAddress(99)
	f := &daemonFixture{
		bank:  bank.NewMemory(custody),
		owner: crypto.GenerateAccount().Address,
		token: crypto.GenerateAccount().Address,
	}
	var err error
	f.ledger, err = ledger.New(ledger.Config{
		Owner:      f.owner,
		Custody:    custody,
		Assets:     f.bank,
		Allowances: f.bank,
		Logger:     logger,
	})
	require.NoError(t, err)
	f.daemon = &Daemon{
		logger: logger,
		ledger: f.ledger,
		bank:   f.bank,
		save:   save,
	}
	return f
}

// stakedPool creates a running pool with one staker of 100 whole units.
func (f *daemonFixture) stakedPool(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Unix()
	id, err := f.ledger.CreatePool(ctx, f.owner, ledger.PoolParams{
		StakingAsset:    f.token,
		RewardAsset:     f.token,
		StakingDecimals: 6,
		RewardDecimals:  6,
		StartDate:       now - 10,
		EndDate:         now + 86_400,
		BonusPercentage: ledger.Percent(10),
	}, nil)
	require.NoError(t, err)

	staker := crypto.GenerateAccount().Address
	amount := uint256.NewInt(100_000_000)
	require.NoError(t, f.bank.Mint(f.token, staker, amount))
	require.NoError(t, f.bank.Approve(f.token, staker, f.ledger.Custody(), amount))
	require.NoError(t, f.ledger.Stake(ctx, staker, id, amount))
	return id
}

func gaugeValue(t *testing.T, name string, pool uint64) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	label := strconv.FormatUint(pool, 10)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "pool" && pair.GetValue() == label {
					return metric.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestSnapshotWritesRestorableState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	var f *daemonFixture
	f = newDaemonFixture(t, func() error {
		return SaveState(path, &StateFile{Ledger: f.ledger.Snapshot(), Bank: f.bank.Snapshot()})
	})
	id := f.stakedPool(t)
	require.NoError(t, f.daemon.snapshot())

	state, err := LoadState(path)
	require.NoError(t, err)

	restored := newDaemonFixture(t, nil)
	require.NoError(t, restored.bank.Restore(state.Bank))
	require.NoError(t, restored.ledger.Restore(state.Ledger))
	assert.Equal(t, uint64(1), restored.ledger.PoolCount())

	pool, err := restored.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.Equal(t, "100000000", pool.TotalStaked.Dec())
	assert.Equal(t, f.owner, restored.ledger.Owner())
}

func TestSnapshotRetriesTransientFailures(t *testing.T) {
	var calls int
	f := newDaemonFixture(t, func() error {
		calls++
		if calls < 3 {
			return errors.New("disk full")
		}
		return nil
	})
	require.NoError(t, f.daemon.snapshot())
	assert.Equal(t, 3, calls)
}

func TestSnapshotGivesUp(t *testing.T) {
	var calls int
	f := newDaemonFixture(t, func() error {
		calls++
		return errors.New("read-only file system")
	})
	assert.Error(t, f.daemon.snapshot())
	assert.Equal(t, 5, calls)
}

func TestRefreshMetrics(t *testing.T) {
	f := newDaemonFixture(t, nil)
	id := f.stakedPool(t)
	f.daemon.refreshMetrics(context.Background())

	staked, found := gaugeValue(t, "ledger_staked_total", id)
	require.True(t, found)
	assert.Equal(t, 100.0, staked)

	stakers, found := gaugeValue(t, "ledger_staker_count", id)
	require.True(t, found)
	assert.Equal(t, 1.0, stakers)

	// nothing was funded, so nothing is left over
	unowed, found := gaugeValue(t, "ledger_reward_available", id)
	require.True(t, found)
	assert.Equal(t, 0.0, unowed)
}

func TestDaemonStartStop(t *testing.T) {
	var saved int
	f := newDaemonFixture(t, func() error {
		saved++
		return nil
	})
	f.daemon.cfg = DaemonConfig{Listen: "127.0.0.1:0", SnapshotEvery: time.Hour}
	f.daemon.cron = cron.New()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	require.NoError(t, f.daemon.start(ctx, &wg, errc))
	cancel()
	wg.Wait()

	select {
	case err := <-errc:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
	assert.Zero(t, saved)
}
