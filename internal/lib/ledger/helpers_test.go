package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
)

const T = int64(1_700_000_000)

type fakeClock struct {
	sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(unix int64) {
	c.Lock()
	defer c.Unlock()
	c.now = unix
}

type memorySink struct {
	sync.Mutex
	events []Event
	fail   bool
}

func (s *memorySink) Append(_ context.Context, event Event) error {
	s.Lock()
	defer s.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	bank   *bank.Memory
	sink   *memorySink
	ledger *Ledger

	owner   types.Address
	token   types.Address // staking asset
	reward  types.Address // reward asset
	nftColl types.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	custody := crypto.GetApplicationAddress(4242)
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   &fakeClock{now: T},
		bank:    bank.NewMemory(custody),
		sink:    &memorySink{},
		owner:   crypto.GenerateAccount().Address,
		token:   crypto.GenerateAccount().Address,
		reward:  crypto.GenerateAccount().Address,
		nftColl: crypto.GenerateAccount().Address,
	}
	l, err := New(Config{
		Owner:      h.owner,
		Custody:    custody,
		FeeAsset:   h.token,
		Assets:     h.bank,
		Allowances: h.bank,
		Clock:      h.clock,
		Sink:       h.sink,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.ledger = l
	return h
}

// account returns a new account holding amount of asset, all of it approved for the ledger.
func (h *harness) account(asset types.Address, amount uint64) types.Address {
	h.t.Helper()
	addr := crypto.GenerateAccount().Address
	h.give(addr, asset, amount)
	return addr
}

func (h *harness) give(addr, asset types.Address, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.bank.Mint(asset, addr, uint256.NewInt(amount)))
	allowed := h.bank.Allowance(asset, addr, h.ledger.Custody())
	require.NoError(h.t, h.bank.Approve(asset, addr, h.ledger.Custody(), allowed.AddUint64(allowed, amount)))
}

func (h *harness) balance(asset, addr types.Address) uint64 {
	return h.bank.BalanceOf(asset, addr).Uint64()
}

func (h *harness) fungibleParams() PoolParams {
	return PoolParams{
		StakingAsset:      h.token,
		RewardAsset:       h.reward,
		StakingDecimals:   6,
		RewardDecimals:    6,
		StartDate:         T,
		EndDate:           T + 1000,
		PenaltyPercentage: Fraction{10, 100},
	}
}

func (h *harness) createPool(params PoolParams) uint64 {
	h.t.Helper()
	creator := crypto.GenerateAccount().Address
	id, err := h.ledger.CreatePool(h.ctx, creator, params, nil)
	require.NoError(h.t, err)
	return id
}

func (h *harness) fundPool(id uint64, amount uint64) {
	h.t.Helper()
	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(h.t, err)
	funder := h.account(pool.RewardAsset, amount)
	require.NoError(h.t, h.ledger.FundPool(h.ctx, funder, id, uint256.NewInt(amount)))
}

func (h *harness) totalStaked(id uint64) uint64 {
	h.t.Helper()
	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(h.t, err)
	return pool.TotalStaked.Uint64()
}

// sumOfRecords adds up the live principal of every record in the pool.
func (h *harness) sumOfRecords(id uint64) uint64 {
	h.t.Helper()
	stakers, err := h.ledger.Stakers(id)
	require.NoError(h.t, err)
	var sum uint64
	for _, s := range stakers {
		sum += s.Balance.Uint64()
	}
	return sum
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
