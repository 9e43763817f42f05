package ledger

import (
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
)

func TestWalletCapAndEarlyUnstakePenalty(t *testing.T) {
	h := newHarness(t)
	params := h.fungibleParams()
	params.MaxStakePerWallet = u(100)
	id := h.createPool(params)
	alice := h.account(h.token, 200)

	h.clock.Set(T + 10)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(60)))
	assert.Equal(t, uint64(60), h.totalStaked(id))

	err := h.ledger.Stake(h.ctx, alice, id, u(50))
	assert.ErrorIs(t, err, ErrWalletCapExceeded)
	assert.Equal(t, uint64(60), h.totalStaked(id))
	assert.Equal(t, uint64(140), h.balance(h.token, alice))

	h.clock.Set(T + 500)
	quote, err := h.ledger.QuoteUnstake(id, alice, u(60))
	require.NoError(t, err)
	assert.Equal(t, uint64(54), quote.Payout.Uint64())

	require.NoError(t, h.ledger.Unstake(h.ctx, alice, id, u(60)))
	assert.Equal(t, uint64(0), h.totalStaked(id))
	// 60 minus the 10% penalty
	assert.Equal(t, uint64(140+54), h.balance(h.token, alice))
	assert.Equal(t, uint64(6), h.ledger.Treasury(h.token).Uint64())

	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.Zero(t, pool.NumStakers)
}

func TestNoPenaltyAfterEnd(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 100)

	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(100)))
	h.clock.Set(T + 1000)
	require.NoError(t, h.ledger.Unstake(h.ctx, alice, id, u(100)))
	assert.Equal(t, uint64(100), h.balance(h.token, alice))
	assert.True(t, h.ledger.Treasury(h.token).IsZero())
}

func TestStakeFailuresLeaveTotalsUnchanged(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	inactive := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 1000)

	h.clock.Set(T + 1)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(10)))

	inactivePool, err := h.ledger.GetPoolInfo(inactive)
	require.NoError(t, err)
	require.NoError(t, h.ledger.SetPoolActive(h.ctx, inactivePool.Creator, inactive, false))

	testCases := []struct {
		name   string
		poolID uint64
		at     int64
		amount uint64
		want   error
	}{
		{"missing pool", 99, T + 1, 10, ErrNotFound},
		{"inactive pool", inactive, T + 1, 10, ErrPoolInactive},
		{"before start", id, T - 1, 10, ErrOutsideWindow},
		{"after end", id, T + 1001, 10, ErrOutsideWindow},
		{"zero amount", id, T + 1, 0, ErrInvalidParameters},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h.clock.Set(tc.at)
			err := h.ledger.Stake(h.ctx, alice, tc.poolID, u(tc.amount))
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, uint64(10), h.totalStaked(id))
			assert.Equal(t, uint64(0), h.totalStaked(inactive))
			assert.Equal(t, uint64(990), h.balance(h.token, alice))
		})
	}
}

func TestUnstakeStakeRoundTrip(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 1000)
	bob := h.account(h.token, 1000)

	require.NoError(t, h.ledger.Stake(h.ctx, bob, id, u(300)))
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(100)))
	before := h.totalStaked(id)

	h.clock.Set(T + 100)
	require.NoError(t, h.ledger.Unstake(h.ctx, alice, id, u(100)))
	assert.Equal(t, before-100, h.totalStaked(id))
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(100)))
	assert.Equal(t, before, h.totalStaked(id))
	// the 10% penalty is the only deterministic loss
	assert.Equal(t, uint64(1000-100-10), h.balance(h.token, alice))
}

func TestTotalStakedMatchesRecords(t *testing.T) {
	h := newHarness(t)
	params := h.fungibleParams()
	params.StakingFee = Fraction{3, 100}
	params.UnstakingFee = Fraction{1, 100}
	params.IsSharedPool = true
	id := h.createPool(params)
	h.fundPool(id, 10_000)

	accounts := []types.Address{h.account(h.token, 10_000), h.account(h.token, 10_000), h.account(h.token, 10_000)}
	steps := []struct {
		who     int
		stake   bool
		amount  uint64
		advance int64
	}{
		{0, true, 500, 0}, {1, true, 250, 10}, {0, false, 100, 15}, {2, true, 999, 30},
		{1, false, 242, 40}, {2, false, 1, 41}, {0, true, 77, 90}, {0, false, 400, 95},
	}
	for i, step := range steps {
		h.clock.Set(T + step.advance)
		var err error
		if step.stake {
			err = h.ledger.Stake(h.ctx, accounts[step.who], id, u(step.amount))
		} else {
			err = h.ledger.Unstake(h.ctx, accounts[step.who], id, u(step.amount))
		}
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, h.sumOfRecords(id), h.totalStaked(id), "step %d", i)
	}
}

func TestUnstakeMoreThanStaked(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 100)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(50)))

	assert.ErrorIs(t, h.ledger.Unstake(h.ctx, alice, id, u(51)), ErrInsufficientStake)
	assert.ErrorIs(t, h.ledger.Unstake(h.ctx, h.account(h.token, 1), id, u(1)), ErrInsufficientStake)
	assert.Equal(t, uint64(50), h.totalStaked(id))
}

func TestStakingAndUnstakingFees(t *testing.T) {
	h := newHarness(t)
	params := h.fungibleParams()
	params.StakingFee = Fraction{1, 100}
	params.UnstakingFee = Fraction{2, 100}
	id := h.createPool(params)
	alice := h.account(h.token, 100)

	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(100)))
	staked, err := h.ledger.StakedBalance(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), staked.Uint64())
	assert.Equal(t, uint64(1), h.ledger.Treasury(h.token).Uint64())

	h.clock.Set(T + 2000)
	require.NoError(t, h.ledger.Unstake(h.ctx, alice, id, u(99)))
	// 2% of 99 floors to 1
	assert.Equal(t, uint64(98), h.balance(h.token, alice))
	assert.Equal(t, uint64(2), h.ledger.Treasury(h.token).Uint64())

	amount, err := h.ledger.Withdraw(h.ctx, h.owner, h.token)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), amount.Uint64())
	assert.Equal(t, uint64(2), h.balance(h.token, h.owner))

	_, err = h.ledger.Withdraw(h.ctx, h.owner, h.token)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = h.ledger.Withdraw(h.ctx, alice, h.token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInactivePoolStillAllowsExit(t *testing.T) {
	h := newHarness(t)
	params := h.fungibleParams()
	params.BonusPercentage = Fraction{10, 100}
	id := h.createPool(params)
	h.fundPool(id, 1000)
	alice := h.account(h.token, 1001)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(1000)))

	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.ErrorIs(t, h.ledger.SetPoolActive(h.ctx, alice, id, false), ErrUnauthorized)
	require.NoError(t, h.ledger.SetPoolActive(h.ctx, pool.Creator, id, false))
	active, err := h.ledger.PoolIsActive(id)
	require.NoError(t, err)
	assert.False(t, active)

	h.clock.Set(T + 500)
	assert.ErrorIs(t, h.ledger.Stake(h.ctx, alice, id, u(1)), ErrPoolInactive)

	reward, err := h.ledger.ClaimToken(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), reward.Uint64())
	require.NoError(t, h.ledger.Unstake(h.ctx, alice, id, u(1000)))

	// owner can reactivate too
	require.NoError(t, h.ledger.SetPoolActive(h.ctx, h.owner, id, true))
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(1)))
}

func TestPauseScenario(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 100)

	assert.ErrorIs(t, h.ledger.Pause(h.ctx, alice), ErrUnauthorized)
	require.NoError(t, h.ledger.Pause(h.ctx, h.owner))
	assert.True(t, h.ledger.Paused())
	assert.ErrorIs(t, h.ledger.Pause(h.ctx, h.owner), ErrAlreadyInState)

	assert.ErrorIs(t, h.ledger.Stake(h.ctx, alice, id, u(10)), ErrContractPaused)
	_, err := h.ledger.CreatePool(h.ctx, alice, h.fungibleParams(), nil)
	assert.ErrorIs(t, err, ErrContractPaused)
	// reads keep working
	assert.True(t, h.ledger.PoolExists(id))
	_, err = h.ledger.GetPoolInfo(id)
	assert.NoError(t, err)

	require.NoError(t, h.ledger.Unpause(h.ctx, h.owner))
	assert.ErrorIs(t, h.ledger.Unpause(h.ctx, h.owner), ErrAlreadyInState)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(10)))
	assert.Equal(t, uint64(10), h.totalStaked(id))
}

func TestOwnershipScenario(t *testing.T) {
	h := newHarness(t)
	newOwner := crypto.GenerateAccount().Address

	err := h.ledger.TransferOwnership(h.ctx, h.owner, types.ZeroAddress)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, h.owner, h.ledger.Owner())

	require.NoError(t, h.ledger.TransferOwnership(h.ctx, h.owner, newOwner))
	assert.Equal(t, newOwner, h.ledger.Owner())
	assert.ErrorIs(t, h.ledger.Pause(h.ctx, h.owner), ErrUnauthorized)
	assert.ErrorIs(t, h.ledger.SetStakingFee(h.ctx, h.owner, Fraction{1, 100}), ErrUnauthorized)
	assert.ErrorIs(t, h.ledger.TransferOwnership(h.ctx, h.owner, h.owner), ErrUnauthorized)

	require.NoError(t, h.ledger.Pause(h.ctx, newOwner))
	require.NoError(t, h.ledger.RenounceOwnership(h.ctx, newOwner))
	assert.Equal(t, types.ZeroAddress, h.ledger.Owner())
	assert.ErrorIs(t, h.ledger.Unpause(h.ctx, newOwner), ErrUnauthorized)
	assert.ErrorIs(t, h.ledger.Unpause(h.ctx, types.ZeroAddress), ErrUnauthorized)
}

func TestCreatePoolValidation(t *testing.T) {
	h := newHarness(t)
	creator := crypto.GenerateAccount().Address
	testCases := []struct {
		name   string
		modify func(p *PoolParams)
	}{
		{"start after end", func(p *PoolParams) { p.StartDate = p.EndDate }},
		{"negative start", func(p *PoolParams) { p.StartDate = -1 }},
		{"zero staking asset", func(p *PoolParams) { p.StakingAsset = types.ZeroAddress }},
		{"zero reward asset", func(p *PoolParams) { p.RewardAsset = types.ZeroAddress }},
		{"zero denominator", func(p *PoolParams) { p.PenaltyPercentage = Fraction{1, 0} }},
		{"bonus zero denominator", func(p *PoolParams) { p.BonusPercentage = Fraction{5, 0} }},
		{"fee above one", func(p *PoolParams) { p.UnstakingFee = Fraction{101, 100} }},
		{"fee above max", func(p *PoolParams) {
			p.StakingFee = Fraction{5, 100}
			p.MaxStakingFee = Fraction{1, 100}
		}},
		{"too many decimals", func(p *PoolParams) { p.RewardDecimals = 37 }},
		{"nft with decimals", func(p *PoolParams) { p.IsNFTPool = true }},
		{"shared in v2", func(p *PoolParams) {
			p.SchemaVersion = SchemaV2
			p.IsSharedPool = true
		}},
		{"unknown schema", func(p *PoolParams) { p.SchemaVersion = 9 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params := h.fungibleParams()
			tc.modify(&params)
			_, err := h.ledger.CreatePool(h.ctx, creator, params, nil)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
	assert.Zero(t, h.ledger.PoolCount())

	id1 := h.createPool(h.fungibleParams())
	id2 := h.createPool(h.fungibleParams())
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.False(t, h.ledger.PoolExists(3))
	_, err := h.ledger.GetPoolInfo(3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreationFee(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SetPoolCreationFee(h.ctx, h.owner, u(10)))
	creator := h.account(h.token, 10)

	_, err := h.ledger.CreatePool(h.ctx, creator, h.fungibleParams(), u(5))
	assert.ErrorIs(t, err, ErrInsufficientFee)
	_, err = h.ledger.CreatePool(h.ctx, creator, h.fungibleParams(), nil)
	assert.ErrorIs(t, err, ErrInsufficientFee)
	assert.Zero(t, h.ledger.PoolCount())

	id, err := h.ledger.CreatePool(h.ctx, creator, h.fungibleParams(), u(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(0), h.balance(h.token, creator))
	assert.Equal(t, uint64(10), h.ledger.Treasury(h.token).Uint64())

	// allowance exhausted
	_, err = h.ledger.CreatePool(h.ctx, creator, h.fungibleParams(), u(10))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(1), h.ledger.PoolCount())
}

func TestDefaultFeesApplyToNewPools(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SetStakingFee(h.ctx, h.owner, Fraction{2, 100}))
	require.NoError(t, h.ledger.SetUnstakingFee(h.ctx, h.owner, Fraction{3, 100}))
	assert.ErrorIs(t, h.ledger.SetUnstakingFee(h.ctx, h.owner, Fraction{3, 0}), ErrInvalidParameters)

	id := h.createPool(h.fungibleParams())
	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.Equal(t, Fraction{2, 100}, pool.StakingFee)
	assert.Equal(t, Fraction{3, 100}, pool.UnstakingFee)

	require.NoError(t, h.ledger.UpdatePoolFees(h.ctx, pool.Creator, id, Fraction{0, 1}, Fraction{0, 1}))
	assert.ErrorIs(t, h.ledger.UpdatePoolFees(h.ctx, crypto.GenerateAccount().Address, id, Fraction{0, 1}, Fraction{0, 1}), ErrUnauthorized)
	assert.ErrorIs(t, h.ledger.UpdatePoolFees(h.ctx, h.owner, id, Fraction{2, 1}, Fraction{0, 1}), ErrInvalidParameters)
	pool, err = h.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.True(t, pool.StakingFee.IsZero())
}

func TestCollaboratorFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	// no allowance pre-check, so the bank's refusal is what surfaces
	h.ledger.allowances = nil
	id := h.createPool(h.fungibleParams())
	alice := crypto.GenerateAccount().Address
	require.NoError(t, h.bank.Mint(h.token, alice, u(100)))

	err := h.ledger.Stake(h.ctx, alice, id, u(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, bank.ErrInsufficientAllowance)
	assert.Empty(t, CodeOf(err))
	assert.Zero(t, h.totalStaked(id))
	staked, err := h.ledger.StakedBalance(id, alice)
	require.NoError(t, err)
	assert.True(t, staked.IsZero())
	pool, err := h.ledger.GetPoolInfo(id)
	require.NoError(t, err)
	assert.Zero(t, pool.NumStakers)
}

func TestEventsAndSink(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.fungibleParams())
	alice := h.account(h.token, 100)
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(40)))

	h.sink.fail = true
	require.NoError(t, h.ledger.Stake(h.ctx, alice, id, u(20)))
	// sink failures don't roll the stake back
	assert.Equal(t, uint64(60), h.totalStaked(id))

	events := h.ledger.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, EventPoolCreated, events[0].Kind)
	assert.Equal(t, EventStaked, events[2].Kind)
	assert.Equal(t, uint64(3), events[2].Seq)
	assert.Equal(t, uint64(20), events[2].Amount.Uint64())
	assert.Len(t, h.ledger.Events(2), 1)
	assert.Equal(t, uint64(3), h.ledger.LastSeq())
	assert.Len(t, h.sink.events, 2)
}

func TestErrorMatching(t *testing.T) {
	err := fail(CodeNotFound, "pool %d doesn't exist", 7)
	wrapped := errors.Join(errors.New("context"), err)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, "NotFound: pool 7 doesn't exist", err.Error())
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestNewRequiresCollaborators(t *testing.T) {
	custody := crypto.GetApplicationAddress(1)
	_, err := New(Config{Custody: custody})
	assert.Error(t, err)
	_, err = New(Config{Assets: bank.NewMemory(custody)})
	assert.Error(t, err)
	_, err = New(Config{Assets: bank.NewMemory(custody), Custody: custody, CreationFee: uint256.NewInt(5)})
	assert.Error(t, err)
	_, err = New(Config{Assets: bank.NewMemory(custody), Custody: custody, StakingFee: Fraction{2, 1}})
	assert.Error(t, err)
}
