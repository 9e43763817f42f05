package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

type StakingPool struct {
	// ID of this pool (sequentially assigned, starting at 1)
	ID            uint64
	SchemaVersion int
	// Token (or NFT collection for NFT pools) accepted for staking
	StakingAsset types.Address
	// Token paid out as reward - same as StakingAsset for single asset pools
	RewardAsset     types.Address
	StakingDecimals uint8
	RewardDecimals  uint8

	// Reward funds deposited minus anything withdrawn by the creator/owner
	RewardPoolAmount *uint256.Int
	// Rewards already claimed out of RewardPoolAmount
	RewardsPaid *uint256.Int
	TotalStaked *uint256.Int
	NumStakers  uint64

	// Validity window, unix seconds
	StartDate int64
	EndDate   int64
	Creator   types.Address

	// 0 means unlimited
	MaxStakePerWallet *uint256.Int
	MaxTotalStake     *uint256.Int

	IsActive     bool
	IsNFTPool    bool
	IsSharedPool bool

	StakingFee        Fraction
	UnstakingFee      Fraction
	MaxStakingFee     Fraction
	BonusPercentage   Fraction
	PenaltyPercentage Fraction

	// Reward-per-token accumulator (scaled by 1e18) and when it was last advanced - shared pools only
	RewardPerTokenStored *uint256.Int
	LastUpdateTime       int64
}

// RewardAvailable is what's left of the reward funds.
func (p *StakingPool) RewardAvailable() *uint256.Int {
	return sub(p.RewardPoolAmount, p.RewardsPaid)
}

func (p *StakingPool) clone() *StakingPool {
	c := *p
	c.RewardPoolAmount = clone(p.RewardPoolAmount)
	c.RewardsPaid = clone(p.RewardsPaid)
	c.TotalStaked = clone(p.TotalStaked)
	c.MaxStakePerWallet = clone(p.MaxStakePerWallet)
	c.MaxTotalStake = clone(p.MaxTotalStake)
	c.RewardPerTokenStored = clone(p.RewardPerTokenStored)
	return &c
}

func (p *StakingPool) inWindow(now int64) bool {
	return now >= p.StartDate && now <= p.EndDate
}

func (p *StakingPool) String() string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("ID: %d (schema v%d)\n", p.ID, p.SchemaVersion))
	out.WriteString(fmt.Sprintf("Creator: %s\n", p.Creator))
	if p.IsNFTPool {
		out.WriteString(fmt.Sprintf("NFT Collection: %s\n", p.StakingAsset))
	} else {
		out.WriteString(fmt.Sprintf("Staking Asset: %s (%d decimals)\n", p.StakingAsset, p.StakingDecimals))
	}
	out.WriteString(fmt.Sprintf("Reward Asset: %s (%d decimals)\n", p.RewardAsset, p.RewardDecimals))
	out.WriteString(fmt.Sprintf("Window: %s - %s\n", unix(p.StartDate).Format("2006-01-02 15:04:05"), unix(p.EndDate).Format("2006-01-02 15:04:05")))
	out.WriteString(fmt.Sprintf("Active: %v, Shared: %v\n", p.IsActive, p.IsSharedPool))
	out.WriteString(fmt.Sprintf("Total Staked: %s, Stakers: %d\n", algo.FormattedAmount(p.TotalStaked, p.StakingDecimals), p.NumStakers))
	out.WriteString(fmt.Sprintf("Reward Pool: %s, Paid: %s\n", algo.FormattedAmount(p.RewardPoolAmount, p.RewardDecimals), algo.FormattedAmount(p.RewardsPaid, p.RewardDecimals)))
	if !isZero(p.MaxStakePerWallet) {
		out.WriteString(fmt.Sprintf("Max Stake Per Wallet: %s\n", algo.FormattedAmount(p.MaxStakePerWallet, p.StakingDecimals)))
	}
	if !isZero(p.MaxTotalStake) {
		out.WriteString(fmt.Sprintf("Max Total Stake: %s\n", algo.FormattedAmount(p.MaxTotalStake, p.StakingDecimals)))
	}
	out.WriteString(fmt.Sprintf("Fees: staking %s (max %s), unstaking %s\n", p.StakingFee, p.MaxStakingFee, p.UnstakingFee))
	out.WriteString(fmt.Sprintf("Bonus: %s, Early Unstake Penalty: %s\n", p.BonusPercentage, p.PenaltyPercentage))

	return out.String()
}

// CreatePool registers a new pool created by caller. When the ledger charges a creation fee, feePaid is
// what the caller offers and the fee is pulled from the caller in the fee asset.
func (l *Ledger) CreatePool(ctx context.Context, caller types.Address, params PoolParams, feePaid *uint256.Int) (id uint64, err error) {
	defer func() { err = l.track("create_pool", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return 0, err
	}
	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	pool, err := l.newPool(params)
	if err != nil {
		return 0, err
	}
	fee := l.creationFee.Clone()
	if !fee.IsZero() {
		if feePaid == nil || feePaid.Lt(fee) {
			return 0, fail(CodeInsufficientFee, "pool creation fee is %s, paid %s", fee.Dec(), clone(feePaid).Dec())
		}
		if err := l.checkAllowance(l.feeAsset, caller, fee); err != nil {
			return 0, err
		}
	}
	pool.ID = uint64(len(l.pools)) + 1
	pool.Creator = caller

	if !fee.IsZero() {
		if err := l.assets.TransferIn(ctx, l.feeAsset, caller, fee); err != nil {
			return 0, fmt.Errorf("pool creation fee transfer failed: %w", err)
		}
		if err := l.treasuryAdd(l.feeAsset, fee); err != nil {
			return 0, err
		}
	}
	l.pools = append(l.pools, pool)
	l.emit(ctx, Event{Kind: EventPoolCreated, PoolID: pool.ID, Account: caller.String(), Asset: pool.StakingAsset.String(), Fee: fee})
	misc.Infof(l.log, "pool %d created by %s, window %d-%d", pool.ID, caller, pool.StartDate, pool.EndDate)
	return pool.ID, nil
}

// newPool validates the params and builds the (not yet registered) pool record.
func (l *Ledger) newPool(params PoolParams) (*StakingPool, error) {
	if params.SchemaVersion == 0 {
		params.SchemaVersion = CurrentSchema
	}
	if params.SchemaVersion < SchemaV1 || params.SchemaVersion > CurrentSchema {
		return nil, fail(CodeInvalidParameters, "unknown schema version %d", params.SchemaVersion)
	}
	if params.SchemaVersion < SchemaV3 && (params.IsNFTPool || params.IsSharedPool) {
		return nil, fail(CodeInvalidParameters, "schema v%d pools can't be NFT or shared pools", params.SchemaVersion)
	}
	if params.StakingAsset == types.ZeroAddress || params.RewardAsset == types.ZeroAddress {
		return nil, fail(CodeInvalidParameters, "staking and reward assets must be set")
	}
	if params.StartDate < 0 || params.StartDate >= params.EndDate {
		return nil, fail(CodeInvalidParameters, "start date %d must be before end date %d", params.StartDate, params.EndDate)
	}
	if params.StakingDecimals > algo.MaxDecimals || params.RewardDecimals > algo.MaxDecimals {
		return nil, fail(CodeInvalidParameters, "decimals can't exceed %d", algo.MaxDecimals)
	}
	if params.IsNFTPool && params.StakingDecimals != 0 {
		return nil, fail(CodeInvalidParameters, "NFT pools stake whole tokens, staking decimals must be 0")
	}

	var (
		stakingFee    = params.StakingFee
		unstakingFee  = params.UnstakingFee
		maxStakingFee = params.MaxStakingFee
		bonus         = params.BonusPercentage
		penalty       = params.PenaltyPercentage
	)
	if stakingFee.IsUnset() {
		stakingFee = l.stakingFee
	}
	if unstakingFee.IsUnset() {
		unstakingFee = l.unstakingFee
	}
	if maxStakingFee.IsUnset() {
		maxStakingFee = Fraction{Numerator: 1, Denominator: 1}
	}
	if bonus.IsUnset() {
		bonus = Fraction{Numerator: 0, Denominator: 1}
	}
	if penalty.IsUnset() {
		penalty = Fraction{Numerator: 0, Denominator: 1}
	}
	for _, f := range []struct {
		name string
		val  Fraction
	}{{"staking fee", stakingFee}, {"unstaking fee", unstakingFee}, {"max staking fee", maxStakingFee}, {"penalty", penalty}} {
		if !f.val.AtMostOne() {
			return nil, fail(CodeInvalidParameters, "%s %s must have a non-zero denominator and be at most 1", f.name, f.val)
		}
	}
	if !bonus.Valid() {
		return nil, fail(CodeInvalidParameters, "bonus %s has a zero denominator", bonus)
	}
	if stakingFee.Cmp(maxStakingFee) > 0 {
		return nil, fail(CodeInvalidParameters, "staking fee %s exceeds max staking fee %s", stakingFee, maxStakingFee)
	}

	return &StakingPool{
		SchemaVersion:        params.SchemaVersion,
		StakingAsset:         params.StakingAsset,
		RewardAsset:          params.RewardAsset,
		StakingDecimals:      params.StakingDecimals,
		RewardDecimals:       params.RewardDecimals,
		RewardPoolAmount:     new(uint256.Int),
		RewardsPaid:          new(uint256.Int),
		TotalStaked:          new(uint256.Int),
		StartDate:            params.StartDate,
		EndDate:              params.EndDate,
		MaxStakePerWallet:    clone(params.MaxStakePerWallet),
		MaxTotalStake:        clone(params.MaxTotalStake),
		IsActive:             true,
		IsNFTPool:            params.IsNFTPool,
		IsSharedPool:         params.IsSharedPool,
		StakingFee:           stakingFee,
		UnstakingFee:         unstakingFee,
		MaxStakingFee:        maxStakingFee,
		BonusPercentage:      bonus,
		PenaltyPercentage:    penalty,
		RewardPerTokenStored: new(uint256.Int),
		LastUpdateTime:       params.StartDate,
	}, nil
}

func (l *Ledger) PoolExists(id uint64) bool {
	l.RLock()
	defer l.RUnlock()
	_, err := l.pool(id)
	return err == nil
}

func (l *Ledger) PoolCount() uint64 {
	l.RLock()
	defer l.RUnlock()
	return uint64(len(l.pools))
}

// GetPoolInfo returns a copy of the pool, active or not.
func (l *Ledger) GetPoolInfo(id uint64) (StakingPool, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return StakingPool{}, err
	}
	return *pool.clone(), nil
}

// Pools returns copies of every pool in id order.
func (l *Ledger) Pools() []StakingPool {
	l.RLock()
	defer l.RUnlock()
	out := make([]StakingPool, 0, len(l.pools))
	for _, pool := range l.pools {
		out = append(out, *pool.clone())
	}
	return out
}

func (l *Ledger) PoolIsActive(id uint64) (bool, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return false, err
	}
	return pool.IsActive, nil
}

// SetPoolActive flips the active flag. Inactive pools refuse new stakes but still allow unstake and claims.
func (l *Ledger) SetPoolActive(ctx context.Context, caller types.Address, id uint64, active bool) (err error) {
	defer func() { err = l.track("set_pool_active", err) }()
	l.Lock()
	defer l.Unlock()

	pool, err := l.pool(id)
	if err != nil {
		return err
	}
	if !l.canManage(pool, caller) {
		return fail(CodeUnauthorized, "%s is neither creator of pool %d nor owner", caller, id)
	}
	updated := pool.clone()
	updated.IsActive = active
	l.pools[id-1] = updated
	l.emit(ctx, Event{Kind: EventPoolStatusChanged, PoolID: id, Account: caller.String(), Active: &active})
	misc.Infof(l.log, "pool %d active:%v set by %s", id, active, caller)
	return nil
}

// FundPool deposits reward funds into a pool. Anyone may fund a pool.
func (l *Ledger) FundPool(ctx context.Context, caller types.Address, id uint64, amount *uint256.Int) (err error) {
	defer func() { err = l.track("fund_pool", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := requireCaller(caller); err != nil {
		return err
	}
	pool, err := l.pool(id)
	if err != nil {
		return err
	}
	if isZero(amount) {
		return fail(CodeInvalidParameters, "funding amount must be positive")
	}
	if err := l.checkAllowance(pool.RewardAsset, caller, amount); err != nil {
		return err
	}
	updated := pool.clone()
	// close out emission at the old rate before the pool grows
	if err := updated.accumulate(l.now()); err != nil {
		return err
	}
	if updated.RewardPoolAmount, err = add(updated.RewardPoolAmount, amount); err != nil {
		return err
	}
	if err := l.assets.TransferIn(ctx, pool.RewardAsset, caller, amount); err != nil {
		return fmt.Errorf("reward deposit into pool %d failed: %w", id, err)
	}
	l.pools[id-1] = updated
	l.emit(ctx, Event{Kind: EventPoolFunded, PoolID: id, Account: caller.String(), Asset: pool.RewardAsset.String(), Amount: amount.Clone()})
	misc.Infof(l.log, "pool %d funded with %s by %s", id, algo.FormattedAmount(amount, pool.RewardDecimals), caller)
	return nil
}

// UpdatePoolFees replaces a pool's staking and unstaking fees. The staking fee stays bounded by the
// pool's max staking fee.
func (l *Ledger) UpdatePoolFees(ctx context.Context, caller types.Address, id uint64, stakingFee, unstakingFee Fraction) (err error) {
	defer func() { err = l.track("update_pool_fees", err) }()
	l.Lock()
	defer l.Unlock()

	pool, err := l.pool(id)
	if err != nil {
		return err
	}
	if !l.canManage(pool, caller) {
		return fail(CodeUnauthorized, "%s is neither creator of pool %d nor owner", caller, id)
	}
	if !stakingFee.AtMostOne() || !unstakingFee.AtMostOne() {
		return fail(CodeInvalidParameters, "fees %s / %s must have non-zero denominators and be at most 1", stakingFee, unstakingFee)
	}
	if stakingFee.Cmp(pool.MaxStakingFee) > 0 {
		return fail(CodeInvalidParameters, "staking fee %s exceeds max staking fee %s", stakingFee, pool.MaxStakingFee)
	}
	updated := pool.clone()
	updated.StakingFee = stakingFee
	updated.UnstakingFee = unstakingFee
	l.pools[id-1] = updated
	l.emit(ctx, Event{Kind: EventPoolFeesUpdated, PoolID: id, Account: caller.String()})
	misc.Infof(l.log, "pool %d fees set to staking:%s unstaking:%s by %s", id, stakingFee, unstakingFee, caller)
	return nil
}
