package ledger

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// FeeDefaults are the ledger-wide fee settings.
type FeeDefaults struct {
	FeeAsset     types.Address
	CreationFee  *uint256.Int
	StakingFee   Fraction
	UnstakingFee Fraction
}

func (l *Ledger) Owner() types.Address {
	l.RLock()
	defer l.RUnlock()
	return l.owner
}

func (l *Ledger) Paused() bool {
	l.RLock()
	defer l.RUnlock()
	return l.paused
}

// Treasury is the collected fee and penalty balance of asset, withdrawable by the owner.
func (l *Ledger) Treasury(asset types.Address) *uint256.Int {
	l.RLock()
	defer l.RUnlock()
	return l.treasuryBalance(asset)
}

func (l *Ledger) FeeDefaults() FeeDefaults {
	l.RLock()
	defer l.RUnlock()
	return FeeDefaults{
		FeeAsset:     l.feeAsset,
		CreationFee:  l.creationFee.Clone(),
		StakingFee:   l.stakingFee,
		UnstakingFee: l.unstakingFee,
	}
}

func (l *Ledger) requireOwner(caller types.Address) error {
	if !l.isOwner(caller) {
		return fail(CodeUnauthorized, "%s isn't the ledger owner", caller)
	}
	return nil
}

func (l *Ledger) Pause(ctx context.Context, caller types.Address) error {
	return l.setPaused(ctx, caller, true)
}

func (l *Ledger) Unpause(ctx context.Context, caller types.Address) error {
	return l.setPaused(ctx, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, caller types.Address, paused bool) (err error) {
	op, kind := "unpause", EventUnpaused
	if paused {
		op, kind = "pause", EventPaused
	}
	defer func() { err = l.track(op, err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if l.paused == paused {
		return fail(CodeAlreadyInState, "ledger paused is already %v", paused)
	}
	l.paused = paused
	l.emit(ctx, Event{Kind: kind, Account: caller.String()})
	misc.Infof(l.log, "ledger paused:%v by %s", paused, caller)
	return nil
}

// TransferOwnership hands every owner right to newOwner at once; the previous owner keeps nothing.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner types.Address) (err error) {
	defer func() { err = l.track("transfer_ownership", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == types.ZeroAddress {
		return fail(CodeInvalidAddress, "new owner can't be the zero address")
	}
	l.owner = newOwner
	l.emit(ctx, Event{Kind: EventOwnershipTransferred, Account: newOwner.String()})
	misc.Infof(l.log, "ownership transferred from %s to %s", caller, newOwner)
	return nil
}

// RenounceOwnership leaves the ledger without an owner. Owner-only operations fail from then on.
func (l *Ledger) RenounceOwnership(ctx context.Context, caller types.Address) (err error) {
	defer func() { err = l.track("renounce_ownership", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	l.owner = types.ZeroAddress
	l.emit(ctx, Event{Kind: EventOwnershipTransferred, Account: types.ZeroAddress.String()})
	misc.Warnf(l.log, "ownership renounced by %s", caller)
	return nil
}

func (l *Ledger) SetPoolCreationFee(ctx context.Context, caller types.Address, fee *uint256.Int) (err error) {
	defer func() { err = l.track("set_creation_fee", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if !isZero(fee) && l.feeAsset == types.ZeroAddress {
		return fail(CodeInvalidParameters, "no fee asset configured for creation fees")
	}
	l.creationFee = clone(fee)
	l.emit(ctx, Event{Kind: EventFeeDefaultsUpdated, Account: caller.String(), Asset: l.feeAsset.String(), Amount: clone(fee)})
	misc.Infof(l.log, "pool creation fee set to %s by %s", l.creationFee.Dec(), caller)
	return nil
}

func (l *Ledger) SetStakingFee(ctx context.Context, caller types.Address, fee Fraction) error {
	return l.setDefaultFee(ctx, caller, "set_staking_fee", fee, &l.stakingFee)
}

func (l *Ledger) SetUnstakingFee(ctx context.Context, caller types.Address, fee Fraction) error {
	return l.setDefaultFee(ctx, caller, "set_unstaking_fee", fee, &l.unstakingFee)
}

func (l *Ledger) setDefaultFee(ctx context.Context, caller types.Address, op string, fee Fraction, target *Fraction) (err error) {
	defer func() { err = l.track(op, err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if !fee.AtMostOne() {
		return fail(CodeInvalidParameters, "fee %s must have a non-zero denominator and be at most 1", fee)
	}
	*target = fee
	l.emit(ctx, Event{Kind: EventFeeDefaultsUpdated, Account: caller.String()})
	misc.Infof(l.log, "%s: default fee now %s", op, fee)
	return nil
}

// Withdraw sweeps the treasury balance (collected fees and penalties) of asset to the owner.
func (l *Ledger) Withdraw(ctx context.Context, caller, asset types.Address) (amount *uint256.Int, err error) {
	defer func() { err = l.track("withdraw", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	amount = l.treasuryBalance(asset)
	if amount.IsZero() {
		return nil, fail(CodeInsufficientBalance, "nothing collected in %s", asset)
	}
	if err := l.assets.TransferOut(ctx, asset, caller, amount); err != nil {
		return nil, fmt.Errorf("treasury withdrawal of %s failed: %w", asset, err)
	}
	delete(l.treasury, asset)
	l.emit(ctx, Event{Kind: EventWithdrawn, Account: caller.String(), Asset: asset.String(), Amount: amount.Clone()})
	misc.Infof(l.log, "owner %s withdrew %s of %s", caller, amount.Dec(), asset)
	return amount, nil
}

// WithdrawRewardToken returns a finished pool's unneeded reward funds - whatever isn't owed to stakers -
// to the creator or owner calling it.
func (l *Ledger) WithdrawRewardToken(ctx context.Context, caller types.Address, id uint64) (amount *uint256.Int, err error) {
	defer func() { err = l.track("withdraw_reward", err) }()
	l.Lock()
	defer l.Unlock()

	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	if !l.canManage(pool, caller) {
		return nil, fail(CodeUnauthorized, "%s is neither creator of pool %d nor owner", caller, id)
	}
	now := l.now()
	if now < pool.EndDate {
		return nil, fail(CodeOutsideWindow, "pool %d rewards can be withdrawn after %d", id, pool.EndDate)
	}
	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return nil, err
	}
	owed, err := l.obligations(updated, now)
	if err != nil {
		return nil, err
	}
	available := updated.RewardAvailable()
	if !available.Gt(owed) {
		return nil, fail(CodeInsufficientBalance, "pool %d has %s reward left and owes %s", id, available.Dec(), owed.Dec())
	}
	amount = sub(available, owed)
	if err := l.assets.TransferOut(ctx, pool.RewardAsset, caller, amount); err != nil {
		return nil, fmt.Errorf("reward withdrawal from pool %d failed: %w", id, err)
	}
	updated.RewardPoolAmount = sub(updated.RewardPoolAmount, amount)
	l.pools[id-1] = updated
	l.emit(ctx, Event{Kind: EventRewardWithdrawn, PoolID: id, Account: caller.String(), Asset: pool.RewardAsset.String(), Amount: amount.Clone()})
	misc.Infof(l.log, "%s withdrew %s surplus reward from pool %d", caller, amount.Dec(), id)
	return amount, nil
}
