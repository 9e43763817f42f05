package ledger

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// StakedInfo is a read-only row of a pool's staker ledger.
type StakedInfo struct {
	Account   types.Address
	TokenID   uint64 // NFT pools only
	Balance   *uint256.Int
	Earned    *uint256.Int
	StakedAt  int64
	LastTouch int64
}

// stakeWindowCheck holds the checks shared by fungible and NFT stakes.
func (l *Ledger) stakeWindowCheck(pool *StakingPool, now int64) error {
	if !pool.IsActive {
		return fail(CodePoolInactive, "pool %d is inactive", pool.ID)
	}
	if !pool.inWindow(now) {
		return fail(CodeOutsideWindow, "pool %d accepts stakes between %d and %d, now is %d", pool.ID, pool.StartDate, pool.EndDate, now)
	}
	return nil
}

// capCheck validates the per-wallet and pool-wide caps (0 = unlimited) for a new principal.
func capCheck(pool *StakingPool, walletAfter, added *uint256.Int) error {
	if !isZero(pool.MaxStakePerWallet) && walletAfter.Gt(pool.MaxStakePerWallet) {
		return fail(CodeWalletCapExceeded, "stake would bring wallet to %s, pool %d allows %s", walletAfter.Dec(), pool.ID, pool.MaxStakePerWallet.Dec())
	}
	if !isZero(pool.MaxTotalStake) {
		totalAfter, err := add(pool.TotalStaked, added)
		if err != nil {
			return err
		}
		if totalAfter.Gt(pool.MaxTotalStake) {
			return fail(CodePoolCapExceeded, "stake would bring pool %d to %s, cap is %s", pool.ID, totalAfter.Dec(), pool.MaxTotalStake.Dec())
		}
	}
	return nil
}

// Stake deposits amount of the pool's staking asset for caller. The staking fee is taken off the top and
// the rest becomes principal.
func (l *Ledger) Stake(ctx context.Context, caller types.Address, id uint64, amount *uint256.Int) (err error) {
	defer func() { err = l.track("stake", err) }()
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
	if pool.IsNFTPool {
		return fail(CodeInvalidParameters, "pool %d is an NFT pool", id)
	}
	now := l.now()
	if err := l.stakeWindowCheck(pool, now); err != nil {
		return err
	}
	if isZero(amount) {
		return fail(CodeInvalidParameters, "stake amount must be positive")
	}
	principal, fee, err := pool.splitStake(amount)
	if err != nil {
		return err
	}
	if principal.IsZero() {
		return fail(CodeInvalidParameters, "stake of %s leaves nothing after the staking fee", amount.Dec())
	}

	key := stakeKey{id, caller}
	rec, found := l.stakes[key]
	if found {
		rec = rec.clone()
	} else {
		rec = &StakeRecord{
			Owner:            caller,
			PoolID:           id,
			Principal:        new(uint256.Int),
			RewardCheckpoint: new(uint256.Int),
			Pending:          new(uint256.Int),
			LastAccrual:      now,
		}
	}
	walletAfter, err := add(rec.Principal, principal)
	if err != nil {
		return err
	}
	if err := capCheck(pool, walletAfter, principal); err != nil {
		return err
	}
	if err := l.checkAllowance(pool.StakingAsset, caller, amount); err != nil {
		return err
	}

	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return err
	}
	if err := updated.settle(rec, now); err != nil {
		return err
	}
	if rec.Principal.IsZero() {
		updated.NumStakers++
	}
	rec.Principal = walletAfter
	rec.Timestamp = now
	if updated.TotalStaked, err = add(updated.TotalStaked, principal); err != nil {
		return err
	}

	if err := l.assets.TransferIn(ctx, pool.StakingAsset, caller, amount); err != nil {
		return fmt.Errorf("stake deposit into pool %d failed: %w", id, err)
	}
	if err := l.treasuryAdd(pool.StakingAsset, fee); err != nil {
		return err
	}
	l.pools[id-1] = updated
	l.stakes[key] = rec
	l.emit(ctx, Event{Kind: EventStaked, PoolID: id, Account: caller.String(), Asset: pool.StakingAsset.String(), Amount: principal, Fee: fee})
	misc.Infof(l.log, "%s staked %s into pool %d (fee %s)", caller, algo.FormattedAmount(principal, pool.StakingDecimals), id, fee.Dec())
	return nil
}

// Unstake withdraws amount of caller's principal. Before the pool ends the early withdrawal penalty is
// taken from amount first, then the unstaking fee from what remains; both go to the treasury. Reward
// earned so far stays claimable.
func (l *Ledger) Unstake(ctx context.Context, caller types.Address, id uint64, amount *uint256.Int) (err error) {
	defer func() { err = l.track("unstake", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return err
	}
	pool, err := l.pool(id)
	if err != nil {
		return err
	}
	if pool.IsNFTPool {
		return fail(CodeInvalidParameters, "pool %d is an NFT pool", id)
	}
	if isZero(amount) {
		return fail(CodeInvalidParameters, "unstake amount must be positive")
	}
	key := stakeKey{id, caller}
	rec, found := l.stakes[key]
	if !found || rec.Principal.Lt(amount) {
		staked := new(uint256.Int)
		if found {
			staked = rec.Principal
		}
		return fail(CodeInsufficientStake, "%s has %s staked in pool %d, asked for %s", caller, staked.Dec(), id, amount.Dec())
	}
	rec = rec.clone()
	now := l.now()

	breakdown, err := pool.unstakeBreakdown(amount, now)
	if err != nil {
		return err
	}

	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return err
	}
	if err := updated.settle(rec, now); err != nil {
		return err
	}
	rec.Principal = sub(rec.Principal, amount)
	updated.TotalStaked = sub(updated.TotalStaked, amount)
	if rec.Principal.IsZero() {
		updated.NumStakers--
	}

	if !breakdown.Payout.IsZero() {
		if err := l.assets.TransferOut(ctx, pool.StakingAsset, caller, breakdown.Payout); err != nil {
			return fmt.Errorf("unstake payout from pool %d failed: %w", id, err)
		}
	}
	retained, err := add(breakdown.Penalty, breakdown.Fee)
	if err != nil {
		return err
	}
	if err := l.treasuryAdd(pool.StakingAsset, retained); err != nil {
		return err
	}
	l.pools[id-1] = updated
	if rec.exited() {
		delete(l.stakes, key)
	} else {
		l.stakes[key] = rec
	}
	l.emit(ctx, Event{Kind: EventUnstaked, PoolID: id, Account: caller.String(), Asset: pool.StakingAsset.String(), Amount: amount.Clone(), Penalty: breakdown.Penalty, Fee: breakdown.Fee})
	misc.Infof(l.log, "%s unstaked %s from pool %d (penalty %s, fee %s)", caller, algo.FormattedAmount(amount, pool.StakingDecimals), id, breakdown.Penalty.Dec(), breakdown.Fee.Dec())
	return nil
}

// ClaimToken pays out caller's accrued reward in a fungible pool.
func (l *Ledger) ClaimToken(ctx context.Context, caller types.Address, id uint64) (reward *uint256.Int, err error) {
	defer func() { err = l.track("claim_token", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return nil, err
	}
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	if pool.IsNFTPool {
		return nil, fail(CodeInvalidParameters, "pool %d is an NFT pool, use the NFT claim", id)
	}
	key := stakeKey{id, caller}
	rec, found := l.stakes[key]
	if !found {
		return nil, fail(CodeNothingToClaim, "%s has no stake in pool %d", caller, id)
	}
	rec = rec.clone()
	now := l.now()
	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return nil, err
	}
	if err := updated.settle(rec, now); err != nil {
		return nil, err
	}
	reward = rec.Pending
	if err := l.payReward(ctx, updated, caller, reward); err != nil {
		return nil, err
	}
	rec.Pending = new(uint256.Int)
	l.pools[id-1] = updated
	if rec.exited() {
		delete(l.stakes, key)
	} else {
		l.stakes[key] = rec
	}
	l.emit(ctx, Event{Kind: EventRewardClaimed, PoolID: id, Account: caller.String(), Asset: pool.RewardAsset.String(), Amount: reward.Clone()})
	misc.Infof(l.log, "%s claimed %s from pool %d", caller, algo.FormattedAmount(reward, pool.RewardDecimals), id)
	return reward, nil
}

// payReward checks the pool can cover reward, transfers it and books it as paid on pool (a clone).
func (l *Ledger) payReward(ctx context.Context, pool *StakingPool, to types.Address, reward *uint256.Int) error {
	if isZero(reward) {
		return fail(CodeNothingToClaim, "nothing accrued for %s in pool %d", to, pool.ID)
	}
	if available := pool.RewardAvailable(); available.Lt(reward) {
		return fail(CodeInsufficientBalance, "pool %d has %s reward left, %s owed to %s", pool.ID, available.Dec(), reward.Dec(), to)
	}
	if err := l.assets.TransferOut(ctx, pool.RewardAsset, to, reward); err != nil {
		return fmt.Errorf("reward payout from pool %d failed: %w", pool.ID, err)
	}
	paid, err := add(pool.RewardsPaid, reward)
	if err != nil {
		return err
	}
	pool.RewardsPaid = paid
	return nil
}

// EarningInfo projects account's claimable reward at the current time. For NFT pools it covers every
// token the account has staked plus rewards banked from unstaked tokens.
func (l *Ledger) EarningInfo(id uint64, account types.Address) (*uint256.Int, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !pool.IsNFTPool {
		rec, found := l.stakes[stakeKey{id, account}]
		if !found {
			return new(uint256.Int), nil
		}
		return pool.projected(rec, now)
	}
	total := clone(l.nftRewards[stakeKey{id, account}])
	for _, tokenID := range l.tokensOf(id, account) {
		earned, err := pool.projected(l.nfts[tokenKey{id, tokenID}], now)
		if err != nil {
			return nil, err
		}
		if total, err = add(total, earned); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// StakedBalance is account's principal in the pool - the number of staked tokens for NFT pools.
func (l *Ledger) StakedBalance(id uint64, account types.Address) (*uint256.Int, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	if pool.IsNFTPool {
		return uint256.NewInt(l.nftCounts[stakeKey{id, account}]), nil
	}
	if rec, found := l.stakes[stakeKey{id, account}]; found {
		return rec.Principal.Clone(), nil
	}
	return new(uint256.Int), nil
}

// Stakers returns the pool's staker ledger with rewards projected to now, ordered by account then token.
func (l *Ledger) Stakers(id uint64) ([]StakedInfo, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	var out []StakedInfo
	appendRec := func(rec *StakeRecord) error {
		earned, err := pool.projected(rec, now)
		if err != nil {
			return err
		}
		lastTouch := rec.LastAccrual
		if pool.IsSharedPool {
			lastTouch = rec.Timestamp
		}
		out = append(out, StakedInfo{
			Account:   rec.Owner,
			TokenID:   rec.TokenID,
			Balance:   clone(rec.Principal),
			Earned:    earned,
			StakedAt:  rec.Timestamp,
			LastTouch: lastTouch,
		})
		return nil
	}
	if pool.IsNFTPool {
		for key, rec := range l.nfts {
			if key.PoolID == id {
				if err := appendRec(rec); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for key, rec := range l.stakes {
			if key.PoolID == id {
				if err := appendRec(rec); err != nil {
					return nil, err
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b StakedInfo) int {
		if c := bytes.Compare(a.Account[:], b.Account[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.TokenID, b.TokenID)
	})
	return out, nil
}
