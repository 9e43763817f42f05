package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// tokensOf returns the sorted token ids account has staked in pool id. Caller holds the lock.
func (l *Ledger) tokensOf(id uint64, account types.Address) []uint64 {
	var tokens []uint64
	for key, rec := range l.nfts {
		if key.PoolID == id && rec.Owner == account {
			tokens = append(tokens, key.TokenID)
		}
	}
	slices.Sort(tokens)
	return tokens
}

func uniqueTokens(tokenIDs []uint64) error {
	if len(tokenIDs) == 0 {
		return fail(CodeInvalidParameters, "no token ids given")
	}
	seen := make(map[uint64]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		if seen[id] {
			return fail(CodeInvalidParameters, "token %d listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ownedRecords returns clones of the records for tokenIDs, all of which must be staked by caller.
func (l *Ledger) ownedRecords(id uint64, caller types.Address, tokenIDs []uint64) ([]*StakeRecord, error) {
	records := make([]*StakeRecord, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		rec, found := l.nfts[tokenKey{id, tokenID}]
		if !found || rec.Owner != caller {
			return nil, fail(CodeInsufficientStake, "token %d isn't staked by %s in pool %d", tokenID, caller, id)
		}
		records = append(records, rec.clone())
	}
	return records, nil
}

// StakeNFT deposits the given tokens of the pool's collection. NFT pools charge no staking fee and the caps
// count tokens.
func (l *Ledger) StakeNFT(ctx context.Context, caller types.Address, id uint64, tokenIDs []uint64) (err error) {
	defer func() { err = l.track("stake_nft", err) }()
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
	if !pool.IsNFTPool {
		return fail(CodeInvalidParameters, "pool %d isn't an NFT pool", id)
	}
	now := l.now()
	if err := l.stakeWindowCheck(pool, now); err != nil {
		return err
	}
	if err := uniqueTokens(tokenIDs); err != nil {
		return err
	}
	for _, tokenID := range tokenIDs {
		if _, found := l.nfts[tokenKey{id, tokenID}]; found {
			return fail(CodeInvalidParameters, "token %d is already staked in pool %d", tokenID, id)
		}
	}
	ownerKey := stakeKey{id, caller}
	count := l.nftCounts[ownerKey]
	added := uint256.NewInt(uint64(len(tokenIDs)))
	if err := capCheck(pool, uint256.NewInt(count+uint64(len(tokenIDs))), added); err != nil {
		return err
	}

	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return err
	}
	records := make([]*StakeRecord, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		rec := &StakeRecord{
			Owner:            caller,
			PoolID:           id,
			Principal:        nftUnit.Clone(),
			TokenID:          tokenID,
			Timestamp:        now,
			RewardCheckpoint: updated.RewardPerTokenStored.Clone(),
			LastAccrual:      now,
			Pending:          new(uint256.Int),
		}
		records = append(records, rec)
	}
	if count == 0 {
		updated.NumStakers++
	}
	if updated.TotalStaked, err = add(updated.TotalStaked, added); err != nil {
		return err
	}

	if err := l.assets.TransferNFTIn(ctx, pool.StakingAsset, caller, tokenIDs); err != nil {
		return fmt.Errorf("NFT deposit into pool %d failed: %w", id, err)
	}
	l.pools[id-1] = updated
	for _, rec := range records {
		l.nfts[tokenKey{id, rec.TokenID}] = rec
	}
	l.nftCounts[ownerKey] = count + uint64(len(tokenIDs))
	l.emit(ctx, Event{Kind: EventStaked, PoolID: id, Account: caller.String(), Asset: pool.StakingAsset.String(), Amount: added, TokenIDs: slices.Clone(tokenIDs)})
	misc.Infof(l.log, "%s staked %d NFTs into pool %d", caller, len(tokenIDs), id)
	return nil
}

// UnstakeNFT returns the tokens to caller whole. Before the pool ends the penalty forfeits that share of
// each token's earned reward to the treasury; the rest is banked for the caller's next NFT claim.
func (l *Ledger) UnstakeNFT(ctx context.Context, caller types.Address, id uint64, tokenIDs []uint64) (err error) {
	defer func() { err = l.track("unstake_nft", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return err
	}
	pool, err := l.pool(id)
	if err != nil {
		return err
	}
	if !pool.IsNFTPool {
		return fail(CodeInvalidParameters, "pool %d isn't an NFT pool", id)
	}
	if err := uniqueTokens(tokenIDs); err != nil {
		return err
	}
	records, err := l.ownedRecords(id, caller, tokenIDs)
	if err != nil {
		return err
	}
	now := l.now()
	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return err
	}
	ownerKey := stakeKey{id, caller}
	var (
		banked    = clone(l.nftRewards[ownerKey])
		forfeited = new(uint256.Int)
	)
	for _, rec := range records {
		if err := updated.settle(rec, now); err != nil {
			return err
		}
		lost := new(uint256.Int)
		if now < pool.EndDate {
			if lost, err = pool.PenaltyPercentage.Of(rec.Pending); err != nil {
				return err
			}
		}
		if forfeited, err = add(forfeited, lost); err != nil {
			return err
		}
		if banked, err = add(banked, sub(rec.Pending, lost)); err != nil {
			return err
		}
	}
	// only funded reward can move to the treasury
	credited := forfeited.Clone()
	if available := updated.RewardAvailable(); available.Lt(credited) {
		credited = available
	}
	if updated.RewardsPaid, err = add(updated.RewardsPaid, credited); err != nil {
		return err
	}
	removed := uint256.NewInt(uint64(len(tokenIDs)))
	updated.TotalStaked = sub(updated.TotalStaked, removed)
	count := l.nftCounts[ownerKey] - uint64(len(tokenIDs))
	if count == 0 {
		updated.NumStakers--
	}

	if err := l.assets.TransferNFTOut(ctx, pool.StakingAsset, caller, tokenIDs); err != nil {
		return fmt.Errorf("NFT return from pool %d failed: %w", id, err)
	}
	if err := l.treasuryAdd(pool.RewardAsset, credited); err != nil {
		return err
	}
	l.pools[id-1] = updated
	for _, tokenID := range tokenIDs {
		delete(l.nfts, tokenKey{id, tokenID})
	}
	if count == 0 {
		delete(l.nftCounts, ownerKey)
	} else {
		l.nftCounts[ownerKey] = count
	}
	if banked.IsZero() {
		delete(l.nftRewards, ownerKey)
	} else {
		l.nftRewards[ownerKey] = banked
	}
	l.emit(ctx, Event{Kind: EventUnstaked, PoolID: id, Account: caller.String(), Asset: pool.StakingAsset.String(), Amount: removed, Penalty: forfeited, TokenIDs: slices.Clone(tokenIDs)})
	misc.Infof(l.log, "%s unstaked %d NFTs from pool %d (forfeited reward %s)", caller, len(tokenIDs), id, forfeited.Dec())
	return nil
}

// ClaimNFT pays out the reward of the given staked tokens plus anything banked from earlier unstakes.
// An empty tokenIDs claims for every token caller has staked in the pool.
func (l *Ledger) ClaimNFT(ctx context.Context, caller types.Address, id uint64, tokenIDs []uint64) (reward *uint256.Int, err error) {
	defer func() { err = l.track("claim_nft", err) }()
	l.Lock()
	defer l.Unlock()

	if err := l.requireRunning(); err != nil {
		return nil, err
	}
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	if !pool.IsNFTPool {
		return nil, fail(CodeInvalidParameters, "pool %d isn't an NFT pool", id)
	}
	if len(tokenIDs) == 0 {
		tokenIDs = l.tokensOf(id, caller)
	} else if err := uniqueTokens(tokenIDs); err != nil {
		return nil, err
	}
	records, err := l.ownedRecords(id, caller, tokenIDs)
	if err != nil {
		return nil, err
	}
	now := l.now()
	updated := pool.clone()
	if err := updated.accumulate(now); err != nil {
		return nil, err
	}
	ownerKey := stakeKey{id, caller}
	reward = clone(l.nftRewards[ownerKey])
	for _, rec := range records {
		if err := updated.settle(rec, now); err != nil {
			return nil, err
		}
		if reward, err = add(reward, rec.Pending); err != nil {
			return nil, err
		}
		rec.Pending = new(uint256.Int)
	}
	if err := l.payReward(ctx, updated, caller, reward); err != nil {
		return nil, err
	}
	l.pools[id-1] = updated
	for _, rec := range records {
		l.nfts[tokenKey{id, rec.TokenID}] = rec
	}
	delete(l.nftRewards, ownerKey)
	l.emit(ctx, Event{Kind: EventRewardClaimed, PoolID: id, Account: caller.String(), Asset: pool.RewardAsset.String(), Amount: reward.Clone(), TokenIDs: slices.Clone(tokenIDs)})
	misc.Infof(l.log, "%s claimed %s for %d NFTs from pool %d", caller, reward.Dec(), len(tokenIDs), id)
	return reward, nil
}

// EarningInfoNFT projects the reward accrued by the given staked tokens, whoever owns them.
func (l *Ledger) EarningInfoNFT(id uint64, tokenIDs []uint64) (*uint256.Int, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	if !pool.IsNFTPool {
		return nil, fail(CodeInvalidParameters, "pool %d isn't an NFT pool", id)
	}
	now := l.now()
	total := new(uint256.Int)
	for _, tokenID := range tokenIDs {
		rec, found := l.nfts[tokenKey{id, tokenID}]
		if !found {
			return nil, fail(CodeNotFound, "token %d isn't staked in pool %d", tokenID, id)
		}
		earned, err := pool.projected(rec, now)
		if err != nil {
			return nil, err
		}
		if total, err = add(total, earned); err != nil {
			return nil, err
		}
	}
	return total, nil
}
