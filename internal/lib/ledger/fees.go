package ledger

import (
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

// UnstakeBreakdown splits an unstaked amount into what the staker receives and what the treasury keeps.
type UnstakeBreakdown struct {
	Payout  *uint256.Int
	Penalty *uint256.Int
	Fee     *uint256.Int
}

// splitStake takes the staking fee off amount, returning the principal credited and the fee.
func (p *StakingPool) splitStake(amount *uint256.Int) (principal, fee *uint256.Int, err error) {
	if fee, err = p.StakingFee.Of(amount); err != nil {
		return nil, nil, err
	}
	return sub(amount, fee), fee, nil
}

// unstakeBreakdown applies the early withdrawal penalty (only before the pool ends) to amount, then the
// unstaking fee to what's left.
func (p *StakingPool) unstakeBreakdown(amount *uint256.Int, now int64) (UnstakeBreakdown, error) {
	penalty := new(uint256.Int)
	if now < p.EndDate {
		var err error
		if penalty, err = p.PenaltyPercentage.Of(amount); err != nil {
			return UnstakeBreakdown{}, err
		}
	}
	afterPenalty := sub(amount, penalty)
	fee, err := p.UnstakingFee.Of(afterPenalty)
	if err != nil {
		return UnstakeBreakdown{}, err
	}
	return UnstakeBreakdown{Payout: sub(afterPenalty, fee), Penalty: penalty, Fee: fee}, nil
}

// QuoteUnstake previews what unstaking amount from account's stake would pay out right now.
func (l *Ledger) QuoteUnstake(id uint64, account types.Address, amount *uint256.Int) (UnstakeBreakdown, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return UnstakeBreakdown{}, err
	}
	if pool.IsNFTPool {
		return UnstakeBreakdown{}, fail(CodeInvalidParameters, "pool %d is an NFT pool", id)
	}
	rec, found := l.stakes[stakeKey{id, account}]
	if !found || isZero(amount) || rec.Principal.Lt(amount) {
		return UnstakeBreakdown{}, fail(CodeInsufficientStake, "%s can't unstake %s from pool %d", account, clone(amount).Dec(), id)
	}
	return pool.unstakeBreakdown(amount, l.now())
}
