package ledger

import (
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
)

// StakeRecord is one fungible stake (keyed by pool and owner) or one staked NFT (keyed by pool and token).
type StakeRecord struct {
	Owner     types.Address
	PoolID    uint64
	Principal *uint256.Int
	TokenID   uint64
	// time of the most recent stake into this record
	Timestamp int64
	// accumulator value this record was last settled at (shared pools)
	RewardCheckpoint *uint256.Int
	// time this record was last settled up to (non-shared pools)
	LastAccrual int64
	// settled but not yet claimed reward
	Pending *uint256.Int
}

func (r *StakeRecord) clone() *StakeRecord {
	c := *r
	c.Principal = clone(r.Principal)
	c.RewardCheckpoint = clone(r.RewardCheckpoint)
	c.Pending = clone(r.Pending)
	return &c
}

func (r *StakeRecord) exited() bool {
	return isZero(r.Principal) && isZero(r.Pending)
}

func (p *StakingPool) duration() *uint256.Int {
	return uint256.NewInt(uint64(p.EndDate - p.StartDate))
}

// accumulate advances the reward-per-token accumulator of a shared pool to now. Emission is linear over
// the pool window; time with nothing staked emits nothing.
func (p *StakingPool) accumulate(now int64) error {
	if !p.IsSharedPool {
		return nil
	}
	from := max(p.LastUpdateTime, p.StartDate)
	to := min(now, p.EndDate)
	if to <= from {
		return nil
	}
	if !isZero(p.TotalStaked) && !isZero(p.RewardPoolAmount) {
		emission, overflow := new(uint256.Int).MulDivOverflow(p.RewardPoolAmount, uint256.NewInt(uint64(to-from)), p.duration())
		if overflow {
			return fail(CodeInvalidParameters, "pool %d emission overflow", p.ID)
		}
		increment, overflow := new(uint256.Int).MulDivOverflow(emission, rewardPrecision, p.TotalStaked)
		if overflow {
			return fail(CodeInvalidParameters, "pool %d reward per token overflow", p.ID)
		}
		rpt, err := add(p.RewardPerTokenStored, increment)
		if err != nil {
			return err
		}
		p.RewardPerTokenStored = rpt
	}
	p.LastUpdateTime = to
	return nil
}

// settle moves everything rec earned up to now into rec.Pending. For shared pools the pool must already
// be accumulated to now.
func (p *StakingPool) settle(rec *StakeRecord, now int64) error {
	var earned *uint256.Int
	if p.IsSharedPool {
		delta := sub(p.RewardPerTokenStored, clone(rec.RewardCheckpoint))
		var overflow bool
		earned, overflow = new(uint256.Int).MulDivOverflow(clone(rec.Principal), delta, rewardPrecision)
		if overflow {
			return fail(CodeInvalidParameters, "reward overflow for %s in pool %d", rec.Owner, p.ID)
		}
		rec.RewardCheckpoint = p.RewardPerTokenStored.Clone()
	} else {
		from := max(rec.LastAccrual, p.StartDate)
		to := min(now, p.EndDate)
		var err error
		if earned, err = p.bonusReward(clone(rec.Principal), from, to); err != nil {
			return err
		}
		if to > rec.LastAccrual {
			rec.LastAccrual = to
		}
	}
	pending, err := add(clone(rec.Pending), earned)
	if err != nil {
		return err
	}
	rec.Pending = pending
	return nil
}

// bonusReward is the non-shared reward for principal staked over [from, to): the bonus fraction of the
// principal, pro-rated over the pool window and converted from staking to reward decimals.
func (p *StakingPool) bonusReward(principal *uint256.Int, from, to int64) (*uint256.Int, error) {
	if to <= from || principal.IsZero() || p.BonusPercentage.IsZero() {
		return new(uint256.Int), nil
	}
	scaled, overflow := new(uint256.Int).MulDivOverflow(principal, algo.Pow10(p.RewardDecimals), algo.Pow10(p.StakingDecimals))
	if overflow {
		return nil, fail(CodeInvalidParameters, "reward conversion overflow in pool %d", p.ID)
	}
	bonus, err := p.BonusPercentage.Of(scaled)
	if err != nil {
		return nil, err
	}
	reward, overflow := new(uint256.Int).MulDivOverflow(bonus, uint256.NewInt(uint64(to-from)), p.duration())
	if overflow {
		return nil, fail(CodeInvalidParameters, "reward overflow in pool %d", p.ID)
	}
	return reward, nil
}

// projected returns what rec would have pending if settled at now, leaving both pool and rec untouched.
func (p *StakingPool) projected(rec *StakeRecord, now int64) (*uint256.Int, error) {
	pool := p.clone()
	if err := pool.accumulate(now); err != nil {
		return nil, err
	}
	settled := rec.clone()
	if err := pool.settle(settled, now); err != nil {
		return nil, err
	}
	return settled.Pending, nil
}

// obligations sums every reward the pool owes at now: settled and accruing rewards of live records plus
// the NFT reward buckets. Must be called with at least the read lock held.
func (l *Ledger) obligations(pool *StakingPool, now int64) (*uint256.Int, error) {
	projectedPool := pool.clone()
	if err := projectedPool.accumulate(now); err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	addRecord := func(rec *StakeRecord) error {
		settled := rec.clone()
		if err := projectedPool.settle(settled, now); err != nil {
			return err
		}
		var err error
		total, err = add(total, settled.Pending)
		return err
	}
	if pool.IsNFTPool {
		for key, rec := range l.nfts {
			if key.PoolID != pool.ID {
				continue
			}
			if err := addRecord(rec); err != nil {
				return nil, err
			}
		}
		for key, bucket := range l.nftRewards {
			if key.PoolID != pool.ID {
				continue
			}
			var err error
			if total, err = add(total, bucket); err != nil {
				return nil, err
			}
		}
		return total, nil
	}
	for key, rec := range l.stakes {
		if key.PoolID != pool.ID {
			continue
		}
		if err := addRecord(rec); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// RewardPerToken is the shared pool accumulator projected to now (always 0 for non-shared pools).
func (l *Ledger) RewardPerToken(id uint64) (*uint256.Int, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	projected := pool.clone()
	if err := projected.accumulate(l.now()); err != nil {
		return nil, err
	}
	return projected.RewardPerTokenStored, nil
}

// PoolObligations is the reward the pool currently owes its stakers, settled or still accruing.
func (l *Ledger) PoolObligations(id uint64) (*uint256.Int, error) {
	l.RLock()
	defer l.RUnlock()
	pool, err := l.pool(id)
	if err != nil {
		return nil, err
	}
	return l.obligations(pool, l.now())
}
