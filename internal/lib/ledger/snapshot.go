package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// PoolView is the serialized form of a pool, used both for persisted state and API responses.
type PoolView struct {
	ID                   uint64       `json:"id"`
	SchemaVersion        int          `json:"schemaVersion"`
	StakingAsset         string       `json:"stakingAsset"`
	RewardAsset          string       `json:"rewardAsset"`
	StakingDecimals      uint8        `json:"stakingDecimals"`
	RewardDecimals       uint8        `json:"rewardDecimals"`
	RewardPoolAmount     *uint256.Int `json:"rewardPoolAmount"`
	RewardsPaid          *uint256.Int `json:"rewardsPaid"`
	TotalStaked          *uint256.Int `json:"totalStaked"`
	NumStakers           uint64       `json:"numStakers"`
	StartDate            int64        `json:"startDate"`
	EndDate              int64        `json:"endDate"`
	Creator              string       `json:"creator"`
	MaxStakePerWallet    *uint256.Int `json:"maxStakePerWallet"`
	MaxTotalStake        *uint256.Int `json:"maxTotalStake"`
	IsActive             bool         `json:"isActive"`
	IsNFTPool            bool         `json:"isNFTPool"`
	IsSharedPool         bool         `json:"isSharedPool"`
	StakingFee           Fraction     `json:"stakingFee"`
	UnstakingFee         Fraction     `json:"unstakingFee"`
	MaxStakingFee        Fraction     `json:"maxStakingFee"`
	BonusPercentage      Fraction     `json:"bonusPercentage"`
	PenaltyPercentage    Fraction     `json:"penaltyPercentage"`
	RewardPerTokenStored *uint256.Int `json:"rewardPerTokenStored"`
	LastUpdateTime       int64        `json:"lastUpdateTime"`
}

func NewPoolView(p StakingPool) PoolView {
	return PoolView{
		ID:                   p.ID,
		SchemaVersion:        p.SchemaVersion,
		StakingAsset:         p.StakingAsset.String(),
		RewardAsset:          p.RewardAsset.String(),
		StakingDecimals:      p.StakingDecimals,
		RewardDecimals:       p.RewardDecimals,
		RewardPoolAmount:     clone(p.RewardPoolAmount),
		RewardsPaid:          clone(p.RewardsPaid),
		TotalStaked:          clone(p.TotalStaked),
		NumStakers:           p.NumStakers,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		Creator:              p.Creator.String(),
		MaxStakePerWallet:    clone(p.MaxStakePerWallet),
		MaxTotalStake:        clone(p.MaxTotalStake),
		IsActive:             p.IsActive,
		IsNFTPool:            p.IsNFTPool,
		IsSharedPool:         p.IsSharedPool,
		StakingFee:           p.StakingFee,
		UnstakingFee:         p.UnstakingFee,
		MaxStakingFee:        p.MaxStakingFee,
		BonusPercentage:      p.BonusPercentage,
		PenaltyPercentage:    p.PenaltyPercentage,
		RewardPerTokenStored: clone(p.RewardPerTokenStored),
		LastUpdateTime:       p.LastUpdateTime,
	}
}

func (v PoolView) pool() (*StakingPool, error) {
	stakingAsset, err := types.DecodeAddress(v.StakingAsset)
	if err != nil {
		return nil, fmt.Errorf("pool %d staking asset: %w", v.ID, err)
	}
	rewardAsset, err := types.DecodeAddress(v.RewardAsset)
	if err != nil {
		return nil, fmt.Errorf("pool %d reward asset: %w", v.ID, err)
	}
	creator, err := types.DecodeAddress(v.Creator)
	if err != nil {
		return nil, fmt.Errorf("pool %d creator: %w", v.ID, err)
	}
	return &StakingPool{
		ID:                   v.ID,
		SchemaVersion:        v.SchemaVersion,
		StakingAsset:         stakingAsset,
		RewardAsset:          rewardAsset,
		StakingDecimals:      v.StakingDecimals,
		RewardDecimals:       v.RewardDecimals,
		RewardPoolAmount:     clone(v.RewardPoolAmount),
		RewardsPaid:          clone(v.RewardsPaid),
		TotalStaked:          clone(v.TotalStaked),
		NumStakers:           v.NumStakers,
		StartDate:            v.StartDate,
		EndDate:              v.EndDate,
		Creator:              creator,
		MaxStakePerWallet:    clone(v.MaxStakePerWallet),
		MaxTotalStake:        clone(v.MaxTotalStake),
		IsActive:             v.IsActive,
		IsNFTPool:            v.IsNFTPool,
		IsSharedPool:         v.IsSharedPool,
		StakingFee:           v.StakingFee,
		UnstakingFee:         v.UnstakingFee,
		MaxStakingFee:        v.MaxStakingFee,
		BonusPercentage:      v.BonusPercentage,
		PenaltyPercentage:    v.PenaltyPercentage,
		RewardPerTokenStored: clone(v.RewardPerTokenStored),
		LastUpdateTime:       v.LastUpdateTime,
	}, nil
}

type RecordView struct {
	PoolID           uint64       `json:"poolId"`
	Owner            string       `json:"owner"`
	TokenID          uint64       `json:"tokenId,omitempty"`
	Principal        *uint256.Int `json:"principal"`
	Timestamp        int64        `json:"timestamp"`
	RewardCheckpoint *uint256.Int `json:"rewardCheckpoint"`
	LastAccrual      int64        `json:"lastAccrual"`
	Pending          *uint256.Int `json:"pending"`
}

type BalanceView struct {
	PoolID  uint64       `json:"poolId,omitempty"`
	Account string       `json:"account"`
	Amount  *uint256.Int `json:"amount"`
}

// Snapshot is the complete persisted ledger state.
type Snapshot struct {
	Owner        string        `json:"owner"`
	Paused       bool          `json:"paused"`
	FeeAsset     string        `json:"feeAsset"`
	CreationFee  *uint256.Int  `json:"creationFee"`
	StakingFee   Fraction      `json:"stakingFee"`
	UnstakingFee Fraction      `json:"unstakingFee"`
	Pools        []PoolView    `json:"pools"`
	Stakes       []RecordView  `json:"stakes,omitempty"`
	NFTs         []RecordView  `json:"nfts,omitempty"`
	NFTRewards   []BalanceView `json:"nftRewards,omitempty"`
	Treasury     []BalanceView `json:"treasury,omitempty"`
	LastSeq      uint64        `json:"lastSeq"`
}

func recordView(rec *StakeRecord) RecordView {
	return RecordView{
		PoolID:           rec.PoolID,
		Owner:            rec.Owner.String(),
		TokenID:          rec.TokenID,
		Principal:        clone(rec.Principal),
		Timestamp:        rec.Timestamp,
		RewardCheckpoint: clone(rec.RewardCheckpoint),
		LastAccrual:      rec.LastAccrual,
		Pending:          clone(rec.Pending),
	}
}

func (v RecordView) record() (*StakeRecord, error) {
	owner, err := types.DecodeAddress(v.Owner)
	if err != nil {
		return nil, fmt.Errorf("record owner in pool %d: %w", v.PoolID, err)
	}
	return &StakeRecord{
		Owner:            owner,
		PoolID:           v.PoolID,
		Principal:        clone(v.Principal),
		TokenID:          v.TokenID,
		Timestamp:        v.Timestamp,
		RewardCheckpoint: clone(v.RewardCheckpoint),
		LastAccrual:      v.LastAccrual,
		Pending:          clone(v.Pending),
	}, nil
}

func sortRecords(records []RecordView) {
	slices.SortFunc(records, func(a, b RecordView) int {
		if c := cmp.Compare(a.PoolID, b.PoolID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Owner, b.Owner); c != 0 {
			return c
		}
		return cmp.Compare(a.TokenID, b.TokenID)
	})
}

func sortBalances(balances []BalanceView) {
	slices.SortFunc(balances, func(a, b BalanceView) int {
		if c := cmp.Compare(a.PoolID, b.PoolID); c != 0 {
			return c
		}
		return cmp.Compare(a.Account, b.Account)
	})
}

// Snapshot captures the full ledger state in a deterministic order.
func (l *Ledger) Snapshot() *Snapshot {
	l.RLock()
	defer l.RUnlock()

	snap := &Snapshot{
		Owner:        l.owner.String(),
		Paused:       l.paused,
		FeeAsset:     l.feeAsset.String(),
		CreationFee:  l.creationFee.Clone(),
		StakingFee:   l.stakingFee,
		UnstakingFee: l.unstakingFee,
		Pools:        make([]PoolView, 0, len(l.pools)),
		LastSeq:      l.nextSeq,
	}
	for _, pool := range l.pools {
		snap.Pools = append(snap.Pools, NewPoolView(*pool))
	}
	for _, rec := range l.stakes {
		snap.Stakes = append(snap.Stakes, recordView(rec))
	}
	for _, rec := range l.nfts {
		snap.NFTs = append(snap.NFTs, recordView(rec))
	}
	for key, amount := range l.nftRewards {
		snap.NFTRewards = append(snap.NFTRewards, BalanceView{PoolID: key.PoolID, Account: key.Owner.String(), Amount: amount.Clone()})
	}
	for asset, amount := range l.treasury {
		snap.Treasury = append(snap.Treasury, BalanceView{Account: asset.String(), Amount: amount.Clone()})
	}
	sortRecords(snap.Stakes)
	sortRecords(snap.NFTs)
	sortBalances(snap.NFTRewards)
	sortBalances(snap.Treasury)
	return snap
}

// Restore replaces the ledger state with snap. Nothing changes if snap fails validation.
func (l *Ledger) Restore(snap *Snapshot) error {
	owner, err := types.DecodeAddress(snap.Owner)
	if err != nil {
		return fmt.Errorf("snapshot owner: %w", err)
	}
	feeAsset, err := types.DecodeAddress(snap.FeeAsset)
	if err != nil {
		return fmt.Errorf("snapshot fee asset: %w", err)
	}

	var (
		pools      = make([]*StakingPool, 0, len(snap.Pools))
		stakes     = map[stakeKey]*StakeRecord{}
		nfts       = map[tokenKey]*StakeRecord{}
		nftCounts  = map[stakeKey]uint64{}
		nftRewards = map[stakeKey]*uint256.Int{}
		treasury   = map[types.Address]*uint256.Int{}
	)
	for i, view := range snap.Pools {
		if view.ID != uint64(i)+1 {
			return fmt.Errorf("snapshot pool %d out of sequence at position %d", view.ID, i)
		}
		pool, err := view.pool()
		if err != nil {
			return err
		}
		pools = append(pools, pool)
	}
	poolExists := func(id uint64) bool { return id != 0 && id <= uint64(len(pools)) }
	for _, view := range snap.Stakes {
		rec, err := view.record()
		if err != nil {
			return err
		}
		if !poolExists(rec.PoolID) {
			return fmt.Errorf("stake of %s references unknown pool %d", view.Owner, rec.PoolID)
		}
		stakes[stakeKey{rec.PoolID, rec.Owner}] = rec
	}
	for _, view := range snap.NFTs {
		rec, err := view.record()
		if err != nil {
			return err
		}
		if !poolExists(rec.PoolID) {
			return fmt.Errorf("token %d references unknown pool %d", rec.TokenID, rec.PoolID)
		}
		nfts[tokenKey{rec.PoolID, rec.TokenID}] = rec
		nftCounts[stakeKey{rec.PoolID, rec.Owner}]++
	}
	for _, view := range snap.NFTRewards {
		account, err := types.DecodeAddress(view.Account)
		if err != nil {
			return fmt.Errorf("nft reward account: %w", err)
		}
		nftRewards[stakeKey{view.PoolID, account}] = clone(view.Amount)
	}
	for _, view := range snap.Treasury {
		asset, err := types.DecodeAddress(view.Account)
		if err != nil {
			return fmt.Errorf("treasury asset: %w", err)
		}
		treasury[asset] = clone(view.Amount)
	}

	l.Lock()
	defer l.Unlock()
	l.owner = owner
	l.paused = snap.Paused
	l.feeAsset = feeAsset
	l.creationFee = clone(snap.CreationFee)
	l.stakingFee = snap.StakingFee
	l.unstakingFee = snap.UnstakingFee
	l.pools = pools
	l.stakes = stakes
	l.nfts = nfts
	l.nftCounts = nftCounts
	l.nftRewards = nftRewards
	l.treasury = treasury
	l.events = nil
	l.nextSeq = snap.LastSeq
	if sinkSeq := l.sinkSeq(); sinkSeq > l.nextSeq {
		misc.Warnf(l.log, "event sink is ahead of the snapshot (seq %d > %d), continuing after it", sinkSeq, snap.LastSeq)
		l.nextSeq = sinkSeq
	}
	misc.Infof(l.log, "restored ledger state: %d pools, %d stakes, %d NFTs, last event %d", len(pools), len(stakes), len(nfts), snap.LastSeq)
	return nil
}
