// Package ledger is the staking pool engine: pool registry, stake accounting for fungible and NFT pools,
// fee and penalty calculation and admin control. All assets move through an AssetTransferer; the ledger
// itself only keeps the accounting.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// AssetTransferer moves assets between accounts and the ledger's custody account. A returned error
// means nothing moved.
type AssetTransferer interface {
	TransferIn(ctx context.Context, asset, from types.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, asset, to types.Address, amount *uint256.Int) error
	TransferNFTIn(ctx context.Context, collection, from types.Address, tokenIDs []uint64) error
	TransferNFTOut(ctx context.Context, collection, to types.Address, tokenIDs []uint64) error
}

// AllowanceKeeper exposes the approvals accounts grant the custody account for fungible assets.
type AllowanceKeeper interface {
	Allowance(asset, owner, spender types.Address) *uint256.Int
	Approve(asset, owner, spender types.Address, amount *uint256.Int) error
}

type Config struct {
	// Initial owner (admin) of the ledger. Only used when not restoring from a snapshot.
	Owner types.Address
	// Custody is the account every deposit is transferred into and the spender allowances are granted to.
	Custody types.Address
	// FeeAsset is the asset pool creation fees are paid in
	FeeAsset    types.Address
	CreationFee *uint256.Int
	// Defaults applied to pools that don't specify their own fees
	StakingFee   Fraction
	UnstakingFee Fraction

	Assets     AssetTransferer
	Allowances AllowanceKeeper // optional - enables allowance pre-checks before fungible deposits
	Clock      Clock
	Sink       EventSink
	Logger     *slog.Logger
}

type stakeKey struct {
	PoolID uint64
	Owner  types.Address
}

type tokenKey struct {
	PoolID  uint64
	TokenID uint64
}

type Ledger struct {
	log        *slog.Logger
	assets     AssetTransferer
	allowances AllowanceKeeper
	clock      Clock
	sink       EventSink
	custody    types.Address

	// Single writer - every mutation holds the write lock from validation through commit and emit.
	sync.RWMutex
	owner        types.Address
	paused       bool
	feeAsset     types.Address
	creationFee  *uint256.Int
	stakingFee   Fraction
	unstakingFee Fraction

	pools      []*StakingPool // index is id-1
	stakes     map[stakeKey]*StakeRecord
	nfts       map[tokenKey]*StakeRecord
	nftCounts  map[stakeKey]uint64
	nftRewards map[stakeKey]*uint256.Int
	treasury   map[types.Address]*uint256.Int

	events  []Event
	nextSeq uint64
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Assets == nil {
		return nil, errors.New("ledger requires an asset transferer")
	}
	if cfg.Custody == types.ZeroAddress {
		return nil, errors.New("ledger requires a custody account")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CreationFee == nil {
		cfg.CreationFee = new(uint256.Int)
	}
	if !cfg.CreationFee.IsZero() && cfg.FeeAsset == types.ZeroAddress {
		return nil, errors.New("a creation fee requires a fee asset")
	}
	var err error
	if cfg.StakingFee, err = defaultFee(cfg.StakingFee, "staking"); err != nil {
		return nil, err
	}
	if cfg.UnstakingFee, err = defaultFee(cfg.UnstakingFee, "unstaking"); err != nil {
		return nil, err
	}

	l := &Ledger{
		log:          cfg.Logger,
		assets:       cfg.Assets,
		allowances:   cfg.Allowances,
		clock:        cfg.Clock,
		sink:         cfg.Sink,
		custody:      cfg.Custody,
		owner:        cfg.Owner,
		feeAsset:     cfg.FeeAsset,
		creationFee:  cfg.CreationFee.Clone(),
		stakingFee:   cfg.StakingFee,
		unstakingFee: cfg.UnstakingFee,
	}
	l.reset()
	misc.Infof(l.log, "ledger initialized, custody:%s owner:%s", l.custody, l.owner)
	return l, nil
}

func (l *Ledger) reset() {
	l.pools = nil
	l.stakes = map[stakeKey]*StakeRecord{}
	l.nfts = map[tokenKey]*StakeRecord{}
	l.nftCounts = map[stakeKey]uint64{}
	l.nftRewards = map[stakeKey]*uint256.Int{}
	l.treasury = map[types.Address]*uint256.Int{}
	l.events = nil
	l.nextSeq = l.sinkSeq()
}

func defaultFee(fee Fraction, name string) (Fraction, error) {
	if fee.IsUnset() {
		return Fraction{Numerator: 0, Denominator: 1}, nil
	}
	if !fee.AtMostOne() {
		return fee, fmt.Errorf("default %s fee %s must be a valid fraction <= 1", name, fee)
	}
	return fee, nil
}

func (l *Ledger) Custody() types.Address {
	return l.custody
}

func (l *Ledger) now() int64 {
	return l.clock.Now().Unix()
}

// track records the outcome of a public operation in metrics and logs rejections.
func (l *Ledger) track(op string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
		if code := CodeOf(err); code != "" {
			result = string(code)
		}
		misc.Debugf(l.log, "%s rejected: %v", op, err)
	}
	promOperations.WithLabelValues(op, result).Inc()
	return err
}

func (l *Ledger) requireRunning() error {
	if l.paused {
		return ErrContractPaused
	}
	return nil
}

func requireCaller(caller types.Address) error {
	if caller == types.ZeroAddress {
		return fail(CodeInvalidAddress, "caller can't be the zero address")
	}
	return nil
}

// pool returns the live record for id - callers must clone before mutating.
func (l *Ledger) pool(id uint64) (*StakingPool, error) {
	if id == 0 || id > uint64(len(l.pools)) {
		return nil, fail(CodeNotFound, "pool %d doesn't exist", id)
	}
	return l.pools[id-1], nil
}

func (l *Ledger) isOwner(caller types.Address) bool {
	return l.owner != types.ZeroAddress && caller == l.owner
}

func (l *Ledger) canManage(pool *StakingPool, caller types.Address) bool {
	return caller == pool.Creator || l.isOwner(caller)
}

func (l *Ledger) treasuryAdd(asset types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	sum, err := add(l.treasuryBalance(asset), amount)
	if err != nil {
		return err
	}
	l.treasury[asset] = sum
	return nil
}

func (l *Ledger) treasuryBalance(asset types.Address) *uint256.Int {
	if bal, found := l.treasury[asset]; found {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// checkAllowance is a read-only pre-check so a deposit the bank would refuse fails with a ledger code.
func (l *Ledger) checkAllowance(asset, owner types.Address, amount *uint256.Int) error {
	if l.allowances == nil {
		return nil
	}
	allowed := l.allowances.Allowance(asset, owner, l.custody)
	if allowed.Lt(amount) {
		return fail(CodeInsufficientBalance, "%s approved %s of %s for the ledger, needs %s", owner, allowed.Dec(), asset, amount.Dec())
	}
	return nil
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fail(CodeInvalidParameters, "amount overflow adding %s and %s", a.Dec(), b.Dec())
	}
	return sum, nil
}

// sub assumes a >= b.
func sub(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(a, b)
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func unix(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
