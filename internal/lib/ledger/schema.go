package ledger

import (
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
)

// PoolParams is the canonical (v3) pool definition. Zero-valued fractions take the ledger defaults for
// fees and 0 for bonus and penalty.
type PoolParams struct {
	SchemaVersion     int
	StakingAsset      types.Address
	RewardAsset       types.Address
	StakingDecimals   uint8
	RewardDecimals    uint8
	StartDate         int64
	EndDate           int64
	MaxStakePerWallet *uint256.Int
	MaxTotalStake     *uint256.Int
	IsNFTPool         bool
	IsSharedPool      bool
	StakingFee        Fraction
	UnstakingFee      Fraction
	MaxStakingFee     Fraction
	BonusPercentage   Fraction
	PenaltyPercentage Fraction
}

// PoolParamsV1 is the original flat pool layout: one asset staked and paid out, whole percentages.
type PoolParamsV1 struct {
	Asset             types.Address
	Decimals          uint8
	StartDate         int64
	EndDate           int64
	MaxStakePerWallet *uint256.Int
	StakingFeePct     uint64
	UnstakingFeePct   uint64
	BonusPct          uint64
	PenaltyPct        uint64
}

func (v PoolParamsV1) Canonical() PoolParams {
	return PoolParams{
		SchemaVersion:     SchemaV1,
		StakingAsset:      v.Asset,
		RewardAsset:       v.Asset,
		StakingDecimals:   v.Decimals,
		RewardDecimals:    v.Decimals,
		StartDate:         v.StartDate,
		EndDate:           v.EndDate,
		MaxStakePerWallet: clone(v.MaxStakePerWallet),
		MaxTotalStake:     new(uint256.Int),
		StakingFee:        Percent(v.StakingFeePct),
		UnstakingFee:      Percent(v.UnstakingFeePct),
		BonusPercentage:   Percent(v.BonusPct),
		PenaltyPercentage: Percent(v.PenaltyPct),
	}
}

// PoolParamsV2 moved to exact fractions, split the reward asset out and added a pool-wide cap.
type PoolParamsV2 struct {
	StakingAsset      types.Address
	RewardAsset       types.Address
	StakingDecimals   uint8
	RewardDecimals    uint8
	StartDate         int64
	EndDate           int64
	MaxStakePerWallet *uint256.Int
	MaxTotalStake     *uint256.Int
	StakingFee        Fraction
	UnstakingFee      Fraction
	MaxStakingFee     Fraction
	BonusPercentage   Fraction
	PenaltyPercentage Fraction
}

func (v PoolParamsV2) Canonical() PoolParams {
	return PoolParams{
		SchemaVersion:     SchemaV2,
		StakingAsset:      v.StakingAsset,
		RewardAsset:       v.RewardAsset,
		StakingDecimals:   v.StakingDecimals,
		RewardDecimals:    v.RewardDecimals,
		StartDate:         v.StartDate,
		EndDate:           v.EndDate,
		MaxStakePerWallet: clone(v.MaxStakePerWallet),
		MaxTotalStake:     clone(v.MaxTotalStake),
		StakingFee:        v.StakingFee,
		UnstakingFee:      v.UnstakingFee,
		MaxStakingFee:     v.MaxStakingFee,
		BonusPercentage:   v.BonusPercentage,
		PenaltyPercentage: v.PenaltyPercentage,
	}
}

// poolFile is the YAML pool definition. Which fields apply depends on schema.
type poolFile struct {
	Schema int `yaml:"schema"`

	// v1
	Asset           string `yaml:"asset"`
	Decimals        uint8  `yaml:"decimals"`
	StakingFeePct   uint64 `yaml:"stakingFeePct"`
	UnstakingFeePct uint64 `yaml:"unstakingFeePct"`
	BonusPct        uint64 `yaml:"bonusPct"`
	PenaltyPct      uint64 `yaml:"penaltyPct"`

	// v2+
	StakingAsset    string   `yaml:"stakingAsset"`
	RewardAsset     string   `yaml:"rewardAsset"`
	StakingDecimals uint8    `yaml:"stakingDecimals"`
	RewardDecimals  uint8    `yaml:"rewardDecimals"`
	MaxTotalStake   string   `yaml:"maxTotalStake"`
	StakingFee      Fraction `yaml:"stakingFee"`
	UnstakingFee    Fraction `yaml:"unstakingFee"`
	MaxStakingFee   Fraction `yaml:"maxStakingFee"`
	Bonus           Fraction `yaml:"bonus"`
	Penalty         Fraction `yaml:"penalty"`

	// v3
	NFT    bool `yaml:"nft"`
	Shared bool `yaml:"shared"`

	Start             time.Time `yaml:"start"`
	End               time.Time `yaml:"end"`
	MaxStakePerWallet string    `yaml:"maxStakePerWallet"`
}

// ParsePoolFile reads a YAML pool definition of any schema revision and returns the canonical params.
// Amounts are whole-unit decimal strings in the staking asset's precision.
func ParsePoolFile(data []byte) (PoolParams, error) {
	var file poolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return PoolParams{}, fmt.Errorf("invalid pool file: %w", err)
	}
	if file.Start.IsZero() || file.End.IsZero() {
		return PoolParams{}, fmt.Errorf("pool file needs start and end times")
	}
	switch file.Schema {
	case SchemaV1:
		asset, err := algo.DecodeAccount(file.Asset)
		if err != nil {
			return PoolParams{}, fmt.Errorf("asset: %w", err)
		}
		walletCap, err := parseOptionalAmount(file.MaxStakePerWallet, file.Decimals)
		if err != nil {
			return PoolParams{}, fmt.Errorf("maxStakePerWallet: %w", err)
		}
		return PoolParamsV1{
			Asset:             asset,
			Decimals:          file.Decimals,
			StartDate:         file.Start.Unix(),
			EndDate:           file.End.Unix(),
			MaxStakePerWallet: walletCap,
			StakingFeePct:     file.StakingFeePct,
			UnstakingFeePct:   file.UnstakingFeePct,
			BonusPct:          file.BonusPct,
			PenaltyPct:        file.PenaltyPct,
		}.Canonical(), nil
	case SchemaV2, SchemaV3:
		stakingAsset, err := algo.DecodeAccount(file.StakingAsset)
		if err != nil {
			return PoolParams{}, fmt.Errorf("stakingAsset: %w", err)
		}
		rewardAsset := stakingAsset
		if file.RewardAsset != "" {
			if rewardAsset, err = algo.DecodeAccount(file.RewardAsset); err != nil {
				return PoolParams{}, fmt.Errorf("rewardAsset: %w", err)
			}
		}
		walletCap, err := parseOptionalAmount(file.MaxStakePerWallet, file.StakingDecimals)
		if err != nil {
			return PoolParams{}, fmt.Errorf("maxStakePerWallet: %w", err)
		}
		poolCap, err := parseOptionalAmount(file.MaxTotalStake, file.StakingDecimals)
		if err != nil {
			return PoolParams{}, fmt.Errorf("maxTotalStake: %w", err)
		}
		params := PoolParamsV2{
			StakingAsset:      stakingAsset,
			RewardAsset:       rewardAsset,
			StakingDecimals:   file.StakingDecimals,
			RewardDecimals:    file.RewardDecimals,
			StartDate:         file.Start.Unix(),
			EndDate:           file.End.Unix(),
			MaxStakePerWallet: walletCap,
			MaxTotalStake:     poolCap,
			StakingFee:        file.StakingFee,
			UnstakingFee:      file.UnstakingFee,
			MaxStakingFee:     file.MaxStakingFee,
			BonusPercentage:   file.Bonus,
			PenaltyPercentage: file.Penalty,
		}.Canonical()
		if file.Schema == SchemaV3 {
			params.SchemaVersion = SchemaV3
			params.IsNFTPool = file.NFT
			params.IsSharedPool = file.Shared
		} else if file.NFT || file.Shared {
			return PoolParams{}, fmt.Errorf("nft and shared pools need schema %d", SchemaV3)
		}
		return params, nil
	default:
		return PoolParams{}, fmt.Errorf("unsupported pool schema %d", file.Schema)
	}
}

func parseOptionalAmount(value string, decimals uint8) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	return algo.ParseAmount(value, decimals)
}
