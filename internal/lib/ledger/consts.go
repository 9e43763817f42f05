package ledger

import (
	"github.com/holiman/uint256"
)

const (
	// SchemaV1 pools carry flat integer percentages and a single asset
	SchemaV1 = 1
	// SchemaV2 introduced exact fractions, separate reward asset and a pool-wide stake cap
	SchemaV2 = 2
	// SchemaV3 adds NFT and shared (reward-per-token) pools
	SchemaV3 = 3

	CurrentSchema = SchemaV3

	// number of events kept in memory for Events()
	eventRingSize = 1024
)

// rewardPrecision scales the reward-per-token accumulator (1e18).
var rewardPrecision = uint256.NewInt(1_000_000_000_000_000_000)

// nftUnit is the principal of a single staked NFT.
var nftUnit = uint256.NewInt(1)
