package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

func GetStakeCmdOpts() *cli.Command {
	amountFlag := &cli.StringFlag{
		Name:     "amount",
		Usage:    "Amount of the staking asset (whole units, ie: 100.5)",
		Required: true,
	}
	tokensFlag := &cli.StringFlag{
		Name:  "tokens",
		Usage: "Comma separated NFT token ids",
	}
	return &cli.Command{
		Name:    "stake",
		Aliases: []string{"s"},
		Usage:   "Stake, unstake and claim rewards",
		Before:  loadLedger,
		Commands: []*cli.Command{
			{
				Name:   "add",
				Usage:  "Stake into a pool - the staking asset must be approved for the ledger first (bank approve)",
				Action: saving(StakeAdd),
				Flags:  []cli.Flag{callerFlag(), poolFlag(), amountFlag},
			},
			{
				Name:   "remove",
				Usage:  "Unstake from a pool.  Shows the penalty and fee that apply before doing so",
				Action: saving(StakeRemove),
				Flags: []cli.Flag{callerFlag(), poolFlag(), amountFlag,
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Don't ask for confirmation",
					},
				},
			},
			{
				Name:   "claim",
				Usage:  "Claim the rewards earned in a pool",
				Action: saving(StakeClaim),
				Flags:  []cli.Flag{callerFlag(), poolFlag()},
			},
			{
				Name:   "add-nft",
				Usage:  "Stake NFTs into an NFT pool",
				Action: saving(nftAction("staked", stakeNFT)),
				Flags:  []cli.Flag{callerFlag(), poolFlag(), tokensFlag},
			},
			{
				Name:   "remove-nft",
				Usage:  "Unstake NFTs from an NFT pool",
				Action: saving(nftAction("unstaked", unstakeNFT)),
				Flags:  []cli.Flag{callerFlag(), poolFlag(), tokensFlag},
			},
			{
				Name:   "claim-nft",
				Usage:  "Claim NFT pool rewards - for the listed tokens or, if none are listed, everything you're owed",
				Action: saving(StakeClaimNFT),
				Flags:  []cli.Flag{callerFlag(), poolFlag(), tokensFlag},
			},
			{
				Name:   "earnings",
				Usage:  "Show staked balance and unclaimed rewards of an account",
				Action: StakeEarnings,
				Flags: []cli.Flag{poolFlag(),
					&cli.StringFlag{
						Name:     "account",
						Usage:    "Account to show",
						Required: true,
					},
				},
			},
		},
	}
}

func parseTokenIDs(value string) ([]uint64, error) {
	var ids []uint64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func stakeAmount(command *cli.Command) (uint64, *uint256.Int, error) {
	pool, err := getPool(command)
	if err != nil {
		return 0, nil, err
	}
	amount, err := algo.ParseAmount(command.String("amount"), pool.StakingDecimals)
	return pool.ID, amount, err
}

func StakeAdd(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	id, amount, err := stakeAmount(command)
	if err != nil {
		return err
	}
	if err := App.ledger.Stake(ctx, account, id, amount); err != nil {
		return err
	}
	misc.Infof(App.logger, "stake added into pool:%d", id)
	return nil
}

func StakeRemove(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	id, amount, err := stakeAmount(command)
	if err != nil {
		return err
	}
	quote, err := App.ledger.QuoteUnstake(id, account, amount)
	if err != nil {
		return err
	}
	if !quote.Penalty.IsZero() && !command.Bool("yes") {
		ok, err := yesNo(fmt.Sprintf("Unstaking before the pool ends costs a penalty of %s base units (you receive %s).  Continue",
			quote.Penalty.Dec(), quote.Payout.Dec()))
		if err != nil || !ok {
			return err
		}
	}
	return App.ledger.Unstake(ctx, account, id, amount)
}

func StakeClaim(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	reward, err := App.ledger.ClaimToken(ctx, account, pool.ID)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "claimed %s from pool %d", algo.FormattedAmount(reward, pool.RewardDecimals), pool.ID)
	return nil
}

func stakeNFT(ctx context.Context, command *cli.Command, tokenIDs []uint64) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	return App.ledger.StakeNFT(ctx, account, command.Uint("pool"), tokenIDs)
}

func unstakeNFT(ctx context.Context, command *cli.Command, tokenIDs []uint64) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	return App.ledger.UnstakeNFT(ctx, account, command.Uint("pool"), tokenIDs)
}

func nftAction(verb string, op func(context.Context, *cli.Command, []uint64) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		tokenIDs, err := parseTokenIDs(command.String("tokens"))
		if err != nil {
			return err
		}
		if err := op(ctx, command, tokenIDs); err != nil {
			return err
		}
		misc.Infof(App.logger, "%s tokens %v in pool %d", verb, tokenIDs, command.Uint("pool"))
		return nil
	}
}

func StakeClaimNFT(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	tokenIDs, err := parseTokenIDs(command.String("tokens"))
	if err != nil {
		return err
	}
	reward, err := App.ledger.ClaimNFT(ctx, account, pool.ID, tokenIDs)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "claimed %s from pool %d", algo.FormattedAmount(reward, pool.RewardDecimals), pool.ID)
	return nil
}

func StakeEarnings(ctx context.Context, command *cli.Command) error {
	account, err := algo.DecodeAccount(command.String("account"))
	if err != nil {
		return err
	}
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	staked, err := App.ledger.StakedBalance(pool.ID, account)
	if err != nil {
		return err
	}
	earned, err := App.ledger.EarningInfo(pool.ID, account)
	if err != nil {
		return err
	}
	fmt.Printf("Staked: %s\n", algo.FormattedAmount(staked, pool.StakingDecimals))
	fmt.Printf("Earned: %s\n", algo.FormattedAmount(earned, pool.RewardDecimals))
	return nil
}
