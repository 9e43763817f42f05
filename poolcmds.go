package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

func poolFlag() cli.Flag {
	return &cli.UintFlag{
		Name:     "pool",
		Usage:    "Pool ID (the number in 'pool list')",
		Required: true,
	}
}

func GetPoolCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "pool",
		Aliases: []string{"p"},
		Usage:   "Create, fund and configure staking pools",
		Before:  loadLedger,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List all pools",
				Action:  PoolsList,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "active",
						Usage: "Only show active pools",
					},
				},
			},
			{
				Name:   "info",
				Usage:  "Show the full definition and totals of a pool",
				Action: PoolInfo,
				Flags:  []cli.Flag{poolFlag()},
			},
			{
				Name:   "ledger",
				Usage:  "List the stakers of a pool with their balances and earnings",
				Action: PoolLedger,
				Flags:  []cli.Flag{poolFlag()},
			},
			{
				Name:    "create",
				Aliases: []string{"a"},
				Usage:   "Create a new pool - interactively, or from a YAML pool definition with --file",
				Action:  saving(PoolCreate),
				Flags: []cli.Flag{
					callerFlag(),
					&cli.StringFlag{
						Name:    "file",
						Usage:   "YAML pool definition (any schema revision)",
						Aliases: []string{"f"},
					},
					&cli.StringFlag{
						Name:  "fee",
						Usage: "Creation fee to pay (in whole units of the fee asset).  Defaults to the configured fee",
					},
					&cli.UintFlag{
						Name:  "fee-decimals",
						Usage: "Decimals of the fee asset",
						Value: 6,
					},
				},
			},
			{
				Name:   "activate",
				Usage:  "Re-open a pool for new stakes",
				Action: saving(poolActivation(true)),
				Flags:  []cli.Flag{callerFlag(), poolFlag()},
			},
			{
				Name:   "deactivate",
				Usage:  "Close a pool to new stakes.  Stakers can still unstake and claim",
				Action: saving(poolActivation(false)),
				Flags:  []cli.Flag{callerFlag(), poolFlag()},
			},
			{
				Name:   "fund",
				Usage:  "Deposit reward asset into a pool",
				Action: saving(PoolFund),
				Flags: []cli.Flag{
					callerFlag(),
					poolFlag(),
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Amount of reward asset (whole units, ie: 12.5)",
						Required: true,
					},
				},
			},
			{
				Name:   "fees",
				Usage:  "Change the staking/unstaking fees of a pool",
				Action: saving(PoolFees),
				Flags: []cli.Flag{
					callerFlag(),
					poolFlag(),
					&cli.StringFlag{
						Name:     "staking",
						Usage:    "Staking fee as n/d or a percentage",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "unstaking",
						Usage:    "Unstaking fee as n/d or a percentage",
						Required: true,
					},
				},
			},
			{
				Name:   "withdraw-reward",
				Usage:  "Withdraw reward funds not owed to any staker once a pool has ended",
				Action: saving(PoolWithdrawReward),
				Flags:  []cli.Flag{callerFlag(), poolFlag()},
			},
		},
	}
}

func getPool(cmd *cli.Command) (ledger.StakingPool, error) {
	return App.ledger.GetPoolInfo(cmd.Uint("pool"))
}

func PoolsList(ctx context.Context, command *cli.Command) error {
	pools := App.ledger.Pools()

	// Display user-friendly version of pool list using the TabWriter class, displaying
	// final output using fmt.Print type statements
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Pool\tType\tActive\tStakers\tTotal Staked\tReward Avail\tEnds\t")
	var numStakers uint64
	for _, pool := range pools {
		if command.Bool("active") && !pool.IsActive {
			continue
		}
		numStakers += pool.NumStakers
		fmt.Fprintf(tw, "%d\t%s\t%v\t%d\t%s\t%s\t%s\t\n", pool.ID, poolType(pool), pool.IsActive, pool.NumStakers,
			algo.FormattedAmount(pool.TotalStaked, pool.StakingDecimals),
			algo.FormattedAmount(pool.RewardAvailable(), pool.RewardDecimals),
			time.Unix(pool.EndDate, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%d\t\t\t\t\n", numStakers)
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func poolType(pool ledger.StakingPool) string {
	kind := "bonus"
	if pool.IsSharedPool {
		kind = "shared"
	}
	if pool.IsNFTPool {
		return "nft/" + kind
	}
	return kind
}

func PoolInfo(ctx context.Context, command *cli.Command) error {
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	fmt.Print(pool.String())
	owed, err := App.ledger.PoolObligations(pool.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Owed to stakers: %s\n", algo.FormattedAmount(owed, pool.RewardDecimals))
	return nil
}

func PoolLedger(ctx context.Context, command *cli.Command) error {
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	stakers, err := App.ledger.Stakers(pool.ID)
	if err != nil {
		return err
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Account\tToken\tStaked\tEarned\tPct of Pool\tEntry Time\t")
	for _, staker := range stakers {
		var token string
		if pool.IsNFTPool {
			token = fmt.Sprint(staker.TokenID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", staker.Account.String(), token,
			algo.FormattedAmount(staker.Balance, pool.StakingDecimals),
			algo.FormattedAmount(staker.Earned, pool.RewardDecimals),
			pctOf(staker.Balance, pool.TotalStaked),
			time.Unix(staker.StakedAt, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Pool Reward Avail: %s\t\n", algo.FormattedAmount(pool.RewardAvailable(), pool.RewardDecimals))
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

// pctOf renders part/total as a percentage with 2 decimals.
func pctOf(part, total *uint256.Int) string {
	if total == nil || total.IsZero() || part == nil {
		return "0"
	}
	basisPts, _ := new(uint256.Int).MulDivOverflow(part, uint256.NewInt(10_000), total)
	return algo.FormattedAmount(basisPts, 2) + "%"
}

func PoolCreate(ctx context.Context, command *cli.Command) error {
	creator, err := caller(command)
	if err != nil {
		return err
	}
	var params ledger.PoolParams
	if file := command.String("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if params, err = ledger.ParsePoolFile(data); err != nil {
			return fmt.Errorf("pool file %s: %w", file, err)
		}
	} else if params, err = promptPoolParams(creator); err != nil {
		return err
	}

	var feePaid *uint256.Int
	if fee := command.String("fee"); fee != "" {
		if feePaid, err = algo.ParseAmount(fee, uint8(command.Uint("fee-decimals"))); err != nil {
			return err
		}
	} else {
		feePaid = App.ledger.FeeDefaults().CreationFee
	}

	id, err := App.ledger.CreatePool(ctx, creator, params, feePaid)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "created pool %d", id)
	return nil
}

func poolActivation(active bool) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		account, err := caller(command)
		if err != nil {
			return err
		}
		return App.ledger.SetPoolActive(ctx, account, command.Uint("pool"), active)
	}
}

func PoolFund(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	amount, err := algo.ParseAmount(command.String("amount"), pool.RewardDecimals)
	if err != nil {
		return err
	}
	return App.ledger.FundPool(ctx, account, pool.ID, amount)
}

func PoolFees(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	staking, err := parseFraction(command.String("staking"))
	if err != nil {
		return err
	}
	unstaking, err := parseFraction(command.String("unstaking"))
	if err != nil {
		return err
	}
	return App.ledger.UpdatePoolFees(ctx, account, command.Uint("pool"), staking, unstaking)
}

func PoolWithdrawReward(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	pool, err := getPool(command)
	if err != nil {
		return err
	}
	amount, err := App.ledger.WithdrawRewardToken(ctx, account, pool.ID)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "withdrew %s of unowed reward from pool %d", algo.FormattedAmount(amount, pool.RewardDecimals), pool.ID)
	return nil
}
