package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

func GetAdminCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "admin",
		Aliases: []string{"a"},
		Usage:   "Ledger owner operations",
		Before:  loadLedger,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show owner, pause state and fee defaults",
				Action: AdminStatus,
			},
			{
				Name:   "pause",
				Usage:  "Pause all pool creation, funding, staking and claiming",
				Action: saving(adminAction(func(ctx context.Context, cmd *cli.Command) error { return App.ledger.Pause(ctx, mustCaller(ctx)) })),
				Flags:  []cli.Flag{callerFlag()},
			},
			{
				Name:   "unpause",
				Usage:  "Resume normal operation",
				Action: saving(adminAction(func(ctx context.Context, cmd *cli.Command) error { return App.ledger.Unpause(ctx, mustCaller(ctx)) })),
				Flags:  []cli.Flag{callerFlag()},
			},
			{
				Name:   "transfer-ownership",
				Usage:  "Hand the ledger to a new owner",
				Action: saving(adminAction(AdminTransferOwnership)),
				Flags: []cli.Flag{
					callerFlag(),
					&cli.StringFlag{
						Name:     "to",
						Usage:    "The new owner",
						Required: true,
					},
				},
			},
			{
				Name:   "renounce-ownership",
				Usage:  "Give up ownership for good - no admin operation will be possible afterwards",
				Action: saving(adminAction(AdminRenounceOwnership)),
				Flags:  []cli.Flag{callerFlag()},
			},
			{
				Name:   "set-fees",
				Usage:  "Set the creation fee and default staking/unstaking fees",
				Action: saving(adminAction(AdminSetFees)),
				Flags: []cli.Flag{
					callerFlag(),
					&cli.StringFlag{
						Name:  "creation",
						Usage: "Pool creation fee in base units of the fee asset",
					},
					&cli.StringFlag{
						Name:  "staking",
						Usage: "Default staking fee as n/d or a percentage",
					},
					&cli.StringFlag{
						Name:  "unstaking",
						Usage: "Default unstaking fee as n/d or a percentage",
					},
				},
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw collected fees and penalties of an asset",
				Action: saving(adminAction(AdminWithdraw)),
				Flags: []cli.Flag{
					callerFlag(),
					&cli.StringFlag{
						Name:     "asset",
						Usage:    "Asset to withdraw",
						Required: true,
					},
				},
			},
			{
				Name:   "events",
				Usage:  "List ledger events - from the journal if one is configured",
				Action: AdminEvents,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  "since",
						Usage: "Only events after this sequence number",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of events to show",
						Value: 50,
					},
				},
			},
		},
	}
}

type callerCtxKey struct{}

// adminAction resolves --from and passes it along in the context.
func adminAction(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		account, err := caller(cmd)
		if err != nil {
			return err
		}
		return action(context.WithValue(ctx, callerCtxKey{}, account), cmd)
	}
}

func mustCaller(ctx context.Context) (account types.Address) {
	return ctx.Value(callerCtxKey{}).(types.Address)
}

func AdminStatus(ctx context.Context, command *cli.Command) error {
	defaults := App.ledger.FeeDefaults()
	fmt.Printf("Owner: %s\n", App.ledger.Owner())
	fmt.Printf("Custody: %s\n", App.ledger.Custody())
	fmt.Printf("Paused: %v\n", App.ledger.Paused())
	fmt.Printf("Pools: %d\n", App.ledger.PoolCount())
	fmt.Printf("Fee asset: %s\n", defaults.FeeAsset)
	fmt.Printf("Creation fee: %s\n", defaults.CreationFee.Dec())
	fmt.Printf("Default staking fee: %s\n", defaults.StakingFee)
	fmt.Printf("Default unstaking fee: %s\n", defaults.UnstakingFee)
	fmt.Printf("Fee asset treasury: %s\n", App.ledger.Treasury(defaults.FeeAsset).Dec())
	fmt.Printf("Last event: %d\n", App.ledger.LastSeq())
	return nil
}

func AdminTransferOwnership(ctx context.Context, command *cli.Command) error {
	newOwner, err := algo.DecodeAccount(command.String("to"))
	if err != nil {
		return err
	}
	ok, err := yesNo(fmt.Sprintf("Transfer ownership of the ledger to %s", newOwner))
	if err != nil || !ok {
		return err
	}
	return App.ledger.TransferOwnership(ctx, mustCaller(ctx), newOwner)
}

func AdminRenounceOwnership(ctx context.Context, command *cli.Command) error {
	ok, err := yesNo("Renounce ownership - this can NOT be undone")
	if err != nil || !ok {
		return err
	}
	return App.ledger.RenounceOwnership(ctx, mustCaller(ctx))
}

func AdminSetFees(ctx context.Context, command *cli.Command) error {
	var changed bool
	if value := command.String("creation"); value != "" {
		fee, err := algo.ParseAmount(value, 0)
		if err != nil {
			return err
		}
		if err := App.ledger.SetPoolCreationFee(ctx, mustCaller(ctx), fee); err != nil {
			return err
		}
		changed = true
	}
	for _, setting := range []struct {
		flag string
		set  func(context.Context, types.Address, ledger.Fraction) error
	}{
		{"staking", App.ledger.SetStakingFee},
		{"unstaking", App.ledger.SetUnstakingFee},
	} {
		value := command.String(setting.flag)
		if value == "" {
			continue
		}
		fee, err := parseFraction(value)
		if err != nil {
			return err
		}
		if err := setting.set(ctx, mustCaller(ctx), fee); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return errors.New("nothing to change - set at least one of --creation, --staking or --unstaking")
	}
	return nil
}

func AdminWithdraw(ctx context.Context, command *cli.Command) error {
	asset, err := algo.DecodeAccount(command.String("asset"))
	if err != nil {
		return err
	}
	amount, err := App.ledger.Withdraw(ctx, mustCaller(ctx), asset)
	if err != nil {
		return err
	}
	misc.Infof(App.logger, "withdrew %s base units of %s", amount.Dec(), asset)
	return nil
}

func AdminEvents(ctx context.Context, command *cli.Command) error {
	var (
		since  = command.Uint("since")
		limit  = int(command.Int("limit"))
		events []ledger.Event
		err    error
	)
	if App.journal != nil {
		if events, err = App.journal.Since(since, limit); err != nil {
			return err
		}
	} else {
		events = App.ledger.Events(since)
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Seq\tTime\tKind\tPool\tAccount\tAmount\t")
	for _, event := range events {
		var amount string
		if event.Amount != nil {
			amount = event.Amount.Dec()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t\n", event.Seq, event.Time.Format(time.RFC3339), event.Kind,
			event.PoolID, event.Account, amount)
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}
