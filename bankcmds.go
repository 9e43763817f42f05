package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// The bank is the asset ledger the staking ledger moves funds through. Locally it's held in the state
// file, so these commands are how test balances get minted and approvals are granted.
func GetBankCmdOpts() *cli.Command {
	assetFlag := &cli.StringFlag{
		Name:     "asset",
		Usage:    "Asset (or NFT collection) address",
		Required: true,
	}
	decimalsFlag := &cli.UintFlag{
		Name:  "decimals",
		Usage: "Decimals of the asset - amounts are given in whole units",
		Value: 6,
	}
	return &cli.Command{
		Name:    "bank",
		Aliases: []string{"b"},
		Usage:   "Balances, approvals and test minting on the local asset ledger",
		Before:  loadLedger,
		Commands: []*cli.Command{
			{
				Name:   "balance",
				Usage:  "Show an account's balance of an asset and what the ledger may pull from it",
				Action: BankBalance,
				Flags: []cli.Flag{assetFlag, decimalsFlag,
					&cli.StringFlag{
						Name:     "account",
						Usage:    "Account to show",
						Required: true,
					},
				},
			},
			{
				Name:   "approve",
				Usage:  "Allow the ledger custody account to pull up to --amount of an asset from your account",
				Action: saving(BankApprove),
				Flags: []cli.Flag{callerFlag(), assetFlag, decimalsFlag,
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Allowance in whole units.  0 revokes it",
						Required: true,
					},
				},
			},
			{
				Name:   "mint",
				Usage:  "Mint an asset into an account (local testing)",
				Action: saving(BankMint),
				Flags: []cli.Flag{assetFlag, decimalsFlag,
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Receiving account",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Amount in whole units",
						Required: true,
					},
				},
			},
			{
				Name:   "mint-nft",
				Usage:  "Mint NFTs of a collection into an account (local testing)",
				Action: saving(BankMintNFT),
				Flags: []cli.Flag{assetFlag,
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Receiving account",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "tokens",
						Usage:    "Comma separated token ids",
						Required: true,
					},
				},
			},
		},
	}
}

func BankBalance(ctx context.Context, command *cli.Command) error {
	asset, err := algo.DecodeAccount(command.String("asset"))
	if err != nil {
		return err
	}
	account, err := algo.DecodeAccount(command.String("account"))
	if err != nil {
		return err
	}
	decimals := uint8(command.Uint("decimals"))
	fmt.Printf("Balance: %s\n", algo.FormattedAmount(App.bank.BalanceOf(asset, account), decimals))
	fmt.Printf("Approved for ledger: %s\n", algo.FormattedAmount(App.bank.Allowance(asset, account, App.bank.Custody()), decimals))
	return nil
}

func BankApprove(ctx context.Context, command *cli.Command) error {
	owner, err := caller(command)
	if err != nil {
		return err
	}
	asset, err := algo.DecodeAccount(command.String("asset"))
	if err != nil {
		return err
	}
	amount, err := algo.ParseAmount(command.String("amount"), uint8(command.Uint("decimals")))
	if err != nil {
		return err
	}
	return App.bank.Approve(asset, owner, App.bank.Custody(), amount)
}

func BankMint(ctx context.Context, command *cli.Command) error {
	asset, err := algo.DecodeAccount(command.String("asset"))
	if err != nil {
		return err
	}
	to, err := algo.DecodeAccount(command.String("to"))
	if err != nil {
		return err
	}
	decimals := uint8(command.Uint("decimals"))
	amount, err := algo.ParseAmount(command.String("amount"), decimals)
	if err != nil {
		return err
	}
	if err := App.bank.Mint(asset, to, amount); err != nil {
		return err
	}
	misc.Infof(App.logger, "minted %s of %s to %s", algo.FormattedAmount(amount, decimals), asset, to)
	return nil
}

func BankMintNFT(ctx context.Context, command *cli.Command) error {
	collection, err := algo.DecodeAccount(command.String("asset"))
	if err != nil {
		return err
	}
	to, err := algo.DecodeAccount(command.String("to"))
	if err != nil {
		return err
	}
	tokenIDs, err := parseTokenIDs(command.String("tokens"))
	if err != nil {
		return err
	}
	for _, id := range tokenIDs {
		if err := App.bank.MintNFT(collection, to, id); err != nil {
			return fmt.Errorf("token %d: %w", id, err)
		}
	}
	return nil
}
