package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/journal"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *LedgerApp {
	log.SetFlags(0)
	// tty means we're being run as a CLI vs as a daemon - json logging otherwise
	logger := misc.NewLogger(os.Stdout, logLevel, term.IsTerminal(int(os.Stdout.Fd())))
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	// We initialize our wrapper instance first, so we can call its methods in the 'Before' lambda func
	// in initialization of cli App instance.
	appConfig := &LedgerApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "stakeledger",
		Usage:   "Staking pool ledger - pool management, staking and the ledger daemon",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// This is further bootstrap of the 'app' but within context of 'cli' helper as it will
			// have access to flags and options already set.
			return appConfig.initClients(ctx, cmd)
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			return appConfig.close()
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("LEDGER_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "profile",
				Usage:   "Profile name - loads .env.{profile} overrides (ie: devnet)",
				Sources: cli.EnvVars("LEDGER_PROFILE"),
				Aliases: []string{"p"},
			},
			&cli.StringFlag{
				Name:        "state",
				Usage:       "Path of the ledger state file.  Defaults to stakeledger/state.json in the user config dir",
				Sources:     cli.EnvVars("LEDGER_STATE"),
				Destination: &appConfig.statePath,
			},
			&cli.StringFlag{
				Name:        "journal",
				Usage:       "Path of the bbolt event journal.  Events are only kept in memory if not set",
				Sources:     cli.EnvVars("LEDGER_JOURNAL"),
				Destination: &appConfig.journalPath,
			},
			&cli.UintFlag{
				Name:        "appid",
				Usage:       "Application id the custody account is derived from",
				Value:       1,
				Sources:     cli.EnvVars("LEDGER_APPID"),
				Destination: &appConfig.appID,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "Owner of a brand new ledger.  Ignored once state exists.  Defaults to the first local key",
				Sources: cli.EnvVars("LEDGER_OWNER"),
			},
			&cli.StringFlag{
				Name:    "fee-asset",
				Usage:   "Asset pool creation fees are paid in (new ledgers only)",
				Sources: cli.EnvVars("LEDGER_FEE_ASSET"),
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetPoolCmdOpts(),
			GetStakeCmdOpts(),
			GetAdminCmdOpts(),
			GetBankCmdOpts(),
			GetKeyCmdOpts(),
		},
	}
	return appConfig
}

type LedgerApp struct {
	cliCmd  *cli.Command
	logger  *slog.Logger
	signer  algo.MultipleWalletSigner
	bank    *bank.Memory
	ledger  *ledger.Ledger
	journal *journal.Journal

	// flag bootstrapping destinations
	statePath   string
	journalPath string
	appID       uint64
	owner       string
	feeAsset    string
}

// initClients loads env overrides and the local key store. The ledger itself is only loaded by the
// commands that need it (see loadLedger).
func (ac *LedgerApp) initClients(ctx context.Context, cmd *cli.Command) error {
	if envfile := cmd.String("envfile"); envfile != "" {
		misc.Infof(ac.logger, "loading env file:%s", envfile)
		if err := godotenv.Load(envfile); err != nil {
			return err
		}
	}
	// .env.{profile} overrides - ie: .env.devnet containing generated mnemonics
	misc.LoadEnvForProfile(ac.logger, cmd.String("profile"))

	// This will load and initialize mnemonics from the environment - and handles all 'local' signing for the app
	ac.signer = algo.NewLocalKeyStore(ac.logger)

	if ac.statePath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return err
		}
		ac.statePath = path
	}
	ac.owner = cmd.String("owner")
	ac.feeAsset = cmd.String("fee-asset")
	return nil
}

// loadLedger is the Before of every command tree that reads or mutates the ledger. It opens the journal
// (if configured) and restores the ledger and bank from the state file, bootstrapping a new ledger if
// there isn't one yet.
func loadLedger(ctx context.Context, _ *cli.Command) error {
	return App.loadLedger()
}

func (ac *LedgerApp) loadLedger() error {
	if ac.ledger != nil {
		return nil
	}
	if ac.appID == 0 {
		return errors.New("the application id must be set using either --appid or LEDGER_APPID env var")
	}
	custody := algo.CustodyAddress(ac.appID)

	state, err := LoadState(ac.statePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := ledger.Config{
		Custody: custody,
		Logger:  ac.logger,
	}
	if state == nil {
		if cfg.Owner, err = ac.bootstrapOwner(); err != nil {
			return err
		}
		if ac.feeAsset != "" {
			if cfg.FeeAsset, err = algo.DecodeAccount(ac.feeAsset); err != nil {
				return fmt.Errorf("fee asset: %w", err)
			}
		}
		misc.Infof(ac.logger, "no state at %s, starting a new ledger owned by %s", ac.statePath, cfg.Owner)
	}

	if ac.journalPath != "" {
		if ac.journal, err = journal.Open(ac.journalPath, ac.logger); err != nil {
			return err
		}
		cfg.Sink = ac.journal
	}

	ac.bank = bank.NewMemory(custody)
	cfg.Assets = ac.bank
	cfg.Allowances = ac.bank
	if ac.ledger, err = ledger.New(cfg); err != nil {
		return err
	}
	if state != nil {
		if err := ac.bank.Restore(state.Bank); err != nil {
			return fmt.Errorf("restoring bank: %w", err)
		}
		if err := ac.ledger.Restore(state.Ledger); err != nil {
			return fmt.Errorf("restoring ledger: %w", err)
		}
		misc.Debugf(ac.logger, "restored %d pools from %s", ac.ledger.PoolCount(), ac.statePath)
	}
	return nil
}

func (ac *LedgerApp) bootstrapOwner() (types.Address, error) {
	if ac.owner != "" {
		return algo.DecodeAccount(ac.owner)
	}
	accounts := ac.signer.Accounts()
	if len(accounts) == 0 {
		return types.ZeroAddress, errors.New("a new ledger needs an owner - set --owner or LEDGER_OWNER, or load an ALGO_MNEMONIC key")
	}
	return algo.DecodeAccount(accounts[0])
}

// save persists the ledger and bank state.
func (ac *LedgerApp) save() error {
	return SaveState(ac.statePath, &StateFile{
		Ledger: ac.ledger.Snapshot(),
		Bank:   ac.bank.Snapshot(),
	})
}

func (ac *LedgerApp) close() error {
	if ac.journal == nil {
		return nil
	}
	err := ac.journal.Close()
	ac.journal = nil
	return err
}

// saving wraps a mutating command action so the state file is written once it succeeds.
func saving(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := action(ctx, cmd); err != nil {
			return err
		}
		return App.save()
	}
}

// callerFlag is the --from flag shared by every command acting for an account.
func callerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "from",
		Usage:   "Account to act as (its mnemonic must be loaded).  Defaults to the only local key if there's just one",
		Sources: cli.EnvVars("LEDGER_FROM"),
	}
}

// caller resolves --from to an account we hold keys for.
func caller(cmd *cli.Command) (types.Address, error) {
	from := cmd.String("from")
	if from == "" {
		accounts := App.signer.Accounts()
		if len(accounts) != 1 {
			return types.ZeroAddress, fmt.Errorf("--from is required when %d local keys are loaded", len(accounts))
		}
		from = accounts[0]
	}
	if !App.signer.HasAccount(from) {
		return types.ZeroAddress, fmt.Errorf("the mnemonics aren't available for account %s", from)
	}
	return algo.DecodeAccount(from)
}
