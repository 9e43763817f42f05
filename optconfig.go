package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
	"github.com/manifoldco/promptui"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

// promptPoolParams walks through defining a new pool interactively.
func promptPoolParams(creator types.Address) (ledger.PoolParams, error) {
	var (
		params = ledger.PoolParams{SchemaVersion: ledger.CurrentSchema}
		err    error
	)
	if params.StakingAsset, err = getAccount("Enter the asset (or NFT collection) accepted for staking", ""); err != nil {
		return params, err
	}
	if params.IsNFTPool, err = yesNo("Is this an NFT pool"); err != nil {
		return params, err
	}
	if params.RewardAsset, err = getAccount("Enter the reward asset", params.StakingAsset.String()); err != nil {
		return params, err
	}
	if !params.IsNFTPool {
		if params.StakingDecimals, err = getDecimals("Enter the staking asset decimals", 6); err != nil {
			return params, err
		}
	}
	if params.RewardDecimals, err = getDecimals("Enter the reward asset decimals", 6); err != nil {
		return params, err
	}
	if params.IsSharedPool, err = yesNo("Share a fixed reward pool between stakers (otherwise a bonus rate is paid)"); err != nil {
		return params, err
	}
	if !params.IsSharedPool {
		if params.BonusPercentage, err = getFraction("Enter the bonus paid over the full pool period (ie: 12/100)", "10/100"); err != nil {
			return params, err
		}
	}

	start, err := getDate("Enter the start date (RFC3339)", time.Now().UTC().Truncate(time.Hour))
	if err != nil {
		return params, err
	}
	end, err := getDate("Enter the end date (RFC3339)", start.AddDate(0, 1, 0))
	if err != nil {
		return params, err
	}
	params.StartDate, params.EndDate = start.Unix(), end.Unix()

	capDecimals := params.StakingDecimals
	if params.MaxStakePerWallet, err = getAmount("Enter the maximum stake per wallet (0 = unlimited)", "0", capDecimals); err != nil {
		return params, err
	}
	if params.MaxTotalStake, err = getAmount("Enter the maximum total stake of the pool (0 = unlimited)", "0", capDecimals); err != nil {
		return params, err
	}
	if !params.IsNFTPool {
		if params.StakingFee, err = getFraction("Enter the staking fee", "0/1"); err != nil {
			return params, err
		}
		if params.UnstakingFee, err = getFraction("Enter the unstaking fee", "0/1"); err != nil {
			return params, err
		}
	}
	if params.PenaltyPercentage, err = getFraction("Enter the early unstake penalty", "0/1"); err != nil {
		return params, err
	}
	fmt.Printf("Pool will be created by %s\n", creator)
	return params, nil
}

func getAccount(prompt string, defVal string) (types.Address, error) {
	result, err := (&promptui.Prompt{
		Label:   prompt,
		Default: defVal,
		Validate: func(s string) error {
			_, err := algo.DecodeAccount(s)
			return err
		},
	}).Run()
	if err != nil {
		return types.ZeroAddress, err
	}
	return algo.DecodeAccount(result)
}

func getDecimals(prompt string, defVal int) (uint8, error) {
	value, err := getInt(prompt, defVal, 0, algo.MaxDecimals)
	return uint8(value), err
}

func getInt(prompt string, defVal int, minVal int, maxVal int) (int, error) {
	validate := func(input string) error {
		value, err := strconv.Atoi(input)
		if err != nil {
			return err
		}
		if value < minVal || value > maxVal {
			return fmt.Errorf("value must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
	result, err := (&promptui.Prompt{
		Label:    prompt,
		Default:  strconv.Itoa(defVal),
		Validate: validate,
	}).Run()
	if err != nil {
		return 0, err
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

func getAmount(prompt string, defVal string, decimals uint8) (*uint256.Int, error) {
	result, err := (&promptui.Prompt{
		Label:   prompt,
		Default: defVal,
		Validate: func(s string) error {
			_, err := algo.ParseAmount(s, decimals)
			return err
		},
	}).Run()
	if err != nil {
		return nil, err
	}
	return algo.ParseAmount(result, decimals)
}

func getFraction(prompt string, defVal string) (ledger.Fraction, error) {
	result, err := (&promptui.Prompt{
		Label:   prompt,
		Default: defVal,
		Validate: func(s string) error {
			_, err := parseFraction(s)
			return err
		},
	}).Run()
	if err != nil {
		return ledger.Fraction{}, err
	}
	return parseFraction(result)
}

func getDate(prompt string, defVal time.Time) (time.Time, error) {
	result, err := (&promptui.Prompt{
		Label:   prompt,
		Default: defVal.Format(time.RFC3339),
		Validate: func(s string) error {
			_, err := time.Parse(time.RFC3339, s)
			return err
		},
	}).Run()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, result)
}

func yesNo(prompt string) (bool, error) {
	_, err := (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	return err == nil, err
}

// parseFraction accepts "n/d" or a plain percentage ("2.5%" or "2.5").
func parseFraction(value string) (ledger.Fraction, error) {
	value = strings.TrimSpace(value)
	if num, den, found := strings.Cut(value, "/"); found {
		n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return ledger.Fraction{}, fmt.Errorf("invalid numerator in %q: %w", value, err)
		}
		d, err := strconv.ParseUint(strings.TrimSpace(den), 10, 64)
		if err != nil || d == 0 {
			return ledger.Fraction{}, fmt.Errorf("invalid denominator in %q", value)
		}
		return ledger.Fraction{Numerator: n, Denominator: d}, nil
	}
	// percentages with up to 4 decimals, scaled onto a denominator of 1,000,000
	pct, err := algo.ParseAmount(strings.TrimSuffix(value, "%"), 4)
	if err != nil {
		return ledger.Fraction{}, fmt.Errorf("invalid fraction %q: %w", value, err)
	}
	if !pct.IsUint64() {
		return ledger.Fraction{}, fmt.Errorf("fraction %q is too large", value)
	}
	return ledger.Fraction{Numerator: pct.Uint64(), Denominator: 1_000_000}, nil
}
