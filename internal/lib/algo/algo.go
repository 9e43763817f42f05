package algo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

// MaxDecimals is the largest asset precision we'll format or scale by - 10^36 still leaves plenty of
// headroom in 256 bits for amount * scale products.
const MaxDecimals = 36

var ErrZeroAddress = errors.New("zero address not allowed")

// FormattedAmount renders a base-unit amount using the given number of decimals, trimming trailing zeros
// (and the decimal point if nothing is left after it).
func FormattedAmount(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	digits := amount.Dec()
	if decimals == 0 {
		return digits
	}
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-int(decimals)], digits[len(digits)-int(decimals):]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParseAmount converts a decimal string (ie: "12.5") into base units for an asset with the given decimals.
func ParseAmount(value string, decimals uint8) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(value, ".")
	if hasFrac && len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %s: %w", value, err)
	}
	return amount, nil
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// DecodeAccount decodes (and checksum-validates) an address, rejecting the zero address.
func DecodeAccount(address string) (types.Address, error) {
	addr, err := types.DecodeAddress(strings.TrimSpace(address))
	if err != nil {
		return types.ZeroAddress, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if addr == types.ZeroAddress {
		return types.ZeroAddress, ErrZeroAddress
	}
	return addr, nil
}

// CustodyAddress is the account holding all assets deposited into the ledger with the given app id.
func CustodyAddress(appID uint64) types.Address {
	return crypto.GetApplicationAddress(appID)
}
