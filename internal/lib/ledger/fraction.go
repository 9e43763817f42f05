package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Fraction is an exact rate expressed as Numerator/Denominator. Used for fees, bonus and penalty so
// no rounding happens until the rate is applied to an amount.
type Fraction struct {
	Numerator   uint64 `json:"numerator" yaml:"numerator"`
	Denominator uint64 `json:"denominator" yaml:"denominator"`
}

// Percent is the fraction pct/100 - the flat percentages of the oldest pool schema.
func Percent(pct uint64) Fraction {
	return Fraction{Numerator: pct, Denominator: 100}
}

// IsUnset reports the zero value, which pool params use for "take the ledger default".
func (f Fraction) IsUnset() bool {
	return f.Numerator == 0 && f.Denominator == 0
}

func (f Fraction) Valid() bool {
	return f.Denominator != 0
}

func (f Fraction) IsZero() bool {
	return f.Numerator == 0
}

// AtMostOne reports f <= 1.
func (f Fraction) AtMostOne() bool {
	return f.Valid() && f.Numerator <= f.Denominator
}

// Cmp compares two valid fractions, returning -1, 0 or 1.
func (f Fraction) Cmp(other Fraction) int {
	lhs := new(uint256.Int).Mul(uint256.NewInt(f.Numerator), uint256.NewInt(other.Denominator))
	rhs := new(uint256.Int).Mul(uint256.NewInt(other.Numerator), uint256.NewInt(f.Denominator))
	return lhs.Cmp(rhs)
}

// Of returns floor(amount * f). A fraction above 1 applied to a huge amount can overflow.
func (f Fraction) Of(amount *uint256.Int) (*uint256.Int, error) {
	if !f.Valid() {
		return nil, fail(CodeInvalidParameters, "fraction %s has zero denominator", f)
	}
	if amount == nil || f.IsZero() {
		return new(uint256.Int), nil
	}
	result, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(f.Numerator), uint256.NewInt(f.Denominator))
	if overflow {
		return nil, fail(CodeInvalidParameters, "%s of %s overflows", f, amount.Dec())
	}
	return result, nil
}

func (f Fraction) Float64() float64 {
	if !f.Valid() {
		return 0
	}
	return float64(f.Numerator) / float64(f.Denominator)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}
