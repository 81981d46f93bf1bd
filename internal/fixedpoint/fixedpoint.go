// Package fixedpoint implements the checked fixed-point arithmetic every
// balance, price and margin computation in the clearing core is built on.
// All quantities are integers at a fixed scale; any operation that would
// wrap, truncate or divide by zero returns an error instead.
package fixedpoint

import (
	"errors"
	"math"
	"math/bits"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// Precision constants. Prices are scaled by PricePrecision, quote asset
// amounts by QuotePrecision, margin ratios and buffers by MarginPrecision.
const (
	PricePrecision   uint64 = 10_000_000_000 // 1e10
	QuotePrecision   uint64 = 1_000_000      // 1e6
	MarginPrecision  uint64 = 10_000         // 1e4
	FundingPrecision uint64 = 100_000_000_000_000 // 1e14

	// InterestPrecision scales the cumulative interest indexes carried by
	// the quote asset bank. An index of exactly InterestPrecision means no
	// interest has accrued yet.
	InterestPrecision uint64 = 10_000_000_000 // 1e10

	// TenBpsPriceDiff is ten basis points at price precision, the baseline
	// deviation used by the filler incentive computation.
	TenBpsPriceDiff int64 = int64(PricePrecision) / 1000
)

// AddI64 returns a+b, failing on signed overflow.
func AddI64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubI64 returns a-b, failing on signed overflow.
func SubI64(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// MulI64 returns a*b, failing on signed overflow.
func MulI64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/b != a {
		return 0, ErrOverflow
	}
	return prod, nil
}

// DivI64 returns a/b, failing on division by zero and on the one signed
// quotient that does not fit (MinInt64 / -1).
func DivI64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// AddU64 returns a+b, failing on unsigned overflow.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubU64 returns a-b, failing when b > a. Unsigned quantities reject
// negative results by construction.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// MulU64 returns a*b, failing on unsigned overflow.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// DivU64 returns a/b, failing on division by zero.
func DivU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// AddU8 returns a+b for small counters, failing past 255.
func AddU8(a, b uint8) (uint8, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulDivU64 returns a*b/d using a full 128-bit intermediate, so the product
// may exceed 64 bits as long as the quotient does not. Fails on division by
// zero and when the quotient does not fit in 64 bits.
func MulDivU64(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, d)
	return quo, nil
}

// MulDivI64 is the signed counterpart of MulDivU64: a*b/d with a 128-bit
// intermediate, truncating toward zero.
func MulDivI64(a, b, d int64) (int64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	neg := false
	ua, ub, ud := absU64(a), absU64(b), absU64(d)
	if (a < 0) != (b < 0) {
		neg = !neg
	}
	if d < 0 {
		neg = !neg
	}
	quo, err := MulDivU64(ua, ub, ud)
	if err != nil {
		return 0, err
	}
	if neg {
		if quo > uint64(math.MaxInt64)+1 {
			return 0, ErrOverflow
		}
		if quo == uint64(math.MaxInt64)+1 {
			return math.MinInt64, nil
		}
		return -int64(quo), nil
	}
	if quo > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return int64(quo), nil
}

// AbsU64 returns |a| as an unsigned value. Callers must have validated the
// sign themselves; this is never a silent truncation since every int64
// magnitude fits in a uint64.
func AbsU64(a int64) uint64 {
	return absU64(a)
}

func absU64(a int64) uint64 {
	if a < 0 {
		return uint64(-(a + 1)) + 1
	}
	return uint64(a)
}

// I64FromU64 converts an unsigned value to signed, failing when it does not fit.
func I64FromU64(a uint64) (int64, error) {
	if a > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return int64(a), nil
}

// U64FromI64 converts a signed value to unsigned, failing when negative.
func U64FromI64(a int64) (uint64, error) {
	if a < 0 {
		return 0, ErrOverflow
	}
	return uint64(a), nil
}

// Pow10U64 returns 10^exp, failing once the result would exceed 64 bits.
func Pow10U64(exp uint32) (uint64, error) {
	if exp > 19 {
		return 0, ErrOverflow
	}
	result := uint64(1)
	for i := uint32(0); i < exp; i++ {
		result *= 10
	}
	return result, nil
}
