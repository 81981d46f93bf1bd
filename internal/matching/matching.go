// Package matching decides whether two resting orders can trade, at what
// price and quantity, and what incentive the filler earns for crossing them.
package matching

import (
	"errors"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

var (
	// ErrTwoPostOnlyOrders is returned when the taker order is post-only:
	// a post-only order must never immediately match.
	ErrTwoPostOnlyOrders = errors.New("cannot match two post-only orders")

	// ErrInvalidOraclePrice is returned when the oracle price for a filler
	// multiplier is not strictly positive.
	ErrInvalidOraclePrice = errors.New("oracle price must be positive")

	// ErrNegativeMultiplier is returned when the filler multiplier would be
	// negative, which indicates malformed price data rather than a payable
	// incentive.
	ErrNegativeMultiplier = errors.New("filler multiplier would be negative")
)

// IsMakerForTaker reports whether maker may act as the maker against taker.
// A post-only taker can never match. A post-only maker against a regular
// taker is always the maker. Otherwise time priority decides: the maker
// must strictly predate the taker.
func IsMakerForTaker(maker, taker *types.Order) (bool, error) {
	if taker.PostOnly {
		return false, ErrTwoPostOnlyOrders
	}
	if maker.PostOnly {
		return true, nil
	}
	return maker.Timestamp < taker.Timestamp, nil
}

// SameMarketOppositeSides reports whether the two orders are even eligible
// to be examined for crossing.
func SameMarketOppositeSides(maker, taker *types.Order) bool {
	return maker.MarketIndex == taker.MarketIndex && maker.Side != taker.Side
}

// DoOrdersCross reports whether the taker's price satisfies the maker.
// A long maker wants to sell at or above its price; a short maker wants to
// buy at or below.
func DoOrdersCross(makerSide types.OrderSide, makerPrice, takerPrice uint64) bool {
	if makerSide == types.SideLong {
		return takerPrice <= makerPrice
	}
	return takerPrice >= makerPrice
}

// CalculateFillForMatchedOrders computes the fill quantity and its quote
// asset value for two crossed orders. The fill is the smaller of the two
// quantities; the quote value is taken at the maker's price and rescaled
// from base precision down to quote precision.
func CalculateFillForMatchedOrders(makerQty, makerPrice, takerQty uint64, baseExp uint32) (uint64, uint64, error) {
	fillQty := makerQty
	if takerQty < fillQty {
		fillQty = takerQty
	}

	// base(10^baseExp) * price(1e10) must land at quote(1e6).
	precisionDecrease, err := fixedpoint.Pow10U64(10 + baseExp - 6)
	if err != nil {
		return 0, 0, err
	}

	quoteAmount, err := fixedpoint.MulDivU64(fillQty, makerPrice, precisionDecrease)
	if err != nil {
		return 0, 0, err
	}

	return fillQty, quoteAmount, nil
}

// CalculateFillerMultiplier computes the incentive multiplier paid to the
// filler who crossed the orders, scaled by PricePrecision. The reward grows
// as the maker's execution price is worse for the maker relative to the
// oracle, measured against a ten basis point baseline, and is clamped at
// that baseline so diverging prices cannot produce runaway payouts.
func CalculateFillerMultiplier(makerPrice uint64, makerSide types.OrderSide, oraclePrice int64) (uint64, error) {
	if oraclePrice <= 0 {
		return 0, ErrInvalidOraclePrice
	}

	makerPriceSigned, err := fixedpoint.I64FromU64(makerPrice)
	if err != nil {
		return 0, err
	}

	// Percentage the oracle price is above the maker price, at price precision.
	diff, err := fixedpoint.SubI64(oraclePrice, makerPriceSigned)
	if err != nil {
		return 0, err
	}
	pricePctDiff, err := fixedpoint.MulDivI64(diff, int64(fixedpoint.PricePrecision), oraclePrice)
	if err != nil {
		return 0, err
	}

	var multiplier int64
	if makerSide == types.SideLong {
		multiplier, err = fixedpoint.AddI64(-pricePctDiff, fixedpoint.TenBpsPriceDiff)
	} else {
		multiplier, err = fixedpoint.SubI64(pricePctDiff, fixedpoint.TenBpsPriceDiff)
	}
	if err != nil {
		return 0, err
	}
	if multiplier > fixedpoint.TenBpsPriceDiff {
		multiplier = fixedpoint.TenBpsPriceDiff
	}

	if multiplier < 0 {
		return 0, ErrNegativeMultiplier
	}
	return uint64(multiplier), nil
}
