// Package funding settles the funding payments owed between a position and
// its market's cumulative funding rate.
package funding

import (
	"github.com/rs/zerolog/log"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

// SettlePayment pays the funding accrued since the position's last
// settlement into the position's quote amount and stamps the position with
// the market's cumulative rate. Positions with no base exposure only get
// restamped.
func SettlePayment(accountID string, position *types.Position, market *types.Market, now int64) error {
	if position.BaseAssetAmount == 0 {
		position.LastCumulativeFundingRate = market.CumulativeFundingRate
		return nil
	}

	rateDelta, err := fixedpoint.SubI64(market.CumulativeFundingRate, position.LastCumulativeFundingRate)
	if err != nil {
		return err
	}
	if rateDelta == 0 {
		return nil
	}

	// A positive rate delta means longs pay shorts.
	payment, err := fixedpoint.MulDivI64(position.BaseAssetAmount, rateDelta, int64(fixedpoint.FundingPrecision))
	if err != nil {
		return err
	}

	quote, err := fixedpoint.SubI64(position.QuoteAssetAmount, payment)
	if err != nil {
		return err
	}
	position.QuoteAssetAmount = quote
	position.LastCumulativeFundingRate = market.CumulativeFundingRate

	log.Debug().
		Str("account_id", accountID).
		Uint64("market_index", market.MarketIndex).
		Int64("funding_payment", payment).
		Int64("ts", now).
		Msg("settled funding payment")

	return nil
}
