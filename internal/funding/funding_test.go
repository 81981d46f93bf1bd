package funding

import (
	"testing"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

const testNow = int64(1_700_000_000)

func TestSettlePaymentLongPays(t *testing.T) {
	// Rate moved up by 0.5 quote per base unit: longs pay.
	market := &types.Market{
		MarketIndex:           1,
		CumulativeFundingRate: int64(fixedpoint.FundingPrecision) / 2,
	}
	position := &types.Position{
		AccountID:                 "ACC_1",
		MarketIndex:               1,
		BaseAssetAmount:           2_000_000_000,
		QuoteAssetAmount:          100_000_000,
		LastCumulativeFundingRate: 0,
	}

	if err := SettlePayment("ACC_1", position, market, testNow); err != nil {
		t.Fatal(err)
	}

	// payment = base * rateDelta / FundingPrecision = 1_000_000_000
	if position.QuoteAssetAmount != 100_000_000-1_000_000_000 {
		t.Errorf("QuoteAssetAmount = %d, want %d", position.QuoteAssetAmount, 100_000_000-1_000_000_000)
	}
	if position.LastCumulativeFundingRate != market.CumulativeFundingRate {
		t.Error("position must be stamped with the market rate")
	}
}

func TestSettlePaymentShortReceives(t *testing.T) {
	market := &types.Market{
		MarketIndex:           1,
		CumulativeFundingRate: int64(fixedpoint.FundingPrecision) / 2,
	}
	position := &types.Position{
		AccountID:                 "ACC_1",
		MarketIndex:               1,
		BaseAssetAmount:           -2_000_000_000,
		QuoteAssetAmount:          100_000_000,
		LastCumulativeFundingRate: 0,
	}

	if err := SettlePayment("ACC_1", position, market, testNow); err != nil {
		t.Fatal(err)
	}
	if position.QuoteAssetAmount != 100_000_000+1_000_000_000 {
		t.Errorf("QuoteAssetAmount = %d, want %d", position.QuoteAssetAmount, 100_000_000+1_000_000_000)
	}
}

func TestSettlePaymentNoExposureRestamps(t *testing.T) {
	market := &types.Market{
		MarketIndex:           1,
		CumulativeFundingRate: 42,
	}
	position := &types.Position{
		AccountID:                 "ACC_1",
		MarketIndex:               1,
		BaseAssetAmount:           0,
		QuoteAssetAmount:          7,
		LastCumulativeFundingRate: 0,
	}

	if err := SettlePayment("ACC_1", position, market, testNow); err != nil {
		t.Fatal(err)
	}
	if position.QuoteAssetAmount != 7 {
		t.Error("flat position must not pay funding")
	}
	if position.LastCumulativeFundingRate != 42 {
		t.Error("flat position must still be restamped")
	}
}

func TestSettlePaymentUpToDate(t *testing.T) {
	market := &types.Market{
		MarketIndex:           1,
		CumulativeFundingRate: 42,
	}
	position := &types.Position{
		AccountID:                 "ACC_1",
		MarketIndex:               1,
		BaseAssetAmount:           1_000_000_000,
		QuoteAssetAmount:          100,
		LastCumulativeFundingRate: 42,
	}

	if err := SettlePayment("ACC_1", position, market, testNow); err != nil {
		t.Fatal(err)
	}
	if position.QuoteAssetAmount != 100 {
		t.Error("zero rate delta must be a no-op")
	}
}
