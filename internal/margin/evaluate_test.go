package margin

import (
	"testing"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

const (
	testNow     = int64(1_700_000_000)
	testBaseExp = uint32(9)
)

func freshBank() *types.Bank {
	return &types.Bank{
		BankIndex:                 0,
		CumulativeDepositInterest: fixedpoint.InterestPrecision,
		CumulativeBorrowInterest:  fixedpoint.InterestPrecision,
		LastInterestTs:            testNow,
	}
}

func testMarket() *types.Market {
	return &types.Market{
		MarketIndex:            1,
		Status:                 types.MarketActive,
		BaseAssetPrecisionExp:  testBaseExp,
		OracleIndex:            1,
		MarginRatioInitial:     1_000,
		MarginRatioMaintenance: 500,
	}
}

func testInputs(account *types.Account, positions []*types.Position, oraclePrice int64, oracleTs int64) EvaluationInputs {
	market := testMarket()
	return EvaluationInputs{
		Account:   account,
		Positions: positions,
		Markets:   map[uint64]*types.Market{1: market},
		Oracles: map[uint64]*types.OraclePrice{
			1: {OracleIndex: 1, Price: oraclePrice, UpdatedTs: oracleTs},
		},
		Bank: freshBank(),
		Now:  testNow,
	}
}

func TestBaseAssetValue(t *testing.T) {
	price := 100 * fixedpoint.PricePrecision

	long := &types.Position{BaseAssetAmount: 2_000_000_000}
	value, err := BaseAssetValue(long, price, testBaseExp)
	if err != nil {
		t.Fatal(err)
	}
	if value != 200*fixedpoint.QuotePrecision {
		t.Errorf("long base value = %d, want %d", value, 200*fixedpoint.QuotePrecision)
	}

	// Shorts value at the same magnitude.
	short := &types.Position{BaseAssetAmount: -2_000_000_000}
	value, err = BaseAssetValue(short, price, testBaseExp)
	if err != nil {
		t.Fatal(err)
	}
	if value != 200*fixedpoint.QuotePrecision {
		t.Errorf("short base value = %d, want %d", value, 200*fixedpoint.QuotePrecision)
	}

	flat := &types.Position{}
	value, err = BaseAssetValue(flat, price, testBaseExp)
	if err != nil {
		t.Fatal(err)
	}
	if value != 0 {
		t.Errorf("flat base value = %d, want 0", value)
	}
}

func TestUnsettledPnl(t *testing.T) {
	price := 100 * fixedpoint.PricePrecision

	tests := []struct {
		name     string
		base     int64
		quote    int64
		want     int64
	}{
		{"long in profit", 1_000_000_000, -90_000_000, 10_000_000},
		{"long at a loss", 1_000_000_000, -110_000_000, -10_000_000},
		{"short in profit", -1_000_000_000, 110_000_000, 10_000_000},
		{"short at a loss", -1_000_000_000, 90_000_000, -10_000_000},
		{"flat is residual quote", 0, 42, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position := &types.Position{BaseAssetAmount: tt.base, QuoteAssetAmount: tt.quote}
			got, err := UnsettledPnl(position, price, testBaseExp)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("UnsettledPnl() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEvaluateDepositOnly(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     1_000 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	in := testInputs(account, nil, int64(100*fixedpoint.PricePrecision), testNow)

	calc, err := Evaluate(in, StandardContext(TierMaintenance))
	if err != nil {
		t.Fatal(err)
	}
	if calc.TotalCollateral != int64(1_000*fixedpoint.QuotePrecision) {
		t.Errorf("TotalCollateral = %d", calc.TotalCollateral)
	}
	if calc.MarginRequirement != 0 {
		t.Errorf("MarginRequirement = %d, want 0", calc.MarginRequirement)
	}
	if !calc.MeetsMarginRequirement() {
		t.Error("deposit-only account must be healthy")
	}
	if !calc.AllOraclesValid {
		t.Error("no positions should leave oracles valid")
	}
}

func TestEvaluateBorrowBalance(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     1_000 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceBorrow,
	}
	in := testInputs(account, nil, int64(100*fixedpoint.PricePrecision), testNow)

	calc, err := Evaluate(in, StandardContext(TierMaintenance))
	if err != nil {
		t.Fatal(err)
	}
	if calc.TotalCollateral != -int64(1_000*fixedpoint.QuotePrecision) {
		t.Errorf("TotalCollateral = %d", calc.TotalCollateral)
	}
	// 10% of the borrow.
	if calc.MarginRequirement != 100*fixedpoint.QuotePrecision {
		t.Errorf("MarginRequirement = %d, want %d", calc.MarginRequirement, 100*fixedpoint.QuotePrecision)
	}
	if calc.NumSpotLiabilities != 1 {
		t.Errorf("NumSpotLiabilities = %d, want 1", calc.NumSpotLiabilities)
	}
	if calc.MeetsMarginRequirement() {
		t.Error("pure borrow account must fail the check")
	}
}

func TestEvaluatePerpPosition(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     50 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	// Long 1 unit bought at 90, oracle at 100: 10 of unsettled profit.
	positions := []*types.Position{{
		AccountID:        "ACC_1",
		MarketIndex:      1,
		BaseAssetAmount:  1_000_000_000,
		QuoteAssetAmount: -90_000_000,
	}}
	in := testInputs(account, positions, int64(100*fixedpoint.PricePrecision), testNow)

	t.Run("maintenance tier", func(t *testing.T) {
		calc, err := Evaluate(in, StandardContext(TierMaintenance))
		if err != nil {
			t.Fatal(err)
		}
		// 50 deposit + 10 pnl.
		if calc.TotalCollateral != 60_000_000 {
			t.Errorf("TotalCollateral = %d, want 60_000_000", calc.TotalCollateral)
		}
		// 5% of the 100 base value.
		if calc.MarginRequirement != 5_000_000 {
			t.Errorf("MarginRequirement = %d, want 5_000_000", calc.MarginRequirement)
		}
		if calc.NumPerpLiabilities != 1 {
			t.Errorf("NumPerpLiabilities = %d, want 1", calc.NumPerpLiabilities)
		}
		if !calc.MeetsMarginRequirement() {
			t.Error("account should be healthy at maintenance")
		}
	})

	t.Run("initial tier doubles the requirement", func(t *testing.T) {
		calc, err := Evaluate(in, StandardContext(TierInitial))
		if err != nil {
			t.Fatal(err)
		}
		if calc.MarginRequirement != 10_000_000 {
			t.Errorf("MarginRequirement = %d, want 10_000_000", calc.MarginRequirement)
		}
	})
}

func TestEvaluateStaleOracle(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     50 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	positions := []*types.Position{{
		AccountID:       "ACC_1",
		MarketIndex:     1,
		BaseAssetAmount: 1_000_000_000,
	}}
	in := testInputs(account, positions, int64(100*fixedpoint.PricePrecision), testNow-maxOracleAge-1)

	calc, err := Evaluate(in, StandardContext(TierMaintenance))
	if err != nil {
		t.Fatal(err)
	}
	if calc.AllOraclesValid {
		t.Error("stale oracle must drop the validity flag")
	}
	// The position is still valued at the stale price.
	if calc.MarginRequirement == 0 {
		t.Error("stale oracle should not zero the requirement")
	}
}

func TestEvaluateNonPositiveOracleSkipsPosition(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     50 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	positions := []*types.Position{{
		AccountID:       "ACC_1",
		MarketIndex:     1,
		BaseAssetAmount: 1_000_000_000,
	}}
	in := testInputs(account, positions, 0, testNow)

	calc, err := Evaluate(in, StandardContext(TierMaintenance))
	if err != nil {
		t.Fatal(err)
	}
	if calc.AllOraclesValid {
		t.Error("non-positive oracle must drop the validity flag")
	}
	if calc.MarginRequirement != 0 {
		t.Errorf("skipped position contributed a requirement: %d", calc.MarginRequirement)
	}
	if calc.TotalCollateral != int64(50*fixedpoint.QuotePrecision) {
		t.Errorf("TotalCollateral = %d, want deposit only", calc.TotalCollateral)
	}
}

func TestEvaluateStrictWeights(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     1_000 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	in := testInputs(account, nil, int64(100*fixedpoint.PricePrecision), testNow)

	calc, err := Evaluate(in, StandardContext(TierMaintenance).WithStrict(true))
	if err != nil {
		t.Fatal(err)
	}
	// 95% of the deposit.
	if calc.TotalCollateral != 950*int64(fixedpoint.QuotePrecision) {
		t.Errorf("strict TotalCollateral = %d, want %d", calc.TotalCollateral, 950*int64(fixedpoint.QuotePrecision))
	}
}

func TestMeetsMaintenanceRequirement(t *testing.T) {
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     50 * fixedpoint.QuotePrecision,
		QuoteBalanceType: types.BalanceDeposit,
	}
	positions := []*types.Position{{
		AccountID:        "ACC_1",
		MarketIndex:      1,
		BaseAssetAmount:  1_000_000_000,
		QuoteAssetAmount: -100_000_000,
	}}
	in := testInputs(account, positions, int64(100*fixedpoint.PricePrecision), testNow)

	meets, err := MeetsMaintenanceRequirement(in)
	if err != nil {
		t.Fatal(err)
	}
	if !meets {
		t.Error("account with 50 free quote should pass the maintenance gate")
	}

	// Strip the deposit: collateral 0 against a 5 requirement.
	account.QuoteBalance = 0
	meets, err = MeetsMaintenanceRequirement(in)
	if err != nil {
		t.Fatal(err)
	}
	if meets {
		t.Error("account with no collateral must fail the maintenance gate")
	}
}
