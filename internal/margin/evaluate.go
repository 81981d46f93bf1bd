package margin

import (
	"github.com/rs/zerolog/log"

	"github.com/perphouse/clearing-api/internal/bank"
	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

// Valuation weights at MarginPrecision. Spot borrows require 10% margin;
// strict mode haircuts assets down and liabilities up by 5%.
const (
	spotLiabilityMarginRatio uint64 = 1_000
	strictAssetWeight        uint64 = 9_500
	strictLiabilityWeight    uint64 = 10_500

	// maxOracleAge is how stale an oracle price may be before the
	// calculation's validity flag drops.
	maxOracleAge int64 = 60
)

// EvaluationInputs is the snapshot of account and market state one margin
// check runs over. The caller owns fetching it from the registries; nothing
// here is mutated.
type EvaluationInputs struct {
	Account   *types.Account
	Positions []*types.Position
	Markets   map[uint64]*types.Market
	Oracles   map[uint64]*types.OraclePrice
	Bank      *types.Bank
	Now       int64
}

// BaseAssetValue returns the quote-precision value of a position's base
// exposure at the given price.
func BaseAssetValue(position *types.Position, price uint64, baseExp uint32) (uint64, error) {
	if position.BaseAssetAmount == 0 {
		return 0, nil
	}
	precisionDecrease, err := fixedpoint.Pow10U64(10 + baseExp - 6)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDivU64(fixedpoint.AbsU64(position.BaseAssetAmount), price, precisionDecrease)
}

// UnsettledPnl returns the position's unsettled PnL at the given price:
// the running quote amount plus the signed value of the base exposure.
func UnsettledPnl(position *types.Position, price uint64, baseExp uint32) (int64, error) {
	if position.BaseAssetAmount == 0 {
		return position.QuoteAssetAmount, nil
	}
	baseValue, err := BaseAssetValue(position, price, baseExp)
	if err != nil {
		return 0, err
	}
	baseValueSigned, err := fixedpoint.I64FromU64(baseValue)
	if err != nil {
		return 0, err
	}
	if position.BaseAssetAmount > 0 {
		return fixedpoint.AddI64(position.QuoteAssetAmount, baseValueSigned)
	}
	return fixedpoint.SubI64(position.QuoteAssetAmount, baseValueSigned)
}

// Evaluate runs one margin check over the snapshot and returns the filled
// accumulator. Collateral comes from the account's quote deposits and each
// position's unsettled PnL; requirements come from spot borrows and perp
// exposure at the tier's margin ratio.
func Evaluate(in EvaluationInputs, ctx Context) (*Calculation, error) {
	calc := NewCalculation(ctx)

	if err := evaluateQuoteBalance(calc, in); err != nil {
		return nil, err
	}

	for _, position := range in.Positions {
		if !position.IsOpen() {
			continue
		}
		if err := evaluatePosition(calc, position, in); err != nil {
			return nil, err
		}
	}

	if err := calc.ValidateNumSpotLiabilities(); err != nil {
		return nil, err
	}
	return calc, nil
}

func evaluateQuoteBalance(calc *Calculation, in EvaluationInputs) error {
	if in.Account.QuoteBalance == 0 {
		return nil
	}
	tokens, err := bank.TokenAmount(in.Account.QuoteBalance, in.Bank, in.Account.QuoteBalanceType)
	if err != nil {
		return err
	}

	switch in.Account.QuoteBalanceType {
	case types.BalanceDeposit:
		value := tokens
		if calc.Context.Strict {
			value, err = fixedpoint.MulDivU64(tokens, strictAssetWeight, fixedpoint.MarginPrecision)
			if err != nil {
				return err
			}
		}
		signed, err := fixedpoint.I64FromU64(value)
		if err != nil {
			return err
		}
		if err := calc.AddTotalCollateral(signed); err != nil {
			return err
		}
		return calc.AddSpotAssetValue(func() (int64, error) {
			return signed, nil
		})
	case types.BalanceBorrow:
		value := tokens
		if calc.Context.Strict {
			value, err = fixedpoint.MulDivU64(tokens, strictLiabilityWeight, fixedpoint.MarginPrecision)
			if err != nil {
				return err
			}
		}
		signed, err := fixedpoint.I64FromU64(value)
		if err != nil {
			return err
		}
		if err := calc.AddTotalCollateral(-signed); err != nil {
			return err
		}
		requirement, err := fixedpoint.MulDivU64(value, spotLiabilityMarginRatio, fixedpoint.MarginPrecision)
		if err != nil {
			return err
		}
		if err := calc.AddMarginRequirement(requirement, value); err != nil {
			return err
		}
		if err := calc.AddSpotLiability(); err != nil {
			return err
		}
		liabilityValue := value
		return calc.AddSpotLiabilityValue(func() (uint64, error) {
			return liabilityValue, nil
		})
	default:
		return bank.ErrInvalidBalanceDirection
	}
}

func evaluatePosition(calc *Calculation, position *types.Position, in EvaluationInputs) error {
	market, ok := in.Markets[position.MarketIndex]
	if !ok {
		return ErrMarketNotFound
	}
	oracle, ok := in.Oracles[market.OracleIndex]
	if !ok {
		return ErrOracleNotFound
	}

	valid := oracle.Price > 0 && in.Now-oracle.UpdatedTs <= maxOracleAge
	calc.UpdateAllOraclesValid(valid)
	if oracle.Price <= 0 {
		log.Warn().
			Uint64("market_index", market.MarketIndex).
			Int64("oracle_price", oracle.Price).
			Msg("skipping position with non-positive oracle price")
		return nil
	}
	price := uint64(oracle.Price)

	pnl, err := UnsettledPnl(position, price, market.BaseAssetPrecisionExp)
	if err != nil {
		return err
	}
	if err := calc.AddTotalCollateral(pnl); err != nil {
		return err
	}

	if position.BaseAssetAmount == 0 {
		return nil
	}

	baseValue, err := BaseAssetValue(position, price, market.BaseAssetPrecisionExp)
	if err != nil {
		return err
	}
	marginRatio := market.MarginRatioMaintenance
	if calc.Context.Tier == TierInitial {
		marginRatio = market.MarginRatioInitial
	}
	requirement, err := fixedpoint.MulDivU64(baseValue, marginRatio, fixedpoint.MarginPrecision)
	if err != nil {
		return err
	}
	if err := calc.AddMarginRequirement(requirement, baseValue); err != nil {
		return err
	}
	if err := calc.AddPerpLiability(); err != nil {
		return err
	}
	return calc.AddPerpLiabilityValue(func() (uint64, error) {
		return baseValue, nil
	})
}

// MeetsMaintenanceRequirement is a standard maintenance-tier check over
// the snapshot, reduced to a verdict.
func MeetsMaintenanceRequirement(in EvaluationInputs) (bool, error) {
	calc, err := Evaluate(in, StandardContext(TierMaintenance))
	if err != nil {
		return false, err
	}
	return calc.MeetsMarginRequirement(), nil
}
