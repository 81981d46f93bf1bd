package margin

import (
	"github.com/perphouse/clearing-api/internal/fixedpoint"
)

// Calculation is the accumulator behind one margin check. It is built up
// field by field while the caller iterates an account's holdings, then
// queried for a verdict. It is never persisted and never reset; build a
// fresh one for each independent check.
type Calculation struct {
	Context Context

	TotalCollateral             int64
	MarginRequirement           uint64
	MarginRequirementPlusBuffer uint64
	NumSpotLiabilities          uint8
	NumPerpLiabilities          uint8
	AllOraclesValid             bool

	TotalSpotAssetValue     int64
	TotalSpotLiabilityValue uint64
	TotalPerpLiabilityValue uint64
}

// NewCalculation returns a zeroed accumulator for the given context.
func NewCalculation(ctx Context) *Calculation {
	return &Calculation{
		Context:         ctx,
		AllOraclesValid: true,
	}
}

// AddTotalCollateral adds a signed collateral contribution.
func (c *Calculation) AddTotalCollateral(amount int64) error {
	total, err := fixedpoint.AddI64(c.TotalCollateral, amount)
	if err != nil {
		return err
	}
	c.TotalCollateral = total
	return nil
}

// AddMarginRequirement adds to the running margin requirement. In
// liquidation mode it additionally accumulates requirement plus
// liabilityValue*buffer into the buffered total, the higher bar a
// liquidated account must clear to exit liquidation.
func (c *Calculation) AddMarginRequirement(requirement, liabilityValue uint64) error {
	total, err := fixedpoint.AddU64(c.MarginRequirement, requirement)
	if err != nil {
		return err
	}
	c.MarginRequirement = total

	if c.Context.Mode == ModeLiquidation {
		buffered, err := fixedpoint.MulDivU64(liabilityValue, c.Context.MarginBuffer, fixedpoint.MarginPrecision)
		if err != nil {
			return err
		}
		buffered, err = fixedpoint.AddU64(requirement, buffered)
		if err != nil {
			return err
		}
		totalBuffered, err := fixedpoint.AddU64(c.MarginRequirementPlusBuffer, buffered)
		if err != nil {
			return err
		}
		c.MarginRequirementPlusBuffer = totalBuffered
	}
	return nil
}

// AddSpotAssetValue accumulates a spot asset value for ratio tracking. The
// value function is only invoked when tracking is enabled, so expensive
// valuation work is skipped on the standard path.
func (c *Calculation) AddSpotAssetValue(assetValueFn func() (int64, error)) error {
	if !c.trackMarginRatioEnabled() {
		return nil
	}
	value, err := assetValueFn()
	if err != nil {
		return err
	}
	total, err := fixedpoint.AddI64(c.TotalSpotAssetValue, value)
	if err != nil {
		return err
	}
	c.TotalSpotAssetValue = total
	return nil
}

// AddSpotLiabilityValue accumulates a spot liability value for ratio
// tracking; the value function is not invoked when tracking is disabled.
func (c *Calculation) AddSpotLiabilityValue(liabilityValueFn func() (uint64, error)) error {
	if !c.trackMarginRatioEnabled() {
		return nil
	}
	value, err := liabilityValueFn()
	if err != nil {
		return err
	}
	total, err := fixedpoint.AddU64(c.TotalSpotLiabilityValue, value)
	if err != nil {
		return err
	}
	c.TotalSpotLiabilityValue = total
	return nil
}

// AddPerpLiabilityValue accumulates a perp liability value for ratio
// tracking; the value function is not invoked when tracking is disabled.
func (c *Calculation) AddPerpLiabilityValue(perpValueFn func() (uint64, error)) error {
	if !c.trackMarginRatioEnabled() {
		return nil
	}
	value, err := perpValueFn()
	if err != nil {
		return err
	}
	total, err := fixedpoint.AddU64(c.TotalPerpLiabilityValue, value)
	if err != nil {
		return err
	}
	c.TotalPerpLiabilityValue = total
	return nil
}

// AddSpotLiability counts one spot liability.
func (c *Calculation) AddSpotLiability() error {
	count, err := fixedpoint.AddU8(c.NumSpotLiabilities, 1)
	if err != nil {
		return err
	}
	c.NumSpotLiabilities = count
	return nil
}

// AddPerpLiability counts one perp liability.
func (c *Calculation) AddPerpLiability() error {
	count, err := fixedpoint.AddU8(c.NumPerpLiabilities, 1)
	if err != nil {
		return err
	}
	c.NumPerpLiabilities = count
	return nil
}

// UpdateAllOraclesValid ANDs the flag in: once any oracle was invalid the
// accumulator stays invalid.
func (c *Calculation) UpdateAllOraclesValid(valid bool) {
	c.AllOraclesValid = c.AllOraclesValid && valid
}

// ValidateNumSpotLiabilities checks internal consistency: a counted spot
// liability must always have contributed some requirement.
func (c *Calculation) ValidateNumSpotLiabilities() error {
	if c.NumSpotLiabilities > 0 && c.MarginRequirement == 0 {
		return ErrSpotLiabilityWithoutRequirement
	}
	return nil
}

// NumLiabilities returns the total liability count across asset classes.
func (c *Calculation) NumLiabilities() (uint8, error) {
	return fixedpoint.AddU8(c.NumSpotLiabilities, c.NumPerpLiabilities)
}

// MeetsMarginRequirement reports whether total collateral covers the plain
// margin requirement; equal values satisfy it.
func (c *Calculation) MeetsMarginRequirement() bool {
	requirement, err := fixedpoint.I64FromU64(c.MarginRequirement)
	if err != nil {
		return false
	}
	return c.TotalCollateral >= requirement
}

// CanExitLiquidation reports whether total collateral clears the buffered
// requirement. Outside liquidation mode the buffer is zero and this is
// equivalent to MeetsMarginRequirement.
func (c *Calculation) CanExitLiquidation() bool {
	requirement, err := fixedpoint.I64FromU64(c.MarginRequirementPlusBuffer)
	if err != nil {
		return false
	}
	return c.TotalCollateral >= requirement
}

// MarginShortage returns how much collateral is missing to exit
// liquidation: |buffered requirement - total collateral|.
func (c *Calculation) MarginShortage() (uint64, error) {
	requirement, err := fixedpoint.I64FromU64(c.MarginRequirementPlusBuffer)
	if err != nil {
		return 0, err
	}
	shortage, err := fixedpoint.SubI64(requirement, c.TotalCollateral)
	if err != nil {
		return 0, err
	}
	return fixedpoint.AbsU64(shortage), nil
}

// FreeCollateral returns total collateral above the plain requirement,
// floored at zero.
func (c *Calculation) FreeCollateral() (uint64, error) {
	requirement, err := fixedpoint.I64FromU64(c.MarginRequirement)
	if err != nil {
		return 0, err
	}
	free, err := fixedpoint.SubI64(c.TotalCollateral, requirement)
	if err != nil {
		return 0, err
	}
	if free < 0 {
		free = 0
	}
	return uint64(free), nil
}

func (c *Calculation) trackMarginRatioEnabled() bool {
	return c.Context.Mode == ModeLiquidation && c.Context.TrackMarginRatio
}

// MarginRatio returns the ratio of the spot collateral cushion to total
// liability exposure, scaled by PricePrecision. It requires ratio tracking
// to have been enabled on the context.
func (c *Calculation) MarginRatio() (uint64, error) {
	if !c.trackMarginRatioEnabled() {
		return 0, ErrTrackingNotEnabled
	}

	if c.TotalSpotAssetValue < 0 {
		return 0, nil
	}

	netAssetValue := fixedpoint.AbsU64(c.TotalSpotAssetValue)
	if netAssetValue <= c.TotalSpotLiabilityValue {
		return 0, nil
	}
	netAssetValue -= c.TotalSpotLiabilityValue

	totalLiabilities, err := fixedpoint.AddU64(c.TotalPerpLiabilityValue, c.TotalSpotLiabilityValue)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDivU64(netAssetValue, fixedpoint.PricePrecision, totalLiabilities)
}
