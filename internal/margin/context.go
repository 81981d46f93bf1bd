// Package margin builds per-check margin verdicts: it accumulates an
// account's collateral, requirements and liabilities into a Calculation and
// answers solvency queries against it.
package margin

import "errors"

var (
	// ErrTrackingNotEnabled is returned by ratio queries on a context that
	// never enabled margin ratio tracking.
	ErrTrackingNotEnabled = errors.New("track margin ratio is not enabled")

	// ErrTrackingOutsideLiquidation is returned when ratio tracking is
	// requested on a non-liquidation context.
	ErrTrackingOutsideLiquidation = errors.New("cannot track margin ratio outside of liquidation mode")

	// ErrSpotLiabilityWithoutRequirement is returned when spot liabilities
	// were counted but produced no margin requirement.
	ErrSpotLiabilityWithoutRequirement = errors.New("spot liabilities counted but margin requirement is zero")

	// ErrMarketNotFound and ErrOracleNotFound surface gaps in the snapshot
	// a margin check was asked to run over.
	ErrMarketNotFound = errors.New("market not found in margin snapshot")
	ErrOracleNotFound = errors.New("oracle not found in margin snapshot")
)

// RequirementTier selects the threshold a verdict is evaluated against.
type RequirementTier int

const (
	TierInitial RequirementTier = iota
	TierMaintenance
)

// Mode selects between a standard health check and a liquidation check
// carrying an extra margin buffer.
type Mode int

const (
	ModeStandard Mode = iota
	ModeLiquidation
)

// Context configures one margin check. Construct via StandardContext or
// LiquidationContext; the zero value is a standard initial-tier check.
// Illegal combinations (ratio tracking outside liquidation) are rejected at
// construction time.
type Context struct {
	Tier             RequirementTier
	Mode             Mode
	MarginBuffer     uint64 // MarginPrecision, liquidation mode only
	TrackMarginRatio bool
	Strict           bool
}

// StandardContext returns a plain health-check context at the given tier.
func StandardContext(tier RequirementTier) Context {
	return Context{Tier: tier, Mode: ModeStandard}
}

// LiquidationContext returns a maintenance-tier liquidation context with
// the given margin buffer (MarginPrecision scale). Ratio tracking starts
// disabled.
func LiquidationContext(marginBuffer uint64) Context {
	return Context{
		Tier:         TierMaintenance,
		Mode:         ModeLiquidation,
		MarginBuffer: marginBuffer,
	}
}

// WithStrict toggles conservative valuation of assets and liabilities.
func (c Context) WithStrict(strict bool) Context {
	c.Strict = strict
	return c
}

// WithTrackedMarginRatio enables margin ratio tracking. Tracking is
// liquidation-only; any other mode is rejected.
func (c Context) WithTrackedMarginRatio() (Context, error) {
	if c.Mode != ModeLiquidation {
		return c, ErrTrackingOutsideLiquidation
	}
	c.TrackMarginRatio = true
	return c, nil
}
