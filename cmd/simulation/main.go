package main

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/database"
	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/margin"
	"github.com/perphouse/clearing-api/internal/matching"
	"github.com/perphouse/clearing-api/internal/registry"
	"github.com/perphouse/clearing-api/internal/settlement"
	"github.com/perphouse/clearing-api/internal/types"
)

const (
	simulationDB = "simulation.db"

	marketIndex = uint64(1)
	oracleIndex = uint64(1)

	// SOL-PERP at 100 quote per base unit, expiring at 101
	oraclePrice     = int64(100 * fixedpoint.PricePrecision)
	settlementPrice = 101 * fixedpoint.PricePrecision
	baseExp         = uint32(9)
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main seeds a fresh database with a market, the quote asset bank, an oracle
// price and two funded accounts, then walks the clearing flows end to end:
// match checks, permissionless loss settlement, the authority gate on profit
// extraction, and closing positions on an expired market.
func main() {
	os.Remove(simulationDB)
	os.Setenv("DATABASE_PATH", simulationDB)

	db, err := database.NewDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	now := time.Now().Unix()
	if err := seed(db, now); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed simulation data")
	}

	registries := registry.New(db)
	matchingService := matching.NewService(registries)
	marginService := margin.NewService(db, registries)
	settlementService := settlement.NewService(db, registries, settlement.FeeStructure{
		FeeNumerator:   1,
		FeeDenominator: 1000,
	})

	runMatchChecks(matchingService, now)
	runMarginChecks(marginService, now)
	runPnlSettlement(settlementService, now)
	runExpiredSettlement(db, settlementService, now)

	log.Info().Msg("Simulation complete")
}

// seed writes the market, bank, oracle and two accounts with open positions.
// Alice is long one base unit bought above the oracle price (unsettled loss),
// Bob is short one base unit sold above it (unsettled profit).
func seed(db *gorm.DB, now int64) error {
	records := []interface{}{
		&types.Bank{
			BankIndex:                 0,
			Symbol:                    "USDC",
			DepositBalance:            2_200 * fixedpoint.QuotePrecision,
			BorrowBalance:             0,
			CumulativeDepositInterest: fixedpoint.InterestPrecision,
			CumulativeBorrowInterest:  fixedpoint.InterestPrecision,
			LastInterestTs:            now,
		},
		&types.Market{
			MarketIndex:            marketIndex,
			Symbol:                 "SOL-PERP",
			Status:                 types.MarketActive,
			BaseAssetPrecisionExp:  baseExp,
			OracleIndex:            oracleIndex,
			MarginRatioInitial:     1_000, // 10%
			MarginRatioMaintenance: 500,   // 5%
			PnlPoolBalance:         200 * fixedpoint.QuotePrecision,
			PnlPoolBalanceType:     types.BalanceDeposit,
		},
		&types.OraclePrice{
			OracleIndex: oracleIndex,
			Price:       oraclePrice,
			Confidence:  fixedpoint.PricePrecision / 1000,
			UpdatedTs:   now,
		},
		&types.Account{
			AccountID:        "ACC_ALICE",
			Authority:        "alice",
			QuoteBalance:     1_000 * fixedpoint.QuotePrecision,
			QuoteBalanceType: types.BalanceDeposit,
		},
		&types.Account{
			AccountID:        "ACC_BOB",
			Authority:        "bob",
			QuoteBalance:     1_000 * fixedpoint.QuotePrecision,
			QuoteBalanceType: types.BalanceDeposit,
		},
		// Long 1 unit paid 100.50: carries a 0.50 unsettled loss at 100
		&types.Position{
			AccountID:        "ACC_ALICE",
			MarketIndex:      marketIndex,
			BaseAssetAmount:  1_000_000_000,
			QuoteAssetAmount: -100_500_000,
			QuoteEntryAmount: -100_500_000,
		},
		// Short 1 unit sold at 100.50: carries a 0.50 unsettled profit at 100
		&types.Position{
			AccountID:        "ACC_BOB",
			MarketIndex:      marketIndex,
			BaseAssetAmount:  -1_000_000_000,
			QuoteAssetAmount: 100_500_000,
			QuoteEntryAmount: 100_500_000,
		},
	}

	for _, record := range records {
		if err := db.Create(record).Error; err != nil {
			return err
		}
	}
	return nil
}

func newOrder(accountID string, side types.OrderSide, price, quantity uint64, postOnly bool, ts int64) types.Order {
	return types.Order{
		OrderID:     "ORD_" + uuid.New().String(),
		AccountID:   accountID,
		MarketIndex: marketIndex,
		Side:        side,
		Price:       price,
		Quantity:    quantity,
		PostOnly:    postOnly,
		Timestamp:   ts,
		Status:      "OPEN",
	}
}

func runMatchChecks(service *matching.Service, now int64) {
	// Resting post-only long at 100, incoming short at 99.50 crosses
	maker := newOrder("ACC_ALICE", types.SideLong, 100*fixedpoint.PricePrecision, 2_000_000_000, true, now-10)
	taker := newOrder("ACC_BOB", types.SideShort, 99*fixedpoint.PricePrecision+fixedpoint.PricePrecision/2, 1_000_000_000, false, now)

	result, err := service.Check(&maker, &taker)
	if err != nil {
		log.Fatal().Err(err).Msg("Match check failed")
	}
	log.Info().
		Bool("crosses", result.Crosses).
		Uint64("fill_quantity", result.FillQuantity).
		Str("fill_quote", decimal.New(int64(result.FillQuoteAmount), -6).String()).
		Uint64("filler_multiplier", result.FillerMultiplier).
		Msg("Crossing pair")

	// Two post-only orders can never match
	taker.PostOnly = true
	if _, err := service.Check(&maker, &taker); err != nil {
		log.Info().Err(err).Msg("Post-only taker rejected as expected")
	}
}

func runMarginChecks(service *margin.Service, now int64) {
	for _, accountID := range []string{"ACC_ALICE", "ACC_BOB"} {
		verdict, err := service.CheckAccount(accountID, margin.TierMaintenance, now)
		if err != nil {
			log.Fatal().Err(err).Str("account_id", accountID).Msg("Margin check failed")
		}
		log.Info().
			Str("account_id", accountID).
			Str("total_collateral", verdict.TotalCollateralDecimal).
			Uint64("margin_requirement", verdict.MarginRequirement).
			Bool("meets_requirement", verdict.MeetsRequirement).
			Msg("Margin verdict")
	}
}

func runPnlSettlement(service *settlement.Service, now int64) {
	// Anyone may settle a loss: the operator realizes Alice's into the pool
	result, err := service.SettlePnl("ACC_ALICE", "operator", marketIndex, now)
	if err != nil {
		log.Fatal().Err(err).Msg("Loss settlement failed")
	}
	log.Info().
		Str("settled_pnl", result.SettledPnlDecimal).
		Str("record_id", result.RecordID).
		Msg("Settled Alice's loss permissionlessly")

	// Profit extraction is restricted to the account's own authority
	if _, err := service.SettlePnl("ACC_BOB", "operator", marketIndex, now); err != nil {
		if errors.Is(err, settlement.ErrUnauthorizedPnlExtraction) {
			log.Info().Err(err).Msg("Operator blocked from extracting Bob's profit")
		} else {
			log.Fatal().Err(err).Msg("Unexpected settlement failure")
		}
	}

	result, err = service.SettlePnl("ACC_BOB", "bob", marketIndex, now)
	if err != nil {
		log.Fatal().Err(err).Msg("Profit settlement failed")
	}
	log.Info().
		Str("settled_pnl", result.SettledPnlDecimal).
		Str("record_id", result.RecordID).
		Msg("Bob settled his own profit")
}

func runExpiredSettlement(db *gorm.DB, service *settlement.Service, now int64) {
	// Expired settlement requires the market to be in settlement first
	if _, err := service.SettleExpiredPosition("ACC_ALICE", "operator", marketIndex, now); err != nil {
		if errors.Is(err, settlement.ErrMarketNotInSettlement) {
			log.Info().Err(err).Msg("Expired settlement blocked on active market")
		} else {
			log.Fatal().Err(err).Msg("Unexpected expired settlement failure")
		}
	}

	err := db.Model(&types.Market{}).
		Where("market_index = ?", marketIndex).
		Updates(map[string]interface{}{
			"status":           types.MarketSettlement,
			"settlement_price": settlementPrice,
		}).Error
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to expire market")
	}

	for _, accountID := range []string{"ACC_ALICE", "ACC_BOB"} {
		result, err := service.SettleExpiredPosition(accountID, "operator", marketIndex, now)
		if err != nil {
			log.Fatal().Err(err).Str("account_id", accountID).Msg("Expired settlement failed")
		}
		log.Info().
			Str("account_id", accountID).
			Str("settled_pnl", result.SettledPnlDecimal).
			Int64("base_after", result.BaseAssetAmount).
			Msg("Closed expired position")
	}
}
