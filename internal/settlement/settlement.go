// Package settlement moves unrealized PnL between accounts and each
// market's shared PnL pool, for live positions at the oracle price and for
// expired positions at the market's settlement price.
package settlement

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/bank"
	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/funding"
	"github.com/perphouse/clearing-api/internal/margin"
	"github.com/perphouse/clearing-api/internal/registry"
	"github.com/perphouse/clearing-api/internal/types"
	"github.com/perphouse/clearing-api/pkg/response"
)

var (
	// ErrInsufficientCollateral gates settlement: an account below
	// maintenance health must go through liquidation instead.
	ErrInsufficientCollateral = errors.New("insufficient collateral to settle PnL")

	// ErrStaleOracle gates settlement when any oracle in the margin
	// snapshot is stale or non-positive: a transfer priced off bad data
	// must wait for a fresh price.
	ErrStaleOracle = errors.New("oracle price is stale or invalid")

	// ErrUnauthorizedPnlExtraction rejects a third party pulling someone
	// else's positive PnL. Negative PnL settlement is permissionless.
	ErrUnauthorizedPnlExtraction = errors.New("user must settle their own positive unsettled PnL")

	// ErrMarketNotInSettlement rejects expired-position settlement on a
	// market that is not terminal.
	ErrMarketNotInSettlement = errors.New("market isn't in settlement")

	// ErrPositionNotFound is returned when the account holds no position
	// in the requested market.
	ErrPositionNotFound = errors.New("position not found for market")

	// ErrInvalidSettlementPrice is returned when the price the PnL would
	// be read at is not strictly positive.
	ErrInvalidSettlementPrice = errors.New("settlement price must be positive")
)

// Service orchestrates PnL settlement: interest accrual, funding
// settlement, the margin health gate and the pool transfer.
type Service struct {
	db         *Database
	registries *registry.Registries
	fees       FeeStructure
}

func NewService(gormDB *gorm.DB, registries *registry.Registries, fees FeeStructure) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		registries: registries,
		fees:       fees,
	}
}

// SettlePnl settles an account's unsettled PnL for one market at the live
// oracle price. The authority is the identity making the call; it may
// settle anyone's negative PnL but only its own positive PnL. A pool with
// insufficient liquidity settles partially or not at all without error.
func (s *Service) SettlePnl(accountID, authority string, marketIndex uint64, now int64) (*SettleResponse, error) {
	logger := log.With().
		Str("account_id", accountID).
		Uint64("market_index", marketIndex).
		Str("service", "settlement").
		Logger()

	logger.Info().Msg("starting pnl settlement")

	bankHandle, err := s.registries.GetQuoteBankMut()
	if err != nil {
		logger.Error().Err(err).Msg("failed to borrow quote asset bank")
		return nil, err
	}
	defer bankHandle.Release()

	if err := bank.AccrueInterest(bankHandle.Bank, now); err != nil {
		logger.Error().Err(err).Msg("interest accrual failed")
		return nil, err
	}

	marketHandle, err := s.registries.GetMarketMut(marketIndex)
	if err != nil {
		logger.Error().Err(err).Msg("failed to borrow market")
		return nil, err
	}
	defer marketHandle.Release()
	market := marketHandle.Market

	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.db.GetPositions(accountID)
	if err != nil {
		return nil, err
	}
	positionIndex, err := positionIndexFor(positions, marketIndex)
	if err != nil {
		return nil, err
	}
	position := positions[positionIndex]

	if err := funding.SettlePayment(accountID, position, market, now); err != nil {
		logger.Error().Err(err).Msg("funding settlement failed")
		return nil, err
	}

	if err := s.requireMaintenanceHealth(account, positions, market, bankHandle.Bank, now); err != nil {
		logger.Warn().Err(err).Msg("margin gate rejected settlement")
		return nil, err
	}

	oracle, err := s.registries.GetOraclePrice(market.OracleIndex)
	if err != nil {
		return nil, err
	}
	if oracle.Price <= 0 {
		return nil, ErrInvalidSettlementPrice
	}

	unsettledPnl, err := margin.UnsettledPnl(position, uint64(oracle.Price), market.BaseAssetPrecisionExp)
	if err != nil {
		return nil, err
	}

	pnlToSettle, err := updatePoolBalances(market, bankHandle.Bank, unsettledPnl)
	if err != nil {
		return nil, err
	}

	if unsettledPnl == 0 {
		logger.Info().Msg("account has no unsettled pnl for market")
		return s.zeroResponse(accountID, marketIndex, position, oracle.Price, unsettledPnl), nil
	}
	if pnlToSettle == 0 {
		logger.Info().Int64("unsettled_pnl", unsettledPnl).Msg("pnl pool cannot currently settle with account")
		return s.zeroResponse(accountID, marketIndex, position, oracle.Price, unsettledPnl), nil
	}

	if pnlToSettle > 0 && account.Authority != authority {
		logger.Warn().
			Str("authority", authority).
			Int64("pnl_to_settle", pnlToSettle).
			Msg("third party attempted positive pnl extraction")
		return nil, ErrUnauthorizedPnlExtraction
	}

	if err := s.applyTransfer(account, position, pnlToSettle, bankHandle.Bank); err != nil {
		return nil, err
	}

	record := &SettleRecord{
		RecordID:              "SET_" + uuid.New().String(),
		AccountID:             accountID,
		MarketIndex:           marketIndex,
		Ts:                    now,
		Pnl:                   pnlToSettle,
		BaseAssetAmount:       position.BaseAssetAmount,
		QuoteAssetAmountAfter: position.QuoteAssetAmount,
		QuoteEntryAmount:      position.QuoteEntryAmount,
		Price:                 oracle.Price,
	}

	if err := s.db.CommitSettlement(account, position, market, bankHandle.Bank, record); err != nil {
		logger.Error().Err(err).Msg("failed to commit settlement")
		return nil, err
	}

	logger.Info().
		Str("record_id", record.RecordID).
		Int64("unsettled_pnl", unsettledPnl).
		Int64("settled_pnl", pnlToSettle).
		Int64("oracle_price", oracle.Price).
		Msg("pnl settlement completed")

	return &SettleResponse{
		RecordID:          record.RecordID,
		AccountID:         accountID,
		MarketIndex:       marketIndex,
		UnsettledPnl:      unsettledPnl,
		SettledPnl:        pnlToSettle,
		SettledPnlDecimal: quoteDecimal(pnlToSettle),
		BaseAssetAmount:   position.BaseAssetAmount,
		QuoteAssetAmount:  position.QuoteAssetAmount,
		Price:             oracle.Price,
		Timestamp:         time.Now(),
	}, nil
}

// SettleExpiredPosition closes an account's position in a market that has
// reached terminal settlement status, at the market's fixed settlement
// price, charging the settlement fee. Permissionless: the price is fixed,
// so no adversarial extraction is possible and any caller may trigger it.
func (s *Service) SettleExpiredPosition(accountID, authority string, marketIndex uint64, now int64) (*SettleResponse, error) {
	logger := log.With().
		Str("account_id", accountID).
		Uint64("market_index", marketIndex).
		Str("service", "settlement").
		Logger()

	logger.Info().Msg("starting expired position settlement")

	bankHandle, err := s.registries.GetQuoteBankMut()
	if err != nil {
		logger.Error().Err(err).Msg("failed to borrow quote asset bank")
		return nil, err
	}
	defer bankHandle.Release()

	if err := bank.AccrueInterest(bankHandle.Bank, now); err != nil {
		logger.Error().Err(err).Msg("interest accrual failed")
		return nil, err
	}

	marketHandle, err := s.registries.GetMarketMut(marketIndex)
	if err != nil {
		logger.Error().Err(err).Msg("failed to borrow market")
		return nil, err
	}
	defer marketHandle.Release()
	market := marketHandle.Market

	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.db.GetPositions(accountID)
	if err != nil {
		return nil, err
	}
	positionIndex, err := positionIndexFor(positions, marketIndex)
	if err != nil {
		return nil, err
	}
	position := positions[positionIndex]

	if err := funding.SettlePayment(accountID, position, market, now); err != nil {
		logger.Error().Err(err).Msg("funding settlement failed")
		return nil, err
	}

	if err := s.requireMaintenanceHealth(account, positions, market, bankHandle.Bank, now); err != nil {
		logger.Warn().Err(err).Msg("margin gate rejected settlement")
		return nil, err
	}

	if market.Status != types.MarketSettlement {
		logger.Warn().Str("status", string(market.Status)).Msg("market is not terminal")
		return nil, ErrMarketNotInSettlement
	}
	if market.SettlementPrice == 0 {
		return nil, ErrInvalidSettlementPrice
	}

	unsettledPnl, err := margin.UnsettledPnl(position, market.SettlementPrice, market.BaseAssetPrecisionExp)
	if err != nil {
		return nil, err
	}
	baseValue, err := margin.BaseAssetValue(position, market.SettlementPrice, market.BaseAssetPrecisionExp)
	if err != nil {
		return nil, err
	}

	fee, err := fixedpoint.MulDivU64(baseValue, s.fees.FeeNumerator, s.fees.FeeDenominator)
	if err != nil {
		return nil, err
	}
	feeSigned, err := fixedpoint.I64FromU64(fee)
	if err != nil {
		return nil, err
	}
	pnlMinusFee, err := fixedpoint.SubI64(unsettledPnl, feeSigned)
	if err != nil {
		return nil, err
	}

	pnlToSettle, err := updatePnlPoolBalance(market, bankHandle.Bank, pnlMinusFee)
	if err != nil {
		return nil, err
	}

	settlementPrice, err := fixedpoint.I64FromU64(market.SettlementPrice)
	if err != nil {
		return nil, err
	}

	if unsettledPnl == 0 {
		logger.Info().Msg("account has no unsettled pnl for market")
		return s.zeroResponse(accountID, marketIndex, position, settlementPrice, unsettledPnl), nil
	}
	if pnlToSettle == 0 {
		logger.Info().Int64("unsettled_pnl", unsettledPnl).Msg("pnl pool cannot currently settle with account")
		return s.zeroResponse(accountID, marketIndex, position, settlementPrice, unsettledPnl), nil
	}

	direction := types.BalanceBorrow
	if pnlToSettle > 0 {
		direction = types.BalanceDeposit
	}
	if err := bank.UpdateAccountBalance(fixedpoint.AbsU64(pnlToSettle), direction, bankHandle.Bank, account); err != nil {
		return nil, err
	}

	record := &SettleRecord{
		RecordID:              "SET_" + uuid.New().String(),
		AccountID:             accountID,
		MarketIndex:           marketIndex,
		Ts:                    now,
		Pnl:                   pnlToSettle,
		BaseAssetAmount:       position.BaseAssetAmount,
		QuoteAssetAmountAfter: 0,
		QuoteEntryAmount:      position.QuoteEntryAmount,
		Price:                 settlementPrice,
		Expired:               true,
	}

	// Full close: the position is zeroed even when the pool only partially
	// funded the fee-adjusted PnL. A terminal market leaves no residual
	// claim to retry against, unlike the live path where the remainder
	// stays on the position.
	position.BaseAssetAmount = 0
	position.QuoteAssetAmount = 0
	position.QuoteEntryAmount = 0

	if err := s.db.CommitSettlement(account, position, market, bankHandle.Bank, record); err != nil {
		logger.Error().Err(err).Msg("failed to commit settlement")
		return nil, err
	}

	logger.Info().
		Str("record_id", record.RecordID).
		Int64("unsettled_pnl", unsettledPnl).
		Int64("settled_pnl", pnlToSettle).
		Uint64("settlement_price", market.SettlementPrice).
		Uint64("settlement_fee", fee).
		Msg("expired position settlement completed")

	return &SettleResponse{
		RecordID:          record.RecordID,
		AccountID:         accountID,
		MarketIndex:       marketIndex,
		UnsettledPnl:      unsettledPnl,
		SettledPnl:        pnlToSettle,
		SettledPnlDecimal: quoteDecimal(pnlToSettle),
		BaseAssetAmount:   0,
		QuoteAssetAmount:  0,
		Price:             settlementPrice,
		Timestamp:         time.Now(),
	}, nil
}

// applyTransfer moves the settled amount onto the account's bank balance
// and inverts it out of the position's running quote amount.
func (s *Service) applyTransfer(account *types.Account, position *types.Position, pnlToSettle int64, b *types.Bank) error {
	direction := types.BalanceBorrow
	if pnlToSettle > 0 {
		direction = types.BalanceDeposit
	}
	if err := bank.UpdateAccountBalance(fixedpoint.AbsU64(pnlToSettle), direction, b, account); err != nil {
		return err
	}
	quote, err := fixedpoint.SubI64(position.QuoteAssetAmount, pnlToSettle)
	if err != nil {
		return err
	}
	position.QuoteAssetAmount = quote
	return nil
}

// requireMaintenanceHealth runs the maintenance-tier margin gate over the
// account's full holdings. Snapshots priced off a stale or non-positive
// oracle are rejected before any health verdict.
func (s *Service) requireMaintenanceHealth(
	account *types.Account,
	positions []*types.Position,
	borrowedMarket *types.Market,
	b *types.Bank,
	now int64,
) error {
	overrides := map[uint64]*types.Market{borrowedMarket.MarketIndex: borrowedMarket}
	inputs, err := margin.SnapshotInputs(account, positions, overrides, s.registries, b, now)
	if err != nil {
		return err
	}

	calc, err := margin.Evaluate(inputs, margin.StandardContext(margin.TierMaintenance))
	if err != nil {
		return err
	}
	if !calc.AllOraclesValid {
		return ErrStaleOracle
	}
	if !calc.MeetsMarginRequirement() {
		return ErrInsufficientCollateral
	}
	return nil
}

func (s *Service) zeroResponse(accountID string, marketIndex uint64, position *types.Position, price, unsettledPnl int64) *SettleResponse {
	return &SettleResponse{
		AccountID:         accountID,
		MarketIndex:       marketIndex,
		UnsettledPnl:      unsettledPnl,
		SettledPnl:        0,
		SettledPnlDecimal: quoteDecimal(0),
		BaseAssetAmount:   position.BaseAssetAmount,
		QuoteAssetAmount:  position.QuoteAssetAmount,
		Price:             price,
		Timestamp:         time.Now(),
	}
}

// positionIndexFor locates the account's position for a market.
func positionIndexFor(positions []*types.Position, marketIndex uint64) (int, error) {
	for i, position := range positions {
		if position.MarketIndex == marketIndex {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: market %d", ErrPositionNotFound, marketIndex)
}

// quoteDecimal renders a quote-precision fixed-point amount as a decimal
// string for clients.
func quoteDecimal(amount int64) string {
	return decimal.New(amount, -6).String()
}

// GinHandlers contains HTTP handlers for settlement endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// statusMappings surfaces the settlement sentinels with meaningful HTTP
// statuses instead of a blanket 500.
var statusMappings = []response.StatusMapping{
	{Err: ErrInsufficientCollateral, Status: http.StatusConflict, Code: response.ErrCodeConflict},
	{Err: ErrStaleOracle, Status: http.StatusConflict, Code: response.ErrCodeConflict},
	{Err: ErrUnauthorizedPnlExtraction, Status: http.StatusForbidden, Code: response.ErrCodeForbidden},
	{Err: ErrMarketNotInSettlement, Status: http.StatusConflict, Code: response.ErrCodeConflict},
	{Err: ErrPositionNotFound, Status: http.StatusNotFound, Code: response.ErrCodeNotFound},
	{Err: registry.ErrRecordBorrowed, Status: http.StatusConflict, Code: response.ErrCodeConflict},
}

// SettlePnlHandler handles POST requests to settle live PnL. The JWT
// client_id is the authority attempting settlement.
func (h *GinHandlers) SettlePnlHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		marketIndex, err := strconv.ParseUint(c.Param("market_index"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid market index")
			return
		}

		settleResponse, err := h.service.SettlePnl(accountID, c.GetString("clientID"), marketIndex, time.Now().Unix())
		response.HandleMapped(c, settleResponse, err, statusMappings...)
	}
}

// SettleExpiredPositionHandler handles POST requests to close an expired
// position at the settlement price.
func (h *GinHandlers) SettleExpiredPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		marketIndex, err := strconv.ParseUint(c.Param("market_index"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid market index")
			return
		}

		settleResponse, err := h.service.SettleExpiredPosition(accountID, c.GetString("clientID"), marketIndex, time.Now().Unix())
		response.HandleMapped(c, settleResponse, err, statusMappings...)
	}
}

// GetRecordHandler returns a settlement audit record.
func (h *GinHandlers) GetRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := h.service.db.GetRecord(c.Param("record_id"))
		response.Handle(c, record, err)
	}
}

// GetAccountRecordsHandler returns an account's settlement history.
func (h *GinHandlers) GetAccountRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := h.service.db.GetAccountRecords(c.Param("account_id"))
		response.Handle(c, records, err)
	}
}
