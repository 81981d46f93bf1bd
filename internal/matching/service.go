package matching

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/perphouse/clearing-api/internal/registry"
	"github.com/perphouse/clearing-api/internal/types"
	"github.com/perphouse/clearing-api/pkg/response"
)

// Service answers match checks for the outer order-execution flow: given
// two candidate orders it reports eligibility, crossing, the fill and the
// filler incentive at the market's current oracle price.
type Service struct {
	registries *registry.Registries
}

func NewService(registries *registry.Registries) *Service {
	return &Service{registries: registries}
}

// CheckRequest carries the two candidate orders.
type CheckRequest struct {
	Maker types.Order `json:"maker" binding:"required"`
	Taker types.Order `json:"taker" binding:"required"`
}

// CheckResponse is the matching verdict. Fill fields are only meaningful
// when Crosses is true.
type CheckResponse struct {
	MakerForTaker    bool      `json:"maker_for_taker"`
	Compatible       bool      `json:"compatible"`
	Crosses          bool      `json:"crosses"`
	FillQuantity     uint64    `json:"fill_quantity"`
	FillQuoteAmount  uint64    `json:"fill_quote_amount"`
	FillerMultiplier uint64    `json:"filler_multiplier"`
	OraclePrice      int64     `json:"oracle_price"`
	Timestamp        time.Time `json:"timestamp"`
}

// Check evaluates the pair. Incompatible or non-crossing pairs are a valid
// outcome, not an error; only a post-only taker or arithmetic failure errors.
func (s *Service) Check(maker, taker *types.Order) (*CheckResponse, error) {
	logger := log.With().
		Str("maker_order_id", maker.OrderID).
		Str("taker_order_id", taker.OrderID).
		Str("service", "matching").
		Logger()

	makerForTaker, err := IsMakerForTaker(maker, taker)
	if err != nil {
		logger.Warn().Err(err).Msg("order combination rejected")
		return nil, err
	}

	result := &CheckResponse{
		MakerForTaker: makerForTaker,
		Compatible:    SameMarketOppositeSides(maker, taker),
		Timestamp:     time.Now(),
	}
	if !makerForTaker || !result.Compatible {
		return result, nil
	}

	result.Crosses = DoOrdersCross(maker.Side, maker.Price, taker.Price)
	if !result.Crosses {
		return result, nil
	}

	market, err := s.registries.GetMarket(maker.MarketIndex)
	if err != nil {
		return nil, err
	}

	fillQty, fillQuote, err := CalculateFillForMatchedOrders(
		maker.Quantity, maker.Price, taker.Quantity, market.BaseAssetPrecisionExp)
	if err != nil {
		return nil, err
	}
	result.FillQuantity = fillQty
	result.FillQuoteAmount = fillQuote

	oracle, err := s.registries.GetOraclePrice(market.OracleIndex)
	if err != nil {
		return nil, err
	}
	result.OraclePrice = oracle.Price

	multiplier, err := CalculateFillerMultiplier(maker.Price, maker.Side, oracle.Price)
	if err != nil {
		logger.Warn().Err(err).Int64("oracle_price", oracle.Price).Msg("filler multiplier unavailable")
		return nil, err
	}
	result.FillerMultiplier = multiplier

	logger.Debug().
		Uint64("fill_quantity", fillQty).
		Uint64("fill_quote_amount", fillQuote).
		Uint64("filler_multiplier", multiplier).
		Msg("orders cross")

	return result, nil
}

// GinHandlers contains HTTP handlers for matching endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

var statusMappings = []response.StatusMapping{
	{Err: ErrTwoPostOnlyOrders, Status: http.StatusUnprocessableEntity, Code: response.ErrCodeValidationFailed},
	{Err: ErrInvalidOraclePrice, Status: http.StatusConflict, Code: response.ErrCodeConflict},
	{Err: ErrNegativeMultiplier, Status: http.StatusConflict, Code: response.ErrCodeConflict},
}

// CheckHandler handles POST requests evaluating a candidate order pair.
func (h *GinHandlers) CheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request CheckRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		checkResponse, err := h.service.Check(&request.Maker, &request.Taker)
		response.HandleMapped(c, checkResponse, err, statusMappings...)
	}
}
