package margin

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/registry"
	"github.com/perphouse/clearing-api/internal/types"
	"github.com/perphouse/clearing-api/pkg/response"
)

// Service exposes margin verdicts over an account's stored holdings.
type Service struct {
	db         *gorm.DB
	registries *registry.Registries
}

func NewService(gormDB *gorm.DB, registries *registry.Registries) *Service {
	return &Service{db: gormDB, registries: registries}
}

// CheckResponse is the margin verdict surface returned to callers.
type CheckResponse struct {
	AccountID              string    `json:"account_id"`
	TotalCollateral        int64     `json:"total_collateral"`
	TotalCollateralDecimal string    `json:"total_collateral_decimal"`
	MarginRequirement      uint64    `json:"margin_requirement"`
	FreeCollateral         uint64    `json:"free_collateral"`
	MeetsRequirement       bool      `json:"meets_requirement"`
	AllOraclesValid        bool      `json:"all_oracles_valid"`
	NumLiabilities         uint8     `json:"num_liabilities"`
	Timestamp              time.Time `json:"timestamp"`
}

// SnapshotInputs assembles the evaluation snapshot for an account from the
// registries. Overrides supply records the caller already holds an
// exclusive borrow on, so the check sees its in-flight mutations.
func SnapshotInputs(
	account *types.Account,
	positions []*types.Position,
	overrides map[uint64]*types.Market,
	registries *registry.Registries,
	b *types.Bank,
	now int64,
) (EvaluationInputs, error) {
	markets := make(map[uint64]*types.Market)
	oracles := make(map[uint64]*types.OraclePrice)
	for index, market := range overrides {
		markets[index] = market
	}

	for _, position := range positions {
		if !position.IsOpen() {
			continue
		}
		market, ok := markets[position.MarketIndex]
		if !ok {
			fetched, err := registries.GetMarket(position.MarketIndex)
			if err != nil {
				return EvaluationInputs{}, err
			}
			markets[position.MarketIndex] = fetched
			market = fetched
		}
		if _, ok := oracles[market.OracleIndex]; !ok {
			oracle, err := registries.GetOraclePrice(market.OracleIndex)
			if err != nil {
				return EvaluationInputs{}, err
			}
			oracles[market.OracleIndex] = oracle
		}
	}

	return EvaluationInputs{
		Account:   account,
		Positions: positions,
		Markets:   markets,
		Oracles:   oracles,
		Bank:      b,
		Now:       now,
	}, nil
}

// CheckAccount runs a standard margin check at the given tier over the
// account's stored holdings.
func (s *Service) CheckAccount(accountID string, tier RequirementTier, now int64) (*CheckResponse, error) {
	logger := log.With().
		Str("account_id", accountID).
		Str("service", "margin").
		Logger()

	var account types.Account
	if err := s.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	var positions []*types.Position
	if err := s.db.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	b, err := s.registries.GetQuoteBank()
	if err != nil {
		return nil, err
	}

	inputs, err := SnapshotInputs(&account, positions, nil, s.registries, b, now)
	if err != nil {
		return nil, err
	}

	calc, err := Evaluate(inputs, StandardContext(tier))
	if err != nil {
		logger.Error().Err(err).Msg("margin evaluation failed")
		return nil, err
	}

	free, err := calc.FreeCollateral()
	if err != nil {
		return nil, err
	}
	numLiabilities, err := calc.NumLiabilities()
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int64("total_collateral", calc.TotalCollateral).
		Uint64("margin_requirement", calc.MarginRequirement).
		Bool("meets_requirement", calc.MeetsMarginRequirement()).
		Msg("computed margin verdict")

	return &CheckResponse{
		AccountID:              accountID,
		TotalCollateral:        calc.TotalCollateral,
		TotalCollateralDecimal: decimal.New(calc.TotalCollateral, -6).String(),
		MarginRequirement:      calc.MarginRequirement,
		FreeCollateral:         free,
		MeetsRequirement:       calc.MeetsMarginRequirement(),
		AllOraclesValid:        calc.AllOraclesValid,
		NumLiabilities:         numLiabilities,
		Timestamp:              time.Now(),
	}, nil
}

// GinHandlers contains HTTP handlers for margin endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CheckAccountHandler returns an account's margin verdict. The tier query
// parameter selects initial vs maintenance; maintenance is the default.
func (h *GinHandlers) CheckAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := TierMaintenance
		if c.Query("tier") == "initial" {
			tier = TierInitial
		}

		checkResponse, err := h.service.CheckAccount(c.Param("account_id"), tier, time.Now().Unix())
		response.Handle(c, checkResponse, err)
	}
}
