package settlement

import (
	"time"

	"gorm.io/gorm"
)

// SettleRecord is the audit record emitted on every nonzero settlement.
// Pnl is the amount actually moved between the pool and the account;
// Price is the oracle or settlement price the PnL was read at.
type SettleRecord struct {
	gorm.Model            `json:"-"`
	RecordID              string    `gorm:"uniqueIndex" json:"record_id"`
	AccountID             string    `json:"account_id"`
	MarketIndex           uint64    `json:"market_index"`
	Ts                    int64     `json:"ts"`
	Pnl                   int64     `json:"pnl"`
	BaseAssetAmount       int64     `json:"base_asset_amount"`
	QuoteAssetAmountAfter int64     `json:"quote_asset_amount_after"`
	QuoteEntryAmount      int64     `json:"quote_entry_amount"`
	Price                 int64     `json:"price"`
	Expired               bool      `json:"expired"`
	CreatedAt             time.Time `json:"created_at"`
}

// FeeStructure configures the settlement fee charged when an expired
// position is closed at the settlement price.
type FeeStructure struct {
	FeeNumerator   uint64
	FeeDenominator uint64
}

// SettleResponse is returned from the settlement entry points. The decimal
// field renders the fixed-point amount at quote precision for clients.
type SettleResponse struct {
	RecordID          string    `json:"record_id,omitempty"`
	AccountID         string    `json:"account_id"`
	MarketIndex       uint64    `json:"market_index"`
	UnsettledPnl      int64     `json:"unsettled_pnl"`
	SettledPnl        int64     `json:"settled_pnl"`
	SettledPnlDecimal string    `json:"settled_pnl_decimal"`
	BaseAssetAmount   int64     `json:"base_asset_amount"`
	QuoteAssetAmount  int64     `json:"quote_asset_amount"`
	Price             int64     `json:"price"`
	Timestamp         time.Time `json:"timestamp"`
}
