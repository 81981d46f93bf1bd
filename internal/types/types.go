package types

import (
	"time"

	"gorm.io/gorm"
)

// OrderSide is the direction of an order or position.
type OrderSide string

const (
	SideLong  OrderSide = "LONG"
	SideShort OrderSide = "SHORT"
)

// BalanceDirection types a balance against the quote asset bank. A deposit
// balance is an amount the bank owes the holder, a borrow balance is an
// amount the holder owes the bank.
type BalanceDirection string

const (
	BalanceDeposit BalanceDirection = "DEPOSIT"
	BalanceBorrow  BalanceDirection = "BORROW"
)

// MarketStatus is the lifecycle state of a perpetual market.
type MarketStatus string

const (
	MarketActive     MarketStatus = "ACTIVE"
	MarketPaused     MarketStatus = "PAUSED"
	MarketSettlement MarketStatus = "SETTLEMENT"
)

// Order is a resting or incoming order presented to the matching engine.
// Price is scaled by PricePrecision, Quantity by the market's base asset
// precision. Timestamp is the monotonically increasing placement time used
// for price-time priority.
type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string    `gorm:"uniqueIndex" json:"order_id"`
	AccountID   string    `json:"account_id"`
	MarketIndex uint64    `json:"market_index"`
	Side        OrderSide `json:"side"`
	Price       uint64    `json:"price"`
	Quantity    uint64    `json:"quantity"`
	PostOnly    bool      `json:"post_only"`
	Timestamp   int64     `json:"timestamp"`
	Status      string    `json:"status"` // OPEN, FILLED, CANCELLED
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Account holds a client's quote asset balance with the bank. Authority is
// the client identity allowed to extract the account's positive PnL.
type Account struct {
	gorm.Model       `json:"-"`
	AccountID        string           `gorm:"uniqueIndex" json:"account_id"`
	Authority        string           `json:"authority"`
	QuoteBalance     uint64           `json:"quote_balance"` // scaled bank balance
	QuoteBalanceType BalanceDirection `json:"quote_balance_type"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Position is one account's holding in one market. BaseAssetAmount is
// signed (long positive, short negative). QuoteAssetAmount is the running
// quote amount owed/owing at QuotePrecision; QuoteEntryAmount is the cost
// basis used to split realized from unrealized PnL.
type Position struct {
	gorm.Model                `json:"-"`
	AccountID                 string `gorm:"uniqueIndex:idx_account_market" json:"account_id"`
	MarketIndex               uint64 `gorm:"uniqueIndex:idx_account_market" json:"market_index"`
	BaseAssetAmount           int64  `json:"base_asset_amount"`
	QuoteAssetAmount          int64  `json:"quote_asset_amount"`
	QuoteEntryAmount          int64  `json:"quote_entry_amount"`
	LastCumulativeFundingRate int64  `json:"last_cumulative_funding_rate"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// IsOpen reports whether the position carries any exposure or unsettled quote.
func (p *Position) IsOpen() bool {
	return p.BaseAssetAmount != 0 || p.QuoteAssetAmount != 0
}

// Market is a perpetual market record. The PnL pool is a typed balance
// against the quote asset bank absorbing the market's net unsettled PnL.
type Market struct {
	gorm.Model             `json:"-"`
	MarketIndex            uint64           `gorm:"uniqueIndex" json:"market_index"`
	Symbol                 string           `json:"symbol"`
	Status                 MarketStatus     `json:"status"`
	BaseAssetPrecisionExp  uint32           `json:"base_asset_precision_exp"`
	OracleIndex            uint64           `json:"oracle_index"`
	SettlementPrice        uint64           `json:"settlement_price"` // fixed once Status is SETTLEMENT
	MarginRatioInitial     uint64           `json:"margin_ratio_initial"`     // MarginPrecision
	MarginRatioMaintenance uint64           `json:"margin_ratio_maintenance"` // MarginPrecision
	PnlPoolBalance         uint64           `json:"pnl_pool_balance"` // scaled bank balance
	PnlPoolBalanceType     BalanceDirection `json:"pnl_pool_balance_type"`
	CumulativeFundingRate  int64            `json:"cumulative_funding_rate"` // FundingPrecision
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// Bank is the shared quote asset ledger. Deposit and borrow aggregates are
// scaled balances; the cumulative interest indexes convert a scaled balance
// into a token amount.
type Bank struct {
	gorm.Model                `json:"-"`
	BankIndex                 uint64    `gorm:"uniqueIndex" json:"bank_index"`
	Symbol                    string    `json:"symbol"`
	DepositBalance            uint64    `json:"deposit_balance"`
	BorrowBalance             uint64    `json:"borrow_balance"`
	CumulativeDepositInterest uint64    `json:"cumulative_deposit_interest"` // InterestPrecision
	CumulativeBorrowInterest  uint64    `json:"cumulative_borrow_interest"`  // InterestPrecision
	LastInterestTs            int64     `json:"last_interest_ts"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// OraclePrice is the latest observed price for an oracle feed, scaled by
// PricePrecision. Signed: a malformed feed can report a non-positive price,
// which consumers must treat as invalid.
type OraclePrice struct {
	gorm.Model  `json:"-"`
	OracleIndex uint64 `gorm:"uniqueIndex" json:"oracle_index"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"confidence"`
	UpdatedTs   int64  `json:"updated_ts"`
}
