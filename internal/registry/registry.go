// Package registry looks up market, bank and oracle records and enforces
// the one-writer-per-record discipline the settlement core relies on:
// exclusive access is acquired through the borrow tracker at the registry
// boundary instead of being hand-verified inside the business logic.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/types"
)

var (
	// ErrRecordBorrowed is returned when a record is already held by
	// another in-flight call.
	ErrRecordBorrowed = errors.New("record is exclusively borrowed")
)

type borrowKey struct {
	kind  string
	index uint64
}

// BorrowTracker hands out at most one exclusive borrow per (kind, index).
type BorrowTracker struct {
	mu   sync.Mutex
	held map[borrowKey]struct{}
}

func NewBorrowTracker() *BorrowTracker {
	return &BorrowTracker{held: make(map[borrowKey]struct{})}
}

// Acquire takes the exclusive borrow for a record, returning the release
// function. Releasing twice is harmless.
func (t *BorrowTracker) Acquire(kind string, index uint64) (func(), error) {
	key := borrowKey{kind: kind, index: index}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, taken := t.held[key]; taken {
		return nil, fmt.Errorf("%w: %s %d", ErrRecordBorrowed, kind, index)
	}
	t.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, key)
			t.mu.Unlock()
		})
	}
	return release, nil
}

// Registries bundles the market, bank and oracle lookups over one database
// connection and one shared borrow tracker.
type Registries struct {
	db      *gorm.DB
	tracker *BorrowTracker
}

func New(db *gorm.DB) *Registries {
	return &Registries{db: db, tracker: NewBorrowTracker()}
}

// MarketHandle is an exclusive mutable borrow of a market record. Mutations
// are flushed with Save; the borrow must be released at call end.
type MarketHandle struct {
	Market  *types.Market
	db      *gorm.DB
	release func()
}

func (h *MarketHandle) Save() error {
	return h.db.Save(h.Market).Error
}

func (h *MarketHandle) Release() {
	h.release()
}

// GetMarket returns a read-only copy of a market record.
func (r *Registries) GetMarket(marketIndex uint64) (*types.Market, error) {
	var market types.Market
	if err := r.db.Where("market_index = ?", marketIndex).First(&market).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch market %d: %w", marketIndex, err)
	}
	return &market, nil
}

// GetMarketMut returns an exclusive mutable borrow of a market record.
func (r *Registries) GetMarketMut(marketIndex uint64) (*MarketHandle, error) {
	release, err := r.tracker.Acquire("market", marketIndex)
	if err != nil {
		return nil, err
	}
	var market types.Market
	if err := r.db.Where("market_index = ?", marketIndex).First(&market).Error; err != nil {
		release()
		return nil, fmt.Errorf("failed to fetch market %d: %w", marketIndex, err)
	}
	return &MarketHandle{Market: &market, db: r.db, release: release}, nil
}

// BankHandle is an exclusive mutable borrow of the quote asset bank.
type BankHandle struct {
	Bank    *types.Bank
	db      *gorm.DB
	release func()
}

func (h *BankHandle) Save() error {
	return h.db.Save(h.Bank).Error
}

func (h *BankHandle) Release() {
	h.release()
}

// quoteBankIndex is the well-known index of the quote asset bank.
const quoteBankIndex uint64 = 0

// GetQuoteBank returns a read-only copy of the quote asset bank.
func (r *Registries) GetQuoteBank() (*types.Bank, error) {
	var b types.Bank
	if err := r.db.Where("bank_index = ?", quoteBankIndex).First(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch quote asset bank: %w", err)
	}
	return &b, nil
}

// GetQuoteBankMut returns an exclusive mutable borrow of the quote asset bank.
func (r *Registries) GetQuoteBankMut() (*BankHandle, error) {
	release, err := r.tracker.Acquire("bank", quoteBankIndex)
	if err != nil {
		return nil, err
	}
	var b types.Bank
	if err := r.db.Where("bank_index = ?", quoteBankIndex).First(&b).Error; err != nil {
		release()
		return nil, fmt.Errorf("failed to fetch quote asset bank: %w", err)
	}
	return &BankHandle{Bank: &b, db: r.db, release: release}, nil
}

// GetOraclePrice returns the latest price record for an oracle feed.
func (r *Registries) GetOraclePrice(oracleIndex uint64) (*types.OraclePrice, error) {
	var price types.OraclePrice
	if err := r.db.Where("oracle_index = ?", oracleIndex).First(&price).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch oracle %d: %w", oracleIndex, err)
	}
	return &price, nil
}
