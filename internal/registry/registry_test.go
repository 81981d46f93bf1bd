package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Market{}, &types.Bank{}, &types.OraclePrice{}))
	return db
}

func seedRegistry(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&types.Market{
		MarketIndex:           1,
		Symbol:                "SOL-PERP",
		Status:                types.MarketActive,
		BaseAssetPrecisionExp: 9,
		OracleIndex:           1,
	}).Error)
	require.NoError(t, db.Create(&types.Bank{
		BankIndex:                 0,
		Symbol:                    "USDC",
		CumulativeDepositInterest: fixedpoint.InterestPrecision,
		CumulativeBorrowInterest:  fixedpoint.InterestPrecision,
	}).Error)
	require.NoError(t, db.Create(&types.OraclePrice{
		OracleIndex: 1,
		Price:       int64(100 * fixedpoint.PricePrecision),
	}).Error)
}

func TestBorrowTracker(t *testing.T) {
	tracker := NewBorrowTracker()

	release, err := tracker.Acquire("market", 1)
	require.NoError(t, err)

	// A second borrow of the same record conflicts.
	_, err = tracker.Acquire("market", 1)
	assert.ErrorIs(t, err, ErrRecordBorrowed)

	// Other records and kinds are independent.
	release2, err := tracker.Acquire("market", 2)
	require.NoError(t, err)
	release2()
	release3, err := tracker.Acquire("bank", 1)
	require.NoError(t, err)
	release3()

	// Releasing frees the record; releasing twice is harmless.
	release()
	release()
	release4, err := tracker.Acquire("market", 1)
	require.NoError(t, err)
	release4()
}

func TestGetMarket(t *testing.T) {
	db := setupTestDB(t)
	seedRegistry(t, db)
	registries := New(db)

	market, err := registries.GetMarket(1)
	require.NoError(t, err)
	assert.Equal(t, "SOL-PERP", market.Symbol)

	_, err = registries.GetMarket(99)
	assert.Error(t, err)
}

func TestGetMarketMut(t *testing.T) {
	db := setupTestDB(t)
	seedRegistry(t, db)
	registries := New(db)

	handle, err := registries.GetMarketMut(1)
	require.NoError(t, err)

	// The record is exclusively held until released.
	_, err = registries.GetMarketMut(1)
	assert.ErrorIs(t, err, ErrRecordBorrowed)

	// Read-only access is unaffected.
	_, err = registries.GetMarket(1)
	assert.NoError(t, err)

	handle.Market.Status = types.MarketPaused
	require.NoError(t, handle.Save())
	handle.Release()

	market, err := registries.GetMarket(1)
	require.NoError(t, err)
	assert.Equal(t, types.MarketPaused, market.Status)

	handle2, err := registries.GetMarketMut(1)
	require.NoError(t, err)
	handle2.Release()
}

func TestGetMarketMutMissingReleasesBorrow(t *testing.T) {
	db := setupTestDB(t)
	registries := New(db)

	_, err := registries.GetMarketMut(7)
	require.Error(t, err)

	// The failed fetch must not leave the borrow held.
	_, err = registries.GetMarketMut(7)
	assert.NotErrorIs(t, err, ErrRecordBorrowed)
}

func TestGetQuoteBank(t *testing.T) {
	db := setupTestDB(t)
	seedRegistry(t, db)
	registries := New(db)

	b, err := registries.GetQuoteBank()
	require.NoError(t, err)
	assert.Equal(t, "USDC", b.Symbol)

	handle, err := registries.GetQuoteBankMut()
	require.NoError(t, err)
	_, err = registries.GetQuoteBankMut()
	assert.ErrorIs(t, err, ErrRecordBorrowed)
	handle.Release()
}

func TestGetOraclePrice(t *testing.T) {
	db := setupTestDB(t)
	seedRegistry(t, db)
	registries := New(db)

	price, err := registries.GetOraclePrice(1)
	require.NoError(t, err)
	assert.Equal(t, int64(100*fixedpoint.PricePrecision), price.Price)

	_, err = registries.GetOraclePrice(99)
	assert.Error(t, err)
}
