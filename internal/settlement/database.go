package settlement

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccount retrieves an account by its ID.
func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &account, nil
}

// GetPositions retrieves all of an account's positions.
func (d *Database) GetPositions(accountID string) ([]*types.Position, error) {
	var positions []*types.Position
	if err := d.db.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return positions, nil
}

// GetRecord retrieves a settlement audit record by its ID.
func (d *Database) GetRecord(recordID string) (*SettleRecord, error) {
	var record SettleRecord
	if err := d.db.Where("record_id = ?", recordID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settle record: %w", err)
	}
	return &record, nil
}

// GetAccountRecords retrieves all settlement audit records for an account.
func (d *Database) GetAccountRecords(accountID string) ([]SettleRecord, error) {
	var records []SettleRecord
	if err := d.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settle records: %w", err)
	}
	return records, nil
}

// CommitSettlement persists the outcome of one settlement call in a single
// transaction: account balance, position, market pool, bank aggregates and
// the audit record all land together or not at all.
func (d *Database) CommitSettlement(
	account *types.Account,
	position *types.Position,
	market *types.Market,
	b *types.Bank,
	record *SettleRecord,
) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(account).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save account: %w", err)
	}
	if err := tx.Save(position).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save position: %w", err)
	}
	if err := tx.Save(market).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save market: %w", err)
	}
	if err := tx.Save(b).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save bank: %w", err)
	}
	if record != nil {
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create settle record: %w", err)
		}
	}

	return tx.Commit().Error
}
