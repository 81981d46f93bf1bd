package database

import (
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/perphouse/clearing-api/internal/settlement"
	"github.com/perphouse/clearing-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_PATH")
	if dsn == "" {
		dsn = "clearing.db"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&types.Order{},
		&types.Account{},
		&types.Position{},
		&types.Market{},
		&types.Bank{},
		&types.OraclePrice{},
		&settlement.SettleRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
