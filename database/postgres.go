package database

import (
	"fmt"
	"time"

	"affiliate-commission-system/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Ledger lists every table the service owns, in migration order.
var Ledger = []interface{}{
	&models.AffiliateProfile{},
	&models.PayoutDestination{},
	&models.ReferralEdge{},
	&models.RevenueEvent{},
	&models.Commission{},
	&models.WithdrawalRequest{},
	&models.PayoutRun{},
}

// GormConfig keeps all ledger timestamps in UTC so range filters compare
// consistently across drivers.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Warn),
	}
}

func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Ledger...); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}
