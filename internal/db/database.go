package db

import (
	"fmt"
	"log"
	"time"

	"intent-backend/internal/config"
	"intent-backend/internal/metrics"
	"intent-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB connects to postgres and migrates the intent schema. Callers using
// the memory driver never reach this.
func InitDB() (*gorm.DB, error) {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := database.AutoMigrate(
		&models.Intent{},
		&models.PositionReceipt{},
		&models.IntentTransition{},
		&models.ProcessedMessage{},
		&models.BatchRoot{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	metrics.DBConnectionStatus.Set(1)
	log.Println("✅ Database connected and migrated")
	return database, nil
}
