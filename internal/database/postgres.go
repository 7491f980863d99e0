package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// PostgresOptions tunes the connection pool. Zero values keep the driver defaults.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Quiet silences GORM's statement logger.
	Quiet bool
}

// ConnectPostgres opens the engine database and sizes its connection pool.
func ConnectPostgres(opts PostgresOptions) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	gormConfig := &gorm.Config{}
	if opts.Quiet {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return db, nil
}

// Migrate creates or updates every table the engine owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Assignment{},
		&models.Submission{},
		&models.ReviewAssignment{},
		&models.Review{},
		&models.RegradeRequest{},
		&models.Setting{},
		&models.Enrollment{},
		&models.Notification{},
		&models.AuditEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
