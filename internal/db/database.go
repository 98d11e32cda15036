package db

import (
	"context"
	"fmt"
	stlog "log" // GORM's logger.New wants a standard log.Logger
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB opens the database for the given driver ("sqlite" or "postgres").
func InitDB(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := Open(dialector)
	if err != nil {
		return nil, err
	}

	log.Info().Str("driver", driver).Msg("Database connection established successfully.")
	return conn, nil
}

// Open wraps gorm.Open with the zerolog-backed logger and error translation,
// so unique violations surface as gorm.ErrDuplicatedKey on every dialect.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// slowQueryThreshold matches gorm's own default logger.
const slowQueryThreshold = 200 * time.Millisecond

// NewLogger bridges GORM logging into the global zerolog logger.
func NewLogger() gormlogger.Interface {
	var level gormlogger.LogLevel
	switch zerolog.GlobalLevel() {
	case zerolog.Disabled, zerolog.PanicLevel, zerolog.FatalLevel:
		level = gormlogger.Silent
	case zerolog.ErrorLevel:
		level = gormlogger.Error
	case zerolog.WarnLevel:
		level = gormlogger.Warn
	case zerolog.InfoLevel:
		level = gormlogger.Warn // SQL traces only at debug
	default:
		level = gormlogger.Info
	}

	return gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false, // zerolog handles console colouring
		},
	)
}

// MigrateDB runs GORM's AutoMigrate for the given models.
func MigrateDB(conn *gorm.DB, modelsToMigrate ...interface{}) error {
	if conn == nil {
		return fmt.Errorf("database not initialized, call InitDB first")
	}
	if len(modelsToMigrate) == 0 {
		return fmt.Errorf("no models provided for migration")
	}

	if err := conn.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	log.Info().Int("models_migrated", len(modelsToMigrate)).Msg("Database migration completed successfully for provided models.")
	return nil
}

// WithTx runs fn inside a transaction bound to ctx. The transaction commits
// when fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	return conn.WithContext(ctx).Transaction(fn)
}
