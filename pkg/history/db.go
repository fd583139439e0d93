package history

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supporttools/GoPanelGuard/pkg/config"
)

// DB is the global history database instance
var DB *gorm.DB

// InitializeDatabase sets up the history database connection and runs
// migrations if enabled
func InitializeDatabase() error {
	if !config.CFG.HistoryDB.Enabled {
		log.Println("History database is not enabled, skipping initialization")
		return nil
	}

	db, err := Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to history database: %w", err)
	}
	DB = db

	if config.CFG.HistoryDB.AutoMigrate {
		log.Println("Running database migrations for history tables")
		if err := RunMigrations(db); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	return nil
}

// Connect establishes a connection to the database
func Connect() (*gorm.DB, error) {
	cfg := config.CFG.HistoryDB

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	logLevel := logger.Silent
	if config.CFG.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			log.Printf("Warning: Invalid connection max lifetime '%s', using default 5m: %v",
				cfg.ConnMaxLifetime, err)
			duration = 5 * time.Minute
		}
		sqlDB.SetConnMaxLifetime(duration)
	}

	log.Printf("Connected to history database at %s:%d", cfg.Host, cfg.Port)
	return db, nil
}

// RunMigrations runs all necessary database migrations
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&JobEntry{},
		&PanelEntry{},
		&ScheduleEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	return sqlDB.Close()
}
