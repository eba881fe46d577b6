// Package database opens the relational store behind counters, feeds, accounts and videos.
package database

import (
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/config"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

var (
	// ErrMissingPath indicates a sqlite configuration without a file path.
	ErrMissingPath = errors.New("database path is required")
	// ErrMissingDSN indicates a postgres configuration without a DSN.
	ErrMissingDSN = errors.New("database dsn is required")
	// ErrUnsupportedDriver indicates a driver name other than sqlite or postgres.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Options selects the driver and its connection target.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects with the configured driver and brings the schema up to date.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch options.Driver {
	case "", config.DatabaseDriverSQLite:
		db, err = openSQLite(options.Path)
	case config.DatabaseDriverPostgres:
		db, err = openPostgres(options.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := applyMigrations(db, logger, time.Now); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

// Models lists every table the service owns.
func Models() []interface{} {
	models := make([]interface{}, 0, 8)
	models = append(models, store.Models()...)
	models = append(models, users.Models()...)
	models = append(models, videos.Models()...)
	models = append(models, &migrationRecord{})
	return models
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	return gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), &gorm.Config{TranslateError: true})
}
