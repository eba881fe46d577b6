package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

const (
	migrationClampNegativeCounters = "2026-10-01_clamp_negative_counters"
	migrationBackfillCommentAuthor = "2026-10-01_backfill_comment_author_names"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationClampNegativeCounters, apply: clampNegativeCounters},
	{name: migrationBackfillCommentAuthor, apply: backfillCommentAuthors},
}

// applyMigrations runs each pending data migration in its own transaction
// together with its bookkeeping row, so a failed step is retried on next start.
func applyMigrations(db *gorm.DB, logger *zap.Logger, now func() time.Time) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		if _, done := applied[migration.name]; done {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("database: migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func appliedMigrations(db *gorm.DB) (map[string]struct{}, error) {
	var names []string
	if err := db.Model(&migrationRecord{}).Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	applied := make(map[string]struct{}, len(names))
	for _, name := range names {
		applied[name] = struct{}{}
	}
	return applied, nil
}

// Counters written before adjust clamped at zero may hold negative values.
func clampNegativeCounters(db *gorm.DB) error {
	return db.Model(&store.Counter{}).
		Where("value < 0").
		Update("value", 0).Error
}

// Comments stored before author names were required render as Anonymous.
func backfillCommentAuthors(db *gorm.DB) error {
	return db.Model(&store.Comment{}).
		Where("author_name = ?", "").
		Update("author_name", "Anonymous").Error
}
