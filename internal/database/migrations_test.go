package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

func TestApplyMigrationsRepairsLegacyRows(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := database.Create(&store.Counter{Path: "videos/v1/likeCount", Value: -3}).Error; err != nil {
		testContext.Fatalf("failed to insert counter: %v", err)
	}
	if err := database.Create(&store.Comment{CommentID: "c1", FeedPath: "videos/v1/comments", AuthorID: "u1", Text: "hi", CreatedAtMillis: 1}).Error; err != nil {
		testContext.Fatalf("failed to insert comment: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop(), time.Now); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var counter store.Counter
	if err := database.Where("path = ?", "videos/v1/likeCount").Take(&counter).Error; err != nil {
		testContext.Fatalf("failed to reload counter: %v", err)
	}
	if counter.Value != 0 {
		testContext.Fatalf("expected counter to be clamped, got %d", counter.Value)
	}
	var comment store.Comment
	if err := database.Where("comment_id = ?", "c1").Take(&comment).Error; err != nil {
		testContext.Fatalf("failed to reload comment: %v", err)
	}
	if comment.AuthorName != "Anonymous" {
		testContext.Fatalf("expected author backfill, got %q", comment.AuthorName)
	}

	var records int64
	database.Model(&migrationRecord{}).Count(&records)
	if records != int64(len(migrations)) {
		testContext.Fatalf("expected %d migration records, got %d", len(migrations), records)
	}

	if err := database.Create(&store.Counter{Path: "videos/v2/likeCount", Value: -1}).Error; err != nil {
		testContext.Fatalf("failed to insert counter: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop(), time.Now); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	if err := database.Where("path = ?", "videos/v2/likeCount").Take(&counter).Error; err != nil {
		testContext.Fatalf("failed to reload counter: %v", err)
	}
	if counter.Value != -1 {
		testContext.Fatalf("expected applied migrations to be skipped, got %d", counter.Value)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "vyon.db")
	database, err := Open(Options{Driver: "sqlite", Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"counters", "membership_flags", "comments", "accounts", "user_identities", "videos", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}

func TestOpenRejectsInvalidOptions(testContext *testing.T) {
	testCases := []struct {
		name    string
		options Options
		want    error
	}{
		{name: "missing path", options: Options{Driver: "sqlite"}, want: ErrMissingPath},
		{name: "missing dsn", options: Options{Driver: "postgres"}, want: ErrMissingDSN},
		{name: "unknown driver", options: Options{Driver: "mysql"}, want: ErrUnsupportedDriver},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			if _, err := Open(testCase.options, zap.NewNop()); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}
