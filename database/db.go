package database

import (
	"fmt"
	"strings"

	"github.com/chxlky/trello-signoff/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the store manages, parents first.
var Models = []any{
	&models.User{},
	&models.GithubRepo{},
	&models.PullRequest{},
	&models.TrelloCard{},
	&models.PullRequestTrelloCard{},
	&models.TrelloChecklist{},
	&models.TrelloCheckItem{},
	&models.TrelloList{},
}

// Init opens and migrates the database. Writers are serialised through a
// single connection and BEGIN IMMEDIATE, so concurrent reconciliations queue
// on the pool instead of failing with "database is locked".
func Init(dbPath string) (*gorm.DB, error) {
	dbFile := sqlite.Open(dsn(dbPath))
	db, err := gorm.Open(dbFile, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	zap.L().Info("Database initialised and migrated successfully", zap.String("path", dbPath))

	return db, nil
}

func dsn(dbPath string) string {
	params := []string{"_busy_timeout=5000", "_txlock=immediate"}
	if !strings.Contains(dbPath, "mode=memory") && dbPath != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(params, "&")
}
