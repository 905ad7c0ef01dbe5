package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"server/internal/domain"
)

// NewJobsDB opens the embedded job ledger database, creating the file and
// schema on first use. The service keeps job history on the local disk so a
// single-node deployment has no database dependency.
func NewJobsDB(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("jobs db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure jobs db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	if err := db.AutoMigrate(&domain.GenerationJob{}); err != nil {
		return nil, fmt.Errorf("migrate jobs db: %w", err)
	}

	return db, nil
}
