package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/access"
	"github.com/parksidelabs/noteboard/internal/link"
	"github.com/parksidelabs/noteboard/internal/notes"
	"github.com/parksidelabs/noteboard/internal/sequencer"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&notes.NoteFile{},
		&notes.NoteHeader{},
		&notes.NoteContent{},
		&notes.Tag{},
		&access.Token{},
		&link.LinkedFile{},
		&link.LinkQueue{},
		&link.LinkLog{},
		&sequencer.Sequencer{},
		&sequencer.Mark{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
