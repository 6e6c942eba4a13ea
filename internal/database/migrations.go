package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

const (
	migrationBackfillThreadLastEdited = "2026-07-18_backfill_thread_last_edited"
	migrationNormalizeTagCase         = "2026-08-02_normalize_tag_case"
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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillThreadLastEdited, apply: backfillThreadLastEdited},
		{name: migrationNormalizeTagCase, apply: normalizeTagCase},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before thread timestamps existed carry a zero value; seed
// them from the row's own edit time.
func backfillThreadLastEdited(db *gorm.DB) error {
	return db.Model(&notes.NoteHeader{}).
		Where("thread_last_edited_s = 0").
		Update("thread_last_edited_s", gorm.Expr("last_edited_s")).Error
}

// Tags are matched lower-case; fold any mixed-case rows from older writers.
func normalizeTagCase(db *gorm.DB) error {
	return db.Exec("UPDATE tags SET tag_text = lower(tag_text) WHERE tag_text <> lower(tag_text);").Error
}
