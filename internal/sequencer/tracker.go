package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/access"
	"github.com/parksidelabs/noteboard/internal/notes"
)

var errMissingDatabase = errors.New("database handle is required")

// TrackerConfig wires the cursor tracker's collaborators.
type TrackerConfig struct {
	Database *gorm.DB
	Access   *access.Resolver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Tracker manages per-user sequencer cursors and marks.
type Tracker struct {
	db     *gorm.DB
	access *access.Resolver
	clock  func() time.Time
	logger *zap.Logger
}

// NewTracker validates the configuration and returns a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("sequencer.tracker.new: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		db:     cfg.Database,
		access: cfg.Access,
		clock:  clock,
		logger: logger,
	}, nil
}

// Create starts tracking a file for a user at the next personal ordinal.
// A cursor that already exists is returned unchanged.
func (t *Tracker) Create(ctx context.Context, userID string, fileID int64) (*Sequencer, error) {
	var cursor Sequencer
	txErr := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND note_file_id = ?", userID, fileID).Take(&cursor).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("sequencer.create.query_failed: %w", err)
		}
		var maxOrdinal int
		row := tx.Model(&Sequencer{}).
			Where("user_id = ?", userID).
			Select("COALESCE(MAX(ordinal), 0)")
		if err := row.Scan(&maxOrdinal).Error; err != nil {
			return fmt.Errorf("sequencer.create.ordinal_failed: %w", err)
		}
		cursor = Sequencer{
			UserID:     userID,
			NoteFileID: fileID,
			Ordinal:    maxOrdinal + 1,
		}
		if err := tx.Create(&cursor).Error; err != nil {
			return fmt.Errorf("sequencer.create.insert_failed: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &cursor, nil
}

// Delete stops tracking a file for a user.
func (t *Tracker) Delete(ctx context.Context, userID string, fileID int64) error {
	result := t.db.WithContext(ctx).
		Where("user_id = ? AND note_file_id = ?", userID, fileID).
		Delete(&Sequencer{})
	if result.Error != nil {
		return fmt.Errorf("sequencer.delete.failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCursorNotFound
	}
	return nil
}

// List returns the user's cursors in personal ordinal order, dropping files
// the user can no longer read. Revoked access hides the cursor without
// deleting it.
func (t *Tracker) List(ctx context.Context, userID string) ([]Sequencer, error) {
	var cursors []Sequencer
	err := t.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ordinal").
		Find(&cursors).Error
	if err != nil {
		return nil, fmt.Errorf("sequencer.list.query_failed: %w", err)
	}
	if t.access == nil {
		return cursors, nil
	}
	readable := cursors[:0]
	for _, cursor := range cursors {
		token, err := t.access.Resolve(ctx, userID, cursor.NoteFileID, 0)
		if err != nil {
			return nil, err
		}
		if token.ReadAccess {
			readable = append(readable, cursor)
		}
	}
	return readable, nil
}

// Reorder moves a cursor to a new personal ordinal.
func (t *Tracker) Reorder(ctx context.Context, userID string, fileID int64, ordinal int) error {
	result := t.db.WithContext(ctx).Model(&Sequencer{}).
		Where("user_id = ? AND note_file_id = ?", userID, fileID).
		Update("ordinal", ordinal)
	if result.Error != nil {
		return fmt.Errorf("sequencer.reorder.failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCursorNotFound
	}
	return nil
}

// StartPass begins a pass over one file: the cursor goes active, the pass
// start time is pinned, and the candidate headers are returned. Candidates
// are the live-archive current revisions edited at or after the cursor's
// last completed pass, deleted notes excluded, in thread order. LastTime is
// deliberately untouched here.
func (t *Tracker) StartPass(ctx context.Context, userID string, fileID int64) ([]notes.NoteHeader, error) {
	now := t.clock().UTC().Unix()
	var cursor Sequencer
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND note_file_id = ?", userID, fileID).
		Take(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sequencer.start.query_failed: %w", err)
	}

	cursor.Active = true
	cursor.StartTimeSeconds = now
	if err := t.db.WithContext(ctx).Save(&cursor).Error; err != nil {
		return nil, fmt.Errorf("sequencer.start.save_failed: %w", err)
	}

	var candidates []notes.NoteHeader
	err = t.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = 0 AND version = 0 AND is_deleted = ? AND last_edited_s >= ?",
			fileID, false, cursor.LastTimeSeconds).
		Order("note_ordinal, response_ordinal").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("sequencer.start.candidate_query_failed: %w", err)
	}
	return candidates, nil
}

// CompletePass finishes a pass: the cursor goes inactive and LastTime
// advances to the pinned start time. This is the only path that moves
// LastTime, so notes written during the pass fall into the next one.
func (t *Tracker) CompletePass(ctx context.Context, userID string, fileID int64) (*Sequencer, error) {
	var cursor Sequencer
	txErr := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND note_file_id = ?", userID, fileID).Take(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCursorNotFound
		}
		if err != nil {
			return fmt.Errorf("sequencer.complete.query_failed: %w", err)
		}
		if !cursor.Active {
			return ErrPassNotStarted
		}
		cursor.Active = false
		cursor.LastTimeSeconds = cursor.StartTimeSeconds
		if err := tx.Save(&cursor).Error; err != nil {
			return fmt.Errorf("sequencer.complete.save_failed: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &cursor, nil
}

// Next returns the user's first readable cursor whose ordinal is greater than
// afterOrdinal, wrapping to the start when nothing follows. A user with no
// readable cursors gets ErrCursorNotFound.
func (t *Tracker) Next(ctx context.Context, userID string, afterOrdinal int) (*Sequencer, error) {
	cursors, err := t.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cursors) == 0 {
		return nil, ErrCursorNotFound
	}
	for i := range cursors {
		if cursors[i].Ordinal > afterOrdinal {
			return &cursors[i], nil
		}
	}
	return &cursors[0], nil
}

// SetMark saves or replaces a user's mark at the given personal mark ordinal.
func (t *Tracker) SetMark(ctx context.Context, mark Mark) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND note_file_id = ? AND mark_ordinal = ?",
			mark.UserID, mark.NoteFileID, mark.MarkOrdinal).
			Delete(&Mark{}).Error
		if err != nil {
			return fmt.Errorf("sequencer.mark.delete_failed: %w", err)
		}
		if err := tx.Create(&mark).Error; err != nil {
			return fmt.Errorf("sequencer.mark.insert_failed: %w", err)
		}
		return nil
	})
}

// ListMarks returns a user's marks in mark ordinal order, optionally scoped
// to one file (fileID 0 means all files).
func (t *Tracker) ListMarks(ctx context.Context, userID string, fileID int64) ([]Mark, error) {
	query := t.db.WithContext(ctx).Where("user_id = ?", userID)
	if fileID != 0 {
		query = query.Where("note_file_id = ?", fileID)
	}
	var marks []Mark
	if err := query.Order("mark_ordinal").Find(&marks).Error; err != nil {
		return nil, fmt.Errorf("sequencer.mark.query_failed: %w", err)
	}
	return marks, nil
}

// DeleteMarks removes a user's marks for one file.
func (t *Tracker) DeleteMarks(ctx context.Context, userID string, fileID int64) error {
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND note_file_id = ?", userID, fileID).
		Delete(&Mark{}).Error
	if err != nil {
		return fmt.Errorf("sequencer.mark.delete_failed: %w", err)
	}
	return nil
}

// PurgeFile implements notes.FileCleanup: a deleted file takes every user's
// cursor and marks with it.
func (t *Tracker) PurgeFile(tx *gorm.DB, fileID int64) error {
	if err := tx.Where("note_file_id = ?", fileID).Delete(&Sequencer{}).Error; err != nil {
		return err
	}
	return tx.Where("note_file_id = ?", fileID).Delete(&Mark{}).Error
}
