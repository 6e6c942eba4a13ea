// Package sequencer tracks per-user reading cursors over note files. A
// cursor only advances when the user completes a pass over a file, so a note
// that arrives mid-pass is re-offered on the next one rather than skipped.
package sequencer

import "errors"

var (
	// ErrCursorNotFound indicates the user tracks no cursor for the file.
	ErrCursorNotFound = errors.New("sequencer: cursor not found")
	// ErrPassNotStarted indicates CompletePass without a matching StartPass.
	ErrPassNotStarted = errors.New("sequencer: no pass in progress")
)

// Sequencer is one user's cursor over one note file. LastTime is the lower
// bound of the next pass; StartTime is captured when a pass begins and
// becomes the new LastTime only when the pass completes.
type Sequencer struct {
	UserID           string `gorm:"column:user_id;size:190;primaryKey"`
	NoteFileID       int64  `gorm:"column:note_file_id;primaryKey"`
	Ordinal          int    `gorm:"column:ordinal;not null"`
	LastTimeSeconds  int64  `gorm:"column:last_time_s;not null"`
	StartTimeSeconds int64  `gorm:"column:start_time_s;not null"`
	Active           bool   `gorm:"column:active;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Sequencer) TableName() string {
	return "sequencers"
}

// Mark is a user's saved pointer at a note. ResponseOrdinal -1 points at the
// whole thread, 0 at the base note, greater values at one response.
type Mark struct {
	UserID          string `gorm:"column:user_id;size:190;primaryKey"`
	NoteFileID      int64  `gorm:"column:note_file_id;primaryKey"`
	MarkOrdinal     int    `gorm:"column:mark_ordinal;primaryKey"`
	ArchiveID       int    `gorm:"column:archive_id;not null;default:0"`
	NoteOrdinal     int    `gorm:"column:note_ordinal;not null"`
	NoteHeaderID    int64  `gorm:"column:note_header_id;not null"`
	ResponseOrdinal int    `gorm:"column:response_ordinal;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Mark) TableName() string {
	return "marks"
}
