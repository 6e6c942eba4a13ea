package notes

import "errors"

var (
	// ErrFileNotFound indicates that a referenced note file does not exist.
	ErrFileNotFound = errors.New("notes: note file not found")
	// ErrNoteNotFound indicates that a referenced header does not exist.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrBaseNoteNotFound indicates that a response references a missing or deleted base note.
	ErrBaseNoteNotFound = errors.New("notes: base note not found")
	// ErrOrdinalConflict indicates that ordinal allocation lost its retry against a concurrent writer.
	ErrOrdinalConflict = errors.New("notes: ordinal allocation conflict")
	// ErrNotBaseNote indicates an operation that requires a base note was given a response.
	ErrNotBaseNote = errors.New("notes: header is not a base note")
)

// NoteFile is a named container of threads. Archive 0 holds the live notes;
// higher archive ids are frozen rollover partitions.
type NoteFile struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID           string `gorm:"column:owner_id;size:190;not null"`
	FileName          string `gorm:"column:file_name;size:64;not null;index:idx_note_files_name"`
	FileTitle         string `gorm:"column:file_title;size:190;not null"`
	NumberArchives    int    `gorm:"column:number_archives;not null;default:0"`
	LastEditedSeconds int64  `gorm:"column:last_edited_s;not null"`
	PolicyNoteID      int64  `gorm:"column:policy_note_id;not null;default:0"`
	InhibitVersions   bool   `gorm:"column:inhibit_versions;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (NoteFile) TableName() string {
	return "note_files"
}

// NoteHeader is one node in a thread. Version 0 is the current revision;
// version > 0 rows are frozen prior revisions produced by edits. The
// uniqueness of (file, archive, ordinal, response ordinal, version) is the
// backstop that serializes concurrent ordinal allocation.
type NoteHeader struct {
	ID                      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	NoteFileID              int64  `gorm:"column:note_file_id;not null;uniqueIndex:uidx_headers_position,priority:1;index:idx_headers_file"`
	ArchiveID               int    `gorm:"column:archive_id;not null;default:0;uniqueIndex:uidx_headers_position,priority:2"`
	BaseNoteID              int64  `gorm:"column:base_note_id;not null;default:0"`
	NoteOrdinal             int    `gorm:"column:note_ordinal;not null;uniqueIndex:uidx_headers_position,priority:3"`
	ResponseOrdinal         int    `gorm:"column:response_ordinal;not null;default:0;uniqueIndex:uidx_headers_position,priority:4"`
	Version                 int    `gorm:"column:version;not null;default:0;uniqueIndex:uidx_headers_position,priority:5"`
	NoteSubject             string `gorm:"column:note_subject;size:200;not null"`
	AuthorID                string `gorm:"column:author_id;size:190;not null"`
	AuthorName              string `gorm:"column:author_name;size:190;not null"`
	CreatedAtSeconds        int64  `gorm:"column:created_at_s;not null"`
	LastEditedSeconds       int64  `gorm:"column:last_edited_s;not null"`
	ThreadLastEditedSeconds int64  `gorm:"column:thread_last_edited_s;not null"`
	ResponseCount           int    `gorm:"column:response_count;not null;default:0"`
	LinkGUID                string `gorm:"column:link_guid;size:100;index:idx_headers_link_guid"`
	RefID                   int64  `gorm:"column:ref_id;not null;default:0"`
	IsDeleted               bool   `gorm:"column:is_deleted;not null;default:false"`
	DirectorMessage         string `gorm:"column:director_message;size:200"`
}

// TableName provides the explicit table binding for GORM.
func (NoteHeader) TableName() string {
	return "note_headers"
}

// IsBase reports whether the header is the root of its thread.
func (h NoteHeader) IsBase() bool {
	return h.ResponseOrdinal == 0
}

// NoteContent holds the body text, 1:1 with a header row.
type NoteContent struct {
	NoteHeaderID int64  `gorm:"column:note_header_id;primaryKey"`
	NoteBody     string `gorm:"column:note_body;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteContent) TableName() string {
	return "note_contents"
}

// Tag labels a header. File and archive ids are denormalized for scoped lookup.
type Tag struct {
	TagText      string `gorm:"column:tag_text;size:30;primaryKey"`
	NoteHeaderID int64  `gorm:"column:note_header_id;primaryKey"`
	NoteFileID   int64  `gorm:"column:note_file_id;not null;index:idx_tags_file_archive,priority:1"`
	ArchiveID    int    `gorm:"column:archive_id;not null;default:0;index:idx_tags_file_archive,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}
