package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "notes.service.new"
	opCreateFile     = "notes.create_file"
	opUpdateFile     = "notes.update_file"
	opDeleteFile     = "notes.delete_file"
	opCreateBase     = "notes.create_base"
	opCreateResponse = "notes.create_response"
	opEdit           = "notes.edit"
	opDelete         = "notes.delete"
	opCopy           = "notes.copy"
	opRead           = "notes.read"
	opSearch         = "notes.search"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Activity names a change kind propagated to linked remote files.
type Activity string

const (
	ActivityCreateBase     Activity = "create-base"
	ActivityCreateResponse Activity = "create-response"
	ActivityEdit           Activity = "edit"
	ActivityDelete         Activity = "delete"
)

// Outbox receives change notifications inside the committing transaction so
// replication rows land atomically with the note write.
type Outbox interface {
	Enqueue(tx *gorm.DB, activity Activity, header *NoteHeader) error
}

// GrantStore seeds and removes per-file access rows inside the file
// lifecycle transaction.
type GrantStore interface {
	SeedBaseEntries(tx *gorm.DB, ownerID string, fileID int64, archiveID int) error
	DeleteFileGrants(tx *gorm.DB, fileID int64) error
}

// FileCleanup removes a collaborator's per-file rows inside the file delete
// transaction. Sequencer cursors, marks and link relationships register here.
type FileCleanup interface {
	PurgeFile(tx *gorm.DB, fileID int64) error
}

// ServiceConfig wires the thread manager's collaborators.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Grants   GrantStore
	Outbox   Outbox
	Cleanups []FileCleanup
	Logger   *zap.Logger
}

// Service owns note files, threads and their ordinal bookkeeping.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	grants   GrantStore
	outbox   Outbox
	cleanups []FileCleanup
	logger   *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		grants:   cfg.Grants,
		outbox:   cfg.Outbox,
		cleanups: cfg.Cleanups,
		logger:   logger,
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Service) now() int64 {
	return s.clock().UTC().Unix()
}

// CreateFile creates a named note file and seeds its access entries: an
// all-false "Other" row and an all-true owner row.
func (s *Service) CreateFile(ctx context.Context, ownerID, fileName, fileTitle string) (*NoteFile, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, newServiceError(opCreateFile, "missing_file_name", errors.New("file name is required"))
	}
	file := &NoteFile{
		OwnerID:           ownerID,
		FileName:          fileName,
		FileTitle:         fileTitle,
		LastEditedSeconds: s.now(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			return newServiceError(opCreateFile, "file_insert_failed", err)
		}
		if s.grants != nil {
			if err := s.grants.SeedBaseEntries(tx, ownerID, file.ID, 0); err != nil {
				return newServiceError(opCreateFile, "grant_seed_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateFile, txErr, zap.String("file_name", fileName))
		return nil, txErr
	}
	return file, nil
}

// UpdateFile renames or retitles a file and toggles version inhibition.
func (s *Service) UpdateFile(ctx context.Context, fileID int64, fileName, fileTitle string, inhibitVersions bool) (*NoteFile, error) {
	var file NoteFile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := takeFile(tx, fileID, &file); err != nil {
			return newServiceError(opUpdateFile, "file_missing", err)
		}
		file.FileName = fileName
		file.FileTitle = fileTitle
		file.InhibitVersions = inhibitVersions
		if err := tx.Save(&file).Error; err != nil {
			return newServiceError(opUpdateFile, "file_save_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// SetFilePolicy marks a base note as the file's policy note; zero clears it.
func (s *Service) SetFilePolicy(ctx context.Context, fileID, policyNoteID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file NoteFile
		if err := takeFile(tx, fileID, &file); err != nil {
			return newServiceError(opUpdateFile, "file_missing", err)
		}
		file.PolicyNoteID = policyNoteID
		if err := tx.Save(&file).Error; err != nil {
			return newServiceError(opUpdateFile, "file_save_failed", err)
		}
		return nil
	})
}

// DeleteFile hard-deletes a file and its dependents in explicit order:
// tags, contents, headers, grants, registered cleanups, then the file row.
func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file NoteFile
		if err := takeFile(tx, fileID, &file); err != nil {
			return newServiceError(opDeleteFile, "file_missing", err)
		}
		if err := tx.Where("note_file_id = ?", fileID).Delete(&Tag{}).Error; err != nil {
			return newServiceError(opDeleteFile, "tag_delete_failed", err)
		}
		if err := tx.Where("note_header_id IN (?)",
			tx.Model(&NoteHeader{}).Select("id").Where("note_file_id = ?", fileID),
		).Delete(&NoteContent{}).Error; err != nil {
			return newServiceError(opDeleteFile, "content_delete_failed", err)
		}
		if err := tx.Where("note_file_id = ?", fileID).Delete(&NoteHeader{}).Error; err != nil {
			return newServiceError(opDeleteFile, "header_delete_failed", err)
		}
		if s.grants != nil {
			if err := s.grants.DeleteFileGrants(tx, fileID); err != nil {
				return newServiceError(opDeleteFile, "grant_delete_failed", err)
			}
		}
		for _, cleanup := range s.cleanups {
			if err := cleanup.PurgeFile(tx, fileID); err != nil {
				return newServiceError(opDeleteFile, "dependent_delete_failed", err)
			}
		}
		if err := tx.Delete(&file).Error; err != nil {
			return newServiceError(opDeleteFile, "file_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteFile, txErr, zap.Int64("file_id", fileID))
	}
	return txErr
}

// GetFile loads one file by id.
func (s *Service) GetFile(ctx context.Context, fileID int64) (*NoteFile, error) {
	var file NoteFile
	if err := takeFile(s.db.WithContext(ctx), fileID, &file); err != nil {
		return nil, newServiceError(opRead, "file_missing", err)
	}
	return &file, nil
}

// GetFileByName loads one file by its short name. Names are case sensitive.
func (s *Service) GetFileByName(ctx context.Context, fileName string) (*NoteFile, error) {
	var file NoteFile
	err := s.db.WithContext(ctx).Where("file_name = ?", fileName).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opRead, "file_missing", ErrFileNotFound)
	}
	if err != nil {
		return nil, newServiceError(opRead, "file_query_failed", err)
	}
	return &file, nil
}

// ListFiles returns all files ordered by name.
func (s *Service) ListFiles(ctx context.Context) ([]NoteFile, error) {
	var files []NoteFile
	if err := s.db.WithContext(ctx).Order("file_name").Find(&files).Error; err != nil {
		return nil, newServiceError(opRead, "file_query_failed", err)
	}
	return files, nil
}

// NewNoteInput carries the caller-supplied fields for a new base note or response.
type NewNoteInput struct {
	NoteFileID      int64
	ArchiveID       int
	BaseNoteID      int64
	NoteSubject     string
	AuthorID        string
	AuthorName      string
	DirectorMessage string
	LinkGUID        string
	RefID           int64
	Body            string
	TagLine         string
}

// CreateBase persists a new thread root: next note ordinal in the file and
// archive, response ordinal 0. A lost ordinal race is retried once with a
// recomputed ordinal before surfacing a conflict.
func (s *Service) CreateBase(ctx context.Context, input NewNoteInput) (*NoteHeader, error) {
	now := s.now()
	header := &NoteHeader{
		NoteFileID:              input.NoteFileID,
		ArchiveID:               input.ArchiveID,
		NoteSubject:             input.NoteSubject,
		AuthorID:                input.AuthorID,
		AuthorName:              input.AuthorName,
		DirectorMessage:         input.DirectorMessage,
		LinkGUID:                input.LinkGUID,
		RefID:                   input.RefID,
		CreatedAtSeconds:        now,
		LastEditedSeconds:       now,
		ThreadLastEditedSeconds: now,
	}
	if header.LinkGUID == "" {
		header.LinkGUID = uuid.NewString()
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file NoteFile
		if err := takeFile(tx, input.NoteFileID, &file); err != nil {
			return newServiceError(opCreateBase, "file_missing", err)
		}

		insert := func() error {
			var maxOrdinal int
			row := tx.Model(&NoteHeader{}).
				Where("note_file_id = ? AND archive_id = ?", input.NoteFileID, input.ArchiveID).
				Select("COALESCE(MAX(note_ordinal), 0)")
			if err := row.Scan(&maxOrdinal).Error; err != nil {
				return err
			}
			header.ID = 0
			header.NoteOrdinal = maxOrdinal + 1
			return tx.Create(header).Error
		}
		err := insert()
		if isUniqueViolation(err) {
			err = insert()
		}
		if isUniqueViolation(err) {
			return newServiceError(opCreateBase, "ordinal_conflict", ErrOrdinalConflict)
		}
		if err != nil {
			return newServiceError(opCreateBase, "header_insert_failed", err)
		}

		if err := s.writeBodyAndTags(tx, header, input.Body, input.TagLine); err != nil {
			return newServiceError(opCreateBase, "content_insert_failed", err)
		}
		if err := touchFile(tx, &file, now); err != nil {
			return newServiceError(opCreateBase, "file_touch_failed", err)
		}
		return s.notifyOutbox(tx, opCreateBase, ActivityCreateBase, header)
	})
	if txErr != nil {
		s.logError(opCreateBase, txErr, zap.Int64("file_id", input.NoteFileID))
		return nil, txErr
	}
	return header, nil
}

// CreateResponse persists a reply under an existing base note and bumps the
// base's response count and thread-last-edited time.
func (s *Service) CreateResponse(ctx context.Context, input NewNoteInput) (*NoteHeader, error) {
	now := s.now()
	header := &NoteHeader{
		NoteFileID:              input.NoteFileID,
		ArchiveID:               input.ArchiveID,
		BaseNoteID:              input.BaseNoteID,
		NoteSubject:             input.NoteSubject,
		AuthorID:                input.AuthorID,
		AuthorName:              input.AuthorName,
		DirectorMessage:         input.DirectorMessage,
		LinkGUID:                input.LinkGUID,
		RefID:                   input.RefID,
		CreatedAtSeconds:        now,
		LastEditedSeconds:       now,
		ThreadLastEditedSeconds: now,
	}
	if header.LinkGUID == "" {
		header.LinkGUID = uuid.NewString()
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file NoteFile
		if err := takeFile(tx, input.NoteFileID, &file); err != nil {
			return newServiceError(opCreateResponse, "file_missing", err)
		}

		var base NoteHeader
		err := tx.Where("id = ? AND version = 0", input.BaseNoteID).Take(&base).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCreateResponse, "base_missing", ErrBaseNoteNotFound)
		}
		if err != nil {
			return newServiceError(opCreateResponse, "base_query_failed", err)
		}
		if !base.IsBase() || base.IsDeleted {
			return newServiceError(opCreateResponse, "base_invalid", ErrBaseNoteNotFound)
		}

		header.NoteOrdinal = base.NoteOrdinal

		insert := func() error {
			// Deleted responses keep their ordinals, so allocation walks
			// past them instead of reusing the count.
			var maxResponse int
			row := tx.Model(&NoteHeader{}).
				Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND version = 0",
					input.NoteFileID, input.ArchiveID, base.NoteOrdinal).
				Select("COALESCE(MAX(response_ordinal), 0)")
			if err := row.Scan(&maxResponse).Error; err != nil {
				return err
			}
			if maxResponse < base.ResponseCount {
				maxResponse = base.ResponseCount
			}
			header.ID = 0
			header.ResponseOrdinal = maxResponse + 1
			return tx.Create(header).Error
		}
		err = insert()
		if isUniqueViolation(err) {
			err = insert()
		}
		if isUniqueViolation(err) {
			return newServiceError(opCreateResponse, "ordinal_conflict", ErrOrdinalConflict)
		}
		if err != nil {
			return newServiceError(opCreateResponse, "header_insert_failed", err)
		}

		if err := s.writeBodyAndTags(tx, header, input.Body, input.TagLine); err != nil {
			return newServiceError(opCreateResponse, "content_insert_failed", err)
		}

		base.ResponseCount = header.ResponseOrdinal
		base.ThreadLastEditedSeconds = now
		if err := tx.Save(&base).Error; err != nil {
			return newServiceError(opCreateResponse, "base_update_failed", err)
		}
		if err := touchFile(tx, &file, now); err != nil {
			return newServiceError(opCreateResponse, "file_touch_failed", err)
		}
		return s.notifyOutbox(tx, opCreateResponse, ActivityCreateResponse, header)
	})
	if txErr != nil {
		s.logError(opCreateResponse, txErr,
			zap.Int64("file_id", input.NoteFileID),
			zap.Int64("base_note_id", input.BaseNoteID))
		return nil, txErr
	}
	return header, nil
}

// EditInput carries replacement fields for an existing note.
type EditInput struct {
	NoteHeaderID    int64
	NoteSubject     string
	DirectorMessage string
	Body            string
	TagLine         string
}

// Edit replaces the current revision in place. Unless the file inhibits
// versions, the prior revision is first cloned to the next version number so
// GetVersions can return it.
func (s *Service) Edit(ctx context.Context, input EditInput) (*NoteHeader, error) {
	now := s.now()
	var header NoteHeader
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND version = 0", input.NoteHeaderID).Take(&header).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opEdit, "note_missing", ErrNoteNotFound)
		}
		if err != nil {
			return newServiceError(opEdit, "note_query_failed", err)
		}

		var file NoteFile
		if err := takeFile(tx, header.NoteFileID, &file); err != nil {
			return newServiceError(opEdit, "file_missing", err)
		}

		if !file.InhibitVersions {
			if err := s.archiveVersion(tx, &header); err != nil {
				return newServiceError(opEdit, "version_clone_failed", err)
			}
		}

		header.NoteSubject = input.NoteSubject
		header.DirectorMessage = input.DirectorMessage
		header.LastEditedSeconds = now
		header.ThreadLastEditedSeconds = now
		if err := tx.Save(&header).Error; err != nil {
			return newServiceError(opEdit, "header_save_failed", err)
		}
		if err := tx.Model(&NoteContent{}).
			Where("note_header_id = ?", header.ID).
			Update("note_body", input.Body).Error; err != nil {
			return newServiceError(opEdit, "content_save_failed", err)
		}
		if err := s.replaceTags(tx, &header, input.TagLine); err != nil {
			return newServiceError(opEdit, "tag_save_failed", err)
		}
		if err := s.touchThread(tx, &header, now); err != nil {
			return newServiceError(opEdit, "thread_touch_failed", err)
		}
		if err := touchFile(tx, &file, now); err != nil {
			return newServiceError(opEdit, "file_touch_failed", err)
		}
		return s.notifyOutbox(tx, opEdit, ActivityEdit, &header)
	})
	if txErr != nil {
		s.logError(opEdit, txErr, zap.Int64("note_header_id", input.NoteHeaderID))
		return nil, txErr
	}
	return &header, nil
}

// archiveVersion clones the version-0 row, its content and tags into a frozen
// revision numbered one past the highest existing version.
func (s *Service) archiveVersion(tx *gorm.DB, header *NoteHeader) error {
	var maxVersion int
	row := tx.Model(&NoteHeader{}).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal = ?",
			header.NoteFileID, header.ArchiveID, header.NoteOrdinal, header.ResponseOrdinal).
		Select("COALESCE(MAX(version), 0)")
	if err := row.Scan(&maxVersion).Error; err != nil {
		return err
	}

	frozen := *header
	frozen.ID = 0
	frozen.Version = maxVersion + 1
	if err := tx.Create(&frozen).Error; err != nil {
		return err
	}

	var content NoteContent
	if err := tx.Where("note_header_id = ?", header.ID).Take(&content).Error; err != nil {
		return err
	}
	if err := tx.Create(&NoteContent{NoteHeaderID: frozen.ID, NoteBody: content.NoteBody}).Error; err != nil {
		return err
	}

	var tags []Tag
	if err := tx.Where("note_header_id = ?", header.ID).Find(&tags).Error; err != nil {
		return err
	}
	for _, tag := range tags {
		clone := Tag{TagText: tag.TagText, NoteHeaderID: frozen.ID, NoteFileID: tag.NoteFileID, ArchiveID: tag.ArchiveID}
		if err := tx.Create(&clone).Error; err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes a note. Deleting a base note also soft-deletes its
// responses so readers never see an orphaned thread tail. Ordinals are never
// renumbered and content and tags stay behind for versioning.
func (s *Service) Delete(ctx context.Context, noteHeaderID int64) (*NoteHeader, error) {
	now := s.now()
	var header NoteHeader
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND version = 0", noteHeaderID).Take(&header).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, "note_missing", ErrNoteNotFound)
		}
		if err != nil {
			return newServiceError(opDelete, "note_query_failed", err)
		}

		header.IsDeleted = true
		if err := tx.Save(&header).Error; err != nil {
			return newServiceError(opDelete, "header_save_failed", err)
		}
		if header.IsBase() {
			if err := tx.Model(&NoteHeader{}).
				Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal > 0 AND version = 0",
					header.NoteFileID, header.ArchiveID, header.NoteOrdinal).
				Update("is_deleted", true).Error; err != nil {
				return newServiceError(opDelete, "response_delete_failed", err)
			}
		}

		var file NoteFile
		if err := takeFile(tx, header.NoteFileID, &file); err != nil {
			return newServiceError(opDelete, "file_missing", err)
		}
		if err := touchFile(tx, &file, now); err != nil {
			return newServiceError(opDelete, "file_touch_failed", err)
		}
		return s.notifyOutbox(tx, opDelete, ActivityDelete, &header)
	})
	if txErr != nil {
		s.logError(opDelete, txErr, zap.Int64("note_header_id", noteHeaderID))
		return nil, txErr
	}
	return &header, nil
}

// Copy re-homes one note, or a whole thread, into the target file. File-local
// identity is stripped and re-derived there, and each body gains a provenance
// banner naming the source.
func (s *Service) Copy(ctx context.Context, copierID, copierName string, noteHeaderID, targetFileID int64, wholeThread bool) (*NoteHeader, error) {
	var source NoteHeader
	err := s.db.WithContext(ctx).Where("id = ? AND version = 0", noteHeaderID).Take(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opCopy, "note_missing", ErrNoteNotFound)
	}
	if err != nil {
		return nil, newServiceError(opCopy, "note_query_failed", err)
	}

	sourceFile, err := s.GetFile(ctx, source.NoteFileID)
	if err != nil {
		return nil, err
	}

	if !wholeThread {
		return s.copyOne(ctx, copierID, copierName, &source, sourceFile, targetFileID, 0)
	}

	var base NoteHeader
	err = s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal = 0 AND version = 0",
			source.NoteFileID, source.ArchiveID, source.NoteOrdinal).
		Take(&base).Error
	if err != nil {
		return nil, newServiceError(opCopy, "base_query_failed", err)
	}

	newBase, err := s.copyOne(ctx, copierID, copierName, &base, sourceFile, targetFileID, 0)
	if err != nil {
		return nil, err
	}

	var responses []NoteHeader
	err = s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal > 0 AND version = 0 AND is_deleted = ?",
			base.NoteFileID, base.ArchiveID, base.NoteOrdinal, false).
		Order("response_ordinal").
		Find(&responses).Error
	if err != nil {
		return nil, newServiceError(opCopy, "response_query_failed", err)
	}
	for i := range responses {
		if _, err := s.copyOne(ctx, copierID, copierName, &responses[i], sourceFile, targetFileID, newBase.ID); err != nil {
			return nil, err
		}
	}
	return newBase, nil
}

func (s *Service) copyOne(ctx context.Context, copierID, copierName string, source *NoteHeader, sourceFile *NoteFile, targetFileID, targetBaseID int64) (*NoteHeader, error) {
	var content NoteContent
	if err := s.db.WithContext(ctx).Where("note_header_id = ?", source.ID).Take(&content).Error; err != nil {
		return nil, newServiceError(opCopy, "content_query_failed", err)
	}
	var tags []Tag
	if err := s.db.WithContext(ctx).Where("note_header_id = ?", source.ID).Find(&tags).Error; err != nil {
		return nil, newServiceError(opCopy, "tag_query_failed", err)
	}

	input := NewNoteInput{
		NoteFileID:      targetFileID,
		BaseNoteID:      targetBaseID,
		NoteSubject:     source.NoteSubject,
		AuthorID:        copierID,
		AuthorName:      copierName,
		DirectorMessage: source.DirectorMessage,
		Body:            provenanceBanner(sourceFile, source) + content.NoteBody,
		TagLine:         tagLineOf(tags),
	}
	if targetBaseID == 0 {
		return s.CreateBase(ctx, input)
	}
	return s.CreateResponse(ctx, input)
}

func provenanceBanner(file *NoteFile, header *NoteHeader) string {
	created := time.Unix(header.CreatedAtSeconds, 0).UTC().Format("2006-01-02")
	return fmt.Sprintf("From: %s - %s - %s - %s\n\n",
		file.FileName, header.NoteSubject, header.AuthorName, created)
}

// GetVersions returns the frozen revisions of one note, oldest first.
func (s *Service) GetVersions(ctx context.Context, fileID int64, archiveID, noteOrdinal, responseOrdinal int) ([]NoteHeader, error) {
	var versions []NoteHeader
	err := s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal = ? AND version <> 0",
			fileID, archiveID, noteOrdinal, responseOrdinal).
		Order("version").
		Find(&versions).Error
	if err != nil {
		return nil, newServiceError(opRead, "version_query_failed", err)
	}
	return versions, nil
}

// GetHeader loads one header row by id, any version.
func (s *Service) GetHeader(ctx context.Context, noteHeaderID int64) (*NoteHeader, error) {
	var header NoteHeader
	err := s.db.WithContext(ctx).Where("id = ?", noteHeaderID).Take(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opRead, "note_missing", ErrNoteNotFound)
	}
	if err != nil {
		return nil, newServiceError(opRead, "note_query_failed", err)
	}
	return &header, nil
}

// GetHeaderByGUID loads the current revision carrying a link GUID.
func (s *Service) GetHeaderByGUID(ctx context.Context, linkGUID string) (*NoteHeader, error) {
	var header NoteHeader
	err := s.db.WithContext(ctx).Where("link_guid = ? AND version = 0", linkGUID).Take(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opRead, "note_missing", ErrNoteNotFound)
	}
	if err != nil {
		return nil, newServiceError(opRead, "note_query_failed", err)
	}
	return &header, nil
}

// ListBaseNotes returns the active thread roots of a file and archive in
// ordinal order.
func (s *Service) ListBaseNotes(ctx context.Context, fileID int64, archiveID int) ([]NoteHeader, error) {
	var headers []NoteHeader
	err := s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND response_ordinal = 0 AND version = 0 AND is_deleted = ?",
			fileID, archiveID, false).
		Order("note_ordinal").
		Find(&headers).Error
	if err != nil {
		return nil, newServiceError(opRead, "header_query_failed", err)
	}
	return headers, nil
}

// GetThread returns the active base note and responses of one thread,
// ordered by response ordinal.
func (s *Service) GetThread(ctx context.Context, fileID int64, archiveID, noteOrdinal int) ([]NoteHeader, error) {
	var headers []NoteHeader
	err := s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND version = 0 AND is_deleted = ?",
			fileID, archiveID, noteOrdinal, false).
		Order("response_ordinal").
		Find(&headers).Error
	if err != nil {
		return nil, newServiceError(opRead, "header_query_failed", err)
	}
	return headers, nil
}

// GetContent loads the body for one header.
func (s *Service) GetContent(ctx context.Context, noteHeaderID int64) (*NoteContent, error) {
	var content NoteContent
	err := s.db.WithContext(ctx).Where("note_header_id = ?", noteHeaderID).Take(&content).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opRead, "content_missing", ErrNoteNotFound)
	}
	if err != nil {
		return nil, newServiceError(opRead, "content_query_failed", err)
	}
	return &content, nil
}

// GetTags loads the tags attached to one header.
func (s *Service) GetTags(ctx context.Context, noteHeaderID int64) ([]Tag, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).Where("note_header_id = ?", noteHeaderID).Order("tag_text").Find(&tags).Error; err != nil {
		return nil, newServiceError(opRead, "tag_query_failed", err)
	}
	return tags, nil
}

// ActiveNoteCount counts the non-deleted current base notes in a file and archive.
func (s *Service) ActiveNoteCount(ctx context.Context, fileID int64, archiveID int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&NoteHeader{}).
		Where("note_file_id = ? AND archive_id = ? AND response_ordinal = 0 AND version = 0 AND is_deleted = ?",
			fileID, archiveID, false).
		Count(&count).Error
	if err != nil {
		return 0, newServiceError(opRead, "count_failed", err)
	}
	return count, nil
}

func (s *Service) writeBodyAndTags(tx *gorm.DB, header *NoteHeader, body, tagLine string) error {
	if err := tx.Create(&NoteContent{NoteHeaderID: header.ID, NoteBody: body}).Error; err != nil {
		return err
	}
	return s.replaceTags(tx, header, tagLine)
}

func (s *Service) replaceTags(tx *gorm.DB, header *NoteHeader, tagLine string) error {
	if err := tx.Where("note_header_id = ?", header.ID).Delete(&Tag{}).Error; err != nil {
		return err
	}
	for _, text := range parseTagLine(tagLine) {
		tag := Tag{TagText: text, NoteHeaderID: header.ID, NoteFileID: header.NoteFileID, ArchiveID: header.ArchiveID}
		if err := tx.Create(&tag).Error; err != nil {
			return err
		}
	}
	return nil
}

// touchThread propagates an edit time to the thread root.
func (s *Service) touchThread(tx *gorm.DB, header *NoteHeader, now int64) error {
	if header.IsBase() {
		return nil
	}
	return tx.Model(&NoteHeader{}).
		Where("note_file_id = ? AND archive_id = ? AND note_ordinal = ? AND response_ordinal = 0 AND version = 0",
			header.NoteFileID, header.ArchiveID, header.NoteOrdinal).
		Update("thread_last_edited_s", now).Error
}

func (s *Service) notifyOutbox(tx *gorm.DB, operation string, activity Activity, header *NoteHeader) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(tx, activity, header); err != nil {
		return newServiceError(operation, "outbox_enqueue_failed", err)
	}
	return nil
}

func takeFile(tx *gorm.DB, fileID int64, file *NoteFile) error {
	err := tx.Where("id = ?", fileID).Take(file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrFileNotFound
	}
	return err
}

func touchFile(tx *gorm.DB, file *NoteFile, now int64) error {
	file.LastEditedSeconds = now
	return tx.Save(file).Error
}

// parseTagLine splits a space or comma separated tag line into unique,
// lower-cased tags.
func parseTagLine(tagLine string) []string {
	fields := strings.FieldsFunc(tagLine, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, len(fields))
	for _, field := range fields {
		tag := strings.ToLower(strings.TrimSpace(field))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

func tagLineOf(tags []Tag) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		parts = append(parts, tag.TagText)
	}
	return strings.Join(parts, " ")
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Error("notes service error", attrs...)
}
