package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

// LinkAuthorID marks headers that arrived over a link rather than from a
// local user. Replicated notes keep their original author name for display
// but never inherit a local user id.
const LinkAuthorID = "*link"

// ImporterConfig wires the inbound side of replication.
type ImporterConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Importer applies pushes from linked instances. Its embedded note service
// carries no outbox, so an imported change never echoes back out to peers.
type Importer struct {
	db     *gorm.DB
	svc    *notes.Service
	clock  func() time.Time
	logger *zap.Logger
}

// NewImporter validates the configuration and returns an Importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("link.importer.new: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := notes.NewService(notes.ServiceConfig{
		Database: cfg.Database,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &Importer{
		db:     cfg.Database,
		svc:    svc,
		clock:  clock,
		logger: logger,
	}, nil
}

// TestLinkAccess resolves which local linked-file row vouches for a push that
// names the sender's home file. When the row carries a secret the push must
// present it; rows without one accept any caller. Failure is indistinct on
// purpose: an unknown file and a bad secret report the same error.
func (im *Importer) TestLinkAccess(ctx context.Context, remoteHomeFile, secret string) (*LinkedFile, error) {
	var links []LinkedFile
	err := im.db.WithContext(ctx).
		Where("remote_file_name = ? AND accept_from = ?", remoteHomeFile, true).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("link.accept.linked_file_query_failed: %w", err)
	}
	for i := range links {
		if links[i].Secret == "" || links[i].Secret == secret {
			return &links[i], nil
		}
	}
	return nil, ErrLinkAccessDenied
}

// Accept applies one inbound push. Duplicate deliveries of the same GUID are
// absorbed: a repeated create degrades to an edit, a delete of an unknown
// GUID is acknowledged so the sender can retire its queue row.
func (im *Importer) Accept(ctx context.Context, payload *ActivityPayload) error {
	linked, err := im.TestLinkAccess(ctx, payload.HomeFile, payload.Secret)
	if err != nil {
		im.appendLog(ctx, EventRejected, fmt.Sprintf("push for home file %q rejected: %v", payload.HomeFile, err))
		return err
	}

	if err := im.apply(ctx, linked, payload); err != nil {
		im.appendLog(ctx, EventRejected, fmt.Sprintf("push %s for guid %s into file %d failed: %v",
			payload.Activity, payload.LinkGUID, linked.HomeFileID, err))
		return err
	}
	im.appendLog(ctx, EventAccepted, fmt.Sprintf("applied %s for guid %s into file %d",
		payload.Activity, payload.LinkGUID, linked.HomeFileID))
	return nil
}

func (im *Importer) apply(ctx context.Context, linked *LinkedFile, payload *ActivityPayload) error {
	existing, err := im.findByGUID(ctx, payload)
	if err != nil {
		return err
	}

	switch payload.Activity {
	case notes.ActivityCreateBase, notes.ActivityCreateResponse:
		if existing != nil {
			// Redelivery of a create the first pass already applied.
			return im.edit(ctx, existing, payload)
		}
		return im.create(ctx, linked, payload)
	case notes.ActivityEdit:
		if existing == nil {
			// The create this edit builds on was lost; materialize the note
			// from the edit's full payload instead of dropping it.
			return im.create(ctx, linked, payload)
		}
		return im.edit(ctx, existing, payload)
	case notes.ActivityDelete:
		if existing == nil {
			im.logger.Info("delete for unknown guid acknowledged",
				zap.String("link_guid", payload.LinkGUID))
			return nil
		}
		_, err := im.svc.Delete(ctx, existing.ID)
		return err
	default:
		return fmt.Errorf("link.accept.unknown_activity: %q", payload.Activity)
	}
}

// findByGUID locates the locally stored note for a push, remapping the header
// onto the new GUID when only the push's old GUID matches.
func (im *Importer) findByGUID(ctx context.Context, payload *ActivityPayload) (*notes.NoteHeader, error) {
	header, err := im.svc.GetHeaderByGUID(ctx, payload.LinkGUID)
	if err == nil {
		return header, nil
	}
	if !errors.Is(err, notes.ErrNoteNotFound) {
		return nil, err
	}
	if payload.OldLinkGUID == "" {
		return nil, nil
	}
	header, err = im.svc.GetHeaderByGUID(ctx, payload.OldLinkGUID)
	if errors.Is(err, notes.ErrNoteNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	err = im.db.WithContext(ctx).Model(&notes.NoteHeader{}).
		Where("link_guid = ?", payload.OldLinkGUID).
		Update("link_guid", payload.LinkGUID).Error
	if err != nil {
		return nil, fmt.Errorf("link.accept.guid_remap_failed: %w", err)
	}
	header.LinkGUID = payload.LinkGUID
	return header, nil
}

func (im *Importer) create(ctx context.Context, linked *LinkedFile, payload *ActivityPayload) error {
	if payload.Note == nil {
		return ErrMissingPayload
	}
	input := notes.NewNoteInput{
		NoteFileID:      linked.HomeFileID,
		NoteSubject:     payload.Note.NoteSubject,
		AuthorID:        LinkAuthorID,
		AuthorName:      payload.Note.AuthorName,
		DirectorMessage: payload.Note.DirectorMessage,
		LinkGUID:        payload.LinkGUID,
		RefID:           payload.RemoteID,
		Body:            payload.Note.Body,
		TagLine:         payload.Note.TagLine,
	}
	if payload.Note.BaseGUID == "" {
		_, err := im.svc.CreateBase(ctx, input)
		return err
	}
	base, err := im.svc.GetHeaderByGUID(ctx, payload.Note.BaseGUID)
	if errors.Is(err, notes.ErrNoteNotFound) {
		return ErrUnknownBaseGUID
	}
	if err != nil {
		return err
	}
	input.BaseNoteID = base.ID
	_, err = im.svc.CreateResponse(ctx, input)
	return err
}

func (im *Importer) edit(ctx context.Context, header *notes.NoteHeader, payload *ActivityPayload) error {
	if payload.Note == nil {
		return ErrMissingPayload
	}
	_, err := im.svc.Edit(ctx, notes.EditInput{
		NoteHeaderID:    header.ID,
		NoteSubject:     payload.Note.NoteSubject,
		DirectorMessage: payload.Note.DirectorMessage,
		Body:            payload.Note.Body,
		TagLine:         payload.Note.TagLine,
	})
	return err
}

func (im *Importer) appendLog(ctx context.Context, eventType, event string) {
	entry := LinkLog{
		EventTimeSeconds: im.clock().UTC().Unix(),
		EventType:        eventType,
		Event:            event,
	}
	if err := im.db.WithContext(ctx).Create(&entry).Error; err != nil {
		im.logger.Error("link log append failed", zap.Error(err))
	}
}
