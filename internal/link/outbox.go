package link

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

// Outbox fans a committed note change out to one LinkQueue row per send-to
// LinkedFile. It runs inside the note write's transaction, so the outbox row
// and the note land or fail together.
type Outbox struct {
	logger *zap.Logger
}

// NewOutbox returns an Outbox; the logger may be nil.
func NewOutbox(logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{logger: logger}
}

// Enqueue implements notes.Outbox.
func (o *Outbox) Enqueue(tx *gorm.DB, activity notes.Activity, header *notes.NoteHeader) error {
	var links []LinkedFile
	err := tx.Where("home_file_id = ? AND send_to = ?", header.NoteFileID, true).Find(&links).Error
	if err != nil {
		return err
	}
	for _, linked := range links {
		entry := LinkQueue{
			LinkedFileID: linked.ID,
			LinkGUID:     header.LinkGUID,
			Activity:     activity,
			BaseURI:      linked.RemoteBaseURI,
			Secret:       linked.Secret,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		o.logger.Debug("replication event enqueued",
			zap.Int64("linked_file_id", linked.ID),
			zap.String("activity", string(activity)),
			zap.String("link_guid", header.LinkGUID))
	}
	return nil
}
