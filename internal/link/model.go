// Package link keeps locally-owned note files synchronized with linked
// copies on other server instances. Outbound changes ride a durable outbox
// drained by a background processor; inbound pushes land through the
// importer, which deduplicates by link GUID. Delivery is at-least-once and
// ordered per linked file, never globally.
package link

import (
	"errors"

	"github.com/parksidelabs/noteboard/internal/notes"
)

var (
	// ErrLinkAccessDenied indicates an inbound push that no accept-from
	// LinkedFile row (with a matching secret) vouches for.
	ErrLinkAccessDenied = errors.New("link: no accepting linked file for push")
	// ErrUnknownBaseGUID indicates a response push whose thread root never
	// arrived; the operation is aborted with no partial write.
	ErrUnknownBaseGUID = errors.New("link: response references an unknown base note")
	// ErrMissingPayload indicates a push without the note body it needs.
	ErrMissingPayload = errors.New("link: push carries no note payload")
)

// LinkedFile describes one standing mirror relationship. A home file may fan
// out to any number of remotes.
type LinkedFile struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	HomeFileID     int64  `gorm:"column:home_file_id;not null;index:idx_linked_files_home"`
	HomeFileName   string `gorm:"column:home_file_name;size:64;not null"`
	RemoteFileName string `gorm:"column:remote_file_name;size:64;not null;index:idx_linked_files_remote"`
	RemoteBaseURI  string `gorm:"column:remote_base_uri;size:250;not null"`
	AcceptFrom     bool   `gorm:"column:accept_from;not null;default:false"`
	SendTo         bool   `gorm:"column:send_to;not null;default:false"`
	Secret         string `gorm:"column:secret;size:50"`
}

// TableName provides the explicit table binding for GORM.
func (LinkedFile) TableName() string {
	return "linked_files"
}

// LinkQueue is one durable outbox entry. Rows drain in id order per linked
// file; a row survives until its delivery is acknowledged.
type LinkQueue struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	LinkedFileID int64          `gorm:"column:linked_file_id;not null;index:idx_link_queue_linked_file"`
	LinkGUID     string         `gorm:"column:link_guid;size:100;not null"`
	Activity     notes.Activity `gorm:"column:activity;size:20;not null"`
	BaseURI      string         `gorm:"column:base_uri;size:250;not null"`
	Enqueued     bool           `gorm:"column:enqueued;not null;default:false"`
	Secret       string         `gorm:"column:secret;size:50"`
	OldLinkGUID  string         `gorm:"column:old_link_guid;size:100"`
}

// TableName provides the explicit table binding for GORM.
func (LinkQueue) TableName() string {
	return "link_queue"
}

// LinkLog is the append-only audit trail of replication outcomes. Rows are
// written by the processor and importer and never mutated.
type LinkLog struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EventTimeSeconds int64  `gorm:"column:event_time_s;not null"`
	EventType        string `gorm:"column:event_type;size:20;not null"`
	Event            string `gorm:"column:event;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LinkLog) TableName() string {
	return "link_log"
}

// Audit event types.
const (
	EventDelivered = "delivered"
	EventFailed    = "failed"
	EventAccepted  = "accepted"
	EventRejected  = "rejected"
)

// NotePayload is the portable shape of one note crossing instances.
type NotePayload struct {
	NoteSubject       string `json:"note_subject"`
	AuthorName        string `json:"author_name"`
	DirectorMessage   string `json:"director_message,omitempty"`
	Body              string `json:"body"`
	TagLine           string `json:"tag_line,omitempty"`
	BaseGUID          string `json:"base_guid,omitempty"`
	CreatedAtSeconds  int64  `json:"created_at_s"`
	LastEditedSeconds int64  `json:"last_edited_s"`
}

// ActivityPayload is the body of one replication push. HomeFile names the
// sender's file; the receiver resolves it against its own LinkedFile rows.
type ActivityPayload struct {
	Activity    notes.Activity `json:"activity"`
	HomeFile    string         `json:"home_file"`
	LinkGUID    string         `json:"link_guid"`
	OldLinkGUID string         `json:"old_link_guid,omitempty"`
	RemoteID    int64          `json:"remote_id,omitempty"`
	Secret      string         `json:"secret,omitempty"`
	Note        *NotePayload   `json:"note,omitempty"`
}
