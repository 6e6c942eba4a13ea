package link

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:noteboard_link_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&notes.NoteFile{}, &notes.NoteHeader{}, &notes.NoteContent{}, &notes.Tag{},
		&LinkedFile{}, &LinkQueue{}, &LinkLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newLinkedNotesService(t *testing.T, db *gorm.DB) *notes.Service {
	t.Helper()
	service, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000600, 0).UTC() },
		Outbox:   NewOutbox(nil),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func seedLinkedFile(t *testing.T, db *gorm.DB, linked *LinkedFile) *LinkedFile {
	t.Helper()
	if err := db.Create(linked).Error; err != nil {
		t.Fatalf("failed to seed linked file: %v", err)
	}
	return linked
}

func TestOutboxFansOutPerSendToLink(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)

	file, err := service.CreateFile(context.Background(), "user-1", "home", "Home")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror-a", RemoteBaseURI: "http://a.example", SendTo: true, Secret: "s-a",
	})
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror-b", RemoteBaseURI: "http://b.example", SendTo: true,
	})
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "inbound-only", RemoteBaseURI: "http://c.example", AcceptFrom: true,
	})

	header, err := service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "hello",
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        "hello body",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}

	var queued []LinkQueue
	if err := db.Order("id").Find(&queued).Error; err != nil {
		t.Fatalf("failed to load queue: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected one queue row per send-to link, got %d", len(queued))
	}
	for _, row := range queued {
		if row.LinkGUID != header.LinkGUID {
			t.Fatalf("expected queue row to carry the note guid")
		}
		if row.Activity != notes.ActivityCreateBase {
			t.Fatalf("expected create-base activity, got %s", row.Activity)
		}
	}
	if queued[0].Secret != "s-a" || queued[1].Secret != "" {
		t.Fatalf("expected per-link secrets on queue rows")
	}
}

func TestOutboxKeepsGUIDStableAcrossEdit(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)

	file, err := service.CreateFile(context.Background(), "user-1", "home", "Home")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror", RemoteBaseURI: "http://a.example", SendTo: true,
	})

	header, err := service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "hello",
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        "hello body",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	_, err = service.Edit(context.Background(), notes.EditInput{
		NoteHeaderID: header.ID,
		NoteSubject:  "hello again",
		Body:         "edited body",
	})
	if err != nil {
		t.Fatalf("failed to edit: %v", err)
	}

	var queued []LinkQueue
	if err := db.Order("id").Find(&queued).Error; err != nil {
		t.Fatalf("failed to load queue: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected create plus edit rows, got %d", len(queued))
	}
	if queued[0].LinkGUID != queued[1].LinkGUID {
		t.Fatalf("expected the edit to reuse the note guid")
	}
	if queued[1].Activity != notes.ActivityEdit {
		t.Fatalf("expected edit activity, got %s", queued[1].Activity)
	}
}

func TestNoOutboxRowsWithoutLinks(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)

	file, err := service.CreateFile(context.Background(), "user-1", "lonely", "Lonely")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	_, err = service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "hello",
		AuthorID:    "user-1",
		AuthorName:  "User One",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}

	var count int64
	if err := db.Model(&LinkQueue{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count queue: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected an empty queue, got %d rows", count)
	}
}
