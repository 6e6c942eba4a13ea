package link

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/parksidelabs/noteboard/internal/notes"
)

type acceptRecorder struct {
	mu       sync.Mutex
	payloads []ActivityPayload
	status   int
}

func (r *acceptRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var payload ActivityPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *acceptRecorder) received() []ActivityPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityPayload, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func newTestProcessor(t *testing.T, db *gorm.DB) *Processor {
	t.Helper()
	processor, err := NewProcessor(ProcessorConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000700, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct processor: %v", err)
	}
	return processor
}

func TestProcessOnceDeliversAndDrains(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)
	recorder := &acceptRecorder{}
	remote := httptest.NewServer(recorder)
	defer remote.Close()

	file, err := service.CreateFile(context.Background(), "user-1", "home", "Home")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror", RemoteBaseURI: remote.URL, SendTo: true, Secret: "hush",
	})

	base, err := service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "hello",
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        "hello body",
		TagLine:     "greetings",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	_, err = service.CreateResponse(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		BaseNoteID:  base.ID,
		NoteSubject: "reply",
		AuthorID:    "user-2",
		AuthorName:  "User Two",
		Body:        "reply body",
	})
	if err != nil {
		t.Fatalf("failed to create response: %v", err)
	}

	processor := newTestProcessor(t, db)
	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	received := recorder.received()
	if len(received) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(received))
	}
	if received[0].Activity != notes.ActivityCreateBase || received[1].Activity != notes.ActivityCreateResponse {
		t.Fatalf("expected deliveries in queue order, got %s then %s", received[0].Activity, received[1].Activity)
	}
	first := received[0]
	if first.HomeFile != "home" || first.Secret != "hush" || first.LinkGUID != base.LinkGUID {
		t.Fatalf("unexpected envelope: %+v", first)
	}
	if first.Note == nil || first.Note.Body != "hello body" || first.Note.TagLine != "greetings" {
		t.Fatalf("unexpected note payload: %+v", first.Note)
	}
	if received[1].Note == nil || received[1].Note.BaseGUID != base.LinkGUID {
		t.Fatalf("expected the response to carry its base guid")
	}

	var remaining int64
	if err := db.Model(&LinkQueue{}).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count queue: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected the queue drained, got %d rows", remaining)
	}

	var delivered int64
	if err := db.Model(&LinkLog{}).Where("event_type = ?", EventDelivered).Count(&delivered).Error; err != nil {
		t.Fatalf("failed to count log: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expected two delivered log entries, got %d", delivered)
	}
}

func TestFailedDeliveryLeavesRowPendingAndStopsQueue(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)
	recorder := &acceptRecorder{status: http.StatusInternalServerError}
	remote := httptest.NewServer(recorder)
	defer remote.Close()

	file, err := service.CreateFile(context.Background(), "user-1", "home", "Home")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror", RemoteBaseURI: remote.URL, SendTo: true,
	})

	base, err := service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "first",
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        "first body",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	_, err = service.Edit(context.Background(), notes.EditInput{
		NoteHeaderID: base.ID,
		NoteSubject:  "first edited",
		Body:         "edited body",
	})
	if err != nil {
		t.Fatalf("failed to edit: %v", err)
	}

	processor := newTestProcessor(t, db)
	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// The first row failed, so the second never left the queue.
	if got := len(recorder.received()); got != 1 {
		t.Fatalf("expected the queue to stop after the first failure, got %d deliveries", got)
	}

	var rows []LinkQueue
	if err := db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load queue: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both rows retained, got %d", len(rows))
	}
	if rows[0].Enqueued {
		t.Fatalf("expected the failed row reset to pending")
	}

	var failed int64
	if err := db.Model(&LinkLog{}).Where("event_type = ?", EventFailed).Count(&failed).Error; err != nil {
		t.Fatalf("failed to count log: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected one failure log entry, got %d", failed)
	}

	// A later pass against a recovered remote drains the rest in order.
	recorder.mu.Lock()
	recorder.status = http.StatusOK
	recorder.mu.Unlock()
	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	received := recorder.received()
	if len(received) != 3 {
		t.Fatalf("expected redelivery plus the parked row, got %d", len(received))
	}
	if received[1].Activity != notes.ActivityCreateBase || received[2].Activity != notes.ActivityEdit {
		t.Fatalf("expected in-order redelivery, got %s then %s", received[1].Activity, received[2].Activity)
	}
}

func TestDeleteActivityShipsWithoutNotePayload(t *testing.T) {
	db := newTestDB(t)
	service := newLinkedNotesService(t, db)
	recorder := &acceptRecorder{}
	remote := httptest.NewServer(recorder)
	defer remote.Close()

	file, err := service.CreateFile(context.Background(), "user-1", "home", "Home")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	seedLinkedFile(t, db, &LinkedFile{
		HomeFileID: file.ID, HomeFileName: "home",
		RemoteFileName: "mirror", RemoteBaseURI: remote.URL, SendTo: true,
	})

	base, err := service.CreateBase(context.Background(), notes.NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "doomed",
		AuthorID:    "user-1",
		AuthorName:  "User One",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	if _, err := service.Delete(context.Background(), base.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	processor := newTestProcessor(t, db)
	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	received := recorder.received()
	if len(received) != 2 {
		t.Fatalf("expected create and delete deliveries, got %d", len(received))
	}
	deletePush := received[1]
	if deletePush.Activity != notes.ActivityDelete {
		t.Fatalf("expected delete activity, got %s", deletePush.Activity)
	}
	if deletePush.Note != nil {
		t.Fatalf("expected no note payload on delete, got %+v", deletePush.Note)
	}
	if deletePush.LinkGUID != base.LinkGUID {
		t.Fatalf("expected delete to reference the note guid")
	}
}
