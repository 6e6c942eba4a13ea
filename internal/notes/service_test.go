package notes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:noteboard_notes_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&NoteFile{}, &NoteHeader{}, &NoteContent{}, &Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreateFile(t *testing.T, service *Service, owner, name string) *NoteFile {
	t.Helper()
	file, err := service.CreateFile(context.Background(), owner, name, name+" title")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	return file
}

func mustCreateBase(t *testing.T, service *Service, fileID int64, subject string) *NoteHeader {
	t.Helper()
	header, err := service.CreateBase(context.Background(), NewNoteInput{
		NoteFileID:  fileID,
		NoteSubject: subject,
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        subject + " body",
	})
	if err != nil {
		t.Fatalf("failed to create base note: %v", err)
	}
	return header
}

func mustCreateResponse(t *testing.T, service *Service, fileID, baseID int64, subject string) *NoteHeader {
	t.Helper()
	header, err := service.CreateResponse(context.Background(), NewNoteInput{
		NoteFileID:  fileID,
		BaseNoteID:  baseID,
		NoteSubject: subject,
		AuthorID:    "user-2",
		AuthorName:  "User Two",
		Body:        subject + " body",
	})
	if err != nil {
		t.Fatalf("failed to create response: %v", err)
	}
	return header
}

func TestCreateBaseAssignsSequentialOrdinals(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")

	for want := 1; want <= 3; want++ {
		header := mustCreateBase(t, service, file.ID, fmt.Sprintf("note %d", want))
		if header.NoteOrdinal != want {
			t.Fatalf("expected ordinal %d, got %d", want, header.NoteOrdinal)
		}
		if header.ResponseOrdinal != 0 || header.Version != 0 {
			t.Fatalf("unexpected base shape: %+v", header)
		}
		if header.LinkGUID == "" {
			t.Fatalf("expected a link guid to be assigned")
		}
	}
}

func TestCreateResponseAllocatesOrdinalsAndCounts(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	base := mustCreateBase(t, service, file.ID, "root")

	for want := 1; want <= 3; want++ {
		response := mustCreateResponse(t, service, file.ID, base.ID, fmt.Sprintf("reply %d", want))
		if response.ResponseOrdinal != want {
			t.Fatalf("expected response ordinal %d, got %d", want, response.ResponseOrdinal)
		}
		if response.NoteOrdinal != base.NoteOrdinal {
			t.Fatalf("expected response to share the base ordinal")
		}
	}

	reloaded, err := service.GetHeader(context.Background(), base.ID)
	if err != nil {
		t.Fatalf("failed to reload base: %v", err)
	}
	if reloaded.ResponseCount != 3 {
		t.Fatalf("expected response count 3, got %d", reloaded.ResponseCount)
	}
}

func TestDeletedResponseOrdinalIsNeverReused(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	base := mustCreateBase(t, service, file.ID, "root")

	first := mustCreateResponse(t, service, file.ID, base.ID, "reply 1")
	second := mustCreateResponse(t, service, file.ID, base.ID, "reply 2")
	if _, err := service.Delete(context.Background(), second.ID); err != nil {
		t.Fatalf("failed to delete response: %v", err)
	}

	third := mustCreateResponse(t, service, file.ID, base.ID, "reply 3")
	if third.ResponseOrdinal != 3 {
		t.Fatalf("expected ordinal 3 after deletion, got %d", third.ResponseOrdinal)
	}
	if first.ResponseOrdinal != 1 {
		t.Fatalf("expected surviving ordinal 1, got %d", first.ResponseOrdinal)
	}
}

func TestCreateResponseRejectsMissingOrDeletedBase(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")

	_, err := service.CreateResponse(context.Background(), NewNoteInput{
		NoteFileID:  file.ID,
		BaseNoteID:  999,
		NoteSubject: "orphan",
		AuthorID:    "user-2",
		AuthorName:  "User Two",
	})
	if !errors.Is(err, ErrBaseNoteNotFound) {
		t.Fatalf("expected base-not-found, got %v", err)
	}

	base := mustCreateBase(t, service, file.ID, "root")
	if _, err := service.Delete(context.Background(), base.ID); err != nil {
		t.Fatalf("failed to delete base: %v", err)
	}
	_, err = service.CreateResponse(context.Background(), NewNoteInput{
		NoteFileID:  file.ID,
		BaseNoteID:  base.ID,
		NoteSubject: "late reply",
		AuthorID:    "user-2",
		AuthorName:  "User Two",
	})
	if !errors.Is(err, ErrBaseNoteNotFound) {
		t.Fatalf("expected base-not-found for deleted base, got %v", err)
	}
}

func TestEditClonesPriorVersion(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	base := mustCreateBase(t, service, file.ID, "original subject")

	for edit := 1; edit <= 2; edit++ {
		_, err := service.Edit(context.Background(), EditInput{
			NoteHeaderID: base.ID,
			NoteSubject:  fmt.Sprintf("edited subject %d", edit),
			Body:         fmt.Sprintf("edited body %d", edit),
		})
		if err != nil {
			t.Fatalf("failed to edit: %v", err)
		}
	}

	versions, err := service.GetVersions(context.Background(), file.ID, 0, base.NoteOrdinal, 0)
	if err != nil {
		t.Fatalf("failed to load versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 frozen versions, got %d", len(versions))
	}
	if versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("expected versions ordered oldest first, got %d then %d", versions[0].Version, versions[1].Version)
	}
	if versions[0].NoteSubject != "original subject" {
		t.Fatalf("expected version 1 to hold the original subject, got %q", versions[0].NoteSubject)
	}

	current, err := service.GetHeader(context.Background(), base.ID)
	if err != nil {
		t.Fatalf("failed to reload current: %v", err)
	}
	if current.Version != 0 || current.NoteSubject != "edited subject 2" {
		t.Fatalf("expected current revision to carry the latest edit, got %+v", current)
	}
	content, err := service.GetContent(context.Background(), base.ID)
	if err != nil {
		t.Fatalf("failed to load content: %v", err)
	}
	if content.NoteBody != "edited body 2" {
		t.Fatalf("expected current body to be replaced, got %q", content.NoteBody)
	}
	if current.LinkGUID != base.LinkGUID {
		t.Fatalf("edit must not change the link guid")
	}
}

func TestEditSkipsVersionCloneWhenInhibited(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	if _, err := service.UpdateFile(context.Background(), file.ID, "general", "general title", true); err != nil {
		t.Fatalf("failed to inhibit versions: %v", err)
	}
	base := mustCreateBase(t, service, file.ID, "subject")

	_, err := service.Edit(context.Background(), EditInput{
		NoteHeaderID: base.ID,
		NoteSubject:  "new subject",
		Body:         "new body",
	})
	if err != nil {
		t.Fatalf("failed to edit: %v", err)
	}

	versions, err := service.GetVersions(context.Background(), file.ID, 0, base.NoteOrdinal, 0)
	if err != nil {
		t.Fatalf("failed to load versions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected no frozen versions, got %d", len(versions))
	}
}

func TestDeleteIsSoftAndCascadesToResponses(t *testing.T) {
	service, db := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	base := mustCreateBase(t, service, file.ID, "root")
	response := mustCreateResponse(t, service, file.ID, base.ID, "reply")
	other := mustCreateBase(t, service, file.ID, "untouched")

	if _, err := service.Delete(context.Background(), base.ID); err != nil {
		t.Fatalf("failed to delete base: %v", err)
	}

	bases, err := service.ListBaseNotes(context.Background(), file.ID, 0)
	if err != nil {
		t.Fatalf("failed to list bases: %v", err)
	}
	if len(bases) != 1 || bases[0].ID != other.ID {
		t.Fatalf("expected only the untouched base, got %+v", bases)
	}

	reloaded, err := service.GetHeader(context.Background(), response.ID)
	if err != nil {
		t.Fatalf("failed to reload response: %v", err)
	}
	if !reloaded.IsDeleted {
		t.Fatalf("expected response to be soft-deleted with its base")
	}

	// Soft delete keeps the row and its content behind.
	var contentCount int64
	if err := db.Model(&NoteContent{}).Where("note_header_id = ?", base.ID).Count(&contentCount).Error; err != nil {
		t.Fatalf("failed to count content: %v", err)
	}
	if contentCount != 1 {
		t.Fatalf("expected content to survive soft delete")
	}
}

func TestCopyReattributesAndPrefixesProvenance(t *testing.T) {
	service, _ := newTestService(t)
	source := mustCreateFile(t, service, "user-1", "source")
	target := mustCreateFile(t, service, "user-1", "target")
	base := mustCreateBase(t, service, source.ID, "travel notes")

	copied, err := service.Copy(context.Background(), "user-9", "Copier Nine", base.ID, target.ID, false)
	if err != nil {
		t.Fatalf("failed to copy: %v", err)
	}
	if copied.NoteFileID != target.ID || copied.NoteOrdinal != 1 {
		t.Fatalf("expected copy re-homed at target ordinal 1, got %+v", copied)
	}
	if copied.AuthorID != "user-9" || copied.AuthorName != "Copier Nine" {
		t.Fatalf("expected copy attributed to the copier, got %s/%s", copied.AuthorID, copied.AuthorName)
	}
	if copied.LinkGUID == base.LinkGUID {
		t.Fatalf("expected the copy to receive a fresh link guid")
	}

	content, err := service.GetContent(context.Background(), copied.ID)
	if err != nil {
		t.Fatalf("failed to load copied content: %v", err)
	}
	wantPrefix := "From: source - travel notes - User One - 2023-11-14\n\n"
	if content.NoteBody != wantPrefix+"travel notes body" {
		t.Fatalf("unexpected copied body: %q", content.NoteBody)
	}
}

func TestCopyWholeThreadRebuildsResponses(t *testing.T) {
	service, _ := newTestService(t)
	source := mustCreateFile(t, service, "user-1", "source")
	target := mustCreateFile(t, service, "user-1", "target")
	base := mustCreateBase(t, service, source.ID, "root")
	mustCreateResponse(t, service, source.ID, base.ID, "first reply")
	deleted := mustCreateResponse(t, service, source.ID, base.ID, "second reply")
	if _, err := service.Delete(context.Background(), deleted.ID); err != nil {
		t.Fatalf("failed to delete response: %v", err)
	}
	mustCreateResponse(t, service, source.ID, base.ID, "third reply")

	newBase, err := service.Copy(context.Background(), "user-9", "Copier Nine", base.ID, target.ID, true)
	if err != nil {
		t.Fatalf("failed to copy thread: %v", err)
	}

	thread, err := service.GetThread(context.Background(), target.ID, 0, newBase.NoteOrdinal)
	if err != nil {
		t.Fatalf("failed to load copied thread: %v", err)
	}
	// Base plus the two surviving responses, renumbered without a gap.
	if len(thread) != 3 {
		t.Fatalf("expected 3 thread rows, got %d", len(thread))
	}
	if thread[1].NoteSubject != "first reply" || thread[1].ResponseOrdinal != 1 {
		t.Fatalf("unexpected first copied response: %+v", thread[1])
	}
	if thread[2].NoteSubject != "third reply" || thread[2].ResponseOrdinal != 2 {
		t.Fatalf("unexpected second copied response: %+v", thread[2])
	}
}

type recordingCleanup struct {
	purged []int64
}

func (r *recordingCleanup) PurgeFile(tx *gorm.DB, fileID int64) error {
	r.purged = append(r.purged, fileID)
	return nil
}

func TestDeleteFileCascadesInOrder(t *testing.T) {
	service, db := newTestService(t)
	cleanup := &recordingCleanup{}
	service.cleanups = []FileCleanup{cleanup}

	file := mustCreateFile(t, service, "user-1", "doomed")
	base := mustCreateBase(t, service, file.ID, "root")
	mustCreateResponse(t, service, file.ID, base.ID, "reply")

	if err := service.DeleteFile(context.Background(), file.ID); err != nil {
		t.Fatalf("failed to delete file: %v", err)
	}

	var headerCount, contentCount, fileCount int64
	db.Model(&NoteHeader{}).Where("note_file_id = ?", file.ID).Count(&headerCount)
	db.Model(&NoteContent{}).Count(&contentCount)
	db.Model(&NoteFile{}).Where("id = ?", file.ID).Count(&fileCount)
	if headerCount != 0 || contentCount != 0 || fileCount != 0 {
		t.Fatalf("expected a hard cascade, got headers=%d contents=%d files=%d", headerCount, contentCount, fileCount)
	}
	if len(cleanup.purged) != 1 || cleanup.purged[0] != file.ID {
		t.Fatalf("expected registered cleanup to run for the file, got %v", cleanup.purged)
	}
}

func TestParseTagLineNormalizes(t *testing.T) {
	tags := parseTagLine("Alpha beta, BETA\tgamma  alpha")
	want := []string{"alpha", "beta", "gamma"}
	if len(tags) != len(want) {
		t.Fatalf("expected %d tags, got %v", len(want), tags)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("expected tag %q at %d, got %q", want[i], i, tags[i])
		}
	}
}

func TestTagsReplacedOnEdit(t *testing.T) {
	service, _ := newTestService(t)
	file := mustCreateFile(t, service, "user-1", "general")
	base, err := service.CreateBase(context.Background(), NewNoteInput{
		NoteFileID:  file.ID,
		NoteSubject: "tagged",
		AuthorID:    "user-1",
		AuthorName:  "User One",
		Body:        "body",
		TagLine:     "alpha beta",
	})
	if err != nil {
		t.Fatalf("failed to create base: %v", err)
	}

	_, err = service.Edit(context.Background(), EditInput{
		NoteHeaderID: base.ID,
		NoteSubject:  "tagged",
		Body:         "body",
		TagLine:      "gamma",
	})
	if err != nil {
		t.Fatalf("failed to edit: %v", err)
	}

	tags, err := service.GetTags(context.Background(), base.ID)
	if err != nil {
		t.Fatalf("failed to load tags: %v", err)
	}
	if len(tags) != 1 || tags[0].TagText != "gamma" {
		t.Fatalf("expected tags replaced by the edit, got %+v", tags)
	}
}
