package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parksidelabs/noteboard/internal/notes"
)

type headerPayload struct {
	ID                int64  `json:"id"`
	NoteFileID        int64  `json:"note_file_id"`
	ArchiveID         int    `json:"archive_id"`
	NoteOrdinal       int    `json:"note_ordinal"`
	ResponseOrdinal   int    `json:"response_ordinal"`
	Version           int    `json:"version"`
	NoteSubject       string `json:"note_subject"`
	AuthorID          string `json:"author_id"`
	AuthorName        string `json:"author_name"`
	DirectorMessage   string `json:"director_message,omitempty"`
	ResponseCount     int    `json:"response_count"`
	CreatedAtS        int64  `json:"created_at_s"`
	LastEditedS       int64  `json:"last_edited_s"`
	ThreadLastEditedS int64  `json:"thread_last_edited_s"`
	LinkGUID          string `json:"link_guid,omitempty"`
	IsDeleted         bool   `json:"is_deleted,omitempty"`
}

func headerToPayload(header *notes.NoteHeader) headerPayload {
	return headerPayload{
		ID:                header.ID,
		NoteFileID:        header.NoteFileID,
		ArchiveID:         header.ArchiveID,
		NoteOrdinal:       header.NoteOrdinal,
		ResponseOrdinal:   header.ResponseOrdinal,
		Version:           header.Version,
		NoteSubject:       header.NoteSubject,
		AuthorID:          header.AuthorID,
		AuthorName:        header.AuthorName,
		DirectorMessage:   header.DirectorMessage,
		ResponseCount:     header.ResponseCount,
		CreatedAtS:        header.CreatedAtSeconds,
		LastEditedS:       header.LastEditedSeconds,
		ThreadLastEditedS: header.ThreadLastEditedSeconds,
		LinkGUID:          header.LinkGUID,
		IsDeleted:         header.IsDeleted,
	}
}

func headersToPayload(headers []notes.NoteHeader) []headerPayload {
	payloads := make([]headerPayload, 0, len(headers))
	for i := range headers {
		payloads = append(payloads, headerToPayload(&headers[i]))
	}
	return payloads
}

func (h *httpHandler) handleListBaseNotes(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	archiveID := queryInt(c, "archive", 0)
	token, ok := h.resolveToken(c, fileID, archiveID)
	if !ok {
		return
	}
	if !token.ReadAccess {
		h.forbid(c)
		return
	}
	headers, err := h.notes.ListBaseNotes(c.Request.Context(), fileID, archiveID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": headersToPayload(headers)})
}

type createNoteRequest struct {
	ArchiveID       int    `json:"archive_id"`
	NoteSubject     string `json:"note_subject"`
	DirectorMessage string `json:"director_message"`
	Body            string `json:"body"`
	TagLine         string `json:"tag_line"`
}

func (h *httpHandler) handleCreateBase(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteSubject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, ok := h.resolveToken(c, fileID, request.ArchiveID)
	if !ok {
		return
	}
	if !token.Write {
		h.forbid(c)
		return
	}
	if !token.SetTag {
		request.TagLine = ""
	}
	caller := h.caller(c)
	header, err := h.notes.CreateBase(c.Request.Context(), notes.NewNoteInput{
		NoteFileID:      fileID,
		ArchiveID:       request.ArchiveID,
		NoteSubject:     request.NoteSubject,
		AuthorID:        caller.UserID,
		AuthorName:      caller.DisplayName,
		DirectorMessage: request.DirectorMessage,
		Body:            request.Body,
		TagLine:         request.TagLine,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, headerToPayload(header))
}

func (h *httpHandler) handleCreateResponse(c *gin.Context) {
	baseNoteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteSubject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	base, err := h.notes.GetHeader(c.Request.Context(), baseNoteID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	token, ok := h.resolveToken(c, base.NoteFileID, base.ArchiveID)
	if !ok {
		return
	}
	if !token.Respond {
		h.forbid(c)
		return
	}
	if !token.SetTag {
		request.TagLine = ""
	}
	caller := h.caller(c)
	header, err := h.notes.CreateResponse(c.Request.Context(), notes.NewNoteInput{
		NoteFileID:      base.NoteFileID,
		ArchiveID:       base.ArchiveID,
		BaseNoteID:      base.ID,
		NoteSubject:     request.NoteSubject,
		AuthorID:        caller.UserID,
		AuthorName:      caller.DisplayName,
		DirectorMessage: request.DirectorMessage,
		Body:            request.Body,
		TagLine:         request.TagLine,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, headerToPayload(header))
}

type editNoteRequest struct {
	NoteSubject     string `json:"note_subject"`
	DirectorMessage string `json:"director_message"`
	Body            string `json:"body"`
	TagLine         string `json:"tag_line"`
}

// canModify reports whether the caller may edit or delete a note: its author
// always can, anyone with the delete-edit capability can.
func (h *httpHandler) canModify(c *gin.Context, header *notes.NoteHeader) (bool, bool) {
	if header.AuthorID == c.GetString(userIDContextKey) {
		return true, true
	}
	token, ok := h.resolveToken(c, header.NoteFileID, header.ArchiveID)
	if !ok {
		return false, false
	}
	return token.DeleteEdit, true
}

func (h *httpHandler) handleEditNote(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	var request editNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteSubject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	header, err := h.notes.GetHeader(c.Request.Context(), noteID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	allowed, ok := h.canModify(c, header)
	if !ok {
		return
	}
	if !allowed {
		h.forbid(c)
		return
	}
	updated, err := h.notes.Edit(c.Request.Context(), notes.EditInput{
		NoteHeaderID:    noteID,
		NoteSubject:     request.NoteSubject,
		DirectorMessage: request.DirectorMessage,
		Body:            request.Body,
		TagLine:         request.TagLine,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, headerToPayload(updated))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	header, err := h.notes.GetHeader(c.Request.Context(), noteID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	allowed, ok := h.canModify(c, header)
	if !ok {
		return
	}
	if !allowed {
		h.forbid(c)
		return
	}
	if _, err := h.notes.Delete(c.Request.Context(), noteID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type copyNoteRequest struct {
	TargetFileID int64 `json:"target_file_id"`
	WholeThread  bool  `json:"whole_thread"`
}

func (h *httpHandler) handleCopyNote(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	var request copyNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.TargetFileID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	source, err := h.notes.GetHeader(c.Request.Context(), noteID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	sourceToken, ok := h.resolveToken(c, source.NoteFileID, source.ArchiveID)
	if !ok {
		return
	}
	targetToken, ok := h.resolveToken(c, request.TargetFileID, 0)
	if !ok {
		return
	}
	if !sourceToken.ReadAccess || !targetToken.Write {
		h.forbid(c)
		return
	}
	caller := h.caller(c)
	header, err := h.notes.Copy(c.Request.Context(), caller.UserID, caller.DisplayName, noteID, request.TargetFileID, request.WholeThread)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, headerToPayload(header))
}

func (h *httpHandler) handleGetThread(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	ordinal := pathInt(c, "ordinal")
	if ordinal <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ordinal"})
		return
	}
	archiveID := queryInt(c, "archive", 0)
	token, ok := h.resolveToken(c, fileID, archiveID)
	if !ok {
		return
	}
	if !token.ReadAccess {
		h.forbid(c)
		return
	}
	headers, err := h.notes.GetThread(c.Request.Context(), fileID, archiveID, ordinal)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": headersToPayload(headers)})
}

// loadReadableHeader fetches a header and checks read access on its file.
func (h *httpHandler) loadReadableHeader(c *gin.Context, noteID int64) (*notes.NoteHeader, bool) {
	header, err := h.notes.GetHeader(c.Request.Context(), noteID)
	if err != nil {
		h.writeServiceError(c, err)
		return nil, false
	}
	token, ok := h.resolveToken(c, header.NoteFileID, header.ArchiveID)
	if !ok {
		return nil, false
	}
	if !token.ReadAccess {
		h.forbid(c)
		return nil, false
	}
	return header, true
}

func (h *httpHandler) handleGetContent(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	header, ok := h.loadReadableHeader(c, noteID)
	if !ok {
		return
	}
	content, err := h.notes.GetContent(c.Request.Context(), header.ID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note_header_id": header.ID, "body": content.NoteBody})
}

func (h *httpHandler) handleGetTags(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	header, ok := h.loadReadableHeader(c, noteID)
	if !ok {
		return
	}
	tags, err := h.notes.GetTags(c.Request.Context(), header.ID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	texts := make([]string, 0, len(tags))
	for _, tag := range tags {
		texts = append(texts, tag.TagText)
	}
	c.JSON(http.StatusOK, gin.H{"note_header_id": header.ID, "tags": texts})
}

func (h *httpHandler) handleGetVersions(c *gin.Context) {
	noteID, ok := pathID(c, "noteID")
	if !ok {
		return
	}
	header, ok := h.loadReadableHeader(c, noteID)
	if !ok {
		return
	}
	versions, err := h.notes.GetVersions(c.Request.Context(),
		header.NoteFileID, header.ArchiveID, header.NoteOrdinal, header.ResponseOrdinal)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": headersToPayload(versions)})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	text := c.Query("q")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_query"})
		return
	}
	archiveID := queryInt(c, "archive", 0)
	token, ok := h.resolveToken(c, fileID, archiveID)
	if !ok {
		return
	}
	if !token.ReadAccess {
		h.forbid(c)
		return
	}
	headers, err := h.notes.Search(c.Request.Context(), notes.SearchOptions{
		NoteFileID:    fileID,
		ArchiveID:     archiveID,
		Text:          text,
		CaseSensitive: queryBool(c, "case"),
		WholeWords:    queryBool(c, "word"),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": headersToPayload(headers)})
}
