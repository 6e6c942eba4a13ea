package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parksidelabs/noteboard/internal/sequencer"
)

type sequencerPayload struct {
	NoteFileID int64 `json:"note_file_id"`
	Ordinal    int   `json:"ordinal"`
	LastTimeS  int64 `json:"last_time_s"`
	StartTimeS int64 `json:"start_time_s"`
	Active     bool  `json:"active"`
}

func sequencerToPayload(cursor *sequencer.Sequencer) sequencerPayload {
	return sequencerPayload{
		NoteFileID: cursor.NoteFileID,
		Ordinal:    cursor.Ordinal,
		LastTimeS:  cursor.LastTimeSeconds,
		StartTimeS: cursor.StartTimeSeconds,
		Active:     cursor.Active,
	}
}

func (h *httpHandler) handleListSequencers(c *gin.Context) {
	cursors, err := h.tracker.List(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]sequencerPayload, 0, len(cursors))
	for i := range cursors {
		payloads = append(payloads, sequencerToPayload(&cursors[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sequencers": payloads})
}

type createSequencerRequest struct {
	NoteFileID int64 `json:"note_file_id"`
}

func (h *httpHandler) handleCreateSequencer(c *gin.Context) {
	var request createSequencerRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteFileID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, ok := h.resolveToken(c, request.NoteFileID, 0)
	if !ok {
		return
	}
	if !token.ReadAccess {
		h.forbid(c)
		return
	}
	cursor, err := h.tracker.Create(c.Request.Context(), c.GetString(userIDContextKey), request.NoteFileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sequencerToPayload(cursor))
}

func (h *httpHandler) handleDeleteSequencer(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if err := h.tracker.Delete(c.Request.Context(), c.GetString(userIDContextKey), fileID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type reorderSequencerRequest struct {
	Ordinal int `json:"ordinal"`
}

func (h *httpHandler) handleReorderSequencer(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	var request reorderSequencerRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Ordinal <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.tracker.Reorder(c.Request.Context(), c.GetString(userIDContextKey), fileID, request.Ordinal)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *httpHandler) handleStartPass(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	token, ok := h.resolveToken(c, fileID, 0)
	if !ok {
		return
	}
	if !token.ReadAccess {
		h.forbid(c)
		return
	}
	candidates, err := h.tracker.StartPass(c.Request.Context(), c.GetString(userIDContextKey), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": headersToPayload(candidates)})
}

func (h *httpHandler) handleCompletePass(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	cursor, err := h.tracker.CompletePass(c.Request.Context(), c.GetString(userIDContextKey), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sequencerToPayload(cursor))
}

func (h *httpHandler) handleNextSequencer(c *gin.Context) {
	after := queryInt(c, "after", 0)
	cursor, err := h.tracker.Next(c.Request.Context(), c.GetString(userIDContextKey), after)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sequencerToPayload(cursor))
}

type markPayload struct {
	NoteFileID      int64 `json:"note_file_id"`
	MarkOrdinal     int   `json:"mark_ordinal"`
	ArchiveID       int   `json:"archive_id"`
	NoteOrdinal     int   `json:"note_ordinal"`
	NoteHeaderID    int64 `json:"note_header_id"`
	ResponseOrdinal int   `json:"response_ordinal"`
}

func (h *httpHandler) handleListMarks(c *gin.Context) {
	fileID := int64(queryInt(c, "file_id", 0))
	marks, err := h.tracker.ListMarks(c.Request.Context(), c.GetString(userIDContextKey), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]markPayload, 0, len(marks))
	for _, mark := range marks {
		payloads = append(payloads, markPayload{
			NoteFileID:      mark.NoteFileID,
			MarkOrdinal:     mark.MarkOrdinal,
			ArchiveID:       mark.ArchiveID,
			NoteOrdinal:     mark.NoteOrdinal,
			NoteHeaderID:    mark.NoteHeaderID,
			ResponseOrdinal: mark.ResponseOrdinal,
		})
	}
	c.JSON(http.StatusOK, gin.H{"marks": payloads})
}

func (h *httpHandler) handleSetMark(c *gin.Context) {
	var request markPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteFileID <= 0 || request.MarkOrdinal <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	mark := sequencer.Mark{
		UserID:          c.GetString(userIDContextKey),
		NoteFileID:      request.NoteFileID,
		MarkOrdinal:     request.MarkOrdinal,
		ArchiveID:       request.ArchiveID,
		NoteOrdinal:     request.NoteOrdinal,
		NoteHeaderID:    request.NoteHeaderID,
		ResponseOrdinal: request.ResponseOrdinal,
	}
	if err := h.tracker.SetMark(c.Request.Context(), mark); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *httpHandler) handleDeleteMarks(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if err := h.tracker.DeleteMarks(c.Request.Context(), c.GetString(userIDContextKey), fileID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
