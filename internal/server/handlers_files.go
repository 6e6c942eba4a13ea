package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parksidelabs/noteboard/internal/access"
	"github.com/parksidelabs/noteboard/internal/link"
	"github.com/parksidelabs/noteboard/internal/notes"
)

type filePayload struct {
	ID              int64  `json:"id"`
	FileName        string `json:"file_name"`
	FileTitle       string `json:"file_title"`
	OwnerID         string `json:"owner_id"`
	NumberArchives  int    `json:"number_archives"`
	LastEditedAtS   int64  `json:"last_edited_s"`
	PolicyNoteID    int64  `json:"policy_note_id,omitempty"`
	InhibitVersions bool   `json:"inhibit_versions"`
}

func fileToPayload(file *notes.NoteFile) filePayload {
	return filePayload{
		ID:              file.ID,
		FileName:        file.FileName,
		FileTitle:       file.FileTitle,
		OwnerID:         file.OwnerID,
		NumberArchives:  file.NumberArchives,
		LastEditedAtS:   file.LastEditedSeconds,
		PolicyNoteID:    file.PolicyNoteID,
		InhibitVersions: file.InhibitVersions,
	}
}

// handleListFiles returns the files the caller can read.
func (h *httpHandler) handleListFiles(c *gin.Context) {
	files, err := h.notes.ListFiles(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	visible := make([]filePayload, 0, len(files))
	for i := range files {
		token, ok := h.resolveToken(c, files[i].ID, 0)
		if !ok {
			return
		}
		if token.ReadAccess {
			visible = append(visible, fileToPayload(&files[i]))
		}
	}
	c.JSON(http.StatusOK, gin.H{"files": visible})
}

type createFileRequest struct {
	FileName  string `json:"file_name"`
	FileTitle string `json:"file_title"`
}

func (h *httpHandler) handleCreateFile(c *gin.Context) {
	var request createFileRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.FileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := h.notes.CreateFile(c.Request.Context(), c.GetString(userIDContextKey), request.FileName, request.FileTitle)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fileToPayload(file))
}

func (h *httpHandler) handleGetFile(c *gin.Context) {
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
	file, err := h.notes.GetFile(c.Request.Context(), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileToPayload(file))
}

type updateFileRequest struct {
	FileName        string `json:"file_name"`
	FileTitle       string `json:"file_title"`
	InhibitVersions bool   `json:"inhibit_versions"`
}

// handleUpdateFile is owner-only: renames reach every linked peer's
// correspondence config, so delegation stops at the owner.
func (h *httpHandler) handleUpdateFile(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if !h.requireOwner(c, fileID) {
		return
	}
	var request updateFileRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.FileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := h.notes.UpdateFile(c.Request.Context(), fileID, request.FileName, request.FileTitle, request.InhibitVersions)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileToPayload(file))
}

func (h *httpHandler) handleDeleteFile(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if !h.requireOwner(c, fileID) {
		return
	}
	if err := h.notes.DeleteFile(c.Request.Context(), fileID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type setPolicyRequest struct {
	PolicyNoteID int64 `json:"policy_note_id"`
}

func (h *httpHandler) handleSetPolicy(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if !h.requireOwner(c, fileID) {
		return
	}
	var request setPolicyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.notes.SetFilePolicy(c.Request.Context(), fileID, request.PolicyNoteID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// requireOwner loads the file and checks the caller owns it.
func (h *httpHandler) requireOwner(c *gin.Context, fileID int64) bool {
	file, err := h.notes.GetFile(c.Request.Context(), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return false
	}
	if file.OwnerID != c.GetString(userIDContextKey) {
		h.forbid(c)
		return false
	}
	return true
}

type accessPayload struct {
	UserID     string `json:"user_id"`
	ArchiveID  int    `json:"archive_id"`
	ReadAccess bool   `json:"read_access"`
	Respond    bool   `json:"respond"`
	Write      bool   `json:"write"`
	SetTag     bool   `json:"set_tag"`
	DeleteEdit bool   `json:"delete_edit"`
	ViewAccess bool   `json:"view_access"`
	EditAccess bool   `json:"edit_access"`
}

func tokenToPayload(token access.Token) accessPayload {
	return accessPayload{
		UserID:     token.UserID,
		ArchiveID:  token.ArchiveID,
		ReadAccess: token.ReadAccess,
		Respond:    token.Respond,
		Write:      token.Write,
		SetTag:     token.SetTag,
		DeleteEdit: token.DeleteEdit,
		ViewAccess: token.ViewAccess,
		EditAccess: token.EditAccess,
	}
}

func (h *httpHandler) handleListAccess(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	archiveID := queryInt(c, "archive", 0)
	token, ok := h.resolveToken(c, fileID, archiveID)
	if !ok {
		return
	}
	if !token.ViewAccess {
		h.forbid(c)
		return
	}
	tokens, err := h.access.ListForFile(c.Request.Context(), fileID, archiveID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]accessPayload, 0, len(tokens))
	for _, t := range tokens {
		payloads = append(payloads, tokenToPayload(t))
	}
	c.JSON(http.StatusOK, gin.H{"grants": payloads})
}

func (h *httpHandler) handleUpsertAccess(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	var request accessPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, ok := h.resolveToken(c, fileID, request.ArchiveID)
	if !ok {
		return
	}
	if !token.EditAccess {
		h.forbid(c)
		return
	}
	grant := access.Token{
		UserID:     request.UserID,
		NoteFileID: fileID,
		ArchiveID:  request.ArchiveID,
		ReadAccess: request.ReadAccess,
		Respond:    request.Respond,
		Write:      request.Write,
		SetTag:     request.SetTag,
		DeleteEdit: request.DeleteEdit,
		ViewAccess: request.ViewAccess,
		EditAccess: request.EditAccess,
	}
	if err := h.access.Upsert(c.Request.Context(), grant); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenToPayload(grant))
}

func (h *httpHandler) handleDeleteAccess(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	archiveID := queryInt(c, "archive", 0)
	token, ok := h.resolveToken(c, fileID, archiveID)
	if !ok {
		return
	}
	if !token.EditAccess {
		h.forbid(c)
		return
	}
	if err := h.access.Delete(c.Request.Context(), c.Param("userID"), fileID, archiveID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// loadLink fetches one linked-file row, writing the error response itself.
func (h *httpHandler) loadLink(c *gin.Context, linkID int64) (*link.LinkedFile, bool) {
	linked, err := h.linkAdmin.Get(c.Request.Context(), linkID)
	if err != nil {
		h.writeServiceError(c, err)
		return nil, false
	}
	return linked, true
}

type linkPayload struct {
	ID             int64  `json:"id"`
	HomeFileID     int64  `json:"home_file_id"`
	HomeFileName   string `json:"home_file_name"`
	RemoteFileName string `json:"remote_file_name"`
	RemoteBaseURI  string `json:"remote_base_uri"`
	AcceptFrom     bool   `json:"accept_from"`
	SendTo         bool   `json:"send_to"`
	Secret         string `json:"secret,omitempty"`
}

func linkToPayload(linked *link.LinkedFile) linkPayload {
	return linkPayload{
		ID:             linked.ID,
		HomeFileID:     linked.HomeFileID,
		HomeFileName:   linked.HomeFileName,
		RemoteFileName: linked.RemoteFileName,
		RemoteBaseURI:  linked.RemoteBaseURI,
		AcceptFrom:     linked.AcceptFrom,
		SendTo:         linked.SendTo,
		Secret:         linked.Secret,
	}
}

func (h *httpHandler) handleListLinks(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if !h.requireOwner(c, fileID) {
		return
	}
	links, err := h.linkAdmin.ListForFile(c.Request.Context(), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]linkPayload, 0, len(links))
	for i := range links {
		payloads = append(payloads, linkToPayload(&links[i]))
	}
	c.JSON(http.StatusOK, gin.H{"links": payloads})
}

type linkRequest struct {
	RemoteFileName string `json:"remote_file_name"`
	RemoteBaseURI  string `json:"remote_base_uri"`
	AcceptFrom     bool   `json:"accept_from"`
	SendTo         bool   `json:"send_to"`
	Secret         string `json:"secret"`
}

func (h *httpHandler) handleCreateLink(c *gin.Context) {
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	if !h.requireOwner(c, fileID) {
		return
	}
	var request linkRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.RemoteFileName == "" || request.RemoteBaseURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := h.notes.GetFile(c.Request.Context(), fileID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	linked := link.LinkedFile{
		HomeFileID:     fileID,
		HomeFileName:   file.FileName,
		RemoteFileName: request.RemoteFileName,
		RemoteBaseURI:  request.RemoteBaseURI,
		AcceptFrom:     request.AcceptFrom,
		SendTo:         request.SendTo,
		Secret:         request.Secret,
	}
	if err := h.linkAdmin.Create(c.Request.Context(), &linked); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, linkToPayload(&linked))
}

func (h *httpHandler) handleUpdateLink(c *gin.Context) {
	linkID, ok := pathID(c, "linkID")
	if !ok {
		return
	}
	var request linkRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.RemoteFileName == "" || request.RemoteBaseURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	existing, ok := h.loadLink(c, linkID)
	if !ok {
		return
	}
	if !h.requireOwner(c, existing.HomeFileID) {
		return
	}
	existing.RemoteFileName = request.RemoteFileName
	existing.RemoteBaseURI = request.RemoteBaseURI
	existing.AcceptFrom = request.AcceptFrom
	existing.SendTo = request.SendTo
	existing.Secret = request.Secret
	if err := h.linkAdmin.Update(c.Request.Context(), existing); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkToPayload(existing))
}

func (h *httpHandler) handleDeleteLink(c *gin.Context) {
	linkID, ok := pathID(c, "linkID")
	if !ok {
		return
	}
	existing, ok := h.loadLink(c, linkID)
	if !ok {
		return
	}
	if !h.requireOwner(c, existing.HomeFileID) {
		return
	}
	if err := h.linkAdmin.Delete(c.Request.Context(), linkID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
