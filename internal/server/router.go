package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parksidelabs/noteboard/internal/access"
	"github.com/parksidelabs/noteboard/internal/auth"
	"github.com/parksidelabs/noteboard/internal/link"
	"github.com/parksidelabs/noteboard/internal/notes"
	"github.com/parksidelabs/noteboard/internal/sequencer"
)

const (
	userIDContextKey   = "noteboard_user_id"
	userNameContextKey = "noteboard_user_name"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingAccess        = errors.New("access resolver dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager validates API bearer tokens.
type TokenManager interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies carries the collaborators the HTTP surface needs.
type Dependencies struct {
	TokenManager TokenManager
	NotesService *notes.Service
	Access       *access.Resolver
	Tracker      *sequencer.Tracker
	Importer     *link.Importer
	LinkAdmin    *link.Admin
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router. Every endpoint except the link accept
// hook requires a bearer token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Access == nil {
		return nil, errMissingAccess
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		notes:     deps.NotesService,
		access:    deps.Access,
		tracker:   deps.Tracker,
		importer:  deps.Importer,
		linkAdmin: deps.LinkAdmin,
		logger:    logger,
	}

	if handler.importer != nil {
		router.POST(link.AcceptPath, handler.handleLinkAccept)
	}

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)

	api.GET("/files", handler.handleListFiles)
	api.POST("/files", handler.handleCreateFile)
	api.GET("/files/:fileID", handler.handleGetFile)
	api.PUT("/files/:fileID", handler.handleUpdateFile)
	api.DELETE("/files/:fileID", handler.handleDeleteFile)
	api.PUT("/files/:fileID/policy", handler.handleSetPolicy)

	api.GET("/files/:fileID/notes", handler.handleListBaseNotes)
	api.POST("/files/:fileID/notes", handler.handleCreateBase)
	api.GET("/files/:fileID/threads/:ordinal", handler.handleGetThread)
	api.GET("/files/:fileID/search", handler.handleSearch)

	api.POST("/notes/:noteID/responses", handler.handleCreateResponse)
	api.PUT("/notes/:noteID", handler.handleEditNote)
	api.DELETE("/notes/:noteID", handler.handleDeleteNote)
	api.POST("/notes/:noteID/copy", handler.handleCopyNote)
	api.GET("/notes/:noteID/content", handler.handleGetContent)
	api.GET("/notes/:noteID/tags", handler.handleGetTags)
	api.GET("/notes/:noteID/versions", handler.handleGetVersions)

	api.GET("/files/:fileID/access", handler.handleListAccess)
	api.PUT("/files/:fileID/access", handler.handleUpsertAccess)
	api.DELETE("/files/:fileID/access/:userID", handler.handleDeleteAccess)

	if handler.linkAdmin != nil {
		api.GET("/files/:fileID/links", handler.handleListLinks)
		api.POST("/files/:fileID/links", handler.handleCreateLink)
		api.PUT("/links/:linkID", handler.handleUpdateLink)
		api.DELETE("/links/:linkID", handler.handleDeleteLink)
	}

	if handler.tracker != nil {
		api.GET("/sequencers", handler.handleListSequencers)
		api.POST("/sequencers", handler.handleCreateSequencer)
		api.GET("/sequencers/next", handler.handleNextSequencer)
		api.DELETE("/sequencers/:fileID", handler.handleDeleteSequencer)
		api.PUT("/sequencers/:fileID/ordinal", handler.handleReorderSequencer)
		api.POST("/sequencers/:fileID/start", handler.handleStartPass)
		api.POST("/sequencers/:fileID/complete", handler.handleCompletePass)
		api.GET("/marks", handler.handleListMarks)
		api.PUT("/marks", handler.handleSetMark)
		api.DELETE("/marks/:fileID", handler.handleDeleteMarks)
	}

	return router, nil
}

type httpHandler struct {
	tokens    TokenManager
	notes     *notes.Service
	access    *access.Resolver
	tracker   *sequencer.Tracker
	importer  *link.Importer
	linkAdmin *link.Admin
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID)
	c.Set(userNameContextKey, identity.DisplayName)
	c.Next()
}

func (h *httpHandler) caller(c *gin.Context) auth.Identity {
	return auth.Identity{
		UserID:      c.GetString(userIDContextKey),
		DisplayName: c.GetString(userNameContextKey),
	}
}

// resolveToken loads the caller's effective access for a file and archive.
func (h *httpHandler) resolveToken(c *gin.Context, fileID int64, archiveID int) (access.Token, bool) {
	token, err := h.access.Resolve(c.Request.Context(), c.GetString(userIDContextKey), fileID, archiveID)
	if err != nil {
		h.logger.Error("access resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access_resolution_failed"})
		return access.Token{}, false
	}
	return token, true
}

func (h *httpHandler) forbid(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}

// writeServiceError maps service failures onto HTTP statuses.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrFileNotFound),
		errors.Is(err, notes.ErrNoteNotFound),
		errors.Is(err, notes.ErrBaseNoteNotFound),
		errors.Is(err, link.ErrLinkNotFound),
		errors.Is(err, sequencer.ErrCursorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, notes.ErrOrdinalConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, sequencer.ErrPassNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": "no_pass_in_progress"})
	case errors.Is(err, access.ErrProtectedGrant):
		c.JSON(http.StatusConflict, gin.H{"error": "protected_grant"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}

func pathInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0
	}
	return value
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryBool(c *gin.Context, name string) bool {
	value, err := strconv.ParseBool(c.Query(name))
	return err == nil && value
}

func (h *httpHandler) handleLinkAccept(c *gin.Context) {
	var payload link.ActivityPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.LinkGUID == "" || payload.HomeFile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.importer.Accept(c.Request.Context(), &payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	case errors.Is(err, link.ErrLinkAccessDenied):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "link_access_denied"})
	case errors.Is(err, link.ErrUnknownBaseGUID), errors.Is(err, link.ErrMissingPayload):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_payload"})
	default:
		h.logger.Error("link accept failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
