package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"afterlifego/internal/auth"
	"afterlifego/internal/capability"
	"afterlifego/internal/ingest"
	"afterlifego/internal/models"
	"afterlifego/internal/persona"
	"afterlifego/internal/service/avatar"
	"afterlifego/internal/worker"
)

// Handler wires HTTP routes to the avatar session core.
type Handler struct {
	avatar *avatar.Service
	auth   *auth.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *avatar.Service, authService *auth.Service) *Handler {
	return &Handler{avatar: service, auth: authService}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.POST("/register", h.registerUser)
	router.POST("/login", h.loginUser)
	router.GET("/personas", h.listPersonas)
	router.GET("/personas/:id", h.getPersona)

	authed := router.Group("/")
	authed.Use(h.auth.Middleware())
	authed.POST("/upload", h.uploadFiles)
	authed.GET("/sessions", h.listSessions)
	authed.POST("/consent/:session_id", h.recordConsent)
	authed.GET("/session_status/:session_id", h.sessionStatus)
	for _, step := range models.AllSteps() {
		name := string(step)
		authed.POST("/"+name+"/:session_id", h.runStep(name))
		authed.GET("/"+name+"/:session_id", h.getStep(name))
	}
	authed.POST("/interact/:session_id", h.interact)
	authed.GET("/interaction_history/:session_id", h.interactionHistory)
	authed.DELETE("/delete_session/:session_id", h.deleteSession)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// respondError maps the service failure taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	var (
		validationErr *ingest.ValidationError
		externalErr   *capability.ExternalError
		deletionErr   *avatar.DeletionError
	)
	switch {
	case errors.Is(err, avatar.ErrNotFound), errors.Is(err, persona.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrConsentRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrConsentIncomplete),
		errors.Is(err, avatar.ErrWeakPassword),
		errors.Is(err, avatar.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, avatar.ErrStepInProgress), errors.Is(err, avatar.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, worker.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "file": validationErr.File})
	case errors.As(err, &externalErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": externalErr.Error()})
	case errors.As(err, &deletionErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": deletionErr.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.avatar.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.avatar.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"auth_token": token,
	})
}

func (h *Handler) listPersonas(c *gin.Context) {
	ids, err := h.avatar.Personas().List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = make([]string, 0)
	}
	c.JSON(http.StatusOK, gin.H{"personas": ids})
}

func (h *Handler) getPersona(c *gin.Context) {
	p, err := h.avatar.Personas().Load(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

const maxUploadBytes = 32 << 20

func (h *Handler) uploadFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	form := c.Request.MultipartForm

	photos, err := readFormFiles(form.File["photos"])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	audio, err := readSingleFile(form.File["audio"], "audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, err := readSingleFile(form.File["text"], "text")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	biography := c.PostForm("biography")

	sess, warning, err := h.avatar.CreateSession(c.Request.Context(), userID, photos, audio, text, biography)
	if err != nil {
		respondError(c, err)
		return
	}
	payload := gin.H{
		"session_id": sess.ID,
		"state":      sess.State,
		"created_at": sess.CreatedAt,
	}
	if warning != "" {
		payload["warning"] = warning
	}
	c.JSON(http.StatusOK, payload)
}

func readFormFiles(headers []*multipart.FileHeader) ([]ingest.Upload, error) {
	uploads := make([]ingest.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

func readSingleFile(headers []*multipart.FileHeader, field string) (ingest.Upload, error) {
	if len(headers) != 1 {
		return ingest.Upload{}, fmt.Errorf("exactly one %s file is required", field)
	}
	return readUpload(headers[0])
}

func readUpload(fh *multipart.FileHeader) (ingest.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("open %s failed", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("read %s failed", fh.Filename)
	}
	return ingest.Upload{Name: filepath.Base(fh.Filename), Data: data}, nil
}

func (h *Handler) listSessions(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessions, err := h.avatar.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type consentRequest struct {
	Terms           bool   `json:"terms"`
	DataProcessing  bool   `json:"data_processing"`
	EmotionalImpact bool   `json:"emotional_impact"`
	ClientMeta      string `json:"client_meta"`
}

func (h *Handler) recordConsent(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := h.avatar.RecordConsent(c.Request.Context(), userID, c.Param("session_id"),
		req.Terms, req.DataProcessing, req.EmotionalImpact, req.ClientMeta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": rec.SessionID,
		"granted_at": rec.GrantedAt,
	})
}

func (h *Handler) sessionStatus(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	status, err := h.avatar.SessionStatus(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) runStep(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := h.authorizedUserID(c)
		if !ok {
			return
		}
		step, err := h.avatar.RunStep(c.Request.Context(), userID, c.Param("session_id"), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, step)
	}
}

func (h *Handler) getStep(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := h.authorizedUserID(c)
		if !ok {
			return
		}
		step, err := h.avatar.GetStep(c.Request.Context(), userID, c.Param("session_id"), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, step)
	}
}

type interactRequest struct {
	Input   string `json:"input"`
	Message string `json:"message"` // legacy alias for input
	Persona string `json:"persona"`
}

func (r interactRequest) text() string {
	if r.Input != "" {
		return r.Input
	}
	return r.Message
}

func (h *Handler) interact(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req interactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := c.Param("session_id")
	input := req.text()

	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		interaction, usage, err := h.avatar.Interact(c.Request.Context(), userID, sessionID, input, req.Persona, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"interaction": interaction,
			"usage":       usage,
		})
		return
	}

	// SSE response construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"session_id": sessionID, "input": input}); err != nil {
		return
	}
	interaction, usage, err := h.avatar.Interact(c.Request.Context(), userID, sessionID, input, req.Persona,
		func(chunk string) error {
			return sendEvent("stream", gin.H{"content": chunk})
		})
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	_ = sendEvent("done", gin.H{
		"interaction": interaction,
		"usage":       usage,
	})
}

func (h *Handler) interactionHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	history, err := h.avatar.History(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": history})
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.avatar.DeleteSession(c.Request.Context(), userID, c.Param("session_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}
