package handler

import (
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/auth"
	"github.com/mirecekd/trnda/internal/domain"
	"github.com/mirecekd/trnda/internal/repository"
	"github.com/mirecekd/trnda/internal/service"
)

// multipart framing allowance on top of the image itself
const formOverhead = 1 << 20

// Encoder turns the preview canvas into JPEG bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

type Handler struct {
	sessions *service.Sessions
	gate     auth.Gate
	tokens   *auth.TokenIssuer
	store    repository.ObjectStore
	encoder  Encoder
	log      *zap.Logger
}

func NewHandler(sessions *service.Sessions, gate auth.Gate, tokens *auth.TokenIssuer, store repository.ObjectStore, encoder Encoder, log *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		gate:     gate,
		tokens:   tokens,
		store:    store,
		encoder:  encoder,
		log:      log,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type annotationRequest struct {
	Text string `json:"text"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if err := h.gate.Authenticate(c.Request.Context(), req.Username, req.Password); err != nil {
		h.log.Warn("Login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	id, p := h.sessions.Create()
	token, err := h.tokens.Issue(id)
	if err != nil {
		h.sessions.Remove(id)
		h.log.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.sessions.TTL().Seconds()),
		"state":      p.Snapshot(),
	})
}

func (h *Handler) Logout(c *gin.Context) {
	h.sessions.Remove(c.GetString(sessionIDKey))
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": pipelineFrom(c).Snapshot()})
}

func (h *Handler) SelectImage(c *gin.Context) {
	p := pipelineFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, domain.MaxUploadSize+formOverhead)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Image size must be less than 10MB.", "kind": "validation"})
			return
		}
		h.log.Error("Failed to get file from form", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided", "kind": "validation"})
		return
	}

	file, err := fh.Open()
	if err != nil {
		h.log.Error("Failed to open file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}
	defer file.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		mt, err := mimetype.DetectReader(file)
		if err == nil {
			contentType = mt.String()
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
			return
		}
	}

	src, err := p.SelectImage(c.Request.Context(), domain.ImageFile{
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        file,
	})
	if err != nil {
		h.respondError(c, p, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"source": src, "state": p.Snapshot()})
}

func (h *Handler) Rotate(c *gin.Context) {
	p := pipelineFrom(c)

	staged, err := p.Rotate()
	if err != nil {
		h.respondError(c, p, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"staged": staged, "state": p.Snapshot()})
}

func (h *Handler) SetAnnotation(c *gin.Context) {
	p := pipelineFrom(c)

	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid annotation payload", "kind": "validation"})
		return
	}

	info := p.SetAnnotation(req.Text)
	c.JSON(http.StatusOK, gin.H{"annotation": info})
}

func (h *Handler) Submit(c *gin.Context) {
	p := pipelineFrom(c)

	result, err := p.Submit(c.Request.Context())
	if err != nil {
		h.respondError(c, p, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload": result, "state": p.Snapshot()})
}

func (h *Handler) Preview(c *gin.Context) {
	p := pipelineFrom(c)

	img, ok := p.Preview()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No image staged"})
		return
	}

	data, err := h.encoder.Encode(img)
	if err != nil {
		h.log.Error("Failed to encode preview", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render preview"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, domain.OutputContentType, data)
}

func (h *Handler) Reset(c *gin.Context) {
	p := pipelineFrom(c)

	if err := p.Reset(); err != nil {
		h.respondError(c, p, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": p.Snapshot()})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("Storage not ready", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "UNAVAILABLE", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (h *Handler) respondError(c *gin.Context, p *service.Pipeline, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  kind,
		"state": p.Snapshot(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrDecode):
		return http.StatusUnprocessableEntity, "decode"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrStorageAuth):
		return http.StatusBadGateway, "storage_auth"
	case errors.Is(err, domain.ErrStorage):
		return http.StatusBadGateway, "storage"
	case errors.Is(err, domain.ErrEncode):
		return http.StatusInternalServerError, "encode"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
