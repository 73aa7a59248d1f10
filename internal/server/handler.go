// Package server exposes the resident model over a small local HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/fmueller/whisperd/internal/engine"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// DefaultRequestModel applies to requests that name no model. The
	// server's startup model is configured separately.
	DefaultRequestModel    = "base"
	DefaultRequestLanguage = "de"

	modelHeader = "X-Model"
)

var ginModeOnce sync.Once

// ModelManager is the part of the model loader the handler needs.
type ModelManager interface {
	EnsureLoaded(ctx context.Context, name string) (*model.Handle, error)
	Status() model.Status
}

type Transcriber interface {
	Transcribe(ctx context.Context, req engine.Request) (engine.Result, error)
}

type transcribeRequest struct {
	AudioPath string `json:"audio_path"`
	Model     string `json:"model"`
	Language  *string `json:"language"`
}

type healthResponse struct {
	Status      string  `json:"status"`
	ModelLoaded bool    `json:"model_loaded"`
	ModelName   *string `json:"model_name"`
	Device      *string `json:"device"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	models      ModelManager
	transcriber Transcriber
	logger      *zap.Logger
}

func NewHandler(models ModelManager, transcriber Transcriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{models: models, transcriber: transcriber, logger: logger}
}

// Routes builds the gin engine serving the API. Unknown paths, methods and
// trailing-slash variants answer 404 with an empty body.
func (h *Handler) Routes() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.Use(requestID(), accessLog(h.logger), recovery(h.logger))

	r.POST("/transcribe", h.transcribe)
	r.GET("/health", h.health)
	r.GET("/preload", h.preload)
	r.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})
	return r
}

func (h *Handler) transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.New("invalid request body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		h.fail(c, errors.New("audio_path is required"))
		return
	}

	result, err := h.transcriber.Transcribe(c.Request.Context(), engine.Request{
		AudioPath: req.AudioPath,
		Model:     orDefault(req.Model, DefaultRequestModel),
		Language:  requestLanguage(req.Language),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) health(c *gin.Context) {
	status := h.models.Status()
	resp := healthResponse{Status: "ok", ModelLoaded: status.Ready}
	if status.Ready {
		resp.ModelName = &status.ModelName
		resp.Device = &status.Device
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) preload(c *gin.Context) {
	name := orDefault(c.GetHeader(modelHeader), DefaultRequestModel)

	handle, err := h.models.EnsureLoaded(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "model": handle.Name})
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.Error("request failed",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// requestLanguage applies the default only when the key is absent; an explicit
// empty language asks the model to detect it.
func requestLanguage(language *string) string {
	if language == nil {
		return DefaultRequestLanguage
	}
	return strings.TrimSpace(*language)
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
