package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loanlens/internal/models"
	"loanlens/internal/service"
)

type CallHandler interface {
	IngestTranscript(c *gin.Context)
	GetFacts(c *gin.Context)
	GetTranscript(c *gin.Context)
	GetFeedback(c *gin.Context)
	CreateFeedback(c *gin.Context)
	UpdateFeedback(c *gin.Context)
}

type callHandler struct {
	loans  service.LoanService
	logger *zap.Logger
}

func NewCallHandler(loans service.LoanService, logger *zap.Logger) CallHandler {
	return &callHandler{loans: loans, logger: logger}
}

// IngestTranscript handles POST /api/transcripts
// Body: {"call_id": "...", "text": "...", "duration_seconds": 93.5}
func (h *callHandler) IngestTranscript(c *gin.Context) {
	var req service.IngestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid transcript payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.loans.Ingest(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "Failed to ingest transcript", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result": res})
}

// GetFacts handles GET /api/calls/:id/facts
func (h *callHandler) GetFacts(c *gin.Context) {
	callID := c.Param("id")
	facts, err := h.loans.CallFacts(c.Request.Context(), callID)
	if err != nil {
		respondError(c, h.logger, "Failed to extract call facts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "facts": facts})
}

// GetTranscript handles GET /api/calls/:id/transcript
func (h *callHandler) GetTranscript(c *gin.Context) {
	callID := c.Param("id")
	text, err := h.loans.Transcript(c.Request.Context(), callID)
	if err != nil {
		respondError(c, h.logger, "Failed to load transcript", err)
		return
	}
	if text == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "content": text})
}

// GetFeedback handles GET /api/calls/:id/feedback
func (h *callHandler) GetFeedback(c *gin.Context) {
	fb, err := h.loans.GetFeedback(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to retrieve feedback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": fb})
}

// CreateFeedback handles POST /api/calls/:id/feedback
func (h *callHandler) CreateFeedback(c *gin.Context) {
	var req models.FeedbackInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fb, err := h.loans.CreateFeedback(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, "Failed to save feedback", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"feedback": fb})
}

// UpdateFeedback handles PUT /api/calls/:id/feedback
func (h *callHandler) UpdateFeedback(c *gin.Context) {
	var req models.FeedbackInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fb, err := h.loans.UpdateFeedback(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, "Failed to update feedback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": fb})
}
