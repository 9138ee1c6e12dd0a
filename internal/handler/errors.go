package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loanlens/internal/network"
	"loanlens/internal/repository"
	"loanlens/internal/service"
)

// StateDataUnavailable tells clients the store could not answer. It is
// distinct from an empty result.
const StateDataUnavailable = "data_unavailable"

// respondError maps service errors onto status codes. Anything unknown is
// logged and reported as a 500.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	var lookup *network.LookupFailure
	switch {
	case errors.As(err, &lookup):
		logger.Error("Record store lookup failed",
			zap.String("loan_number", lookup.LoanNumber), zap.String("op", lookup.Op), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg, "state": StateDataUnavailable})
	case errors.Is(err, network.ErrInvalidWindow),
		errors.Is(err, repository.ErrInvalidFeedback),
		errors.Is(err, service.ErrEmptyTranscript):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCallNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, repository.ErrFeedbackExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Feedback already exists, use PUT to update it"})
	default:
		logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
