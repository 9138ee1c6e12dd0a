package handler

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loanlens/internal/service"
)

const (
	defaultLoanListLimit = 100
	maxLoanListLimit     = 1000
)

type LoanHandler interface {
	ListLoans(c *gin.Context)
	GetLoanCalls(c *gin.Context)
	GetNetwork(c *gin.Context)
	GetTimeline(c *gin.Context)
	GetUserLoans(c *gin.Context)
	GetOfficerAccuracy(c *gin.Context)
	Health(c *gin.Context)
}

type loanHandler struct {
	loans  service.LoanService
	logger *zap.Logger
}

func NewLoanHandler(loans service.LoanService, logger *zap.Logger) LoanHandler {
	return &loanHandler{loans: loans, logger: logger}
}

// ListLoans handles GET /api/loans
// Query parameters:
// - limit: maximum number of loans (optional, default 100)
func (h *loanHandler) ListLoans(c *gin.Context) {
	limit := defaultLoanListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxLoanListLimit)
	}

	loans, err := h.loans.ListLoans(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, "Failed to retrieve loans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loans": loans, "total": len(loans)})
}

// GetLoanCalls handles GET /api/loans/:loan/calls
func (h *loanHandler) GetLoanCalls(c *gin.Context) {
	loan, ok := loanParam(c)
	if !ok {
		return
	}
	calls, err := h.loans.LoanCalls(c.Request.Context(), loan)
	if err != nil {
		respondError(c, h.logger, "Failed to retrieve loan calls", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan_number": loan, "calls": calls, "total": len(calls)})
}

// GetNetwork handles GET /api/loans/:loan/network
// Query parameters:
// - window_days: expansion window in days (required)
func (h *loanHandler) GetNetwork(c *gin.Context) {
	loan, ok := loanParam(c)
	if !ok {
		return
	}
	window, present, ok := windowParam(c)
	if !ok {
		return
	}
	if !present {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_days is required"})
		return
	}

	set, err := h.loans.Network(c.Request.Context(), loan, window)
	if err != nil {
		respondError(c, h.logger, "Failed to expand loan network", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"network": set})
}

// GetTimeline handles GET /api/loans/:loan/timeline
// Query parameters:
// - window_days: expand through the loan officer first (optional)
func (h *loanHandler) GetTimeline(c *gin.Context) {
	loan, ok := loanParam(c)
	if !ok {
		return
	}
	window, present, ok := windowParam(c)
	if !ok {
		return
	}

	var w *time.Duration
	if present {
		w = &window
	}
	tl, err := h.loans.Timeline(c.Request.Context(), loan, w)
	if err != nil {
		respondError(c, h.logger, "Failed to build timeline", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeline": tl})
}

// GetUserLoans handles GET /api/users/:name/loans
func (h *loanHandler) GetUserLoans(c *gin.Context) {
	name := c.Param("name")
	loans, err := h.loans.LoansForUser(c.Request.Context(), name)
	if err != nil {
		respondError(c, h.logger, "Failed to retrieve user loans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_name": name, "loans": loans, "total": len(loans)})
}

// GetOfficerAccuracy handles GET /api/officers/:phone/accuracy
func (h *loanHandler) GetOfficerAccuracy(c *gin.Context) {
	acc, err := h.loans.OfficerAccuracy(c.Request.Context(), c.Param("phone"))
	if err != nil {
		respondError(c, h.logger, "Failed to compute officer accuracy", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accuracy": acc})
}

// Health handles GET /health
func (h *loanHandler) Health(c *gin.Context) {
	if err := h.loans.Health(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "state": StateDataUnavailable})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func loanParam(c *gin.Context) (string, bool) {
	loan := c.Param("loan")
	if isDigits(loan) {
		return loan, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid loan number"})
	return "", false
}

// windowParam parses window_days. present is false when the parameter is
// absent; ok is false once a 400 has been written.
func windowParam(c *gin.Context) (window time.Duration, present, ok bool) {
	raw, present := c.GetQuery("window_days")
	if !present {
		return 0, false, true
	}
	days, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(days) || math.IsInf(days, 0) || math.Abs(days) > 36500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_days must be a number of days"})
		return 0, true, false
	}
	return time.Duration(days * float64(24*time.Hour)), true, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
