package server

import (
	"net/http"
	"strings"
	"time"

	payoutdomain "github.com/carebound/carebound/internal/payout/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListPayouts(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Limit  string `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := payoutdomain.PayoutStatus(strings.TrimSpace(strings.ToLower(query.Status)))
	switch status {
	case "", payoutdomain.PayoutStatusPending, payoutdomain.PayoutStatusProcessing,
		payoutdomain.PayoutStatusCompleted, payoutdomain.PayoutStatusFailed,
		payoutdomain.PayoutStatusReversed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	limit, err := parseOptionalInt(query.Limit, 50)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.orchestrator.List(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayoutByID(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.orchestrator.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelPayout(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.orchestrator.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ReversePayout corrects a completed or failed payout. Whether the
// covered entries reopen for a future batch follows the
// payout.reopen_on_reverse setting at the time of the call.
func (s *Server) ReversePayout(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	snap, err := s.settingsSvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orchestrator.Reverse(c.Request.Context(), id, snap.ReopenEntriesOnReverse)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ListPayoutHolds reports payees whose balances are held back and why,
// without claiming anything.
func (s *Server) ListPayoutHolds(c *gin.Context) {
	snap, err := s.settingsSvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.batcher.Holds(c.Request.Context(), snap, time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
