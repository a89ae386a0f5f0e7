package server

import (
	"net/http"
	"strings"
	"time"

	timesheetdomain "github.com/carebound/carebound/internal/timesheet/domain"
	"github.com/gin-gonic/gin"
)

type recordTimeEntryRequest struct {
	WorkerID         string     `json:"worker_id"`
	ClientID         string     `json:"client_id"`
	ReferralCode     string     `json:"referral_code"`
	TrainingCenterID string     `json:"training_center_id"`
	ClockInAt        *time.Time `json:"clock_in_at"`
}

func (s *Server) RecordTimeEntry(c *gin.Context) {
	var req recordTimeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clockInAt := time.Now().UTC()
	if req.ClockInAt != nil {
		clockInAt = req.ClockInAt.UTC()
	}

	resp, err := s.timesheetSvc.Record(c.Request.Context(), timesheetdomain.RecordEntryRequest{
		WorkerID:         strings.TrimSpace(req.WorkerID),
		ClientID:         strings.TrimSpace(req.ClientID),
		ReferralCode:     strings.TrimSpace(req.ReferralCode),
		TrainingCenterID: strings.TrimSpace(req.TrainingCenterID),
		ClockInAt:        clockInAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type clockOutRequest struct {
	ClockOutAt *time.Time `json:"clock_out_at"`
}

func (s *Server) ClockOutTimeEntry(c *gin.Context) {
	var req clockOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clockOutAt := time.Now().UTC()
	if req.ClockOutAt != nil {
		clockOutAt = req.ClockOutAt.UTC()
	}

	resp, err := s.timesheetSvc.ClockOut(c.Request.Context(), timesheetdomain.ClockOutRequest{
		ID:         strings.TrimSpace(c.Param("id")),
		ClockOutAt: clockOutAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// SealTimeEntry freezes the entry's minutes and commission split.
// Sealing twice is a no-op that returns the frozen result.
func (s *Server) SealTimeEntry(c *gin.Context) {
	resp, err := s.timesheetSvc.Seal(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTimeEntry(c *gin.Context) {
	resp, err := s.timesheetSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
