package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListBalanceSnapshots(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"), 30)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.reporter.Recent(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBalanceSnapshot(c *gin.Context) {
	date, err := parseDateOnly(c.Param("date"))
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}

	resp, err := s.reporter.GetByDate(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RebuildBalanceSnapshot discards the stored snapshot for the date and
// recomputes it from current ledger and rail state.
func (s *Server) RebuildBalanceSnapshot(c *gin.Context) {
	date, err := parseDateOnly(c.Param("date"))
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}

	resp, err := s.reporter.Snapshot(c.Request.Context(), date, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
