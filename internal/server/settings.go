package server

import (
	"net/http"
	"strings"

	"github.com/carebound/carebound/internal/settings"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetSettings(c *gin.Context) {
	snap, err := s.settingsSvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

type setSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) SetSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	switch key {
	case settings.KeyPayoutFrequency, settings.KeyMinimumPayoutCents,
		settings.KeyReopenOnReverse, settings.KeyReconcileToleranceCt:
	default:
		AbortWithError(c, newValidationError("key", "invalid_setting_key", "invalid setting key"))
		return
	}

	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.settingsSvc.Set(c.Request.Context(), key, strings.TrimSpace(req.Value)); err != nil {
		AbortWithError(c, err)
		return
	}

	snap, err := s.settingsSvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}
