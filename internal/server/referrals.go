package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createReferralCodeRequest struct {
	Code               string `json:"code"`
	MarketingPartnerID string `json:"marketing_partner_id"`
}

func (s *Server) CreateReferralCode(c *gin.Context) {
	var req createReferralCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	partnerID, err := parseSnowflakeID(req.MarketingPartnerID)
	if err != nil {
		AbortWithError(c, newValidationError("marketing_partner_id", "invalid_marketing_partner", "invalid marketing_partner_id"))
		return
	}

	resp, err := s.referralRepo.Create(c.Request.Context(), strings.TrimSpace(req.Code), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReferralCode(c *gin.Context) {
	resp, err := s.referralRepo.FindByCode(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
