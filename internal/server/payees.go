package server

import (
	"net/http"
	"strings"

	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

type createPayeeRequest struct {
	Type               string `json:"type"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	RailAccountID      string `json:"rail_account_id"`
	MinimumPayoutCents int64  `json:"minimum_payout_cents"`
}

func (s *Server) CreatePayee(c *gin.Context) {
	var req createPayeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payeeSvc.Create(c.Request.Context(), payeedomain.CreatePayeeRequest{
		Type:               strings.TrimSpace(req.Type),
		Name:               strings.TrimSpace(req.Name),
		Email:              strings.TrimSpace(req.Email),
		RailAccountID:      strings.TrimSpace(req.RailAccountID),
		MinimumPayoutCents: req.MinimumPayoutCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayees(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Type      string `form:"type"`
		Suspended string `form:"suspended"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	suspended, err := parseOptionalBool(query.Suspended)
	if err != nil {
		AbortWithError(c, newValidationError("suspended", "invalid_suspended", "invalid suspended"))
		return
	}

	resp, err := s.payeeSvc.List(c.Request.Context(), payeedomain.ListPayeeRequest{
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
		Type:      strings.TrimSpace(query.Type),
		Suspended: suspended,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayeeByID(c *gin.Context) {
	resp, err := s.payeeSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updatePayoutAccountRequest struct {
	RailAccountID string `json:"rail_account_id"`
}

func (s *Server) UpdatePayeePayoutAccount(c *gin.Context) {
	var req updatePayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payeeSvc.UpdatePayoutAccount(c.Request.Context(), payeedomain.UpdatePayoutAccountRequest{
		ID:            strings.TrimSpace(c.Param("id")),
		RailAccountID: strings.TrimSpace(req.RailAccountID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateComplianceRequest struct {
	TaxFormOnFile             *bool   `json:"tax_form_on_file"`
	BackgroundCheckValidUntil *string `json:"background_check_valid_until"`
	RailAccountVerified       *bool   `json:"rail_account_verified"`
}

func (s *Server) UpdatePayeeCompliance(c *gin.Context) {
	var req updateComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := payeedomain.ComplianceUpdateRequest{
		ID:                  strings.TrimSpace(c.Param("id")),
		TaxFormOnFile:       req.TaxFormOnFile,
		RailAccountVerified: req.RailAccountVerified,
	}
	if req.BackgroundCheckValidUntil != nil {
		validUntil, err := parseOptionalTime(*req.BackgroundCheckValidUntil, true)
		if err != nil {
			AbortWithError(c, newValidationError("background_check_valid_until", "invalid_background_check_valid_until", "invalid background_check_valid_until"))
			return
		}
		update.BackgroundCheckValidUntil = validUntil
	}

	resp, err := s.payeeSvc.UpdateCompliance(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuspendPayee(c *gin.Context) {
	resp, err := s.payeeSvc.Suspend(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReinstatePayee(c *gin.Context) {
	resp, err := s.payeeSvc.Reinstate(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
