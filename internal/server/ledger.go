package server

import (
	"net/http"
	"strings"
	"time"

	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetLedgerBalance(c *gin.Context) {
	account := ledgerdomain.AccountCode(strings.TrimSpace(c.Param("account")))
	switch account {
	case ledgerdomain.AccountClientReceivable, ledgerdomain.AccountClientPayments,
		ledgerdomain.AccountCaregiverPayable, ledgerdomain.AccountMarketingPayable,
		ledgerdomain.AccountTrainingPayable, ledgerdomain.AccountCommissionExpense,
		ledgerdomain.AccountPayoutClearing, ledgerdomain.AccountAgencyRevenue:
	default:
		AbortWithError(c, newValidationError("account", "invalid_account", "invalid account"))
		return
	}

	asOf, err := parseOptionalTime(c.Query("as_of"), true)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}

	var at time.Time
	if asOf != nil {
		at = *asOf
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), account, at)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account":       account,
		"balance_cents": balance,
	}})
}
