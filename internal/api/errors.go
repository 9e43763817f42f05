package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch ledger.CodeOf(err) {
	case ledger.CodeInvalidParameters, ledger.CodeInvalidAddress:
		return http.StatusBadRequest
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeUnauthorized:
		return http.StatusForbidden
	case ledger.CodeContractPaused, ledger.CodePoolInactive, ledger.CodeOutsideWindow, ledger.CodeAlreadyInState:
		return http.StatusConflict
	case ledger.CodeWalletCapExceeded, ledger.CodePoolCapExceeded, ledger.CodeInsufficientStake,
		ledger.CodeNothingToClaim, ledger.CodeInsufficientBalance, ledger.CodeInsufficientFee:
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, bank.ErrInsufficientFunds), errors.Is(err, bank.ErrInsufficientAllowance),
		errors.Is(err, bank.ErrNotTokenOwner), errors.Is(err, bank.ErrZeroAmount):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if code := ledger.CodeOf(err); code != "" {
		body["code"] = code
	}
	if status == http.StatusInternalServerError {
		misc.Errorf(s.log, "%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}
