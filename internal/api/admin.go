package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

type ownerRequest struct {
	NewOwner string `json:"newOwner" binding:"required"`
}

type creationFeeRequest struct {
	Fee string `json:"fee" binding:"required"`
}

type fractionRequest struct {
	Fee ledger.Fraction `json:"fee"`
}

type assetRequest struct {
	Asset string `json:"asset" binding:"required"`
}

type approveRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func addressOrZero(addr types.Address) string {
	if addr == types.ZeroAddress {
		return ""
	}
	return addr.String()
}

func (s *Server) adminState(c *gin.Context) {
	defaults := s.ledger.FeeDefaults()
	c.JSON(http.StatusOK, gin.H{
		"owner":        addressOrZero(s.ledger.Owner()),
		"paused":       s.ledger.Paused(),
		"custody":      s.ledger.Custody().String(),
		"poolCount":    s.ledger.PoolCount(),
		"feeAsset":     addressOrZero(defaults.FeeAsset),
		"creationFee":  defaults.CreationFee,
		"stakingFee":   defaults.StakingFee,
		"unstakingFee": defaults.UnstakingFee,
		"lastSeq":      s.ledger.LastSeq(),
	})
}

func (s *Server) treasury(c *gin.Context) {
	asset, err := accountParam(c, "asset")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{Account: asset.String(), Amount: s.ledger.Treasury(asset)})
}

func (s *Server) listEvents(c *gin.Context) {
	var since uint64
	if value := c.Query("since"); value != "" {
		var err error
		if since, err = strconv.ParseUint(value, 10, 64); err != nil {
			s.fail(c, badRequest("invalid since %q", value))
			return
		}
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		s.fail(c, badRequest("invalid limit %q", c.Query("limit")))
		return
	}

	var events []ledger.Event
	if s.events != nil {
		if events, err = s.events.Since(since, limit); err != nil {
			s.fail(c, err)
			return
		}
	} else {
		events = s.ledger.Events(since)
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
	}
	if events == nil {
		events = []ledger.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) pause(c *gin.Context) {
	s.callerMutation(c, s.ledger.Pause)
}

func (s *Server) unpause(c *gin.Context) {
	s.callerMutation(c, s.ledger.Unpause)
}

func (s *Server) renounceOwnership(c *gin.Context) {
	s.callerMutation(c, s.ledger.RenounceOwnership)
}

func (s *Server) callerMutation(c *gin.Context, op func(context.Context, types.Address) error) {
	err := s.mutate(func() error {
		return op(c.Request.Context(), callerOf(c))
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": addressOrZero(s.ledger.Owner()), "paused": s.ledger.Paused()})
}

func (s *Server) transferOwnership(c *gin.Context) {
	var request ownerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	// the zero address decodes fine here so the ledger gets to reject it as InvalidAddress
	newOwner, err := types.DecodeAddress(request.NewOwner)
	if err != nil {
		s.fail(c, badRequest("invalid new owner: %v", err))
		return
	}
	err = s.mutate(func() error {
		return s.ledger.TransferOwnership(c.Request.Context(), callerOf(c), newOwner)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": newOwner.String()})
}

func (s *Server) setCreationFee(c *gin.Context) {
	var request creationFeeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	fee, err := units(request.Fee, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.mutate(func() error {
		return s.ledger.SetPoolCreationFee(c.Request.Context(), callerOf(c), fee)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"creationFee": fee})
}

func (s *Server) setStakingFee(c *gin.Context) {
	s.feeMutation(c, s.ledger.SetStakingFee)
}

func (s *Server) setUnstakingFee(c *gin.Context) {
	s.feeMutation(c, s.ledger.SetUnstakingFee)
}

func (s *Server) feeMutation(c *gin.Context, op func(context.Context, types.Address, ledger.Fraction) error) {
	var request fractionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	err := s.mutate(func() error {
		return op(c.Request.Context(), callerOf(c), request.Fee)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (s *Server) withdraw(c *gin.Context) {
	var request assetRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	asset, err := algo.DecodeAccount(request.Asset)
	if err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	var amount *uint256.Int
	err = s.mutate(func() (err error) {
		amount, err = s.ledger.Withdraw(c.Request.Context(), callerOf(c), asset)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{Account: asset.String(), Amount: amount})
}

func (s *Server) bankAccount(c *gin.Context) {
	asset, err := accountParam(c, "asset")
	if err != nil {
		s.fail(c, err)
		return
	}
	account, err := accountParam(c, "account")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     asset.String(),
		"account":   account.String(),
		"balance":   s.bank.BalanceOf(asset, account),
		"allowance": s.bank.Allowance(asset, account, s.ledger.Custody()),
	})
}

// approve sets the allowance the caller grants the ledger custody account.
func (s *Server) approve(c *gin.Context) {
	var request approveRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	asset, err := algo.DecodeAccount(request.Asset)
	if err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	amount, err := units(request.Amount, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.mutate(func() error {
		return s.bank.Approve(asset, callerOf(c), s.ledger.Custody(), amount)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset.String(), "allowance": amount})
}
