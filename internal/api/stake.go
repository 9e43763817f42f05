package api

import (
	"context"
	"net/http"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type tokensRequest struct {
	TokenIDs []uint64 `json:"tokenIds"`
}

func (s *Server) stake(c *gin.Context) {
	s.poolAmountMutation(c, s.ledger.Stake)
}

func (s *Server) unstake(c *gin.Context) {
	s.poolAmountMutation(c, s.ledger.Unstake)
}

func (s *Server) poolAmountMutation(c *gin.Context, op func(context.Context, types.Address, uint64, *uint256.Int) error) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var request amountRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	amount, err := units(request.Amount, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.mutate(func() error {
		return op(c.Request.Context(), callerOf(c), id, amount)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Account: callerOf(c).String(), Amount: amount})
}

func (s *Server) claim(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var reward *uint256.Int
	err = s.mutate(func() (err error) {
		reward, err = s.ledger.ClaimToken(c.Request.Context(), callerOf(c), id)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Account: callerOf(c).String(), Amount: reward})
}

func (s *Server) stakeNFT(c *gin.Context) {
	s.poolTokensMutation(c, s.ledger.StakeNFT)
}

func (s *Server) unstakeNFT(c *gin.Context) {
	s.poolTokensMutation(c, s.ledger.UnstakeNFT)
}

func (s *Server) poolTokensMutation(c *gin.Context, op func(context.Context, types.Address, uint64, []uint64) error) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var request tokensRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	err = s.mutate(func() error {
		return op(c.Request.Context(), callerOf(c), id, request.TokenIDs)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poolId": id, "account": callerOf(c).String(), "tokenIds": request.TokenIDs})
}

func (s *Server) claimNFT(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var request tokensRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	var reward *uint256.Int
	err = s.mutate(func() (err error) {
		reward, err = s.ledger.ClaimNFT(c.Request.Context(), callerOf(c), id, request.TokenIDs)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Account: callerOf(c).String(), Amount: reward})
}
