package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

// CreatePoolRequest mirrors ledger.PoolParams with string addresses and base-unit decimal amounts.
type CreatePoolRequest struct {
	SchemaVersion     int             `json:"schemaVersion"`
	StakingAsset      string          `json:"stakingAsset" binding:"required"`
	RewardAsset       string          `json:"rewardAsset"`
	StakingDecimals   uint8           `json:"stakingDecimals"`
	RewardDecimals    uint8           `json:"rewardDecimals"`
	StartDate         int64           `json:"startDate"`
	EndDate           int64           `json:"endDate" binding:"required"`
	MaxStakePerWallet string          `json:"maxStakePerWallet"`
	MaxTotalStake     string          `json:"maxTotalStake"`
	IsNFTPool         bool            `json:"isNFTPool"`
	IsSharedPool      bool            `json:"isSharedPool"`
	StakingFee        ledger.Fraction `json:"stakingFee"`
	UnstakingFee      ledger.Fraction `json:"unstakingFee"`
	MaxStakingFee     ledger.Fraction `json:"maxStakingFee"`
	BonusPercentage   ledger.Fraction `json:"bonusPercentage"`
	PenaltyPercentage ledger.Fraction `json:"penaltyPercentage"`
	FeePaid           string          `json:"feePaid"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type feesRequest struct {
	StakingFee   ledger.Fraction `json:"stakingFee"`
	UnstakingFee ledger.Fraction `json:"unstakingFee"`
}

type stakerView struct {
	Account   string       `json:"account"`
	TokenID   uint64       `json:"tokenId,omitempty"`
	Balance   *uint256.Int `json:"balance"`
	Earned    *uint256.Int `json:"earned"`
	StakedAt  int64        `json:"stakedAt"`
	LastTouch int64        `json:"lastTouch"`
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func poolID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, badRequest("invalid pool id %q", c.Param("id"))
	}
	return id, nil
}

func accountParam(c *gin.Context, name string) (types.Address, error) {
	addr, err := algo.DecodeAccount(c.Param(name))
	if err != nil {
		return types.ZeroAddress, badRequest("%v", err)
	}
	return addr, nil
}

// units parses a base-unit decimal string. Empty is nil (unset) when optional.
func units(value string, optional bool) (*uint256.Int, error) {
	if value == "" {
		if optional {
			return nil, nil
		}
		return nil, badRequest("amount is required")
	}
	amount, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, badRequest("invalid amount %q: %v", value, err)
	}
	return amount, nil
}

func tokenIDsQuery(c *gin.Context) ([]uint64, error) {
	var ids []uint64
	for _, part := range strings.Split(c.Query("ids"), ",") {
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, badRequest("invalid token id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Params converts the request into canonical pool parameters.
func (r CreatePoolRequest) Params() (ledger.PoolParams, *uint256.Int, error) {
	staking, err := algo.DecodeAccount(r.StakingAsset)
	if err != nil {
		return ledger.PoolParams{}, nil, badRequest("staking asset: %v", err)
	}
	reward := staking
	if r.RewardAsset != "" {
		if reward, err = algo.DecodeAccount(r.RewardAsset); err != nil {
			return ledger.PoolParams{}, nil, badRequest("reward asset: %v", err)
		}
	}
	params := ledger.PoolParams{
		SchemaVersion:     r.SchemaVersion,
		StakingAsset:      staking,
		RewardAsset:       reward,
		StakingDecimals:   r.StakingDecimals,
		RewardDecimals:    r.RewardDecimals,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		IsNFTPool:         r.IsNFTPool,
		IsSharedPool:      r.IsSharedPool,
		StakingFee:        r.StakingFee,
		UnstakingFee:      r.UnstakingFee,
		MaxStakingFee:     r.MaxStakingFee,
		BonusPercentage:   r.BonusPercentage,
		PenaltyPercentage: r.PenaltyPercentage,
	}
	if params.MaxStakePerWallet, err = units(r.MaxStakePerWallet, true); err != nil {
		return ledger.PoolParams{}, nil, err
	}
	if params.MaxTotalStake, err = units(r.MaxTotalStake, true); err != nil {
		return ledger.PoolParams{}, nil, err
	}
	feePaid, err := units(r.FeePaid, true)
	if err != nil {
		return ledger.PoolParams{}, nil, err
	}
	return params, feePaid, nil
}

func (s *Server) listPools(c *gin.Context) {
	pools := s.ledger.Pools()
	views := make([]ledger.PoolView, 0, len(pools))
	for _, pool := range pools {
		views = append(views, ledger.NewPoolView(pool))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getPool(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	pool, err := s.ledger.GetPoolInfo(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.NewPoolView(pool))
}

func (s *Server) poolIsActive(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	active, err := s.ledger.PoolIsActive(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poolId": id, "active": active})
}

func (s *Server) stakers(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	stakers, err := s.ledger.Stakers(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]stakerView, 0, len(stakers))
	for _, staker := range stakers {
		views = append(views, stakerView{
			Account:   staker.Account.String(),
			TokenID:   staker.TokenID,
			Balance:   staker.Balance,
			Earned:    staker.Earned,
			StakedAt:  staker.StakedAt,
			LastTouch: staker.LastTouch,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) earned(c *gin.Context) {
	s.accountAmount(c, s.ledger.EarningInfo)
}

func (s *Server) stakedBalance(c *gin.Context) {
	s.accountAmount(c, s.ledger.StakedBalance)
}

func (s *Server) accountAmount(c *gin.Context, read func(uint64, types.Address) (*uint256.Int, error)) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	account, err := accountParam(c, "account")
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := read(id, account)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Account: account.String(), Amount: amount})
}

func (s *Server) quoteUnstake(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	account, err := accountParam(c, "account")
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := units(c.Query("amount"), false)
	if err != nil {
		s.fail(c, err)
		return
	}
	quote, err := s.ledger.QuoteUnstake(id, account, amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": quote.Payout, "penalty": quote.Penalty, "fee": quote.Fee})
}

func (s *Server) earnedNFT(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ids, err := tokenIDsQuery(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	earned, err := s.ledger.EarningInfoNFT(id, ids)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poolId": id, "tokenIds": ids, "amount": earned})
}

func (s *Server) rewardPerToken(c *gin.Context) {
	s.poolAmount(c, s.ledger.RewardPerToken)
}

func (s *Server) obligations(c *gin.Context) {
	s.poolAmount(c, s.ledger.PoolObligations)
}

func (s *Server) poolAmount(c *gin.Context, read func(uint64) (*uint256.Int, error)) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := read(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Amount: amount})
}

func (s *Server) createPool(c *gin.Context) {
	var request CreatePoolRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	params, feePaid, err := request.Params()
	if err != nil {
		s.fail(c, err)
		return
	}
	var id uint64
	err = s.mutate(func() (err error) {
		id, err = s.ledger.CreatePool(c.Request.Context(), callerOf(c), params, feePaid)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	pool, err := s.ledger.GetPoolInfo(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ledger.NewPoolView(pool))
}

func (s *Server) setPoolActive(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var request activeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	err = s.mutate(func() error {
		return s.ledger.SetPoolActive(c.Request.Context(), callerOf(c), id, *request.Active)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poolId": id, "active": *request.Active})
}

func (s *Server) fundPool(c *gin.Context) {
	s.poolAmountMutation(c, s.ledger.FundPool)
}

func (s *Server) updatePoolFees(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var request feesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, badRequest("%v", err))
		return
	}
	err = s.mutate(func() error {
		return s.ledger.UpdatePoolFees(c.Request.Context(), callerOf(c), id, request.StakingFee, request.UnstakingFee)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (s *Server) withdrawReward(c *gin.Context) {
	id, err := poolID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var amount *uint256.Int
	err = s.mutate(func() (err error) {
		amount, err = s.ledger.WithdrawRewardToken(c.Request.Context(), callerOf(c), id)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.BalanceView{PoolID: id, Account: callerOf(c).String(), Amount: amount})
}
