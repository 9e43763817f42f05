// Package api serves the ledger over HTTP/JSON. Reads are open; every mutation must be signed by the
// account it acts for.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

const (
	HeaderCaller    = "X-Ledger-Caller"
	HeaderSignature = "X-Ledger-Signature"
	// HeaderNonce carries the signed request nonce, unix milliseconds at signing time.
	HeaderNonce = "X-Ledger-Nonce"

	DefaultNonceWindow = 5 * time.Minute
)

// EventLog is a durable event history, ie: the bbolt journal.
type EventLog interface {
	Since(seq uint64, limit int) ([]ledger.Event, error)
}

type Config struct {
	Ledger *ledger.Ledger
	Bank   *bank.Memory
	// Events is optional - without it /v1/events serves the ledger's in-memory ring.
	Events EventLog
	// Mutations is held around every mutating call. The daemon passes the read side of the lock its
	// snapshot job takes exclusively, so snapshots never see the ledger and bank half way through a call.
	Mutations sync.Locker
	// Requests per second allowed per client ip, 0 disables limiting.
	RateLimit float64
	Burst     int
	// How far a request nonce may be from the server clock. Defaults to DefaultNonceWindow.
	NonceWindow time.Duration
	Logger      *slog.Logger
}

type Server struct {
	ledger    *ledger.Ledger
	bank      *bank.Memory
	events    EventLog
	mutations sync.Locker
	log       *slog.Logger
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// NewRouter returns the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mutations == nil {
		cfg.Mutations = nopLocker{}
	}
	s := &Server{
		ledger:    cfg.Ledger,
		bank:      cfg.Bank,
		events:    cfg.Events,
		mutations: cfg.Mutations,
		log:       cfg.Logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	if cfg.RateLimit > 0 {
		r.Use(RateLimiter(cfg.RateLimit, cfg.Burst))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "lastSeq": s.ledger.LastSeq()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/pools", s.listPools)
		v1.GET("/pools/:id", s.getPool)
		v1.GET("/pools/:id/active", s.poolIsActive)
		v1.GET("/pools/:id/stakers", s.stakers)
		v1.GET("/pools/:id/accounts/:account/earned", s.earned)
		v1.GET("/pools/:id/accounts/:account/staked", s.stakedBalance)
		v1.GET("/pools/:id/accounts/:account/quote", s.quoteUnstake)
		v1.GET("/pools/:id/tokens/earned", s.earnedNFT)
		v1.GET("/pools/:id/reward-per-token", s.rewardPerToken)
		v1.GET("/pools/:id/obligations", s.obligations)

		v1.GET("/admin", s.adminState)
		v1.GET("/treasury/:asset", s.treasury)
		v1.GET("/events", s.listEvents)
		v1.GET("/bank/:asset/:account", s.bankAccount)
	}

	signed := v1.Group("", SignedCaller(s.log, cfg.NonceWindow))
	{
		signed.POST("/pools", s.createPool)
		signed.POST("/pools/:id/active", s.setPoolActive)
		signed.POST("/pools/:id/fund", s.fundPool)
		signed.POST("/pools/:id/fees", s.updatePoolFees)
		signed.POST("/pools/:id/stake", s.stake)
		signed.POST("/pools/:id/unstake", s.unstake)
		signed.POST("/pools/:id/claim", s.claim)
		signed.POST("/pools/:id/stake-nft", s.stakeNFT)
		signed.POST("/pools/:id/unstake-nft", s.unstakeNFT)
		signed.POST("/pools/:id/claim-nft", s.claimNFT)
		signed.POST("/pools/:id/withdraw-reward", s.withdrawReward)

		signed.POST("/admin/pause", s.pause)
		signed.POST("/admin/unpause", s.unpause)
		signed.POST("/admin/transfer-ownership", s.transferOwnership)
		signed.POST("/admin/renounce-ownership", s.renounceOwnership)
		signed.POST("/admin/creation-fee", s.setCreationFee)
		signed.POST("/admin/staking-fee", s.setStakingFee)
		signed.POST("/admin/unstaking-fee", s.setUnstakingFee)
		signed.POST("/admin/withdraw", s.withdraw)

		signed.POST("/bank/approve", s.approve)
	}
	return r
}

// mutate runs fn with the mutation lock held.
func (s *Server) mutate(fn func() error) error {
	s.mutations.Lock()
	defer s.mutations.Unlock()
	return fn()
}
