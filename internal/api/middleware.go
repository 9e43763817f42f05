package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/TxnLab/stakeledger/internal/lib/algo"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

const callerKey = "caller"

// SigningPayload is what a client signs (with algo SignBytes) for a mutating request: method, path, nonce
// and the exact request body, so a signature can't be reused against a different route or sent twice.
func SigningPayload(method, path string, nonce uint64, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+24)
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	payload = strconv.AppendUint(payload, nonce, 10)
	payload = append(payload, '\n')
	return append(payload, body...)
}

// nonceTracker holds the last nonce accepted from each caller. Nonces are unix milliseconds: they have to
// be within window of the server clock and above the caller's previous one.
type nonceTracker struct {
	sync.Mutex
	last   map[types.Address]uint64
	window time.Duration
	now    func() time.Time
}

func newNonceTracker(window time.Duration) *nonceTracker {
	if window <= 0 {
		window = DefaultNonceWindow
	}
	return &nonceTracker{last: map[types.Address]uint64{}, window: window, now: time.Now}
}

func (nt *nonceTracker) accept(caller types.Address, nonce uint64) error {
	nt.Lock()
	defer nt.Unlock()
	now := nt.now()
	oldest := uint64(now.Add(-nt.window).UnixMilli())
	newest := uint64(now.Add(nt.window).UnixMilli())
	if nonce < oldest || nonce > newest {
		return fmt.Errorf("nonce %d is outside the accepted window", nonce)
	}
	if nonce <= nt.last[caller] {
		return fmt.Errorf("nonce %d was already used", nonce)
	}
	// callers whose last nonce has left the window can't replay anything
	if len(nt.last) > 10_000 {
		for addr, seen := range nt.last {
			if seen < oldest {
				delete(nt.last, addr)
			}
		}
	}
	nt.last[caller] = nonce
	return nil
}

// SignedCaller authenticates the caller header against the signature and nonce headers and stores the
// caller address in the gin context. A nonce is only spent once its signature checks out.
func SignedCaller(log *slog.Logger, nonceWindow time.Duration) gin.HandlerFunc {
	nonces := newNonceTracker(nonceWindow)
	return func(c *gin.Context) {
		caller, err := algo.DecodeAccount(c.GetHeader(HeaderCaller))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderCaller})
			return
		}
		sig, err := base64.StdEncoding.DecodeString(c.GetHeader(HeaderSignature))
		if err != nil || len(sig) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderSignature})
			return
		}
		nonce, err := strconv.ParseUint(c.GetHeader(HeaderNonce), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderNonce})
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !algo.VerifySignedBytes(caller, SigningPayload(c.Request.Method, c.Request.URL.Path, nonce, body), sig) {
			misc.Debugf(log, "signature check failed for %s %s caller:%s", c.Request.Method, c.Request.URL.Path, caller)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature does not match caller"})
			return
		}
		if err := nonces.accept(caller, nonce); err != nil {
			misc.Warnf(log, "rejected %s %s from %s: %v", c.Request.Method, c.Request.URL.Path, caller, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) types.Address {
	return c.MustGet(callerKey).(types.Address)
}

type limiterMap struct {
	sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (lm *limiterMap) get(ip string) *rate.Limiter {
	lm.Lock()
	defer lm.Unlock()
	limiter, found := lm.limiters[ip]
	if !found {
		// reset rather than track idle time per ip
		if len(lm.limiters) > 1000 {
			lm.limiters = map[string]*rate.Limiter{}
		}
		limiter = rate.NewLimiter(lm.limit, lm.burst)
		lm.limiters[ip] = limiter
	}
	return limiter
}

// RateLimiter limits each client ip to perSecond requests with the given burst.
func RateLimiter(perSecond float64, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	lm := &limiterMap{limiters: map[string]*rate.Limiter{}, limit: rate.Limit(perSecond), burst: burst}
	return func(c *gin.Context) {
		limiter := lm.get(c.ClientIP())
		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := reservation.DelayFrom(time.Now()).Seconds()
			reservation.Cancel()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		misc.Debugf(log, "%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
