package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

const T = int64(1_700_000_000)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct {
	sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(unix int64) {
	c.Lock()
	defer c.Unlock()
	c.now = unix
}

type fixture struct {
	t      *testing.T
	clock  *fakeClock
	bank   *bank.Memory
	ledger *ledger.Ledger
	router *gin.Engine
	owner  crypto.Account
	token  crypto.Account
	nonces uint64
}

func newFixture(t *testing.T, rateLimit float64) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	custody := crypto.GetApplicationAddress(77)
	f := &fixture{
		t:     t,
		clock: &fakeClock{now: T},
		bank:  bank.NewMemory(custody),
		owner: crypto.GenerateAccount(),
		token: crypto.GenerateAccount(),
	}
	var err error
	f.ledger, err = ledger.New(ledger.Config{
		Owner:      f.owner.Address,
		Custody:    custody,
		Assets:     f.bank,
		Allowances: f.bank,
		Clock:      f.clock,
		Logger:     logger,
	})
	require.NoError(t, err)
	f.router = NewRouter(Config{Ledger: f.ledger, Bank: f.bank, Logger: logger, RateLimit: rateLimit, Burst: 1})
	return f
}

// nextNonce is the current time in unix milliseconds, bumped so every call gets a fresh one.
func (f *fixture) nextNonce() uint64 {
	f.nonces++
	return uint64(time.Now().UnixMilli()) + f.nonces
}

// signedRequest builds a request carrying signer's signature over the signed path, method, nonce and body.
func signedRequest(t *testing.T, method, path, signedPath string, signer crypto.Account, caller string, nonce uint64, data []byte) *http.Request {
	t.Helper()
	sig, err := crypto.SignBytes(signer.PrivateKey, SigningPayload(method, signedPath, nonce, data))
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCaller, caller)
	req.Header.Set(HeaderNonce, strconv.FormatUint(nonce, 10))
	req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	return req
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// do sends body signed by signer (nil sends it unsigned).
func (f *fixture) do(method, path string, signer *crypto.Account, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(f.t, err)
	}
	if signer != nil {
		return f.serve(signedRequest(f.t, method, path, path, *signer, signer.Address.String(), f.nextNonce(), data))
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return f.serve(req)
}

func (f *fixture) createPool() uint64 {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/pools", &f.owner, CreatePoolRequest{
		StakingAsset:      f.token.Address.String(),
		StakingDecimals:   6,
		RewardDecimals:    6,
		StartDate:         T,
		EndDate:           T + 1000,
		MaxStakePerWallet: "500",
		BonusPercentage:   ledger.Fraction{Numerator: 10, Denominator: 100},
		PenaltyPercentage: ledger.Fraction{Numerator: 10, Denominator: 100},
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var view ledger.PoolView
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSignatureRequired(t *testing.T) {
	f := newFixture(t, 0)
	bob := crypto.GenerateAccount()
	owner := f.owner.Address.String()
	pause := "/v1/admin/pause"

	rec := f.do(http.MethodPost, pause, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// signed by bob but claiming to be the owner
	rec = f.serve(signedRequest(t, http.MethodPost, pause, pause, bob, owner, f.nextNonce(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a valid signature for one route doesn't carry over to another
	rec = f.serve(signedRequest(t, http.MethodPost, pause, "/v1/admin/unpause", f.owner, owner, f.nextNonce(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// nor to another nonce
	req := signedRequest(t, http.MethodPost, pause, pause, f.owner, owner, f.nextNonce(), nil)
	req.Header.Set(HeaderNonce, strconv.FormatUint(f.nextNonce(), 10))
	rec = f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = signedRequest(t, http.MethodPost, pause, pause, f.owner, owner, f.nextNonce(), nil)
	req.Header.Del(HeaderNonce)
	rec = f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], HeaderNonce)
	assert.False(t, f.ledger.Paused())

	rec = f.do(http.MethodPost, pause, &f.owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.ledger.Paused())
}

func TestSignedRequestNonces(t *testing.T) {
	f := newFixture(t, 0)
	alice := crypto.GenerateAccount()
	caller := alice.Address.String()
	approve := "/v1/bank/approve"
	now := uint64(time.Now().UnixMilli())
	window := uint64(DefaultNonceWindow.Milliseconds())
	body := func(amount string) []byte {
		data, err := json.Marshal(approveRequest{Asset: f.token.Address.String(), Amount: amount})
		require.NoError(t, err)
		return data
	}
	allowance := func() string {
		return f.bank.Allowance(f.token.Address, alice.Address, f.ledger.Custody()).Dec()
	}

	// a request captured on the wire and sent again is refused
	first := body("10")
	rec := f.serve(signedRequest(t, http.MethodPost, approve, approve, alice, caller, now, first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.serve(signedRequest(t, http.MethodPost, approve, approve, alice, caller, now, first))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "10", allowance())

	testCases := []struct {
		name   string
		nonce  uint64
		amount string
		status int
		after  string
	}{
		{"older than the last one", now - 1, "20", http.StatusUnauthorized, "10"},
		{"next one", now + 1, "30", http.StatusOK, "30"},
		{"too old", now - window - 60_000, "40", http.StatusUnauthorized, "30"},
		{"too far ahead", now + window + 60_000, "50", http.StatusUnauthorized, "30"},
		{"later one", now + 1000, "60", http.StatusOK, "60"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(signedRequest(t, http.MethodPost, approve, approve, alice, caller, tc.nonce, body(tc.amount)))
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.after, allowance())
		})
	}

	// nonces are tracked per caller
	bob := crypto.GenerateAccount()
	rec = f.serve(signedRequest(t, http.MethodPost, approve, approve, bob, bob.Address.String(), now, body("5")))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a forged request doesn't spend the caller's nonce
	rec = f.serve(signedRequest(t, http.MethodPost, approve, approve, bob, caller, now+2000, body("70")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.serve(signedRequest(t, http.MethodPost, approve, approve, alice, caller, now+2000, body("80")))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "80", allowance())
}

func TestStakeFlow(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createPool()
	alice := crypto.GenerateAccount()
	require.NoError(t, f.bank.Mint(f.token.Address, alice.Address, uint256.NewInt(1000)))

	// no allowance yet
	rec := f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/stake", id), &alice, amountRequest{Amount: "100"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/v1/bank/approve", &alice, approveRequest{Asset: f.token.Address.String(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/stake", id), &alice, amountRequest{Amount: "600"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(ledger.CodeWalletCapExceeded), decode(t, rec)["code"])
	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/stake", id), &alice, amountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Set(T + 500)
	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/accounts/%s/earned", id, alice.Address), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", decode(t, rec)["amount"])

	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/accounts/%s/quote?amount=50", id, alice.Address), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode(t, rec)
	assert.Equal(t, "45", quote["payout"])
	assert.Equal(t, "5", quote["penalty"])

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/unstake", id), &alice, amountRequest{Amount: "101"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(ledger.CodeInsufficientStake), decode(t, rec)["code"])
	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/unstake", id), &alice, amountRequest{Amount: "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(945), f.bank.BalanceOf(f.token.Address, alice.Address).Uint64())

	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/stakers", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stakers []stakerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stakers))
	require.Len(t, stakers, 1)
	assert.Equal(t, alice.Address.String(), stakers[0].Account)
	assert.Equal(t, uint64(50), stakers[0].Balance.Uint64())

	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/treasury/%s", f.token.Address), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", decode(t, rec)["amount"])

	rec = f.do(http.MethodGet, "/v1/events?since=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []ledger.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, ledger.EventStaked, events[0].Kind)
	assert.Equal(t, ledger.EventUnstaked, events[1].Kind)
}

func TestSharedPoolFlow(t *testing.T) {
	f := newFixture(t, 0)
	reward := crypto.GenerateAccount()
	alice := crypto.GenerateAccount()
	bob := crypto.GenerateAccount()
	for _, staker := range []crypto.Account{alice, bob} {
		require.NoError(t, f.bank.Mint(f.token.Address, staker.Address, uint256.NewInt(100)))
		rec := f.do(http.MethodPost, "/v1/bank/approve", &staker, approveRequest{Asset: f.token.Address.String(), Amount: "100"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(http.MethodPost, "/v1/pools", &f.owner, CreatePoolRequest{
		StakingAsset:      f.token.Address.String(),
		RewardAsset:       reward.Address.String(),
		StakingDecimals:   6,
		RewardDecimals:    6,
		StartDate:         T,
		EndDate:           T + 1000,
		IsSharedPool:      true,
		PenaltyPercentage: ledger.Fraction{Numerator: 10, Denominator: 100},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view ledger.PoolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.IsSharedPool)
	id := view.ID
	path := func(action string) string { return fmt.Sprintf("/v1/pools/%d/%s", id, action) }

	require.NoError(t, f.bank.Mint(reward.Address, f.owner.Address, uint256.NewInt(1000)))
	rec = f.do(http.MethodPost, "/v1/bank/approve", &f.owner, approveRequest{Asset: reward.Address.String(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, path("fund"), &f.owner, amountRequest{Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// alice is the pool's first staker
	rec = f.do(http.MethodPost, path("stake"), &alice, amountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Set(T + 400)
	rec = f.do(http.MethodPost, path("unstake"), &alice, amountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(90), f.bank.BalanceOf(f.token.Address, alice.Address).Uint64())

	// nothing accrues while the pool is empty
	f.clock.Set(T + 600)
	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/accounts/%s/earned", id, alice.Address), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "400", decode(t, rec)["amount"])

	rec = f.do(http.MethodPost, path("claim"), &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "400", decode(t, rec)["amount"])
	assert.Equal(t, uint64(400), f.bank.BalanceOf(reward.Address, alice.Address).Uint64())
	rec = f.do(http.MethodPost, path("claim"), &alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(ledger.CodeNothingToClaim), decode(t, rec)["code"])

	// bob's first stake joins after reward has already been emitted
	rec = f.do(http.MethodPost, path("stake"), &bob, amountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.clock.Set(T + 1000)
	rec = f.do(http.MethodPost, path("claim"), &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "400", decode(t, rec)["amount"])

	// the empty stretch was never emitted and goes back to the creator
	rec = f.do(http.MethodPost, path("withdraw-reward"), &f.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "200", decode(t, rec)["amount"])

	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, uint64(800), view.RewardsPaid.Uint64())
	assert.Equal(t, uint64(800), view.RewardPoolAmount.Uint64())
	assert.Equal(t, uint64(100), view.TotalStaked.Uint64())
	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/treasury/%s", f.token.Address), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", decode(t, rec)["amount"])
}

func TestCreatePoolStartingAtEpoch(t *testing.T) {
	testCases := []struct {
		name   string
		start  int64
		end    int64
		status int
	}{
		{"zero start", 0, T + 1000, http.StatusCreated},
		{"regular start", T, T + 1000, http.StatusCreated},
		{"missing end", T, 0, http.StatusBadRequest},
		{"end before start", T, T - 1, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0)
			rec := f.do(http.MethodPost, "/v1/pools", &f.owner, CreatePoolRequest{
				StakingAsset:    f.token.Address.String(),
				StartDate:       tc.start,
				EndDate:         tc.end,
				BonusPercentage: ledger.Fraction{Numerator: 1, Denominator: 10},
			})
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusCreated {
				return
			}
			var view ledger.PoolView
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
			assert.Equal(t, tc.start, view.StartDate)
			assert.Equal(t, uint64(1), f.ledger.PoolCount())
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createPool()
	alice := crypto.GenerateAccount()

	rec := f.do(http.MethodPost, "/v1/admin/pause", &alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPost, "/v1/admin/unpause", &f.owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/pools/%d/active", id), &f.owner, gin.H{"active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/active", id), nil, nil)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = f.do(http.MethodPost, "/v1/admin/staking-fee", &f.owner, fractionRequest{Fee: ledger.Fraction{Numerator: 1, Denominator: 100}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.Fraction{Numerator: 1, Denominator: 100}, f.ledger.FeeDefaults().StakingFee)

	rec = f.do(http.MethodPost, "/v1/admin/transfer-ownership", &f.owner, ownerRequest{NewOwner: alice.Address.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, alice.Address, f.ledger.Owner())
	rec = f.do(http.MethodPost, "/v1/admin/renounce-ownership", &f.owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPost, "/v1/admin/renounce-ownership", &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode(t, rec)["owner"])

	rec = f.do(http.MethodGet, "/v1/pools/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/v1/pools/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/v1/admin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["poolCount"])
}

func TestRateLimiter(t *testing.T) {
	f := newFixture(t, 0.001)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/health", nil, nil).Code)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err    error
		status int
	}{
		{ledger.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", ledger.ErrUnauthorized), http.StatusForbidden},
		{ledger.ErrContractPaused, http.StatusConflict},
		{ledger.ErrNothingToClaim, http.StatusUnprocessableEntity},
		{ledger.ErrInvalidAddress, http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{fmt.Errorf("transfer: %w", bank.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.status, statusFor(tc.err))
		})
	}
}
