package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/middleware"
	"govtoken/internal/protocol"
	"govtoken/internal/token"
	"govtoken/internal/treasury"
	"govtoken/internal/velocity"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
)

const secret = "handler-test-secret"

var (
	admin = domain.MustParseAddress("0x00000000000000000000000000000000000000a1")
	alice = domain.MustParseAddress("0x00000000000000000000000000000000000000c3")
	bob   = domain.MustParseAddress("0x00000000000000000000000000000000000000d4")
)

type apiFixture struct {
	t      *testing.T
	p      *protocol.Protocol
	router http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	settings := protocol.Settings{
		Admin:         admin,
		Metadata:      token.Metadata{Name: "Governance Token", Symbol: "GOV", Decimals: 18},
		InitialSupply: decimal.NewFromInt(1_000_000_000),
		GlobalCap:     decimal.NewFromInt(10_000_000_000),
		Velocity:      velocity.Limits{MaxTransfer: decimal.NewFromInt(1_000), DailyLimit: decimal.NewFromInt(5_000)},
		TaxRateBps:    1000,
		TaxEnabled:    true,
		Treasury: treasury.Config{
			LockDuration: 30 * 24 * time.Hour,
			WindowLength: 7 * 24 * time.Hour,
			LimitBps:     1000,
		},
	}
	p := protocol.New(settings, clock.NewManual(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.Bootstrap(ctx))

	router := NewRouter(RouterConfig{
		Protocol: p,
		Logger:   logger.NewNop(),
		Metrics:  metrics.NewCollector(),
		Auth:     middleware.NewAuthMiddleware(secret, nil),
	})
	return &apiFixture{t: t, p: p, router: router}
}

func (f *apiFixture) do(method, path string, as *domain.Address, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := middleware.IssueToken(secret, *as, time.Minute)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealthAndReady(t *testing.T) {
	f := newAPI(t)

	rec, _ := f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])

	rec, _ = f.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransfer_AuthValidationAndErrorMapping(t *testing.T) {
	f := newAPI(t)

	rec, _ := f.do(http.MethodPost, "/api/v1/transfers", nil, map[string]string{"to": alice.Hex(), "amount": "10"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := f.do(http.MethodPost, "/api/v1/transfers", &admin, map[string]string{"to": "0x12", "amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["validation_errors"], "To")
	assert.Contains(t, body["validation_errors"], "Amount")

	rec, _ = f.do(http.MethodPost, "/api/v1/transfers", &admin, map[string]string{"to": alice.Hex(), "amount": "3000"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Taxed: 100 of 1000 goes to the treasury.
	rec, _ = f.do(http.MethodPost, "/api/v1/transfers", &alice, map[string]string{"to": bob.Hex(), "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = f.do(http.MethodGet, "/api/v1/balances/"+bob.Hex(), nil, nil)
	assert.Equal(t, "900", body["balance"])

	// Above the per-transfer cap.
	rec, body = f.do(http.MethodPost, "/api/v1/transfers", &alice, map[string]string{"to": bob.Hex(), "amount": "1001"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "budget", body["kind"])

	rec, body = f.do(http.MethodPost, "/api/v1/mints", &alice, map[string]string{"to": alice.Hex(), "amount": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "minter", body["capability"])

	rec, _ = f.do(http.MethodPost, "/api/v1/compliance/blacklist", &admin, map[string]string{"address": bob.Hex(), "reason": "sanctions"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = f.do(http.MethodPost, "/api/v1/transfers", &alice, map[string]string{"to": bob.Hex(), "amount": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "compliance", body["kind"])
}

func TestUpdateTax_IsAllOrNothing(t *testing.T) {
	f := newAPI(t)

	rec, _ := f.do(http.MethodPut, "/api/v1/tax", &admin, map[string]interface{}{"enabled": false, "rate_bps": 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body := f.do(http.MethodGet, "/api/v1/tax", nil, nil)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, float64(1000), body["rate_bps"])

	rec, body = f.do(http.MethodPut, "/api/v1/tax", &admin, map[string]interface{}{"rate_bps": 250})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(250), body["rate_bps"])
}

func TestStakingAndBridgeRoutes(t *testing.T) {
	f := newAPI(t)
	rec, _ := f.do(http.MethodPost, "/api/v1/transfers", &admin, map[string]string{"to": alice.Hex(), "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(http.MethodPost, "/api/v1/approvals", &alice, map[string]string{"spender": protocol.StakingAddress.Hex(), "amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.do(http.MethodPost, "/api/v1/staking/stakes", &alice, map[string]interface{}{"amount": "500", "tier": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "450", body["amount"])

	rec, body = f.do(http.MethodGet, "/api/v1/staking/stakes", &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 1)

	rec, body = f.do(http.MethodPost, "/api/v1/staking/stakes/0/withdraw", &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["matured"])
	assert.Equal(t, "450", body["burned"])

	rec, _ = f.do(http.MethodPut, "/api/v1/bridge/chains/10", &admin, map[string]interface{}{
		"supported": true, "daily_limit_out": "100", "daily_limit_in": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(http.MethodPost, "/api/v1/approvals", &alice, map[string]string{"spender": protocol.BridgeAddress.Hex(), "amount": "200"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.do(http.MethodPost, "/api/v1/bridge/out", &alice, map[string]interface{}{"chain": 10, "to": bob.Hex(), "amount": "150"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec, body = f.do(http.MethodPost, "/api/v1/bridge/out", &alice, map[string]interface{}{"chain": 10, "to": bob.Hex(), "amount": "100"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, body["message_id"], 66)

	rec, body = f.do(http.MethodGet, "/api/v1/bridge/chains/10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", body["spent_out"])
}

func TestEventStream(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?types=mint"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.p.Events.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	rec, _ := f.do(http.MethodPost, "/api/v1/transfers", &admin, map[string]string{"to": alice.Hex(), "amount": "5"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(http.MethodPost, "/api/v1/mints", &admin, map[string]string{"to": alice.Hex(), "amount": "7"})
	require.Equal(t, http.StatusCreated, rec.Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventMint, ev.Type)
}

func TestTransfer_RejectsOversizedAmounts(t *testing.T) {
	f := newAPI(t)

	for _, amt := range []string{"1e30000000", "1e-30000000", "1.5"} {
		start := time.Now()
		rec, body := f.do(http.MethodPost, "/api/v1/transfers", &admin, map[string]string{"to": alice.Hex(), "amount": amt})
		assert.Equal(t, http.StatusBadRequest, rec.Code, amt)
		assert.Contains(t, body["validation_errors"], "Amount", amt)
		assert.Less(t, rec.Body.Len(), 1024, amt)
		assert.Less(t, time.Since(start), time.Second, amt)
	}

	rec, _ := f.do(http.MethodPost, "/api/v1/approvals", &admin, map[string]string{"spender": alice.Hex(), "amount": "1e30000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream_ChecksOrigin(t *testing.T) {
	f := newAPI(t)
	router := NewRouter(RouterConfig{
		Protocol:       f.p,
		Logger:         logger.NewNop(),
		Metrics:        metrics.NewCollector(),
		Auth:           middleware.NewAuthMiddleware(secret, nil),
		AllowedOrigins: []string{"https://app.example.org"},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.org"}})
	require.NoError(t, err)
	conn.Close()
}
