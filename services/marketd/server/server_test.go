package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfg "veralend/config"
	"veralend/core/events"
	"veralend/native/common"
	"veralend/storage"
)

const (
	ownerHex  = "0x0000000000000000000000000000000000000001"
	marketHex = "0x0000000000000000000000000000000000000002"
	aliceHex  = "0x000000000000000000000000000000000000000a"
	bobHex    = "0x000000000000000000000000000000000000000b"
	tokenAHex = "0x00000000000000000000000000000000000000a1"
	tokenBHex = "0x00000000000000000000000000000000000000b1"
)

func testGenesis() *cfg.Genesis {
	curve := cfg.Curve{
		Slope0:      "100000000000000000000000000",
		Slope1:      "500000000000000000000000000",
		YIntercept:  "0",
		OptimalRate: "500000000000000000000000000",
	}
	return &cfg.Genesis{
		Owner:    ownerHex,
		Market:   marketHex,
		Treasury: "0x0000000000000000000000000000000000000003",
		Reserves: []cfg.Reserve{
			{
				Token:            tokenAHex,
				ZToken:           "0x00000000000000000000000000000000000000a2",
				ZTokenName:       "Interest-Bearing A",
				ZTokenSymbol:     "zA",
				CollateralFactor: "500000000000000000000000000",
				BorrowFactor:     "900000000000000000000000000",
				ReserveFactor:    "0",
				FlashLoanFee:     "50000000000000000000000000",
				Rates:            curve,
			},
			{
				Token:            tokenBHex,
				ZToken:           "0x00000000000000000000000000000000000000b2",
				ZTokenName:       "Interest-Bearing B",
				ZTokenSymbol:     "zB",
				CollateralFactor: "500000000000000000000000000",
				BorrowFactor:     "900000000000000000000000000",
				ReserveFactor:    "0",
				FlashLoanFee:     "0",
				Rates:            curve,
			},
		},
	}
}

type testServer struct {
	server *Server
	router http.Handler
	ledger *MemoryLedger
	auth   *Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ledger := NewMemoryLedger()
	clock := common.ClockFunc(func() uint64 { return 100 })
	engine, sources, err := Build(context.Background(), testGenesis(), storage.NewMemDB(), ledger, clock, events.NoopEmitter{})
	require.NoError(t, err)

	auth := NewAuthenticator("test-secret")
	srv := New(engine, ledger, sources, nil, auth)
	return &testServer{
		server: srv,
		router: srv.Router(0, 0),
		ledger: ledger,
		auth:   auth,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	ts.router.ServeHTTP(recorder, req)
	return recorder
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	token, err := ts.auth.MintToken(time.Minute)
	require.NoError(t, err)
	return token
}

// seed funds Alice and Bob, steers prices, and opens the market.
func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	admin := ts.adminToken(t)

	for _, price := range []map[string]any{
		{"token": tokenAHex, "price": "5000000000", "updated_at": 100},
		{"token": tokenBHex, "price": "10000000000", "updated_at": 100},
	} {
		resp := ts.request(t, http.MethodPost, "/admin/price", price, admin)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}
	for _, fund := range []map[string]any{
		{"address": aliceHex, "token": tokenAHex, "amount": "1000000000000000000000"},
		{"address": bobHex, "token": tokenBHex, "amount": "100000000000000000000000"},
	} {
		resp := ts.request(t, http.MethodPost, "/admin/fund", fund, admin)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestListReserves(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, http.MethodGet, "/v1/reserves", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload struct {
		Reserves []string `json:"reserves"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, []string{tokenAHex, tokenBHex}, payload.Reserves)
}

func TestGetReserveSnapshot(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, http.MethodGet, "/v1/reserves/"+tokenAHex, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload reserveResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "zA", payload.ZTokenSymbol)
	require.Equal(t, "1000000000000000000000000000", payload.LendingAccumulator)
	require.Equal(t, "1000000000000000000000000000", payload.DebtAccumulator)

	resp = ts.request(t, http.MethodGet, "/v1/reserves/0x00000000000000000000000000000000000000ff", nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDepositBorrowFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	resp := ts.request(t, http.MethodPost, "/v1/deposit", map[string]any{
		"caller": aliceHex, "token": tokenAHex, "amount": "100000000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.request(t, http.MethodPost, "/v1/collateral", map[string]any{
		"caller": aliceHex, "token": tokenAHex, "enable": true,
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.request(t, http.MethodPost, "/v1/deposit", map[string]any{
		"caller": bobHex, "token": tokenBHex, "amount": "10000000000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// Past the borrowing capacity.
	resp = ts.request(t, http.MethodPost, "/v1/borrow", map[string]any{
		"caller": aliceHex, "token": tokenBHex, "amount": "22600000000000000000",
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code, resp.Body.String())

	resp = ts.request(t, http.MethodPost, "/v1/borrow", map[string]any{
		"caller": aliceHex, "token": tokenBHex, "amount": "22500000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.request(t, http.MethodGet, "/v1/positions/"+aliceHex, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var position struct {
		Solvent  bool            `json:"solvent"`
		Reserves []positionEntry `json:"reserves"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &position))
	require.True(t, position.Solvent)
	require.Len(t, position.Reserves, 2)

	resp = ts.request(t, http.MethodPost, "/v1/repay", map[string]any{
		"caller": aliceHex, "token": tokenBHex, "all": true,
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/admin/pause", map[string]any{"paused": true}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.request(t, http.MethodPost, "/admin/pause", map[string]any{"paused": true}, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.request(t, http.MethodPost, "/admin/pause", map[string]any{"paused": true}, ts.adminToken(t))
	require.Equal(t, http.StatusOK, resp.Code)

	// Paused market rejects operations with a conflict.
	resp = ts.request(t, http.MethodPost, "/v1/deposit", map[string]any{
		"caller": aliceHex, "token": tokenAHex, "amount": "1",
	}, "")
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	limited := ts.server.Router(1, 1)

	first := httptest.NewRecorder()
	limited.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	limited.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestExpiredAdminToken(t *testing.T) {
	ts := newTestServer(t)

	expired := NewAuthenticator("test-secret")
	expired.nowFn = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := expired.MintToken(time.Minute)
	require.NoError(t, err)

	resp := ts.request(t, http.MethodPost, "/admin/pause", map[string]any{"paused": false}, token)
	require.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())
}

func TestFundUnknownToken(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, http.MethodPost, "/admin/fund", map[string]any{
		"address": aliceHex,
		"token":   fmt.Sprintf("0x%040x", 0xdead),
		"amount":  "1",
	}, ts.adminToken(t))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
