package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/internal/pricing"
	"github.com/crosslogic/credit-plane/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "test-admin-token"

func setupGateway(t *testing.T) (*Gateway, *store.MemoryBalanceStore) {
	t.Helper()
	balances := store.NewMemoryBalanceStore()
	reservations := store.NewMemoryReservationStore()
	calc := pricing.NewStaticCalculator(map[string]pricing.Rate{
		"openrouter/gpt-4o": {PromptPerMillion: 1_000_000_000_000},
	}, pricing.Rate{})
	engine := credits.NewEngine(balances, reservations, calc, nil, nil, zap.NewNop())
	return NewGateway(engine, nil, testToken, zap.NewNop()), balances
}

func doRequest(t *testing.T, g *Gateway, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	g, _ := setupGateway(t)

	w := doRequest(t, g, "GET", "/v1/workspaces/ws1/balance", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, g, "GET", "/v1/workspaces/ws1/balance", nil, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	g, _ := setupGateway(t)

	w := doRequest(t, g, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReserveAdjustFinalizeOverHTTP(t *testing.T) {
	g, balances := setupGateway(t)
	balances.Seed("ws1", 5_000_000_000, "USD")

	w := doRequest(t, g, "POST", "/v1/workspaces/ws1/reserve",
		map[string]interface{}{"estimated_cost_nano": 1_000_000_000}, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var reserve struct {
		ReservationID string `json:"reservation_id"`
		BalanceNano   int64  `json:"balance_nano"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reserve))
	require.Equal(t, int64(4_000_000_000), reserve.BalanceNano)
	require.NotEmpty(t, reserve.ReservationID)

	// 1200 prompt tokens at 1e12 nano per million tokens = 1,200,000,000 nano.
	w = doRequest(t, g, "POST", "/v1/reservations/"+reserve.ReservationID+"/adjust",
		map[string]interface{}{
			"workspace_id":  "ws1",
			"provider":      "openrouter",
			"model":         "gpt-4o",
			"usage":         map[string]int64{"prompt_tokens": 1200},
			"generation_id": "gen-1",
		}, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var adjust struct {
		BalanceNano int64 `json:"balance_nano"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&adjust))
	require.Equal(t, int64(3_800_000_000), adjust.BalanceNano)

	w = doRequest(t, g, "POST", "/v1/reservations/"+reserve.ReservationID+"/finalize",
		map[string]interface{}{"verified_cost_nano": 1_150_000_000}, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var finalize struct {
		BalanceNano int64 `json:"balance_nano"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&finalize))
	require.Equal(t, int64(3_850_000_000), finalize.BalanceNano)
}

func TestReserveInsufficientReturns402(t *testing.T) {
	g, balances := setupGateway(t)
	balances.Seed("ws1", 2_000_000, "USD")

	w := doRequest(t, g, "POST", "/v1/workspaces/ws1/reserve",
		map[string]interface{}{"estimated_cost_nano": 3_000_000}, testToken)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestUnknownWorkspaceReturns404(t *testing.T) {
	g, _ := setupGateway(t)

	w := doRequest(t, g, "GET", "/v1/workspaces/missing/balance", nil, testToken)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefundOverHTTP(t *testing.T) {
	g, balances := setupGateway(t)
	balances.Seed("ws1", 1_000_000, "USD")

	w := doRequest(t, g, "POST", "/v1/workspaces/ws1/reserve",
		map[string]interface{}{"estimated_cost_nano": 200_000}, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var reserve struct {
		ReservationID string `json:"reservation_id"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reserve))

	w = doRequest(t, g, "POST", "/v1/reservations/"+reserve.ReservationID+"/refund", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, g, "GET", "/v1/workspaces/ws1/balance", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var bal struct {
		BalanceNano int64 `json:"balance_nano"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&bal))
	require.Equal(t, int64(1_000_000), bal.BalanceNano)
}
