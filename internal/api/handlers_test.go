package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stocker/internal/auth"
	"stocker/internal/engine"
	"stocker/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPrice struct {
	price decimal.Decimal
}

func (f fixedPrice) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, nil
}

type testEnv struct {
	store  *ledger.MemoryStore
	router *chi.Mux
}

func newTestEnv(price int64) *testEnv {
	store := ledger.NewMemoryStore()
	prices := fixedPrice{price: decimal.NewFromInt(price)}
	eng := engine.New(store, prices)
	authService := auth.NewAuthService(store, "test-secret")
	handler := NewHandler(store, eng, authService, prices, store)

	router := chi.NewRouter()
	router.Post("/auth/register", handler.Register)
	router.Post("/auth/login", handler.Login)
	router.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/trade", handler.ExecuteTrade)
		r.Post("/account", handler.DepositWithdraw)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/transactions", handler.GetTransactions)
		r.Get("/quote/{symbol}", handler.GetQuote)
		r.Get("/stocks", handler.ListStocks)
	})

	return &testEnv{store: store, router: router}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var response map[string]interface{}
	if len(w.Body.Bytes()) > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	w, _ := e.do(t, "POST", "/auth/register", "", map[string]interface{}{
		"username": username,
		"password": "testpass",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, response := e.do(t, "POST", "/auth/login", "", map[string]interface{}{
		"username": username,
		"password": "testpass",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token, ok := response["token"].(string)
	require.True(t, ok)
	return token
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(100)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "MissingPassword",
			requestBody: map[string]interface{}{
				"username": "testuser",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "DuplicateUsername",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := env.do(t, "POST", "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(100)
	env.registerAndLogin(t, "testuser")

	w, response := env.do(t, "POST", "/auth/login", "", map[string]interface{}{
		"username": "testuser",
		"password": "wrongpass",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, response, "error")
}

func TestHandler_TradeFlow(t *testing.T) {
	env := newTestEnv(100)
	token := env.registerAndLogin(t, "trader")

	// Fund the account
	w, response := env.do(t, "POST", "/account", token, map[string]interface{}{
		"amount":           1000.0,
		"transaction_type": "deposit",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, response["success"])

	// Buy 5 shares at 100
	w, response = env.do(t, "POST", "/trade", token, map[string]interface{}{
		"symbol": "AAPL",
		"shares": 5,
		"action": "buy",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, response["success"])
	assert.Equal(t, "Successfully bought 5 shares of AAPL", response["message"])

	// Portfolio reflects the trade
	w, response = env.do(t, "GET", "/portfolio", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 500.0, response["balance"])
	holdings, ok := response["holdings"].([]interface{})
	require.True(t, ok)
	require.Len(t, holdings, 1)
	holding := holdings[0].(map[string]interface{})
	assert.Equal(t, "AAPL", holding["symbol"])
	assert.Equal(t, 5.0, holding["shares"])

	// Overselling is rejected without state change
	w, response = env.do(t, "POST", "/trade", token, map[string]interface{}{
		"symbol": "AAPL",
		"shares": 6,
		"action": "sell",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, response["success"])
	assert.Equal(t, "Insufficient shares", response["message"])

	// Sell 3 of the 5
	w, response = env.do(t, "POST", "/trade", token, map[string]interface{}{
		"symbol": "AAPL",
		"shares": 3,
		"action": "sell",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, response["success"])

	w, response = env.do(t, "GET", "/portfolio", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 800.0, response["balance"])

	// Both trades are in the history
	req := httptest.NewRequest("GET", "/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)
}

func TestHandler_TradeRejections(t *testing.T) {
	env := newTestEnv(100)
	token := env.registerAndLogin(t, "trader")

	tests := []struct {
		name        string
		requestBody map[string]interface{}
		message     string
	}{
		{
			name: "InsufficientFunds",
			requestBody: map[string]interface{}{
				"symbol": "AAPL",
				"shares": 1,
				"action": "buy",
			},
			message: "Insufficient funds",
		},
		{
			name: "InvalidAction",
			requestBody: map[string]interface{}{
				"symbol": "AAPL",
				"shares": 1,
				"action": "short",
			},
			message: "Invalid action",
		},
		{
			name: "ZeroShares",
			requestBody: map[string]interface{}{
				"symbol": "AAPL",
				"shares": 0,
				"action": "buy",
			},
			message: "Shares must be a positive integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, "POST", "/trade", token, tt.requestBody)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, false, response["success"])
			assert.Equal(t, tt.message, response["message"])
		})
	}
}

func TestHandler_WithdrawInsufficientFunds(t *testing.T) {
	env := newTestEnv(100)
	token := env.registerAndLogin(t, "trader")

	w, response := env.do(t, "POST", "/account", token, map[string]interface{}{
		"amount":           50.0,
		"transaction_type": "withdraw",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, response["success"])
	assert.Equal(t, "Insufficient funds for withdrawal", response["message"])
}

func TestHandler_Quote(t *testing.T) {
	env := newTestEnv(42)
	token := env.registerAndLogin(t, "trader")

	w, response := env.do(t, "GET", "/quote/AAPL", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AAPL", response["symbol"])
	assert.Equal(t, 42.0, response["price"])
	assert.Contains(t, response, "change")
	assert.Contains(t, response, "volume")
}

func TestHandler_ListStocks(t *testing.T) {
	env := newTestEnv(100)
	token := env.registerAndLogin(t, "trader")

	require.NoError(t, env.store.SaveQuote(context.Background(), "AAPL", decimal.NewFromInt(187)))

	req := httptest.NewRequest("GET", "/stocks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var quotes []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quotes))
	require.Len(t, quotes, 1)
	assert.Equal(t, "AAPL", quotes[0]["symbol"])
}

func TestHandler_Unauthorized(t *testing.T) {
	env := newTestEnv(100)

	w, _ := env.do(t, "GET", "/portfolio", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(t, "POST", "/trade", "bad-token", map[string]interface{}{
		"symbol": "AAPL",
		"shares": 1,
		"action": "buy",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
