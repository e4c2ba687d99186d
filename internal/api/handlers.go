package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"

	"stocker/internal/auth"
	"stocker/internal/engine"
	"stocker/internal/ledger"
	"stocker/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// QuoteLister exposes the cached quote board
type QuoteLister interface {
	ListQuotes(ctx context.Context) ([]models.Quote, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Ledger      ledger.Ledger
	Engine      *engine.Engine
	AuthService *auth.AuthService
	Prices      engine.PriceSource
	Quotes      QuoteLister
}

// NewHandler creates a new handler
func NewHandler(l ledger.Ledger, eng *engine.Engine, authService *auth.AuthService, prices engine.PriceSource, quotes QuoteLister) *Handler {
	return &Handler{Ledger: l, Engine: eng, AuthService: authService, Prices: prices, Quotes: quotes}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ledger.ErrUsernameTaken) {
			http.Error(w, `{"error": "Username already exists"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid username or password"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExecuteTrade handles a buy or sell request. Rejections come back with
// 200 and success=false, matching the historical trade contract.
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
		Shares int    `json:"shares"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Engine.ExecuteTrade(r.Context(), userID, engine.TradeRequest{
		Symbol: req.Symbol,
		Shares: req.Shares,
		Action: req.Action,
	})
	if err != nil {
		log.Errorf("trade for user %d failed: %v", userID, err)
		http.Error(w, `{"error": "Failed to execute trade"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": result.Success,
		"message": result.Message,
	})
}

// DepositWithdraw handles a cash deposit or withdrawal
func (h *Handler) DepositWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount          float64 `json:"amount"`
		TransactionType string  `json:"transaction_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Engine.DepositWithdraw(r.Context(), userID, engine.AmountRequest{
		Amount: decimal.NewFromFloat(req.Amount),
		Type:   req.TransactionType,
	})
	if err != nil {
		log.Errorf("deposit/withdraw for user %d failed: %v", userID, err)
		http.Error(w, `{"error": "Failed to update balance"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": result.Success,
		"message": result.Message,
	})
}

// GetPortfolio returns the user's balance and current holdings
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			http.Error(w, `{"error": "User not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "Failed to retrieve portfolio"}`, http.StatusInternalServerError)
		return
	}

	holdings, err := h.Ledger.GetAllHoldings(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve portfolio"}`, http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}

	bal, _ := balance.Float64()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"balance":  bal,
		"holdings": holdings,
	})
}

// GetTransactions returns the user's transaction history
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	history, err := h.Ledger.Transactions(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve transactions"}`, http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}

	json.NewEncoder(w).Encode(history)
}

// GetQuote returns the price of one symbol plus indicative day stats.
// The change and volume figures are randomized placeholders.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		http.Error(w, `{"error": "Symbol is required"}`, http.StatusBadRequest)
		return
	}

	price, err := h.Prices.GetPrice(r.Context(), symbol)
	if err != nil {
		http.Error(w, `{"error": "Unable to fetch stock data"}`, http.StatusBadRequest)
		return
	}

	p, _ := price.Float64()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol":         symbol,
		"price":          p,
		"change":         rand.Float64()*0.1 - 0.05,
		"change_percent": rand.Float64()*0.1 - 0.05,
		"volume":         rand.Intn(99001) + 1000,
	})
}

// ListStocks returns all cached quotes for the trading page
func (h *Handler) ListStocks(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.Quotes.ListQuotes(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve stocks"}`, http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []models.Quote{}
	}

	json.NewEncoder(w).Encode(quotes)
}
