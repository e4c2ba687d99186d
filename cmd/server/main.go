package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"stocker/internal/api"
	"stocker/internal/auth"
	"stocker/internal/config"
	"stocker/internal/db"
	"stocker/internal/engine"
	"stocker/internal/models"
	"stocker/internal/oracle"

	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	rediscache "github.com/go-redis/cache/v8"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

func broadcastQuotes(quotes api.QuoteLister) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	board, err := quotes.ListQuotes(ctx)
	if err != nil {
		log.Errorf("Failed to load quote board: %v", err)
		return
	}
	if board == nil {
		board = []models.Quote{}
	}
	data, err := json.Marshal(struct {
		Quotes []models.Quote `json:"quotes"`
	}{Quotes: board})
	if err != nil {
		log.Errorf("Failed to marshal quote board: %v", err)
		return
	}

	clientsMu.RLock()
	stale := make([]*WSClient, 0)
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			log.Errorf("Failed to send quote board: %v", err)
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(quotes api.QuoteLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("Failed to upgrade connection: %v", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial quote board
		broadcastQuotes(quotes)

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, price oracle, trade engine and HTTP server
func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	cfg := new(config.Config)
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Initialize price oracle, with an optional Redis hot cache in front
	// of the stock_prices table
	oracleOpts := []oracle.Option{
		oracle.WithRefreshTTL(cfg.QuoteRefreshTTL),
		oracle.WithHTTPClient(&http.Client{Timeout: cfg.QuoteFetchTimeout}),
	}
	if cfg.RedisAddr != "" {
		ring := redis.NewRing(&redis.RingOptions{Addrs: map[string]string{"quotes": cfg.RedisAddr}})
		hot := oracle.NewQuoteCache(rediscache.New(&rediscache.Options{Redis: ring}), cfg.RedisCacheTTL)
		oracleOpts = append(oracleOpts, oracle.WithHotCache(hot))
	}
	prices := oracle.New(database, cfg.AlphaVantageURL, cfg.AlphaVantageKey, oracleOpts...)

	// Initialize trade engine and auth service
	eng := engine.New(database, prices)
	authService := auth.NewAuthService(database, cfg.JWTSecret)

	// Initialize API handlers
	handler := api.NewHandler(database, eng, authService, prices, database)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint
	r.Get("/ws", handleWebSocket(database))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/trade", handler.ExecuteTrade)
		r.Post("/account", handler.DepositWithdraw)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/transactions", handler.GetTransactions)
		r.Get("/quote/{symbol}", handler.GetQuote)
		r.Get("/stocks", handler.ListStocks)
	})

	// Start periodic quote board broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastQuotes(database)
		}
	}()

	// Start server
	log.Infof("Starting server on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
