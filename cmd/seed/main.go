package main

import (
	"context"
	"fmt"
	"os"

	"stocker/internal/config"
	"stocker/internal/db"
	"stocker/internal/ledger"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// bcrypt hash of "password", for demo accounts only
const demoPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

// Seed the database with demo users, trades and cached quotes
func main() {
	ctx := context.Background()

	cfg := new(config.Config)
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Skip seeding if any user already has transactions
	var txCount int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&txCount); err != nil {
		log.Fatalf("Failed to check transactions: %v", err)
	}
	if txCount > 0 {
		fmt.Printf("Database already has %d transactions. No need to seed.\n", txCount)
		os.Exit(0)
	}

	users := map[string]int{}
	for _, username := range []string{"trader1", "trader2"} {
		var id int
		err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
		if err != nil {
			err = database.Pool.QueryRow(ctx,
				"INSERT INTO users (username, password_hash, balance) VALUES ($1, $2, 10000) RETURNING id",
				username, demoPasswordHash).Scan(&id)
			if err != nil {
				log.Fatalf("Failed to create user %s: %v", username, err)
			}
		}
		users[username] = id
	}

	// Cached quotes for the trading page
	quotes := map[string]decimal.Decimal{
		"AAPL": decimal.NewFromFloat(187.44),
		"MSFT": decimal.NewFromFloat(411.22),
		"NVDA": decimal.NewFromFloat(875.28),
	}
	for symbol, price := range quotes {
		if err := database.SaveQuote(ctx, symbol, price); err != nil {
			log.Fatalf("Failed to save quote %s: %v", symbol, err)
		}
	}

	// A short trading history for trader1
	trades := []struct {
		symbol string
		shares int
		action string
	}{
		{"AAPL", 10, ledger.ActionBuy},
		{"MSFT", 5, ledger.ActionBuy},
		{"AAPL", 4, ledger.ActionSell},
	}
	for _, trade := range trades {
		price := quotes[trade.symbol]
		delta := price.Mul(decimal.NewFromInt(int64(trade.shares)))
		if trade.action == ledger.ActionBuy {
			delta = delta.Neg()
		}
		if _, err := database.RecordTrade(ctx, users["trader1"], trade.symbol, trade.shares, price, trade.action, delta); err != nil {
			log.Fatalf("Failed to record %s of %s: %v", trade.action, trade.symbol, err)
		}
	}

	fmt.Println("Successfully seeded the database with demo data!")
}
