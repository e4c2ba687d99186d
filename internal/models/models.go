package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// Transaction is an immutable record of an executed buy or sell.
// The log is append-only; holdings are derived from it, never stored.
type Transaction struct {
	ID        int             `json:"id"`
	UserID    int             `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Shares    int             `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Action    string          `json:"action"` // "buy" or "sell"
	Timestamp time.Time       `json:"timestamp"`
}

// Quote is a cached price for a symbol
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Holding is a user's net position in one symbol,
// buy shares minus sell shares
type Holding struct {
	Symbol string `json:"symbol"`
	Shares int    `json:"shares"`
}
