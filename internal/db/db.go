package db

import (
	"context"
	"errors"
	"fmt"

	"stocker/internal/ledger"
	"stocker/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DB wraps a PostgreSQL connection pool and implements the ledger, user
// store and quote store contracts
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user with a zero starting balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, balance, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetBalance returns the user's current cash balance
func (db *DB) GetBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.Pool.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ledger.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetHoldings sums buy shares minus sell shares for (user, symbol)
func (db *DB) GetHoldings(ctx context.Context, userID int, symbol string) (int, error) {
	if err := db.checkUserExists(ctx, userID); err != nil {
		return 0, err
	}
	var net int
	err := db.Pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(CASE WHEN action = 'buy' THEN shares ELSE -shares END), 0) FROM transactions WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to get holdings: %w", err)
	}
	return net, nil
}

// GetAllHoldings returns every non-zero position of the user
func (db *DB) GetAllHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	if err := db.checkUserExists(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT symbol, SUM(CASE WHEN action = 'buy' THEN shares ELSE -shares END) AS net
		FROM transactions
		WHERE user_id = $1
		GROUP BY symbol
		HAVING SUM(CASE WHEN action = 'buy' THEN shares ELSE -shares END) <> 0
		ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.Symbol, &h.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}

// AppendTransaction inserts an immutable record into the transaction log
func (db *DB) AppendTransaction(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string) (*models.Transaction, error) {
	if err := ledger.ValidateTransaction(shares, price, action); err != nil {
		return nil, err
	}
	if err := db.checkUserExists(ctx, userID); err != nil {
		return nil, err
	}
	tx := &models.Transaction{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price, action) VALUES ($1, $2, $3, $4, $5) RETURNING id, user_id, symbol, shares, price, action, created_at",
		userID, symbol, shares, price, action).Scan(
		&tx.ID, &tx.UserID, &tx.Symbol, &tx.Shares, &tx.Price, &tx.Action, &tx.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}
	return tx, nil
}

// AdjustBalance adds delta to the user's balance. No floor is enforced;
// callers validate sufficiency before debiting.
func (db *DB) AdjustBalance(ctx context.Context, userID int, delta decimal.Decimal) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

// RecordTrade applies balanceDelta and appends the matching transaction in
// a single database transaction. The user row is locked for the duration so
// a crash or concurrent commit can never leave a debited balance without
// its log record, or vice versa.
func (db *DB) RecordTrade(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string, balanceDelta decimal.Decimal) (*models.Transaction, error) {
	if err := ledger.ValidateTransaction(shares, price, action); err != nil {
		return nil, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", balanceDelta, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	record := &models.Transaction{}
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price, action) VALUES ($1, $2, $3, $4, $5) RETURNING id, user_id, symbol, shares, price, action, created_at",
		userID, symbol, shares, price, action).Scan(
		&record.ID, &record.UserID, &record.Symbol, &record.Shares, &record.Price, &record.Action, &record.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trade: %w", err)
	}
	return record, nil
}

// Transactions retrieves the user's transaction history, oldest first
func (db *DB) Transactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	if err := db.checkUserExists(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, shares, price, action, created_at FROM transactions WHERE user_id = $1 ORDER BY created_at ASC, id ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var history []models.Transaction
	for rows.Next() {
		var record models.Transaction
		if err := rows.Scan(&record.ID, &record.UserID, &record.Symbol, &record.Shares, &record.Price, &record.Action, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		history = append(history, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

// GetQuote retrieves the cached quote for a symbol, or nil on a miss
func (db *DB) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	quote := &models.Quote{}
	err := db.Pool.QueryRow(ctx,
		"SELECT symbol, price, updated_at FROM stock_prices WHERE symbol = $1",
		symbol).Scan(&quote.Symbol, &quote.Price, &quote.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return quote, nil
}

// SaveQuote stores or replaces the cached quote for a symbol
func (db *DB) SaveQuote(ctx context.Context, symbol string, price decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO stock_prices (symbol, price, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = NOW()
	`, symbol, price)
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

// ListQuotes retrieves all cached quotes
func (db *DB) ListQuotes(ctx context.Context) ([]models.Quote, error) {
	rows, err := db.Pool.Query(ctx, "SELECT symbol, price, updated_at FROM stock_prices ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var q models.Quote
		if err := rows.Scan(&q.Symbol, &q.Price, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (db *DB) checkUserExists(ctx context.Context, userID int) error {
	var exists bool
	err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return ledger.ErrUserNotFound
	}
	return nil
}
