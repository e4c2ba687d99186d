// Package ledger is the source of truth for cash balances and the
// append-only transaction log. Holdings are always derived from the log.
package ledger

import (
	"context"
	"errors"

	"stocker/internal/models"

	"github.com/shopspring/decimal"
)

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

var (
	// ErrUserNotFound is returned when no account exists for the user id
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidTransaction is returned when a transaction record would
	// violate the log invariants (shares > 0, price > 0, known action)
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrUsernameTaken is returned when registering a duplicate username
	ErrUsernameTaken = errors.New("username already exists")
)

// Ledger holds balances and the transaction log. All mutations go through
// these methods; AdjustBalance enforces no floor (callers pre-validate
// sufficiency), and RecordTrade is the only way to move cash and append a
// trade record together.
type Ledger interface {
	// GetBalance returns the user's current cash balance.
	GetBalance(ctx context.Context, userID int) (decimal.Decimal, error)

	// GetHoldings returns buy shares minus sell shares for (user, symbol).
	GetHoldings(ctx context.Context, userID int, symbol string) (int, error)

	// GetAllHoldings returns every non-zero position of the user.
	GetAllHoldings(ctx context.Context, userID int) ([]models.Holding, error)

	// AppendTransaction inserts an immutable record into the log.
	AppendTransaction(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string) (*models.Transaction, error)

	// AdjustBalance adds delta (positive or negative) to the balance.
	AdjustBalance(ctx context.Context, userID int, delta decimal.Decimal) error

	// RecordTrade applies balanceDelta and appends the matching transaction
	// as one atomic unit: either both happen or neither does.
	RecordTrade(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string, balanceDelta decimal.Decimal) (*models.Transaction, error)

	// Transactions returns the user's transaction history, oldest first.
	Transactions(ctx context.Context, userID int) ([]models.Transaction, error)
}

// ValidateTransaction checks the log invariants for a prospective record
func ValidateTransaction(shares int, price decimal.Decimal, action string) error {
	if shares <= 0 {
		return ErrInvalidTransaction
	}
	if price.Sign() <= 0 {
		return ErrInvalidTransaction
	}
	if action != ActionBuy && action != ActionSell {
		return ErrInvalidTransaction
	}
	return nil
}
