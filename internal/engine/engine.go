// Package engine validates and executes buy/sell/deposit/withdraw requests
// against the ledger, serializing all operations on the same user
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"stocker/internal/ledger"

	"github.com/shopspring/decimal"
)

const (
	TypeDeposit  = "deposit"
	TypeWithdraw = "withdraw"
)

var (
	// ErrInvalidRequest marks a malformed trade or account request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientFunds marks a buy or withdrawal exceeding the balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares marks a sell exceeding current holdings
	ErrInsufficientShares = errors.New("insufficient shares")
)

// PriceSource resolves a symbol to its current trading price
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TradeRequest is a buy or sell order for a whole number of shares
type TradeRequest struct {
	Symbol string
	Shares int
	Action string // "buy" or "sell"
}

// AmountRequest is a cash deposit or withdrawal
type AmountRequest struct {
	Amount decimal.Decimal
	Type   string // "deposit" or "withdraw"
}

// Result is the terminal outcome of a request. Reason is nil on success and
// one of the Err sentinels on a rejection; infrastructure failures are
// returned as errors instead, never as rejections.
type Result struct {
	Success bool
	Message string
	Reason  error
}

// Engine executes trades. Requests for the same user are serialized with a
// per-user lock held across the validate-and-commit sequence; requests for
// different users proceed in parallel.
type Engine struct {
	ledger ledger.Ledger
	prices PriceSource

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// New creates a trade engine on top of a ledger and a price source
func New(l ledger.Ledger, prices PriceSource) *Engine {
	return &Engine{
		ledger: l,
		prices: prices,
		locks:  make(map[int]*sync.Mutex),
	}
}

// ExecuteTrade validates and atomically executes a buy or sell.
// The price is resolved before the user lock is acquired so network I/O
// never blocks other trades; the price may be marginally stale by commit
// time, which the non-strict pricing model accepts.
func (e *Engine) ExecuteTrade(ctx context.Context, userID int, req TradeRequest) (Result, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return reject(ErrInvalidRequest, "Symbol is required"), nil
	}
	if req.Shares <= 0 {
		return reject(ErrInvalidRequest, "Shares must be a positive integer"), nil
	}
	if req.Action != ledger.ActionBuy && req.Action != ledger.ActionSell {
		return reject(ErrInvalidRequest, "Invalid action"), nil
	}

	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve price for %s: %w", symbol, err)
	}
	total := price.Mul(decimal.NewFromInt(int64(req.Shares)))

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if req.Action == ledger.ActionBuy {
		balance, err := e.ledger.GetBalance(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if balance.Cmp(total) < 0 {
			return reject(ErrInsufficientFunds, "Insufficient funds"), nil
		}
		if _, err := e.ledger.RecordTrade(ctx, userID, symbol, req.Shares, price, ledger.ActionBuy, total.Neg()); err != nil {
			return Result{}, fmt.Errorf("failed to record buy: %w", err)
		}
		return Result{
			Success: true,
			Message: fmt.Sprintf("Successfully bought %d shares of %s", req.Shares, symbol),
		}, nil
	}

	held, err := e.ledger.GetHoldings(ctx, userID, symbol)
	if err != nil {
		return Result{}, err
	}
	if held < req.Shares {
		return reject(ErrInsufficientShares, "Insufficient shares"), nil
	}
	if _, err := e.ledger.RecordTrade(ctx, userID, symbol, req.Shares, price, ledger.ActionSell, total); err != nil {
		return Result{}, fmt.Errorf("failed to record sell: %w", err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Successfully sold %d shares of %s", req.Shares, symbol),
	}, nil
}

// DepositWithdraw mutates the cash balance. Deposits always succeed;
// withdrawals require sufficient balance. Neither appends to the
// transaction log: only trades are trade records.
func (e *Engine) DepositWithdraw(ctx context.Context, userID int, req AmountRequest) (Result, error) {
	if req.Amount.Sign() <= 0 {
		return reject(ErrInvalidRequest, "Amount must be positive"), nil
	}
	if req.Type != TypeDeposit && req.Type != TypeWithdraw {
		return reject(ErrInvalidRequest, "Invalid transaction type"), nil
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if req.Type == TypeWithdraw {
		balance, err := e.ledger.GetBalance(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if balance.Cmp(req.Amount) < 0 {
			return reject(ErrInsufficientFunds, "Insufficient funds for withdrawal"), nil
		}
		if err := e.ledger.AdjustBalance(ctx, userID, req.Amount.Neg()); err != nil {
			return Result{}, fmt.Errorf("failed to withdraw: %w", err)
		}
		return Result{
			Success: true,
			Message: fmt.Sprintf("Successfully withdrew $%s", req.Amount.StringFixed(2)),
		}, nil
	}

	if err := e.ledger.AdjustBalance(ctx, userID, req.Amount); err != nil {
		return Result{}, fmt.Errorf("failed to deposit: %w", err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Successfully deposited $%s", req.Amount.StringFixed(2)),
	}, nil
}

// userLock returns the mutex serializing operations for one user,
// creating it on first use
func (e *Engine) userLock(userID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[userID] = lock
	}
	return lock
}

func reject(reason error, message string) Result {
	return Result{Success: false, Message: message, Reason: reason}
}
