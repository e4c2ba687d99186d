package ledger

import (
	"context"
	"sync"
	"time"

	"stocker/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Ledger, user store and quote store. It backs
// unit tests and single-process runs without Postgres. A single mutex guards
// all state, so RecordTrade is trivially atomic.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[int]*models.User
	byUsername map[string]int
	log        map[int][]models.Transaction
	quotes     map[string]models.Quote
	nextUserID int
	nextTxID   int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int]*models.User),
		byUsername: make(map[string]int),
		log:        make(map[int][]models.Transaction),
		quotes:     make(map[string]models.Quote),
		nextUserID: 1,
		nextTxID:   1,
	}
}

// CreateUser inserts a new user with a zero starting balance
func (s *MemoryStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[username]; exists {
		return nil, ErrUsernameTaken
	}
	u := &models.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      decimal.Zero,
		CreatedAt:    time.Now(),
	}
	s.nextUserID++
	s.users[u.ID] = u
	s.byUsername[username] = u.ID
	copied := *u
	return &copied, nil
}

// GetUserByUsername retrieves a user by username
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// GetBalance returns the user's current cash balance
func (s *MemoryStore) GetBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return u.Balance, nil
}

// GetHoldings sums buy shares minus sell shares for (user, symbol)
func (s *MemoryStore) GetHoldings(ctx context.Context, userID int, symbol string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return 0, ErrUserNotFound
	}
	return s.holdingsLocked(userID, symbol), nil
}

// GetAllHoldings returns every non-zero position of the user
func (s *MemoryStore) GetAllHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	net := make(map[string]int)
	var order []string
	for _, tx := range s.log[userID] {
		if _, seen := net[tx.Symbol]; !seen {
			order = append(order, tx.Symbol)
		}
		if tx.Action == ActionBuy {
			net[tx.Symbol] += tx.Shares
		} else {
			net[tx.Symbol] -= tx.Shares
		}
	}
	var holdings []models.Holding
	for _, symbol := range order {
		if net[symbol] != 0 {
			holdings = append(holdings, models.Holding{Symbol: symbol, Shares: net[symbol]})
		}
	}
	return holdings, nil
}

// AppendTransaction inserts an immutable record into the log
func (s *MemoryStore) AppendTransaction(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(userID, symbol, shares, price, action)
}

// AdjustBalance adds delta to the balance. No floor is enforced here;
// callers validate sufficiency before debiting.
func (s *MemoryStore) AdjustBalance(ctx context.Context, userID int, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Balance = u.Balance.Add(delta)
	return nil
}

// RecordTrade applies balanceDelta and appends the matching transaction
// under one critical section
func (s *MemoryStore) RecordTrade(ctx context.Context, userID int, symbol string, shares int, price decimal.Decimal, action string, balanceDelta decimal.Decimal) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	tx, err := s.appendLocked(userID, symbol, shares, price, action)
	if err != nil {
		return nil, err
	}
	u.Balance = u.Balance.Add(balanceDelta)
	return tx, nil
}

// Transactions returns the user's transaction history, oldest first
func (s *MemoryStore) Transactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	history := make([]models.Transaction, len(s.log[userID]))
	copy(history, s.log[userID])
	return history, nil
}

// GetQuote returns the cached quote for a symbol, or nil on a miss
func (s *MemoryStore) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, nil
	}
	copied := q
	return &copied, nil
}

// SaveQuote stores or replaces the cached quote for a symbol
func (s *MemoryStore) SaveQuote(ctx context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}
	return nil
}

// ListQuotes returns all cached quotes
func (s *MemoryStore) ListQuotes(ctx context.Context) ([]models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quotes := make([]models.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (s *MemoryStore) holdingsLocked(userID int, symbol string) int {
	net := 0
	for _, tx := range s.log[userID] {
		if tx.Symbol != symbol {
			continue
		}
		if tx.Action == ActionBuy {
			net += tx.Shares
		} else {
			net -= tx.Shares
		}
	}
	return net
}

func (s *MemoryStore) appendLocked(userID int, symbol string, shares int, price decimal.Decimal, action string) (*models.Transaction, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	if err := ValidateTransaction(shares, price, action); err != nil {
		return nil, err
	}
	tx := models.Transaction{
		ID:        s.nextTxID,
		UserID:    userID,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Action:    action,
		Timestamp: time.Now(),
	}
	s.nextTxID++
	s.log[userID] = append(s.log[userID], tx)
	return &tx, nil
}
