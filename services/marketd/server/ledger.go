package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/oracle"
)

// MemoryLedger is the in-process asset ledger used for development
// deployments and tests. Production hosts implement market.AssetLedger
// against their actual token backend instead.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[types.Address]map[types.Address]*uint256.Int
	decimals map[types.Address]uint8
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[types.Address]map[types.Address]*uint256.Int),
		decimals: make(map[types.Address]uint8),
	}
}

// RegisterToken makes a token known to the ledger.
func (l *MemoryLedger) RegisterToken(token types.Address, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[token] = decimals
}

// Mint credits fresh balance to an account; the development faucet.
func (l *MemoryLedger) Mint(addr, token types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.decimals[token]; !ok {
		return fmt.Errorf("ledger: unknown token %s", token)
	}
	l.credit(addr, token, amount)
	return nil
}

func (l *MemoryLedger) balance(addr, token types.Address) *uint256.Int {
	if l.balances[addr] == nil || l.balances[addr][token] == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(l.balances[addr][token])
}

func (l *MemoryLedger) credit(addr, token types.Address, amount *uint256.Int) {
	if l.balances[addr] == nil {
		l.balances[addr] = make(map[types.Address]*uint256.Int)
	}
	l.balances[addr][token] = new(uint256.Int).Add(l.balance(addr, token), amount)
}

func (l *MemoryLedger) transfer(from, to, token types.Address, amount *uint256.Int) error {
	fromBalance := l.balance(from, token)
	if amount.Gt(fromBalance) {
		return fmt.Errorf("ledger: insufficient funds for %s", from)
	}
	l.balances[from][token] = new(uint256.Int).Sub(fromBalance, amount)
	l.credit(to, token, amount)
	return nil
}

// Transfer implements market.AssetLedger.
func (l *MemoryLedger) Transfer(_ context.Context, from, to, token types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, token, amount)
}

// TransferFrom implements market.AssetLedger. The in-process ledger trusts
// the market principal, so no allowance bookkeeping is kept.
func (l *MemoryLedger) TransferFrom(_ context.Context, owner, to, token types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(owner, to, token, amount)
}

// BalanceOf implements market.AssetLedger.
func (l *MemoryLedger) BalanceOf(_ context.Context, addr, token types.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(addr, token), nil
}

// Decimals implements market.AssetLedger.
func (l *MemoryLedger) Decimals(_ context.Context, token types.Address) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.decimals[token]
	if !ok {
		return 0, fmt.Errorf("ledger: unknown token %s", token)
	}
	return d, nil
}

// FixedSource is an operator-settable price feed, normalized through the
// oracle adapter like any third-party source.
type FixedSource struct {
	mu    sync.Mutex
	quote oracle.Quote
}

// NewFixedSource starts the feed with the given 8-decimal price.
func NewFixedSource(price *uint256.Int, updatedAt uint64) *FixedSource {
	return &FixedSource{quote: oracle.Quote{
		Price:     new(uint256.Int).Set(price),
		Decimals:  oracle.TargetDecimals,
		UpdatedAt: updatedAt,
	}}
}

// Set replaces the feed's quote.
func (s *FixedSource) Set(price *uint256.Int, decimals uint8, updatedAt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = oracle.Quote{
		Price:     new(uint256.Int).Set(price),
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	}
}

// Quote implements oracle.Source.
func (s *FixedSource) Quote(context.Context, types.Address) (oracle.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote, nil
}
