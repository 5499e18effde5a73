package storage

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"veralend/core/types"
)

// ZTokenStore persists one share token's raw balances, supply and
// allowances under a per-token key prefix.
type ZTokenStore struct {
	db     Database
	prefix string
}

// NewZTokenStore scopes a database to the given share-token address.
func NewZTokenStore(db Database, token types.Address) *ZTokenStore {
	return &ZTokenStore{db: db, prefix: fmt.Sprintf("ztoken/%s", token)}
}

func (s *ZTokenStore) balanceKey(user types.Address) []byte {
	return []byte(fmt.Sprintf("%s/balance/%s", s.prefix, user))
}

func (s *ZTokenStore) allowanceKey(owner, spender types.Address) []byte {
	return []byte(fmt.Sprintf("%s/allowance/%s/%s", s.prefix, owner, spender))
}

func (s *ZTokenStore) supplyKey() []byte {
	return []byte(fmt.Sprintf("%s/supply", s.prefix))
}

// RawBalance implements ztoken.Store.
func (s *ZTokenStore) RawBalance(user types.Address) (*uint256.Int, error) {
	return s.read(s.balanceKey(user))
}

// SetRawBalance implements ztoken.Store, pruning cleared balances.
func (s *ZTokenStore) SetRawBalance(user types.Address, raw *uint256.Int) error {
	return s.write(s.balanceKey(user), raw)
}

// RawTotalSupply implements ztoken.Store.
func (s *ZTokenStore) RawTotalSupply() (*uint256.Int, error) {
	return s.read(s.supplyKey())
}

// SetRawTotalSupply implements ztoken.Store.
func (s *ZTokenStore) SetRawTotalSupply(raw *uint256.Int) error {
	return s.write(s.supplyKey(), raw)
}

// Allowance implements ztoken.Store.
func (s *ZTokenStore) Allowance(owner, spender types.Address) (*uint256.Int, error) {
	return s.read(s.allowanceKey(owner, spender))
}

// SetAllowance implements ztoken.Store.
func (s *ZTokenStore) SetAllowance(owner, spender types.Address, face *uint256.Int) error {
	return s.write(s.allowanceKey(owner, spender), face)
}

func (s *ZTokenStore) read(key []byte) (*uint256.Int, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	value, err := uint256.FromDecimal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("storage: decode amount: %w", err)
	}
	return value, nil
}

func (s *ZTokenStore) write(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte(value.Dec()))
}
