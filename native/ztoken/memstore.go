package ztoken

import (
	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
)

// MemStore is an in-memory Store used in tests and single-process setups.
type MemStore struct {
	balances    map[types.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int
	totalSupply *uint256.Int
}

type allowanceKey struct {
	owner   types.Address
	spender types.Address
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		balances:    make(map[types.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

// RawBalance implements Store.
func (m *MemStore) RawBalance(user types.Address) (*uint256.Int, error) {
	return fixedmath.Clone(m.balances[user]), nil
}

// SetRawBalance implements Store, pruning zero entries.
func (m *MemStore) SetRawBalance(user types.Address, raw *uint256.Int) error {
	if raw == nil || raw.IsZero() {
		delete(m.balances, user)
		return nil
	}
	m.balances[user] = fixedmath.Clone(raw)
	return nil
}

// RawTotalSupply implements Store.
func (m *MemStore) RawTotalSupply() (*uint256.Int, error) {
	return fixedmath.Clone(m.totalSupply), nil
}

// SetRawTotalSupply implements Store.
func (m *MemStore) SetRawTotalSupply(raw *uint256.Int) error {
	m.totalSupply = fixedmath.Clone(raw)
	return nil
}

// Allowance implements Store.
func (m *MemStore) Allowance(owner, spender types.Address) (*uint256.Int, error) {
	return fixedmath.Clone(m.allowances[allowanceKey{owner, spender}]), nil
}

// SetAllowance implements Store.
func (m *MemStore) SetAllowance(owner, spender types.Address, face *uint256.Int) error {
	key := allowanceKey{owner, spender}
	if face == nil || face.IsZero() {
		delete(m.allowances, key)
		return nil
	}
	m.allowances[key] = fixedmath.Clone(face)
	return nil
}
