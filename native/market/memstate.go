package market

import (
	"sort"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
)

// MemState is an in-memory State used in tests and single-process setups.
type MemState struct {
	reserves map[types.Address]*Reserve
	debts    map[debtKey]*uint256.Int
	masks    map[types.Address]*uint256.Int
	treasury types.Address
}

type debtKey struct {
	user  types.Address
	token types.Address
}

// NewMemState returns an empty state.
func NewMemState() *MemState {
	return &MemState{
		reserves: make(map[types.Address]*Reserve),
		debts:    make(map[debtKey]*uint256.Int),
		masks:    make(map[types.Address]*uint256.Int),
	}
}

// Reserve implements State.
func (s *MemState) Reserve(token types.Address) (*Reserve, error) {
	return s.reserves[token].Clone(), nil
}

// PutReserve implements State.
func (s *MemState) PutReserve(reserve *Reserve) error {
	s.reserves[reserve.Token] = reserve.Clone()
	return nil
}

// Reserves implements State, ordered by reserve index.
func (s *MemState) Reserves() ([]types.Address, error) {
	tokens := make([]types.Address, 0, len(s.reserves))
	for token := range s.reserves {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return s.reserves[tokens[i]].Index < s.reserves[tokens[j]].Index
	})
	return tokens, nil
}

// RawDebt implements State.
func (s *MemState) RawDebt(user, token types.Address) (*uint256.Int, error) {
	return fixedmath.Clone(s.debts[debtKey{user, token}]), nil
}

// SetRawDebt implements State, pruning zero entries.
func (s *MemState) SetRawDebt(user, token types.Address, raw *uint256.Int) error {
	key := debtKey{user, token}
	if raw == nil || raw.IsZero() {
		delete(s.debts, key)
		return nil
	}
	s.debts[key] = fixedmath.Clone(raw)
	return nil
}

// CollateralMask implements State.
func (s *MemState) CollateralMask(user types.Address) (*uint256.Int, error) {
	return fixedmath.Clone(s.masks[user]), nil
}

// SetCollateralMask implements State.
func (s *MemState) SetCollateralMask(user types.Address, mask *uint256.Int) error {
	if mask == nil || mask.IsZero() {
		delete(s.masks, user)
		return nil
	}
	s.masks[user] = fixedmath.Clone(mask)
	return nil
}

// Treasury implements State.
func (s *MemState) Treasury() (types.Address, error) {
	return s.treasury, nil
}

// SetTreasury implements State.
func (s *MemState) SetTreasury(addr types.Address) error {
	s.treasury = addr
	return nil
}
