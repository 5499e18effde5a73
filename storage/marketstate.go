package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/market"
)

const (
	keyReserveList = "market/reserves"
	keyTreasury    = "market/treasury"
)

// MarketState persists the engine's reserves and reserve list as JSON
// records in a Database; raw debts and collateral masks are stored as
// decimal strings and the treasury address as a hex string.
type MarketState struct {
	db Database
}

// NewMarketState wraps a database in the engine's State interface.
func NewMarketState(db Database) *MarketState {
	return &MarketState{db: db}
}

func reserveKey(token types.Address) []byte {
	return []byte(fmt.Sprintf("market/reserve/%s", token))
}

func debtKey(user, token types.Address) []byte {
	return []byte(fmt.Sprintf("market/debt/%s/%s", user, token))
}

func maskKey(user types.Address) []byte {
	return []byte(fmt.Sprintf("market/mask/%s", user))
}

// Reserve implements market.State.
func (s *MarketState) Reserve(token types.Address) (*market.Reserve, error) {
	raw, err := s.db.Get(reserveKey(token))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var reserve market.Reserve
	if err := json.Unmarshal(raw, &reserve); err != nil {
		return nil, fmt.Errorf("storage: decode reserve: %w", err)
	}
	return &reserve, nil
}

// PutReserve implements market.State.
func (s *MarketState) PutReserve(reserve *market.Reserve) error {
	raw, err := json.Marshal(reserve)
	if err != nil {
		return fmt.Errorf("storage: encode reserve: %w", err)
	}
	tokens, err := s.Reserves()
	if err != nil {
		return err
	}
	listed := false
	for _, token := range tokens {
		if token == reserve.Token {
			listed = true
			break
		}
	}
	if !listed {
		tokens = append(tokens, reserve.Token)
		encoded, err := json.Marshal(tokens)
		if err != nil {
			return err
		}
		if err := s.db.Put([]byte(keyReserveList), encoded); err != nil {
			return err
		}
	}
	return s.db.Put(reserveKey(reserve.Token), raw)
}

// Reserves implements market.State.
func (s *MarketState) Reserves() ([]types.Address, error) {
	raw, err := s.db.Get([]byte(keyReserveList))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tokens []types.Address
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("storage: decode reserve list: %w", err)
	}
	return tokens, nil
}

// RawDebt implements market.State.
func (s *MarketState) RawDebt(user, token types.Address) (*uint256.Int, error) {
	return s.readAmount(debtKey(user, token))
}

// SetRawDebt implements market.State, pruning cleared entries.
func (s *MarketState) SetRawDebt(user, token types.Address, raw *uint256.Int) error {
	return s.writeAmount(debtKey(user, token), raw)
}

// CollateralMask implements market.State.
func (s *MarketState) CollateralMask(user types.Address) (*uint256.Int, error) {
	return s.readAmount(maskKey(user))
}

// SetCollateralMask implements market.State.
func (s *MarketState) SetCollateralMask(user types.Address, mask *uint256.Int) error {
	return s.writeAmount(maskKey(user), mask)
}

// Treasury implements market.State.
func (s *MarketState) Treasury() (types.Address, error) {
	raw, err := s.db.Get([]byte(keyTreasury))
	if errors.Is(err, ErrNotFound) {
		return types.ZeroAddress, nil
	}
	if err != nil {
		return types.ZeroAddress, err
	}
	return types.ParseAddress(string(raw))
}

// SetTreasury implements market.State.
func (s *MarketState) SetTreasury(addr types.Address) error {
	return s.db.Put([]byte(keyTreasury), []byte(addr.String()))
}

func (s *MarketState) readAmount(key []byte) (*uint256.Int, error) {
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

func (s *MarketState) writeAmount(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte(fixedmath.Clone(value).Dec()))
}
