// Package config loads the market genesis description: the owner and
// treasury principals plus every listed reserve with its risk parameters
// and rate curve.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/rates"
)

// Genesis is the top-level market configuration document.
type Genesis struct {
	Owner    string    `toml:"owner"`
	Market   string    `toml:"market"`
	Treasury string    `toml:"treasury"`
	Reserves []Reserve `toml:"reserve"`
}

// Reserve describes one listed token. Fixed-point fractions are decimal
// strings in 27-decimal units.
type Reserve struct {
	Token            string `toml:"token"`
	ZToken           string `toml:"z_token"`
	ZTokenName       string `toml:"z_token_name"`
	ZTokenSymbol     string `toml:"z_token_symbol"`
	Decimals         uint8  `toml:"decimals"`
	CollateralFactor string `toml:"collateral_factor"`
	BorrowFactor     string `toml:"borrow_factor"`
	ReserveFactor    string `toml:"reserve_factor"`
	FlashLoanFee     string `toml:"flash_loan_fee"`
	OracleMaxAge     uint64 `toml:"oracle_max_age"`
	Rates            Curve  `toml:"rates"`
}

// Curve carries the interest model parameters.
type Curve struct {
	Slope0      string `toml:"slope0"`
	Slope1      string `toml:"slope1"`
	YIntercept  string `toml:"y_intercept"`
	OptimalRate string `toml:"optimal_rate"`
}

// Load reads and validates a genesis document.
func Load(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var genesis Genesis
	if err := toml.Unmarshal(raw, &genesis); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	return &genesis, nil
}

// Validate checks addresses and parameter ranges without mutating the
// document.
func (g *Genesis) Validate() error {
	if _, err := types.ParseAddress(g.Owner); err != nil {
		return fmt.Errorf("config: owner: %w", err)
	}
	if _, err := types.ParseAddress(g.Market); err != nil {
		return fmt.Errorf("config: market: %w", err)
	}
	if g.Treasury != "" {
		if _, err := types.ParseAddress(g.Treasury); err != nil {
			return fmt.Errorf("config: treasury: %w", err)
		}
	}
	seen := make(map[types.Address]bool)
	for i := range g.Reserves {
		reserve := &g.Reserves[i]
		token, err := types.ParseAddress(reserve.Token)
		if err != nil {
			return fmt.Errorf("config: reserve %d token: %w", i, err)
		}
		if seen[token] {
			return fmt.Errorf("config: reserve %d: duplicate token %s", i, token)
		}
		seen[token] = true
		if _, err := types.ParseAddress(reserve.ZToken); err != nil {
			return fmt.Errorf("config: reserve %d z_token: %w", i, err)
		}
		for name, value := range map[string]string{
			"collateral_factor": reserve.CollateralFactor,
			"borrow_factor":     reserve.BorrowFactor,
			"reserve_factor":    reserve.ReserveFactor,
			"flash_loan_fee":    reserve.FlashLoanFee,
		} {
			if _, err := parseFraction(value); err != nil {
				return fmt.Errorf("config: reserve %d %s: %w", i, name, err)
			}
		}
		if _, err := reserve.Rates.Model(); err != nil {
			return fmt.Errorf("config: reserve %d rates: %w", i, err)
		}
	}
	return nil
}

// OwnerAddress returns the parsed owner principal.
func (g *Genesis) OwnerAddress() types.Address {
	addr, _ := types.ParseAddress(g.Owner)
	return addr
}

// MarketAddress returns the parsed market principal.
func (g *Genesis) MarketAddress() types.Address {
	addr, _ := types.ParseAddress(g.Market)
	return addr
}

// TreasuryAddress returns the parsed treasury, zero when unset.
func (g *Genesis) TreasuryAddress() types.Address {
	if g.Treasury == "" {
		return types.ZeroAddress
	}
	addr, _ := types.ParseAddress(g.Treasury)
	return addr
}

// Model builds the rate curve from the decimal strings.
func (c Curve) Model() (rates.Model, error) {
	slope0, err := parseAmount(c.Slope0)
	if err != nil {
		return rates.Model{}, fmt.Errorf("slope0: %w", err)
	}
	slope1, err := parseAmount(c.Slope1)
	if err != nil {
		return rates.Model{}, fmt.Errorf("slope1: %w", err)
	}
	yIntercept, err := parseAmount(c.YIntercept)
	if err != nil {
		return rates.Model{}, fmt.Errorf("y_intercept: %w", err)
	}
	optimal, err := parseAmount(c.OptimalRate)
	if err != nil {
		return rates.Model{}, fmt.Errorf("optimal_rate: %w", err)
	}
	return rates.NewModel(slope0, slope1, yIntercept, optimal)
}

// Fraction returns a named fixed-point field of the reserve.
func (r Reserve) Fraction(value string) (*uint256.Int, error) {
	return parseFraction(value)
}

func parseAmount(value string) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

func parseFraction(value string) (*uint256.Int, error) {
	parsed, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	if parsed.Gt(fixedmath.Scale) {
		return nil, fmt.Errorf("fraction exceeds 1.0: %s", value)
	}
	return parsed, nil
}
