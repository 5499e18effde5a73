// Package rates implements the kinked utilization curve that couples a
// reserve's liquidity to its borrowing and lending rates.
package rates

import (
	"errors"

	"github.com/holiman/uint256"

	"veralend/native/fixedmath"
)

var (
	errNilParameter     = errors.New("rates: model parameter not set")
	errOptimalRateRange = errors.New("rates: optimal rate must be in (0, 1]")
)

// Model holds the curve parameters, all expressed as fixed-point fractions.
// The borrow rate rises linearly with slope0 up to the optimal utilization
// and with slope0+slope1 beyond it. Models are carried by value inside
// reserve records; the rate computation itself is a pure function.
type Model struct {
	Slope0      *uint256.Int
	Slope1      *uint256.Int
	YIntercept  *uint256.Int
	OptimalRate *uint256.Int
}

// NewModel validates and returns a model with defensively copied parameters.
func NewModel(slope0, slope1, yIntercept, optimalRate *uint256.Int) (Model, error) {
	m := Model{
		Slope0:      fixedmath.Clone(slope0),
		Slope1:      fixedmath.Clone(slope1),
		YIntercept:  fixedmath.Clone(yIntercept),
		OptimalRate: fixedmath.Clone(optimalRate),
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate checks the parameter ranges.
func (m Model) Validate() error {
	if m.Slope0 == nil || m.Slope1 == nil || m.YIntercept == nil || m.OptimalRate == nil {
		return errNilParameter
	}
	if m.OptimalRate.IsZero() || m.OptimalRate.Gt(fixedmath.Scale) {
		return errOptimalRateRange
	}
	return nil
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	return Model{
		Slope0:      fixedmath.Clone(m.Slope0),
		Slope1:      fixedmath.Clone(m.Slope1),
		YIntercept:  fixedmath.Clone(m.YIntercept),
		OptimalRate: fixedmath.Clone(m.OptimalRate),
	}
}

// Utilization returns totalDebt/(reserveBalance+totalDebt) as a fixed-point
// fraction, defined as zero for an empty reserve.
func (m Model) Utilization(reserveBalance, totalDebt *uint256.Int) (*uint256.Int, error) {
	total, err := fixedmath.Add(reserveBalance, totalDebt)
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedmath.DivFP(totalDebt, total)
}

// Rates derives the borrow and lending rates for the given liquidity state.
// The reserve factor is deliberately absent here: the market applies it when
// distributing accrued interest, not when pricing it.
func (m Model) Rates(reserveBalance, totalDebt *uint256.Int) (borrowRate, lendingRate *uint256.Int, err error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	total, err := fixedmath.Add(reserveBalance, totalDebt)
	if err != nil {
		return nil, nil, err
	}
	if total.IsZero() {
		return fixedmath.Clone(m.YIntercept), new(uint256.Int), nil
	}

	utilization, err := fixedmath.DivFP(totalDebt, total)
	if err != nil {
		return nil, nil, err
	}

	if !utilization.Gt(m.OptimalRate) {
		// Linear region before the kink.
		scaled, err := fixedmath.Mul(m.Slope0, utilization)
		if err != nil {
			return nil, nil, err
		}
		slopeTerm, err := fixedmath.Div(scaled, m.OptimalRate)
		if err != nil {
			return nil, nil, err
		}
		borrowRate, err = fixedmath.Add(m.YIntercept, slopeTerm)
		if err != nil {
			return nil, nil, err
		}
	} else {
		excess, err2 := fixedmath.Sub(utilization, m.OptimalRate)
		if err2 != nil {
			return nil, nil, err2
		}
		span, err2 := fixedmath.Sub(fixedmath.Scale, m.OptimalRate)
		if err2 != nil {
			return nil, nil, err2
		}
		scaled, err2 := fixedmath.Mul(m.Slope1, excess)
		if err2 != nil {
			return nil, nil, err2
		}
		excessTerm, err2 := fixedmath.Div(scaled, span)
		if err2 != nil {
			return nil, nil, err2
		}
		borrowRate, err2 = fixedmath.Add(m.YIntercept, m.Slope0)
		if err2 != nil {
			return nil, nil, err2
		}
		borrowRate, err2 = fixedmath.Add(borrowRate, excessTerm)
		if err2 != nil {
			return nil, nil, err2
		}
	}

	lendingRate, err = fixedmath.MulFP(borrowRate, utilization)
	if err != nil {
		return nil, nil, err
	}
	return borrowRate, lendingRate, nil
}
