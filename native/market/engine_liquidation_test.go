package market

import (
	"errors"
	"testing"

	"veralend/core/events"
)

// liquidationFixture puts Alice under water: she borrows to her limit at a
// $50 price for A, then the price drops to $40.
func liquidationFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, oldKink, "0")
	f.seedDeposits(t)
	borrowToLimit(t, f)
	f.oracleA.price = amt("4000000000")
	return f
}

func TestLiquidationRequiresInsolvency(t *testing.T) {
	f := newFixture(t, oldKink, "0")
	f.seedDeposits(t)
	borrowToLimit(t, f)

	// At the boundary the position is still solvent, so it cannot be
	// liquidated.
	err := f.engine.Liquidate(f.ctx, bob, alice, tokenB, tokens(1), tokenA)
	if !errors.Is(err, ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}
}

func TestLiquidationBoundary(t *testing.T) {
	f := liquidationFixture(t)

	solvent, err := f.engine.IsSolvent(f.ctx, alice)
	if err != nil {
		t.Fatalf("is solvent: %v", err)
	}
	if solvent {
		t.Fatalf("alice should be under water after the price drop")
	}

	// Repaying 8.2 B would push the position back above the solvency
	// boundary; the engine must refuse to overcorrect.
	err = f.engine.Liquidate(f.ctx, bob, alice, tokenB, amt("8200000000000000000"), tokenA)
	if !errors.Is(err, ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}

	// 8.1 B redeems exactly 8.1 * 100 / 40 = 20.25 A worth of shares, with
	// no liquidation bonus.
	if err := f.engine.Liquidate(f.ctx, bob, alice, tokenB, amt("8100000000000000000"), tokenA); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	requireEq(t, amt("20250000000000000000"), f.zBalance(t, tokenA, bob), "bob seized shares")
	requireEq(t, amt("989991900000000000000000"), f.ledger.balance(bob, tokenB), "bob wallet")

	aliceDebt, err := f.engine.UserDebt(alice, tokenB)
	if err != nil {
		t.Fatalf("user debt: %v", err)
	}
	requireEq(t, amt("14400000000000000000"), aliceDebt, "alice residual debt")
	requireEq(t, amt("79750000000000000000"), f.zBalance(t, tokenA, alice), "alice residual shares")

	liquidations := f.recorder.OfType(events.TypeLiquidation)
	if len(liquidations) != 1 {
		t.Fatalf("expected one liquidation event, got %d", len(liquidations))
	}
	event := liquidations[0].(events.Liquidation)
	if event.Liquidator != bob || event.User != alice {
		t.Fatalf("unexpected liquidation parties: %+v", event)
	}
	requireEq(t, amt("8100000000000000000"), event.DebtFace, "event debt face")
	requireEq(t, amt("20250000000000000000"), event.CollateralRaw, "event collateral raw")
}

func TestLiquidationFailureLeavesStateUntouched(t *testing.T) {
	f := liquidationFixture(t)

	err := f.engine.Liquidate(f.ctx, bob, alice, tokenB, amt("8200000000000000000"), tokenA)
	if !errors.Is(err, ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}

	requireEq(t, tokens(100), f.zBalance(t, tokenA, alice), "alice shares")
	requireEq(t, tokens(990_000), f.ledger.balance(bob, tokenB), "bob wallet")
	debt, err := f.engine.UserDebt(alice, tokenB)
	if err != nil {
		t.Fatalf("user debt: %v", err)
	}
	requireEq(t, amt("22500000000000000000"), debt, "alice debt")
}

func TestLiquidationOfZeroDebtRejected(t *testing.T) {
	f := newFixture(t, oldKink, "0")
	f.seedDeposits(t)
	f.oracleA.price = amt("4000000000")

	err := f.engine.Liquidate(f.ctx, bob, alice, tokenB, tokens(1), tokenA)
	if !errors.Is(err, ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}
}

func TestLiquidationCollateralMustBeEnabled(t *testing.T) {
	f := liquidationFixture(t)

	// Alice never enabled B as collateral, so B shares cannot be seized.
	err := f.engine.Liquidate(f.ctx, bob, alice, tokenB, tokens(1), tokenB)
	if !errors.Is(err, ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}
}
