package server

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	cfg "veralend/config"
	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/common"
	"veralend/native/market"
	"veralend/native/oracle"
	"veralend/native/ztoken"
	"veralend/storage"
)

// Build assembles an engine from a genesis document over the given
// database. Reserves already persisted from an earlier run are re-attached;
// new ones are listed. The returned sources are the steerable price feeds,
// one per reserve.
func Build(ctx context.Context, genesis *cfg.Genesis, db storage.Database, ledger *MemoryLedger, clock common.Clock, emitter events.Emitter) (*market.Engine, map[types.Address]*FixedSource, error) {
	state := storage.NewMarketState(db)
	engine, err := market.New(market.Config{
		Owner:         genesis.OwnerAddress(),
		MarketAddress: genesis.MarketAddress(),
		State:         state,
		Ledger:        ledger,
		Clock:         clock,
		Emitter:       emitter,
	})
	if err != nil {
		return nil, nil, err
	}
	if treasury := genesis.TreasuryAddress(); !treasury.IsZero() {
		if err := engine.SetTreasury(genesis.OwnerAddress(), treasury); err != nil {
			return nil, nil, err
		}
	}

	sources := make(map[types.Address]*FixedSource, len(genesis.Reserves))
	for i := range genesis.Reserves {
		entry := &genesis.Reserves[i]
		token, err := types.ParseAddress(entry.Token)
		if err != nil {
			return nil, nil, err
		}
		zTokenAddr, err := types.ParseAddress(entry.ZToken)
		if err != nil {
			return nil, nil, err
		}

		decimals := entry.Decimals
		if decimals == 0 {
			decimals = 18
		}
		ledger.RegisterToken(token, decimals)

		source := NewFixedSource(new(uint256.Int), 0)
		sources[token] = source
		adapter := oracle.NewAdapter(source, entry.OracleMaxAge, clock)
		store := storage.NewZTokenStore(db, zTokenAddr)

		existing, err := state.Reserve(token)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			if err := engine.AttachReserve(token, adapter, store); err != nil {
				return nil, nil, fmt.Errorf("attach reserve %s: %w", token, err)
			}
			continue
		}

		model, err := entry.Rates.Model()
		if err != nil {
			return nil, nil, err
		}
		collateralFactor, err := entry.Fraction(entry.CollateralFactor)
		if err != nil {
			return nil, nil, err
		}
		borrowFactor, err := entry.Fraction(entry.BorrowFactor)
		if err != nil {
			return nil, nil, err
		}
		reserveFactor, err := entry.Fraction(entry.ReserveFactor)
		if err != nil {
			return nil, nil, err
		}
		flashLoanFee, err := entry.Fraction(entry.FlashLoanFee)
		if err != nil {
			return nil, nil, err
		}

		err = engine.AddReserve(ctx, genesis.OwnerAddress(), market.ReserveConfig{
			Token:            token,
			ZToken:           zTokenAddr,
			ZTokenName:       entry.ZTokenName,
			ZTokenSymbol:     entry.ZTokenSymbol,
			CollateralFactor: collateralFactor,
			BorrowFactor:     borrowFactor,
			ReserveFactor:    reserveFactor,
			FlashLoanFee:     flashLoanFee,
			Model:            model,
			Oracle:           adapter,
			Store:            store,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("add reserve %s: %w", token, err)
		}
	}

	return engine, sources, nil
}

var _ ztoken.Store = (*storage.ZTokenStore)(nil)
var _ market.State = (*storage.MarketState)(nil)
var _ market.AssetLedger = (*MemoryLedger)(nil)
var _ market.PriceOracle = (*oracle.Adapter)(nil)
var _ oracle.Source = (*FixedSource)(nil)
