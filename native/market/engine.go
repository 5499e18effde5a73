// Package market implements the pooled lending market's accounting engine:
// per-reserve interest accumulators, share-token and debt bookkeeping,
// collateralization checks, liquidations, and flash loans. The engine is a
// serialized state machine; a coarse mutex admits one operation at a time
// and every operation either commits completely or leaves state untouched.
package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/common"
	"veralend/native/fixedmath"
	"veralend/native/rates"
	"veralend/native/ztoken"
)

const moduleName = "market"

const maxReserveDecimals = 26

// Config wires the engine to its collaborators.
type Config struct {
	// Owner is the principal allowed to call the admin surface.
	Owner types.Address
	// MarketAddress is the engine's own ledger identity: the holder of
	// pooled base assets and the share tokens' minting principal.
	MarketAddress types.Address

	State   State
	Ledger  AssetLedger
	Clock   common.Clock
	Emitter events.Emitter
}

// Engine is the central market state machine.
type Engine struct {
	mu sync.Mutex

	state   State
	ledger  AssetLedger
	clock   common.Clock
	emitter events.Emitter

	owner   types.Address
	address types.Address

	oracles map[types.Address]PriceOracle
	ztokens map[types.Address]*ztoken.Token
	stores  map[types.Address]ztoken.Store

	// guards flags reserves with a flash loan in flight. The flag, not a
	// lock, protects the reserve across the callback.
	guards map[types.Address]bool

	pauses *common.PauseSet

	// pending buffers events raised while an operation is staged; they are
	// flushed to the emitter only when the operation commits.
	pending []events.Event
}

// New constructs an engine. Reserves persisted by an earlier run must be
// re-attached with AttachReserve before they can be used, since oracles and
// share-token stores are runtime capabilities.
func New(cfg Config) (*Engine, error) {
	if cfg.State == nil {
		return nil, errNilState
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("market: ledger not configured")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = common.SystemClock()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Engine{
		state:   cfg.State,
		ledger:  cfg.Ledger,
		clock:   clock,
		emitter: emitter,
		owner:   cfg.Owner,
		address: cfg.MarketAddress,
		oracles: make(map[types.Address]PriceOracle),
		ztokens: make(map[types.Address]*ztoken.Token),
		stores:  make(map[types.Address]ztoken.Store),
		guards:  make(map[types.Address]bool),
		pauses:  common.NewPauseSet(),
	}, nil
}

// Address returns the engine's ledger identity.
func (e *Engine) Address() types.Address { return e.address }

// Owner returns the admin principal.
func (e *Engine) Owner() types.Address { return e.owner }

// AddReserve lists a new token. Restricted to the owner; reserve indexes are
// assigned monotonically and reserves are never removed.
func (e *Engine) AddReserve(ctx context.Context, caller types.Address, cfg ReserveConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := validateReserveConfig(cfg); err != nil {
		return err
	}

	existing, err := e.state.Reserve(cfg.Token)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateReserve
	}

	decimals, err := e.ledger.Decimals(ctx, cfg.Token)
	if err != nil {
		return fmt.Errorf("market: token decimals: %w", err)
	}
	if decimals > maxReserveDecimals {
		return fmt.Errorf("%w: unsupported token decimals %d", ErrInvalidReserveConfig, decimals)
	}

	tokens, err := e.state.Reserves()
	if err != nil {
		return err
	}
	if len(tokens) >= 256 {
		return fmt.Errorf("%w: reserve index space exhausted", ErrInvalidReserveConfig)
	}

	reserve := &Reserve{
		Token:                cfg.Token,
		ZToken:               cfg.ZToken,
		ZTokenName:           cfg.ZTokenName,
		ZTokenSymbol:         cfg.ZTokenSymbol,
		Decimals:             decimals,
		CollateralFactor:     fixedmath.Clone(cfg.CollateralFactor),
		BorrowFactor:         fixedmath.Clone(cfg.BorrowFactor),
		ReserveFactor:        fixedmath.Clone(cfg.ReserveFactor),
		FlashLoanFee:         fixedmath.Clone(cfg.FlashLoanFee),
		LendingAccumulator:   fixedmath.Clone(fixedmath.Scale),
		DebtAccumulator:      fixedmath.Clone(fixedmath.Scale),
		CurrentLendingRate:   new(uint256.Int),
		CurrentBorrowingRate: new(uint256.Int),
		RawTotalDebt:         new(uint256.Int),
		LastUpdate:           e.clock.Now(),
		Index:                uint8(len(tokens)),
		Model:                cfg.Model.Clone(),
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}

	e.attachLocked(reserve, cfg.Oracle, cfg.Store)

	e.emitter.Emit(events.NewReserve{
		Token:            reserve.Token,
		ZToken:           reserve.ZToken,
		Decimals:         reserve.Decimals,
		CollateralFactor: fixedmath.Clone(reserve.CollateralFactor),
		BorrowFactor:     fixedmath.Clone(reserve.BorrowFactor),
		ReserveFactor:    fixedmath.Clone(reserve.ReserveFactor),
		FlashLoanFee:     fixedmath.Clone(reserve.FlashLoanFee),
	})
	return nil
}

// AttachReserve rebinds the runtime capabilities of a persisted reserve
// after a restart.
func (e *Engine) AttachReserve(token types.Address, oracle PriceOracle, store ztoken.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, err := e.state.Reserve(token)
	if err != nil {
		return err
	}
	if reserve == nil {
		return ErrUnknownReserve
	}
	if oracle == nil || store == nil {
		return fmt.Errorf("%w: oracle and store required", ErrInvalidReserveConfig)
	}
	e.attachLocked(reserve, oracle, store)
	return nil
}

func (e *Engine) attachLocked(reserve *Reserve, oracle PriceOracle, store ztoken.Store) {
	e.oracles[reserve.Token] = oracle
	e.stores[reserve.Token] = store
	e.ztokens[reserve.Token] = ztoken.New(ztoken.Config{
		Address:    reserve.ZToken,
		Underlying: reserve.Token,
		Name:       reserve.ZTokenName,
		Symbol:     reserve.ZTokenSymbol,
		Decimals:   reserve.Decimals,
		Market:     e.address,
	}, engineView{e}, store, opEmitter{e})
}

func validateReserveConfig(cfg ReserveConfig) error {
	if cfg.Token.IsZero() || cfg.ZToken.IsZero() {
		return fmt.Errorf("%w: token addresses required", ErrInvalidReserveConfig)
	}
	if cfg.Oracle == nil || cfg.Store == nil {
		return fmt.Errorf("%w: oracle and store required", ErrInvalidReserveConfig)
	}
	if err := cfg.Model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReserveConfig, err)
	}
	for _, factor := range []*uint256.Int{cfg.CollateralFactor, cfg.ReserveFactor, cfg.FlashLoanFee} {
		if factor == nil || factor.Gt(fixedmath.Scale) {
			return fmt.Errorf("%w: factors must lie in [0, 1]", ErrInvalidReserveConfig)
		}
	}
	if cfg.BorrowFactor == nil || cfg.BorrowFactor.IsZero() || cfg.BorrowFactor.Gt(fixedmath.Scale) {
		return fmt.Errorf("%w: borrow factor must lie in (0, 1]", ErrInvalidReserveConfig)
	}
	return nil
}

// SetTreasury configures the recipient of the reserve-factor interest share.
func (e *Engine) SetTreasury(caller, treasury types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrUnauthorized
	}
	return e.state.SetTreasury(treasury)
}

// Treasury returns the configured treasury address.
func (e *Engine) Treasury() (types.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Treasury()
}

// SetPaused halts or resumes every mutating market flow.
func (e *Engine) SetPaused(caller types.Address, paused bool) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.pauses.SetPaused(moduleName, paused)
	return nil
}

// SetCollateralFactor updates a reserve's collateral factor after accruing
// pending interest under the old parameters.
func (e *Engine) SetCollateralFactor(ctx context.Context, caller, token types.Address, factor *uint256.Int) error {
	return e.updateReserveParam(ctx, caller, token, func(r *Reserve) error {
		if factor == nil || factor.Gt(fixedmath.Scale) {
			return fmt.Errorf("%w: factors must lie in [0, 1]", ErrInvalidReserveConfig)
		}
		r.CollateralFactor = fixedmath.Clone(factor)
		return nil
	})
}

// SetBorrowFactor updates a reserve's borrow factor.
func (e *Engine) SetBorrowFactor(ctx context.Context, caller, token types.Address, factor *uint256.Int) error {
	return e.updateReserveParam(ctx, caller, token, func(r *Reserve) error {
		if factor == nil || factor.IsZero() || factor.Gt(fixedmath.Scale) {
			return fmt.Errorf("%w: borrow factor must lie in (0, 1]", ErrInvalidReserveConfig)
		}
		r.BorrowFactor = fixedmath.Clone(factor)
		return nil
	})
}

// SetReserveFactor updates the share of interest retained for the treasury.
func (e *Engine) SetReserveFactor(ctx context.Context, caller, token types.Address, factor *uint256.Int) error {
	return e.updateReserveParam(ctx, caller, token, func(r *Reserve) error {
		if factor == nil || factor.Gt(fixedmath.Scale) {
			return fmt.Errorf("%w: factors must lie in [0, 1]", ErrInvalidReserveConfig)
		}
		r.ReserveFactor = fixedmath.Clone(factor)
		return nil
	})
}

// SetFlashLoanFee updates the flash-loan fee fraction.
func (e *Engine) SetFlashLoanFee(ctx context.Context, caller, token types.Address, fee *uint256.Int) error {
	return e.updateReserveParam(ctx, caller, token, func(r *Reserve) error {
		if fee == nil || fee.Gt(fixedmath.Scale) {
			return fmt.Errorf("%w: factors must lie in [0, 1]", ErrInvalidReserveConfig)
		}
		r.FlashLoanFee = fixedmath.Clone(fee)
		return nil
	})
}

// SetInterestRateModel swaps a reserve's rate curve. Interest accrued under
// the old curve is settled first.
func (e *Engine) SetInterestRateModel(ctx context.Context, caller, token types.Address, model rates.Model) error {
	return e.updateReserveParam(ctx, caller, token, func(r *Reserve) error {
		if err := model.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidReserveConfig, err)
		}
		r.Model = model.Clone()
		return nil
	})
}

func (e *Engine) updateReserveParam(ctx context.Context, caller, token types.Address, mutate func(*Reserve) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if caller != e.owner {
		return ErrUnauthorized
	}
	if e.guards[token] {
		return ErrReentrantCall
	}

	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	treasuryRaw, err := e.syncReserve(reserve, now)
	if err != nil {
		return err
	}
	if err := mutate(reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}
	e.flushPending()
	return nil
}

func (e *Engine) loadReserve(token types.Address) (*Reserve, error) {
	reserve, err := e.state.Reserve(token)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	if e.ztokens[token] == nil || e.oracles[token] == nil {
		return nil, fmt.Errorf("%w: reserve not attached", ErrUnknownReserve)
	}
	return reserve, nil
}

// commitReserve persists a staged reserve and settles the treasury's share
// of the accrued interest as freshly minted share tokens.
func (e *Engine) commitReserve(reserve *Reserve, treasuryRaw *uint256.Int) error {
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	if treasuryRaw != nil && !treasuryRaw.IsZero() {
		treasury, err := e.state.Treasury()
		if err != nil {
			return err
		}
		if !treasury.IsZero() {
			if err := e.ztokens[reserve.Token].MintRaw(e.address, treasury, treasuryRaw); err != nil {
				return err
			}
		}
	}
	return nil
}

// opEmitter buffers events raised while an operation is staged.
type opEmitter struct{ e *Engine }

// Emit implements events.Emitter.
func (o opEmitter) Emit(ev events.Event) {
	o.e.pending = append(o.e.pending, ev)
}

func (e *Engine) queueEvent(ev events.Event) {
	e.pending = append(e.pending, ev)
}

func (e *Engine) flushPending() {
	for _, ev := range e.pending {
		e.emitter.Emit(ev)
	}
	e.pending = nil
}

func (e *Engine) discardPending() {
	e.pending = nil
}
