package lending

import (
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"lendpool/core/types"
	nativecommon "lendpool/native/common"
	"lendpool/native/oracle"
)

const moduleName = "lending"

// ledgerState abstracts the persistence layer backing the engine. Get calls
// return nil when no record exists; implementations must return isolated
// copies so in-flight mutations never leak into storage before Put.
type ledgerState interface {
	GetLender(addr types.Address) (*LenderPosition, error)
	PutLender(position *LenderPosition) error
	GetBorrower(addr types.Address) (*BorrowerPosition, error)
	PutBorrower(position *BorrowerPosition) error
	ListBorrowers() ([]types.Address, error)
	GetPool() (*PoolState, error)
	PutPool(state *PoolState) error
}

// CreditSource resolves the borrow capacity granted by an account's credit
// score.
type CreditSource interface {
	CapacityFor(account types.Address) *big.Int
}

// Recorder receives per-account interaction updates for reputation tracking.
type Recorder interface {
	RecordFirstInteraction(account types.Address, at int64) error
	RecordSuccessfulPayment(account types.Address) error
	RecordLiquidation(account types.Address) error
}

// Engine is the pool ledger: it owns every balance, debt and collateral
// mutation and consults the rate model, policy registry, oracle and credit
// source synchronously before committing.
//
// The engine assumes externally serialized calls (the manager holds the
// lock); its own guard only rejects re-entrant calls arriving through
// callbacks before the original operation completes.
type Engine struct {
	state    ledgerState
	registry *PolicyRegistry
	credit   CreditSource
	prices   oracle.PriceOracle
	recorder Recorder
	emitter  func(*types.Event)
	pauses   nativecommon.PauseView

	model          *InterestModel
	accrualEnabled bool
	gracePeriod    time.Duration
	reserveWei     *big.Int

	nowFunc func() time.Time
	entered atomic.Bool
}

// NewEngine constructs a ledger wired to the supplied collaborators.
func NewEngine(state ledgerState, registry *PolicyRegistry, prices oracle.PriceOracle, credit CreditSource) *Engine {
	return &Engine{
		state:       state,
		registry:    registry,
		prices:      prices,
		credit:      credit,
		gracePeriod: 72 * time.Hour,
		reserveWei:  big.NewInt(0),
		nowFunc:     time.Now,
	}
}

// SetPauses wires the engine to the pause switches held by the manager.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetInterestModel configures the rate model used for accrual and rate
// queries.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	e.model = model.Clone()
}

// SetAccrualEnabled toggles interest accrual on outstanding debt. When
// disabled, debt is principal-only and the rate model is informational.
func (e *Engine) SetAccrualEnabled(enabled bool) {
	if e == nil {
		return
	}
	e.accrualEnabled = enabled
}

// SetGracePeriod configures the delay between a position entering
// liquidation and the liquidation becoming executable.
func (e *Engine) SetGracePeriod(d time.Duration) {
	if e == nil || d <= 0 {
		return
	}
	e.gracePeriod = d
}

// SetLiquidityReserve configures the base-asset amount held back from
// borrowing.
func (e *Engine) SetLiquidityReserve(wei *big.Int) {
	if e == nil {
		return
	}
	if wei == nil || wei.Sign() < 0 {
		e.reserveWei = big.NewInt(0)
		return
	}
	e.reserveWei = new(big.Int).Set(wei)
}

// SetRecorder wires the reputation recorder.
func (e *Engine) SetRecorder(r Recorder) {
	if e == nil {
		return
	}
	e.recorder = r
}

// SetEmitter wires the structured event sink.
func (e *Engine) SetEmitter(emit func(*types.Event)) {
	if e == nil {
		return
	}
	e.emitter = emit
}

// SetNowFunc overrides the wall clock, used by tests to drive the grace
// period and accrual deterministically.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFunc = now
}

// GracePeriod reports the configured liquidation grace period.
func (e *Engine) GracePeriod() time.Duration {
	if e == nil {
		return 0
	}
	return e.gracePeriod
}

func (e *Engine) begin() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

func (e *Engine) end() {
	e.entered.Store(false)
}

func (e *Engine) guard() error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return ErrPaused
	}
	return nil
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter != nil && event != nil {
		e.emitter(event)
	}
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// Deposit credits the lender's position and the pool balance, minting supply
// shares against the current supply index.
func (e *Engine) Deposit(lender types.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return nil, err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)

	position, err := e.ensureLender(lender)
	if err != nil {
		return nil, err
	}

	minted := sharesFromLiquidity(amount, pool.SupplyIndex)
	position.Principal = new(big.Int).Add(position.Principal, amount)
	position.Shares = new(big.Int).Add(position.Shares, minted)
	pool.Balance = new(big.Int).Add(pool.Balance, amount)
	pool.TotalSupplyShares = new(big.Int).Add(pool.TotalSupplyShares, minted)

	if err := e.state.PutLender(position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	e.emit(newDepositEvent(lender, amount, pool))
	return minted, nil
}

// Withdraw redeems base-asset value from the lender's position. The amount
// must not exceed the position's current balance nor the pool's liquid
// balance.
func (e *Engine) Withdraw(lender types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, err := e.ensureLender(lender)
	if err != nil {
		return err
	}

	balance := liquidityFromShares(position.Shares, pool.SupplyIndex)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if pool.Balance.Cmp(amount) < 0 {
		return ErrExceedsPoolLiquidity
	}

	burned := sharesFromLiquidity(amount, pool.SupplyIndex)
	if burned.Cmp(position.Shares) > 0 {
		burned = new(big.Int).Set(position.Shares)
	}
	position.Shares = new(big.Int).Sub(position.Shares, burned)
	position.Principal = new(big.Int).Sub(position.Principal, amount)
	if position.Principal.Sign() < 0 {
		position.Principal = big.NewInt(0)
	}
	pool.Balance = new(big.Int).Sub(pool.Balance, amount)
	pool.TotalSupplyShares = new(big.Int).Sub(pool.TotalSupplyShares, burned)

	if err := e.state.PutLender(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	e.emit(newWithdrawEvent(lender, amount, pool))
	return nil
}

// DepositCollateral transfers collateral into pool custody and credits the
// borrower's collateral map. Only assets with a registered policy are
// accepted.
func (e *Engine) DepositCollateral(borrower types.Address, assetID string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.registry == nil || !e.registry.Allowed(assetID) {
		return ErrAssetNotAllowed
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, created, err := e.ensureBorrower(borrower)
	if err != nil {
		return err
	}

	current := position.CollateralOf(assetID)
	position.Collateral[assetID] = new(big.Int).Add(current, amount)
	addToAmountMap(pool.Custody, assetID, amount)

	if err := e.state.PutBorrower(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	if created && e.recorder != nil {
		_ = e.recorder.RecordFirstInteraction(borrower, e.now().Unix())
	}
	e.emit(newCollateralDepositEvent(borrower, assetID, amount, position))
	return nil
}

// WithdrawCollateral releases collateral back to the borrower while ensuring
// the remaining position still covers outstanding debt at its liquidation
// threshold.
func (e *Engine) WithdrawCollateral(borrower types.Address, assetID string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return err
	}

	current := position.CollateralOf(assetID)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	e.syncDebt(position, pool)
	position.Collateral[assetID] = new(big.Int).Sub(current, amount)
	if position.Debt.Sign() > 0 {
		valuation, err := e.value(position, pool)
		if err != nil {
			return err
		}
		if valuation.ThresholdWeighted.Cmp(position.Debt) < 0 {
			return ErrWouldUndercollateralize
		}
	}
	subFromAmountMap(pool.Custody, assetID, amount)

	if err := e.state.PutBorrower(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	e.emit(newCollateralWithdrawEvent(borrower, assetID, amount, position))
	return nil
}

// Borrow draws base asset against pledged collateral. Capacity is the lesser
// of the credit-tier cap and the LTV-weighted collateral value, net of
// current debt; the pool additionally holds back its liquidity reserve.
func (e *Engine) Borrow(borrower types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, created, err := e.ensureBorrower(borrower)
	if err != nil {
		return err
	}
	e.syncDebt(position, pool)
	if record := position.Liquidation; record != nil && record.Status == LiquidationResolved {
		// A resolved liquidation is history; new debt starts a fresh cycle.
		position.Liquidation = nil
	}

	valuation, err := e.value(position, pool)
	if err != nil {
		return err
	}
	capacity := new(big.Int).Set(valuation.LTVWeighted)
	if e.credit != nil {
		tierCap := e.credit.CapacityFor(borrower)
		if tierCap != nil && tierCap.Cmp(capacity) < 0 {
			capacity = tierCap
		}
	}
	capacity.Sub(capacity, position.Debt)
	if capacity.Sign() < 0 || capacity.Cmp(amount) < 0 {
		return ErrExceedsCapacity
	}

	lendable := new(big.Int).Sub(pool.Balance, e.reserveWei)
	if lendable.Sign() < 0 || lendable.Cmp(amount) < 0 {
		return ErrExceedsPoolLiquidity
	}

	position.Debt = new(big.Int).Add(position.Debt, amount)
	increment := scaledDebtFromAmount(amount, pool.BorrowIndex)
	position.ScaledDebt = new(big.Int).Add(position.ScaledDebt, increment)
	pool.Balance = new(big.Int).Sub(pool.Balance, amount)
	pool.TotalDebt = new(big.Int).Add(pool.TotalDebt, amount)

	if err := e.state.PutBorrower(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	if created && e.recorder != nil {
		_ = e.recorder.RecordFirstInteraction(borrower, e.now().Unix())
	}
	e.emit(newBorrowEvent(borrower, amount, position, pool))
	return nil
}

// Repay applies up to the outstanding debt and returns the applied amount and
// any excess to refund. Clearing the debt without an executed liquidation
// counts as a successful payment for reputation tracking; repeated repays at
// zero debt are refund-only no-ops.
func (e *Engine) Repay(borrower types.Address, amount *big.Int) (applied, refund *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if err := e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return nil, nil, err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, nil, err
	}
	e.accrue(pool)

	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return nil, nil, err
	}
	e.syncDebt(position, pool)

	applied = new(big.Int).Set(amount)
	if applied.Cmp(position.Debt) > 0 {
		applied = new(big.Int).Set(position.Debt)
	}
	refund = new(big.Int).Sub(amount, applied)

	if applied.Sign() == 0 {
		return applied, refund, nil
	}

	scaledRepay := scaledDebtFromAmount(applied, pool.BorrowIndex)
	if scaledRepay.Cmp(position.ScaledDebt) > 0 {
		scaledRepay = new(big.Int).Set(position.ScaledDebt)
	}
	position.ScaledDebt = new(big.Int).Sub(position.ScaledDebt, scaledRepay)
	position.Debt = new(big.Int).Sub(position.Debt, applied)
	if position.ScaledDebt.Sign() == 0 {
		position.Debt = big.NewInt(0)
	}

	pool.Balance = new(big.Int).Add(pool.Balance, applied)
	pool.TotalDebt = new(big.Int).Sub(pool.TotalDebt, applied)
	if pool.TotalDebt.Sign() < 0 {
		pool.TotalDebt = big.NewInt(0)
	}

	clearedWithoutLiquidation := false
	if position.Debt.Sign() == 0 {
		record := position.Liquidation
		if record == nil || record.Status != LiquidationResolved {
			clearedWithoutLiquidation = true
		}
		// Debt reached zero: any in-flight liquidation record resets.
		position.Liquidation = nil
	}

	if err := e.state.PutBorrower(position); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}

	if clearedWithoutLiquidation && e.recorder != nil {
		_ = e.recorder.RecordSuccessfulPayment(borrower)
	}
	e.emit(newRepayEvent(borrower, applied, refund, position, pool))
	return applied, refund, nil
}

// CheckLiquidatable reports whether the borrower's position is eligible for
// liquidation under current prices: threshold-weighted collateral value below
// outstanding debt. A stale oracle short-circuits to a conservative "not
// evaluable" outcome with ErrOracleStale.
func (e *Engine) CheckLiquidatable(borrower types.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return false, err
	}
	e.accrue(pool)
	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return false, err
	}
	e.syncDebt(position, pool)
	if position.Debt.Sign() == 0 {
		return false, nil
	}
	valuation, err := e.value(position, pool)
	if err != nil {
		return false, err
	}
	return valuation.ThresholdWeighted.Cmp(position.Debt) < 0, nil
}

// StartLiquidation opens the grace window for an undercollateralized
// borrower. Anyone may call it.
func (e *Engine) StartLiquidation(caller, borrower types.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return err
	}
	e.syncDebt(position, pool)
	if position.Debt.Sign() == 0 {
		return ErrNotLiquidatable
	}
	valuation, err := e.value(position, pool)
	if err != nil {
		return err
	}
	if valuation.ThresholdWeighted.Cmp(position.Debt) >= 0 {
		return ErrNotLiquidatable
	}

	record := position.Liquidation
	if record != nil && record.Status != LiquidationNotStarted {
		// Already in flight; starting again is a no-op.
		return nil
	}
	position.Liquidation = &LiquidationRecord{
		Borrower:  borrower,
		StartedAt: e.now().Unix(),
		Status:    LiquidationGrace,
	}

	if err := e.state.PutBorrower(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	e.emit(newLiquidationStartedEvent(caller, position))
	return nil
}

// RecoverFromLiquidation lets the borrower cure an in-flight liquidation by
// pledging more collateral (assetID set) or repaying debt (assetID empty).
// If the recheck shows a healthy position, the record resets to NotStarted.
func (e *Engine) RecoverFromLiquidation(borrower types.Address, assetID string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if assetID != "" {
		if e.registry == nil || !e.registry.Allowed(assetID) {
			return ErrAssetNotAllowed
		}
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return err
	}
	e.syncDebt(position, pool)

	if assetID != "" {
		current := position.CollateralOf(assetID)
		position.Collateral[assetID] = new(big.Int).Add(current, amount)
		addToAmountMap(pool.Custody, assetID, amount)
	} else {
		applied := new(big.Int).Set(amount)
		if applied.Cmp(position.Debt) > 0 {
			applied = new(big.Int).Set(position.Debt)
		}
		scaledRepay := scaledDebtFromAmount(applied, pool.BorrowIndex)
		if scaledRepay.Cmp(position.ScaledDebt) > 0 {
			scaledRepay = new(big.Int).Set(position.ScaledDebt)
		}
		position.ScaledDebt = new(big.Int).Sub(position.ScaledDebt, scaledRepay)
		position.Debt = new(big.Int).Sub(position.Debt, applied)
		if position.ScaledDebt.Sign() == 0 {
			position.Debt = big.NewInt(0)
		}
		pool.Balance = new(big.Int).Add(pool.Balance, applied)
		pool.TotalDebt = new(big.Int).Sub(pool.TotalDebt, applied)
		if pool.TotalDebt.Sign() < 0 {
			pool.TotalDebt = big.NewInt(0)
		}
	}

	recovered := false
	if position.Debt.Sign() == 0 {
		position.Liquidation = nil
		recovered = true
	} else {
		valuation, err := e.value(position, pool)
		if err != nil {
			return err
		}
		if valuation.ThresholdWeighted.Cmp(position.Debt) >= 0 {
			record := position.Liquidation
			if record != nil && record.Status == LiquidationGrace {
				position.Liquidation = nil
				recovered = true
			}
		}
	}

	if err := e.state.PutBorrower(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	if recovered {
		e.emit(newLiquidationRecoveredEvent(borrower, position))
	}
	return nil
}

// TotalCollateralValue returns the raw market value of an account's pledged
// collateral in wei.
func (e *Engine) TotalCollateralValue(account types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	position, _, err := e.ensureBorrower(account)
	if err != nil {
		return nil, err
	}
	valuation, err := e.value(position, pool)
	if err != nil {
		return nil, err
	}
	return valuation.Raw, nil
}

// CheckCollateralization reports position health and the collateral-to-debt
// ratio in basis points. Debt-free positions are healthy with a zero ratio.
func (e *Engine) CheckCollateralization(account types.Address) (bool, uint64, error) {
	if e == nil || e.state == nil {
		return false, 0, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return false, 0, err
	}
	e.accrue(pool)
	position, _, err := e.ensureBorrower(account)
	if err != nil {
		return false, 0, err
	}
	e.syncDebt(position, pool)
	if position.Debt.Sign() == 0 {
		return true, 0, nil
	}
	valuation, err := e.value(position, pool)
	if err != nil {
		return false, 0, err
	}
	ratio := new(big.Int).Mul(valuation.Raw, basisPoints)
	ratio.Quo(ratio, position.Debt)
	healthy := valuation.ThresholdWeighted.Cmp(position.Debt) >= 0
	return healthy, ratio.Uint64(), nil
}

// BalanceOf returns the lender's current interest-bearing balance.
func (e *Engine) BalanceOf(lender types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)
	position, err := e.ensureLender(lender)
	if err != nil {
		return nil, err
	}
	return liquidityFromShares(position.Shares, pool.SupplyIndex), nil
}

// DebtOf returns the borrower's outstanding debt including accrued interest.
func (e *Engine) DebtOf(borrower types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)
	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return nil, err
	}
	e.syncDebt(position, pool)
	return new(big.Int).Set(position.Debt), nil
}

// PoolSnapshot returns a copy of the scalar pool state.
func (e *Engine) PoolSnapshot() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Rates reports the current utilization, borrow rate and supply rate in
// basis points for display.
func (e *Engine) Rates() (utilizationBps, borrowBps, supplyBps uint64, err error) {
	pool, err := e.ensurePool()
	if err != nil {
		return 0, 0, 0, err
	}
	if e.model == nil {
		return 0, 0, 0, nil
	}
	u := Utilization(pool.TotalDebt, pool.Balance)
	borrow := e.model.BorrowRate(u)
	supply := e.model.SupplyRate(u, borrow)
	return ratToBps(u), ratToBps(borrow), ratToBps(supply), nil
}

func ratToBps(r *big.Rat) uint64 {
	if r == nil || r.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(basisPoints))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Uint64()
}

// --- internal helpers ---

type valuation struct {
	Raw               *big.Int
	LTVWeighted       *big.Int
	ThresholdWeighted *big.Int
}

// value prices every pledged asset through the oracle, producing raw,
// LTV-weighted and threshold-weighted totals. A stale feed surfaces as
// ErrOracleStale so callers can trip the circuit breaker; assets the oracle
// does not cover contribute zero value. The pool's last price check is
// stamped on success.
func (e *Engine) value(position *BorrowerPosition, pool *PoolState) (*valuation, error) {
	v := &valuation{
		Raw:               big.NewInt(0),
		LTVWeighted:       big.NewInt(0),
		ThresholdWeighted: big.NewInt(0),
	}
	if position == nil || len(position.Collateral) == 0 {
		return v, nil
	}
	if e.prices == nil {
		return nil, ErrOracleStale
	}
	for assetID, qty := range position.Collateral {
		if qty == nil || qty.Sign() == 0 {
			continue
		}
		quote, err := e.prices.PriceOf(assetID)
		if err != nil {
			if errors.Is(err, oracle.ErrNoFreshQuote) {
				return nil, ErrOracleStale
			}
			if errors.Is(err, oracle.ErrUnknownAsset) {
				continue
			}
			return nil, err
		}
		raw := valueOf(qty, quote.Rate)
		v.Raw.Add(v.Raw, raw)
		v.LTVWeighted.Add(v.LTVWeighted, bpsShare(raw, e.registry.LTV(assetID)))
		v.ThresholdWeighted.Add(v.ThresholdWeighted, bpsShare(raw, e.registry.LiquidationThreshold(assetID)))
	}
	if pool != nil {
		pool.LastPriceCheck = e.now().Unix()
	}
	return v, nil
}

// accrue advances the supply and borrow indexes for the time elapsed since
// the last accrual. Debt grows against the borrow index; supplier balances
// grow against the supply index net of the reserve factor.
func (e *Engine) accrue(pool *PoolState) {
	if pool == nil {
		return
	}
	now := e.now().Unix()
	if !e.accrualEnabled || e.model == nil {
		if now > pool.LastAccrual {
			pool.LastAccrual = now
		}
		return
	}
	elapsed := now - pool.LastAccrual
	if elapsed <= 0 || pool.TotalDebt == nil || pool.TotalDebt.Sign() == 0 {
		if now > pool.LastAccrual {
			pool.LastAccrual = now
		}
		return
	}

	u := Utilization(pool.TotalDebt, pool.Balance)
	borrowRate := e.model.BorrowRate(u)
	supplyRate := e.model.SupplyRate(u, borrowRate)

	pool.BorrowIndex = rayMul(pool.BorrowIndex, rateFactor(borrowRate, elapsed))
	pool.SupplyIndex = rayMul(pool.SupplyIndex, rateFactor(supplyRate, elapsed))

	grown := rayMul(pool.TotalDebt, rateFactor(borrowRate, elapsed))
	if grown.Cmp(pool.TotalDebt) > 0 {
		pool.TotalDebt = grown
	}
	pool.LastAccrual = now
}

// syncDebt refreshes the position's face debt from its scaled debt and the
// current borrow index.
func (e *Engine) syncDebt(position *BorrowerPosition, pool *PoolState) {
	if position == nil || pool == nil {
		return
	}
	if position.ScaledDebt == nil || position.ScaledDebt.Sign() == 0 {
		position.Debt = big.NewInt(0)
		return
	}
	position.Debt = debtFromScaled(position.ScaledDebt, pool.BorrowIndex)
}

func (e *Engine) ensurePool() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolState{LastAccrual: e.now().Unix()}
	}
	if pool.Balance == nil {
		pool.Balance = big.NewInt(0)
	}
	if pool.TotalDebt == nil {
		pool.TotalDebt = big.NewInt(0)
	}
	if pool.TotalSupplyShares == nil {
		pool.TotalSupplyShares = big.NewInt(0)
	}
	if pool.SupplyIndex == nil || pool.SupplyIndex.Sign() == 0 {
		pool.SupplyIndex = new(big.Int).Set(ray)
	}
	if pool.BorrowIndex == nil || pool.BorrowIndex.Sign() == 0 {
		pool.BorrowIndex = new(big.Int).Set(ray)
	}
	if pool.Custody == nil {
		pool.Custody = make(map[string]*big.Int)
	}
	if pool.Treasury == nil {
		pool.Treasury = make(map[string]*big.Int)
	}
	return pool, nil
}

func (e *Engine) ensureLender(addr types.Address) (*LenderPosition, error) {
	position, err := e.state.GetLender(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &LenderPosition{Address: addr}
	}
	if position.Principal == nil {
		position.Principal = big.NewInt(0)
	}
	if position.Shares == nil {
		position.Shares = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensureBorrower(addr types.Address) (*BorrowerPosition, bool, error) {
	position, err := e.state.GetBorrower(addr)
	if err != nil {
		return nil, false, err
	}
	created := position == nil
	if position == nil {
		position = &BorrowerPosition{Address: addr}
	}
	if position.Debt == nil {
		position.Debt = big.NewInt(0)
	}
	if position.ScaledDebt == nil {
		position.ScaledDebt = big.NewInt(0)
	}
	if position.Collateral == nil {
		position.Collateral = make(map[string]*big.Int)
	}
	return position, created, nil
}

func addToAmountMap(m map[string]*big.Int, key string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	current, ok := m[key]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	m[key] = new(big.Int).Add(current, amount)
}

func subFromAmountMap(m map[string]*big.Int, key string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	current, ok := m[key]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	m[key] = next
}
