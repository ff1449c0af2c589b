package lending

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"lendpool/core/types"
	"lendpool/native/credit"
)

// Manager is the thin facade in front of the ledger. It serializes every
// mutating call, owns the governance pause toggle and the oracle circuit
// breaker, and provides the emergency asset-recovery path. Lender- and
// collateral-facing calls delegate to the engine.
type Manager struct {
	mu         sync.Mutex
	engine     *Engine
	policies   *PolicyRegistry
	credit     *credit.Registry
	governance types.Address
	emitter    func(*types.Event)
	paused     atomic.Bool
}

// NewManager wires the facade and registers itself as the engine's pause
// view. The initial pause flag is restored from persisted pool state so a
// restart does not silently unpause the pool.
func NewManager(engine *Engine, policies *PolicyRegistry, creditRegistry *credit.Registry, governance types.Address) (*Manager, error) {
	m := &Manager{
		engine:     engine,
		policies:   policies,
		credit:     creditRegistry,
		governance: governance,
	}
	engine.SetPauses(m)
	pool, err := engine.PoolSnapshot()
	if err != nil {
		return nil, err
	}
	m.paused.Store(pool.Paused)
	return m, nil
}

// SetEmitter wires the structured event sink used for pause and breaker
// events. The engine's own emitter is configured separately.
func (m *Manager) SetEmitter(emit func(*types.Event)) {
	if m == nil {
		return
	}
	m.emitter = emit
}

// IsPaused implements common.PauseView for the engine's guard.
func (m *Manager) IsPaused(module string) bool {
	if m == nil || module != moduleName {
		return false
	}
	return m.paused.Load()
}

func (m *Manager) emit(event *types.Event) {
	if m.emitter != nil && event != nil {
		m.emitter(event)
	}
}

// breakerCheck auto-pauses the pool when a price-dependent operation hit a
// stale oracle. Governance must explicitly unpause after fixing the feed.
func (m *Manager) breakerCheck(err error) {
	if err == nil || !errors.Is(err, ErrOracleStale) {
		return
	}
	if m.paused.CompareAndSwap(false, true) {
		m.persistPaused(true)
		m.emit(newCircuitBreakerEvent("oracle price stale"))
	}
}

func (m *Manager) persistPaused(paused bool) {
	pool, err := m.engine.ensurePool()
	if err != nil {
		return
	}
	pool.Paused = paused
	_ = m.engine.state.PutPool(pool)
}

// Deposit supplies base asset to the pool.
func (m *Manager) Deposit(lender types.Address, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Deposit(lender, amount)
}

// Withdraw redeems a lender's balance.
func (m *Manager) Withdraw(lender types.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Withdraw(lender, amount)
}

// DepositCollateral pledges collateral for a borrower.
func (m *Manager) DepositCollateral(borrower types.Address, assetID string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.DepositCollateral(borrower, assetID, amount)
}

// WithdrawCollateral releases collateral, subject to the health check.
func (m *Manager) WithdrawCollateral(borrower types.Address, assetID string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.engine.WithdrawCollateral(borrower, assetID, amount)
	m.breakerCheck(err)
	return err
}

// Borrow draws base asset against pledged collateral.
func (m *Manager) Borrow(borrower types.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.engine.Borrow(borrower, amount)
	m.breakerCheck(err)
	return err
}

// Repay reduces outstanding debt, refunding any excess.
func (m *Manager) Repay(borrower types.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Repay(borrower, amount)
}

// CheckLiquidatable reports liquidation eligibility under current prices.
func (m *Manager) CheckLiquidatable(borrower types.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.engine.CheckLiquidatable(borrower)
	m.breakerCheck(err)
	return ok, err
}

// StartLiquidation opens the grace window for an unhealthy borrower.
func (m *Manager) StartLiquidation(caller, borrower types.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.engine.StartLiquidation(caller, borrower)
	m.breakerCheck(err)
	return err
}

// RecoverFromLiquidation cures an in-flight liquidation.
func (m *Manager) RecoverFromLiquidation(borrower types.Address, assetID string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.engine.RecoverFromLiquidation(borrower, assetID, amount)
	m.breakerCheck(err)
	return err
}

// CheckUpkeep scans for liquidations ready to execute.
func (m *Manager) CheckUpkeep() (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.CheckUpkeep()
}

// PerformUpkeep executes overdue liquidations.
func (m *Manager) PerformUpkeep(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.engine.PerformUpkeep(data)
	m.breakerCheck(err)
	return err
}

// SetPolicy registers an asset policy. Governance only; the registry
// enforces the caller check.
func (m *Manager) SetPolicy(caller types.Address, policy AssetPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies.SetPolicy(caller, policy)
}

// SetCreditScore bridges the external scoring subsystem. Governance only.
func (m *Manager) SetCreditScore(caller, account types.Address, score uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credit == nil {
		return ErrNilState
	}
	if err := m.credit.SetScore(caller, account, score); err != nil {
		if errors.Is(err, credit.ErrUnauthorized) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

// Pause halts every mutating pool operation. Governance only.
func (m *Manager) Pause(caller types.Address) error {
	if caller != m.governance {
		return ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused.CompareAndSwap(false, true) {
		m.persistPaused(true)
		m.emit(newPauseEvent(true, caller))
	}
	return nil
}

// Unpause resumes pool operations. Governance only.
func (m *Manager) Unpause(caller types.Address) error {
	if caller != m.governance {
		return ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused.CompareAndSwap(true, false) {
		m.persistPaused(false)
		m.emit(newPauseEvent(false, caller))
	}
	return nil
}

// EmergencyWithdraw extracts stuck assets from the pool treasury. Only
// treasury holdings (seized or otherwise unaccounted collateral) are
// reachable; collateral accounted to a BorrowerPosition lives in custody and
// is never touched. Governance only.
func (m *Manager) EmergencyWithdraw(caller types.Address, assetID string, amount *big.Int) error {
	if caller != m.governance {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, err := m.engine.ensurePool()
	if err != nil {
		return err
	}
	available, ok := pool.Treasury[assetID]
	if !ok || available == nil || available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	subFromAmountMap(pool.Treasury, assetID, amount)
	if err := m.engine.state.PutPool(pool); err != nil {
		return err
	}
	m.emit(newEmergencyWithdrawEvent(caller, assetID, amount))
	return nil
}

// BalanceOf returns a lender's current balance.
func (m *Manager) BalanceOf(lender types.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.BalanceOf(lender)
}

// DebtOf returns a borrower's outstanding debt.
func (m *Manager) DebtOf(borrower types.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.DebtOf(borrower)
}

// TotalCollateralValue returns the market value of an account's collateral.
func (m *Manager) TotalCollateralValue(account types.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, err := m.engine.TotalCollateralValue(account)
	m.breakerCheck(err)
	return value, err
}

// CheckCollateralization reports position health and the ratio in basis
// points.
func (m *Manager) CheckCollateralization(account types.Address) (bool, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	healthy, ratio, err := m.engine.CheckCollateralization(account)
	m.breakerCheck(err)
	return healthy, ratio, err
}

// PoolSnapshot returns a copy of the scalar pool state with the live pause
// flag applied.
func (m *Manager) PoolSnapshot() (*PoolState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, err := m.engine.PoolSnapshot()
	if err != nil {
		return nil, err
	}
	pool.Paused = m.paused.Load()
	return pool, nil
}

// Rates reports current utilization and rates in basis points.
func (m *Manager) Rates() (uint64, uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Rates()
}
