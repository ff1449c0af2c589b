package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendpool/core/types"
	"lendpool/native/oracle"
)

func makeAddress(b byte) types.Address {
	var addr types.Address
	for i := range addr {
		addr[i] = b
	}
	return addr
}

// mockLedgerState keeps positions in memory and hands out clones so the
// engine's working copies never alias stored records, mirroring the
// persistence contract.
type mockLedgerState struct {
	lenders   map[types.Address]*LenderPosition
	borrowers map[types.Address]*BorrowerPosition
	pool      *PoolState
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		lenders:   make(map[types.Address]*LenderPosition),
		borrowers: make(map[types.Address]*BorrowerPosition),
	}
}

func (m *mockLedgerState) GetLender(addr types.Address) (*LenderPosition, error) {
	if position, ok := m.lenders[addr]; ok {
		return position.Clone(), nil
	}
	return nil, nil
}

func (m *mockLedgerState) PutLender(position *LenderPosition) error {
	m.lenders[position.Address] = position.Clone()
	return nil
}

func (m *mockLedgerState) GetBorrower(addr types.Address) (*BorrowerPosition, error) {
	if position, ok := m.borrowers[addr]; ok {
		return position.Clone(), nil
	}
	return nil, nil
}

func (m *mockLedgerState) PutBorrower(position *BorrowerPosition) error {
	m.borrowers[position.Address] = position.Clone()
	return nil
}

func (m *mockLedgerState) ListBorrowers() ([]types.Address, error) {
	addrs := make([]types.Address, 0, len(m.borrowers))
	for addr := range m.borrowers {
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (m *mockLedgerState) GetPool() (*PoolState, error) {
	if m.pool == nil {
		return nil, nil
	}
	return m.pool.Clone(), nil
}

func (m *mockLedgerState) PutPool(pool *PoolState) error {
	m.pool = pool.Clone()
	return nil
}

type creditStub struct {
	cap *big.Int
}

func (c *creditStub) CapacityFor(types.Address) *big.Int {
	if c.cap == nil {
		return nil
	}
	return new(big.Int).Set(c.cap)
}

type recorderStub struct {
	firstInteractions map[types.Address]int
	payments          map[types.Address]int
	liquidations      map[types.Address]int
}

func newRecorderStub() *recorderStub {
	return &recorderStub{
		firstInteractions: make(map[types.Address]int),
		payments:          make(map[types.Address]int),
		liquidations:      make(map[types.Address]int),
	}
}

func (r *recorderStub) RecordFirstInteraction(account types.Address, _ int64) error {
	r.firstInteractions[account]++
	return nil
}

func (r *recorderStub) RecordSuccessfulPayment(account types.Address) error {
	r.payments[account]++
	return nil
}

func (r *recorderStub) RecordLiquidation(account types.Address) error {
	r.liquidations[account]++
	return nil
}

type pauseStub struct {
	paused bool
}

func (p *pauseStub) IsPaused(string) bool { return p.paused }

const testAsset = "ATOM"

// testEnv wires an engine against the mock ledger with a movable clock, a
// static price feed and a single registered collateral asset at 75% LTV.
type testEnv struct {
	engine   *Engine
	state    *mockLedgerState
	feed     *oracle.StaticOracle
	recorder *recorderStub
	gov      types.Address
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:    newMockLedgerState(),
		feed:     oracle.NewStaticOracle(),
		recorder: newRecorderStub(),
		gov:      makeAddress(0xAA),
		now:      time.Unix(1_700_000_000, 0),
	}
	registry := NewPolicyRegistry(env.gov)
	if err := registry.SetPolicy(env.gov, AssetPolicy{
		AssetID:                 testAsset,
		LTVBps:                  7_500,
		LiquidationThresholdBps: 7_500,
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	env.feed.SetPrice(testAsset, big.NewRat(1, 1), env.now)

	env.engine = NewEngine(env.state, registry, env.feed, &creditStub{})
	model, err := NewInterestModel(0.02, 0.20, 1.00, 0.80, 0.10)
	if err != nil {
		t.Fatalf("interest model: %v", err)
	}
	env.engine.SetInterestModel(model)
	env.engine.SetRecorder(env.recorder)
	env.engine.SetNowFunc(func() time.Time { return env.now })
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) setCreditCap(cap int64) {
	env.engine.credit = &creditStub{cap: big.NewInt(cap)}
}

func (env *testEnv) fundPool(t *testing.T, lender types.Address, amount int64) {
	t.Helper()
	if _, err := env.engine.Deposit(lender, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (env *testEnv) pledge(t *testing.T, borrower types.Address, amount int64) {
	t.Helper()
	if err := env.engine.DepositCollateral(borrower, testAsset, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
}

func TestDepositMintsSharesAndFundsPool(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)

	minted, err := env.engine.Deposit(lender, big.NewInt(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected minted shares: %s", minted)
	}

	balance, err := env.engine.BalanceOf(lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected lender balance: %s", balance)
	}
	if env.state.pool.Balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected pool balance: %s", env.state.pool.Balance)
	}
	if env.state.pool.TotalSupplyShares.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected total shares: %s", env.state.pool.TotalSupplyShares)
	}
}

func TestDepositRejectsNonPositiveAmounts(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)

	if _, err := env.engine.Deposit(lender, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.engine.Deposit(lender, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.engine.Deposit(lender, big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if env.state.pool != nil {
		t.Fatalf("rejected deposit must not create pool state")
	}
}

func TestWithdrawRespectsBalanceAndLiquidity(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 100)
	env.pledge(t, borrower, 1_000)
	if err := env.engine.Borrow(borrower, big.NewInt(80)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := env.engine.Withdraw(lender, big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := env.engine.Withdraw(lender, big.NewInt(50)); !errors.Is(err, ErrExceedsPoolLiquidity) {
		t.Fatalf("expected ErrExceedsPoolLiquidity, got %v", err)
	}
	if err := env.engine.Withdraw(lender, big.NewInt(20)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	balance, err := env.engine.BalanceOf(lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("unexpected lender balance: %s", balance)
	}
	if env.state.pool.Balance.Sign() != 0 {
		t.Fatalf("unexpected pool balance: %s", env.state.pool.Balance)
	}
}

func TestCollateralDepositRequiresPolicy(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02)

	err := env.engine.DepositCollateral(borrower, "UNLISTED", big.NewInt(10))
	if !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed, got %v", err)
	}
	if _, ok := env.state.borrowers[borrower]; ok {
		t.Fatalf("rejected deposit must not create a position")
	}
}

func TestBorrowAgainstCollateral(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 20)
	env.pledge(t, borrower, 2_000)
	env.setCreditCap(40)

	if err := env.engine.Borrow(borrower, big.NewInt(5)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	debt, err := env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
	if env.state.pool.Balance.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("unexpected pool balance: %s", env.state.pool.Balance)
	}

	// Collateral supports far more, but the credit tier caps total debt at 40.
	if err := env.engine.Borrow(borrower, big.NewInt(50)); !errors.Is(err, ErrExceedsCapacity) {
		t.Fatalf("expected ErrExceedsCapacity, got %v", err)
	}
	debt, err = env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("failed borrow must not change debt: %s", debt)
	}
	if env.state.pool.Balance.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("failed borrow must not change pool balance: %s", env.state.pool.Balance)
	}
}

func TestBorrowLimitedByLTV(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 1_000)
	env.pledge(t, borrower, 100)

	// 100 units at price 1 with 75% LTV supports at most 75 of debt.
	if err := env.engine.Borrow(borrower, big.NewInt(76)); !errors.Is(err, ErrExceedsCapacity) {
		t.Fatalf("expected ErrExceedsCapacity, got %v", err)
	}
	if err := env.engine.Borrow(borrower, big.NewInt(75)); err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
}

func TestBorrowLimitedByPoolLiquidity(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 20)
	env.pledge(t, borrower, 2_000)

	if err := env.engine.Borrow(borrower, big.NewInt(30)); !errors.Is(err, ErrExceedsPoolLiquidity) {
		t.Fatalf("expected ErrExceedsPoolLiquidity, got %v", err)
	}
}

func TestBorrowHonorsLiquidityReserve(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 20)
	env.pledge(t, borrower, 2_000)
	env.engine.SetLiquidityReserve(big.NewInt(5))

	if err := env.engine.Borrow(borrower, big.NewInt(18)); !errors.Is(err, ErrExceedsPoolLiquidity) {
		t.Fatalf("expected ErrExceedsPoolLiquidity, got %v", err)
	}
	if err := env.engine.Borrow(borrower, big.NewInt(15)); err != nil {
		t.Fatalf("borrow within reserve: %v", err)
	}
}

func TestRepayOverpayRefundsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 100)
	env.pledge(t, borrower, 100)
	if err := env.engine.Borrow(borrower, big.NewInt(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	applied, refund, err := env.engine.Repay(borrower, big.NewInt(25))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if applied.Cmp(big.NewInt(10)) != 0 || refund.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("unexpected repay split: applied=%s refund=%s", applied, refund)
	}
	debt, err := env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("expected zero debt, got %s", debt)
	}
	if env.recorder.payments[borrower] != 1 {
		t.Fatalf("expected one successful payment, got %d", env.recorder.payments[borrower])
	}

	// Repaying again at zero debt refunds everything and moves nothing.
	before := env.state.pool.Clone()
	applied, refund, err = env.engine.Repay(borrower, big.NewInt(5))
	if err != nil {
		t.Fatalf("repay at zero debt: %v", err)
	}
	if applied.Sign() != 0 || refund.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected repay split: applied=%s refund=%s", applied, refund)
	}
	if env.state.pool.Balance.Cmp(before.Balance) != 0 || env.state.pool.TotalDebt.Cmp(before.TotalDebt) != 0 {
		t.Fatalf("zero-debt repay must not move pool state")
	}
	if env.recorder.payments[borrower] != 1 {
		t.Fatalf("zero-debt repay must not count a payment, got %d", env.recorder.payments[borrower])
	}
}

func TestWithdrawCollateralHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 1_000)
	env.pledge(t, borrower, 100)
	if err := env.engine.Borrow(borrower, big.NewInt(70)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Dropping to 90 units keeps 90*0.75=67 of threshold value below 70 debt.
	err := env.engine.WithdrawCollateral(borrower, testAsset, big.NewInt(10))
	if !errors.Is(err, ErrWouldUndercollateralize) {
		t.Fatalf("expected ErrWouldUndercollateralize, got %v", err)
	}
	position := env.state.borrowers[borrower]
	if position.CollateralOf(testAsset).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed withdrawal must not change collateral: %s", position.CollateralOf(testAsset))
	}

	if _, _, err := env.engine.Repay(borrower, big.NewInt(70)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := env.engine.WithdrawCollateral(borrower, testAsset, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw after repay: %v", err)
	}
	if env.state.pool.Custody[testAsset].Sign() != 0 {
		t.Fatalf("custody must be empty, got %s", env.state.pool.Custody[testAsset])
	}
}

func TestWithdrawCollateralMoreThanPledged(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02)
	env.pledge(t, borrower, 50)

	err := env.engine.WithdrawCollateral(borrower, testAsset, big.NewInt(60))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestPauseGuardBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	env.fundPool(t, lender, 100)
	env.engine.SetPauses(&pauseStub{paused: true})

	before := env.state.pool.Clone()
	if _, err := env.engine.Deposit(lender, big.NewInt(10)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := env.engine.Withdraw(lender, big.NewInt(10)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := env.engine.Borrow(makeAddress(0x02), big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if env.state.pool.Balance.Cmp(before.Balance) != 0 {
		t.Fatalf("paused operations must not mutate pool state")
	}
}

func TestViewsLeaveStoredStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 1_000)
	env.pledge(t, borrower, 200)
	if err := env.engine.Borrow(borrower, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.engine.SetAccrualEnabled(true)
	env.advance(24 * time.Hour)
	env.engine.SetPauses(&pauseStub{paused: true})

	before := env.state.pool.Clone()
	if _, err := env.engine.CheckLiquidatable(borrower); err != nil {
		t.Fatalf("check liquidatable: %v", err)
	}
	if _, err := env.engine.TotalCollateralValue(borrower); err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if _, _, err := env.engine.CheckCollateralization(borrower); err != nil {
		t.Fatalf("check collateralization: %v", err)
	}
	if _, err := env.engine.DebtOf(borrower); err != nil {
		t.Fatalf("debt: %v", err)
	}
	if _, err := env.engine.BalanceOf(lender); err != nil {
		t.Fatalf("balance: %v", err)
	}

	after := env.state.pool
	if after.LastAccrual != before.LastAccrual {
		t.Fatalf("views must not persist accrual: %d != %d", after.LastAccrual, before.LastAccrual)
	}
	if after.BorrowIndex.Cmp(before.BorrowIndex) != 0 || after.SupplyIndex.Cmp(before.SupplyIndex) != 0 {
		t.Fatalf("views must not persist index growth")
	}
	if after.LastPriceCheck != before.LastPriceCheck {
		t.Fatalf("views must not persist the price-check stamp")
	}
	if after.TotalDebt.Cmp(before.TotalDebt) != 0 {
		t.Fatalf("views must not persist debt growth")
	}
}

func TestReentrantCallbackRejected(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)

	var nested error
	env.engine.SetEmitter(func(event *types.Event) {
		if event.Type == EventTypeDeposit {
			_, nested = env.engine.Deposit(lender, big.NewInt(1))
		}
	})
	if _, err := env.engine.Deposit(lender, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !errors.Is(nested, ErrReentrant) {
		t.Fatalf("expected ErrReentrant from nested call, got %v", nested)
	}

	balance, err := env.engine.BalanceOf(lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("nested call must not double-apply: %s", balance)
	}
}

func TestFirstInteractionRecordedOnce(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02)

	env.pledge(t, borrower, 10)
	env.pledge(t, borrower, 10)
	if env.recorder.firstInteractions[borrower] != 1 {
		t.Fatalf("expected one first-interaction record, got %d", env.recorder.firstInteractions[borrower])
	}
}

func TestPoolSolvencyAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 100)
	env.pledge(t, borrower, 1_000)
	if err := env.engine.Borrow(borrower, big.NewInt(40)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, _, err := env.engine.Repay(borrower, big.NewInt(10)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := env.engine.Withdraw(lender, big.NewInt(25)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// Liquidity plus outstanding debt always equals net supplied funds.
	pool := env.state.pool
	total := new(big.Int).Add(pool.Balance, pool.TotalDebt)
	if total.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("solvency violated: balance=%s debt=%s", pool.Balance, pool.TotalDebt)
	}
}

func TestRatesReporting(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 20)
	env.pledge(t, borrower, 1_000)
	if err := env.engine.Borrow(borrower, big.NewInt(16)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	utilization, borrow, supply, err := env.engine.Rates()
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if utilization != 8_000 {
		t.Fatalf("unexpected utilization bps: %d", utilization)
	}
	if borrow != 2_200 {
		t.Fatalf("unexpected borrow rate bps: %d", borrow)
	}
	if supply != 1_584 {
		t.Fatalf("unexpected supply rate bps: %d", supply)
	}
}

func TestAccrualGrowsDebtAndSupply(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetAccrualEnabled(true)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 1_000_000)
	env.pledge(t, borrower, 1_000_000)
	if err := env.engine.Borrow(borrower, big.NewInt(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	debtBefore, err := env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}

	env.advance(365 * 24 * time.Hour)
	debtAfter, err := env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt after accrual: %v", err)
	}
	if debtAfter.Cmp(debtBefore) <= 0 {
		t.Fatalf("debt must grow over time: before=%s after=%s", debtBefore, debtAfter)
	}

	balance, err := env.engine.BalanceOf(lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1_000_000)) <= 0 {
		t.Fatalf("supplier balance must grow with accrual: %s", balance)
	}
}

func TestAccrualDisabledKeepsPrincipalDebt(t *testing.T) {
	env := newTestEnv(t)
	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)
	env.fundPool(t, lender, 1_000)
	env.pledge(t, borrower, 1_000)
	if err := env.engine.Borrow(borrower, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	env.advance(365 * 24 * time.Hour)
	debt, err := env.engine.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("principal-only debt must not grow: %s", debt)
	}
}
