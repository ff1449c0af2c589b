package lending

import (
	"encoding/json"
	"errors"
	"math/big"
	"sort"

	"lendpool/core/types"
	"lendpool/native/oracle"
)

// UpkeepData is the payload handed from CheckUpkeep to PerformUpkeep. It
// names the borrowers whose grace period has elapsed so the external
// scheduler can pass them back verbatim.
type UpkeepData struct {
	Borrowers []string `json:"borrowers"`
}

// CheckUpkeep scans liquidation records in the Grace state whose grace
// period has elapsed and returns them encoded for PerformUpkeep. It performs
// no state mutation and no scheduling; an external trigger is expected to
// poll it.
func (e *Engine) CheckUpkeep() (bool, []byte, error) {
	if e == nil || e.state == nil {
		return false, nil, ErrNilState
	}
	borrowers, err := e.state.ListBorrowers()
	if err != nil {
		return false, nil, err
	}

	deadline := e.now().Add(-e.gracePeriod).Unix()
	due := make([]string, 0)
	for _, addr := range borrowers {
		position, err := e.state.GetBorrower(addr)
		if err != nil {
			return false, nil, err
		}
		record := position.Liquidation
		if record == nil || record.Status != LiquidationGrace {
			continue
		}
		if record.StartedAt > deadline {
			continue
		}
		due = append(due, addr.Hex())
	}
	if len(due) == 0 {
		return false, nil, nil
	}
	sort.Strings(due)
	data, err := json.Marshal(UpkeepData{Borrowers: due})
	if err != nil {
		return false, nil, err
	}
	return true, data, nil
}

// PerformUpkeep executes the liquidations named in data. For each borrower
// still in Grace past the grace period, the record moves to Executable and
// then Resolved: collateral is seized into the pool treasury up to the debt
// value, debt is written off, and the borrower's liquidation counter is
// incremented. Borrowers that recovered in the meantime are skipped.
func (e *Engine) PerformUpkeep(data []byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.guard(); err != nil {
		return err
	}

	var payload UpkeepData
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if len(payload.Borrowers) == 0 {
		return ErrNoUpkeepNeeded
	}

	executed := 0
	deadline := e.now().Add(-e.gracePeriod).Unix()
	for _, hexAddr := range payload.Borrowers {
		addr, err := types.ParseAddress(hexAddr)
		if err != nil {
			continue
		}
		ok, err := e.executeLiquidation(addr, deadline)
		if err != nil {
			return err
		}
		if ok {
			executed++
		}
	}
	if executed == 0 {
		return ErrNoUpkeepNeeded
	}
	return nil
}

// executeLiquidation settles a single overdue liquidation atomically.
func (e *Engine) executeLiquidation(borrower types.Address, deadline int64) (bool, error) {
	pool, err := e.ensurePool()
	if err != nil {
		return false, err
	}
	e.accrue(pool)

	position, _, err := e.ensureBorrower(borrower)
	if err != nil {
		return false, err
	}
	record := position.Liquidation
	if record == nil || record.Status != LiquidationGrace || record.StartedAt > deadline {
		return false, nil
	}
	e.syncDebt(position, pool)
	if position.Debt.Sign() == 0 {
		// Debt cleared during the grace window; nothing to execute.
		position.Liquidation = nil
		if err := e.state.PutBorrower(position); err != nil {
			return false, err
		}
		return false, nil
	}

	record.Status = LiquidationExecutable

	debt := new(big.Int).Set(position.Debt)
	seized, err := e.seizeCollateral(position, pool, debt)
	if err != nil {
		return false, err
	}

	pool.TotalDebt = new(big.Int).Sub(pool.TotalDebt, debt)
	if pool.TotalDebt.Sign() < 0 {
		pool.TotalDebt = big.NewInt(0)
	}
	position.Debt = big.NewInt(0)
	position.ScaledDebt = big.NewInt(0)
	record.Status = LiquidationResolved

	if err := e.state.PutBorrower(position); err != nil {
		return false, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return false, err
	}

	if e.recorder != nil {
		_ = e.recorder.RecordLiquidation(borrower)
	}
	e.emit(newLiquidationExecutedEvent(position, debt, seized))
	return true, nil
}

// seizeCollateral moves pledged collateral into the pool treasury until the
// target debt value is covered or the collateral is exhausted. Assets are
// visited in identifier order for determinism. The seized value in wei is
// returned.
func (e *Engine) seizeCollateral(position *BorrowerPosition, pool *PoolState, target *big.Int) (*big.Int, error) {
	seizedValue := big.NewInt(0)
	remaining := new(big.Int).Set(target)

	assets := make([]string, 0, len(position.Collateral))
	for assetID := range position.Collateral {
		assets = append(assets, assetID)
	}
	sort.Strings(assets)

	for _, assetID := range assets {
		if remaining.Sign() <= 0 {
			break
		}
		qty := position.CollateralOf(assetID)
		if qty.Sign() == 0 {
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
		if quote.Rate == nil || quote.Rate.Sign() <= 0 {
			continue
		}

		seizeQty := quantityForValue(remaining, quote.Rate)
		if seizeQty.Cmp(qty) > 0 {
			seizeQty = qty
		}
		value := valueOf(seizeQty, quote.Rate)

		position.Collateral[assetID] = new(big.Int).Sub(qty, seizeQty)
		subFromAmountMap(pool.Custody, assetID, seizeQty)
		addToAmountMap(pool.Treasury, assetID, seizeQty)

		seizedValue.Add(seizedValue, value)
		remaining.Sub(remaining, value)
	}
	if pool != nil {
		pool.LastPriceCheck = e.now().Unix()
	}
	return seizedValue, nil
}

// quantityForValue returns the smallest quantity whose value at rate covers
// the target: ceil(target / rate).
func quantityForValue(target *big.Int, rate *big.Rat) *big.Int {
	if target == nil || target.Sign() <= 0 || rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(target, rate.Denom())
	qty, rem := new(big.Int).QuoRem(num, rate.Num(), new(big.Int))
	if rem.Sign() != 0 {
		qty.Add(qty, big.NewInt(1))
	}
	return qty
}
