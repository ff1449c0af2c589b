package lending

import (
	"math/big"

	"lendpool/core/types"
)

// LiquidationStatus represents the lifecycle states of a borrower's
// liquidation record.
type LiquidationStatus uint8

const (
	LiquidationNotStarted LiquidationStatus = iota
	LiquidationGrace
	LiquidationExecutable
	LiquidationResolved
)

// Valid reports whether the status value is within the supported range.
func (s LiquidationStatus) Valid() bool {
	switch s {
	case LiquidationNotStarted, LiquidationGrace, LiquidationExecutable, LiquidationResolved:
		return true
	default:
		return false
	}
}

// String renders the status for events and RPC responses.
func (s LiquidationStatus) String() string {
	switch s {
	case LiquidationNotStarted:
		return "notStarted"
	case LiquidationGrace:
		return "grace"
	case LiquidationExecutable:
		return "executable"
	case LiquidationResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// LiquidationRecord tracks the liquidation state machine for one borrower.
// Records only move forward (NotStarted -> Grace -> Executable -> Resolved);
// the sole backward edge is an explicit recovery resetting to NotStarted.
type LiquidationRecord struct {
	Borrower  types.Address     `json:"borrower"`
	StartedAt int64             `json:"startedAt"`
	Status    LiquidationStatus `json:"status"`
}

// Clone returns a deep copy of the record.
func (r *LiquidationRecord) Clone() *LiquidationRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// LenderPosition holds a supplier's stake in the pool. Principal records the
// raw amount deposited; Shares scale with the supply index so the position
// participates in interest accrual.
type LenderPosition struct {
	Address   types.Address `json:"address"`
	Principal *big.Int      `json:"principal"`
	Shares    *big.Int      `json:"shares"`
}

// Clone returns a deep copy of the position.
func (p *LenderPosition) Clone() *LenderPosition {
	if p == nil {
		return nil
	}
	clone := &LenderPosition{Address: p.Address}
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	}
	if p.Shares != nil {
		clone.Shares = new(big.Int).Set(p.Shares)
	}
	return clone
}

// BorrowerPosition maintains one account's debt and pledged collateral.
// Collateral quantities are keyed by asset identifier and must never go
// negative; the same holds for debt.
type BorrowerPosition struct {
	Address     types.Address       `json:"address"`
	Debt        *big.Int            `json:"debt"`
	ScaledDebt  *big.Int            `json:"scaledDebt"`
	Collateral  map[string]*big.Int `json:"collateral"`
	Liquidation *LiquidationRecord  `json:"liquidation,omitempty"`
}

// Clone returns a deep copy of the position.
func (p *BorrowerPosition) Clone() *BorrowerPosition {
	if p == nil {
		return nil
	}
	clone := &BorrowerPosition{Address: p.Address}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	if p.ScaledDebt != nil {
		clone.ScaledDebt = new(big.Int).Set(p.ScaledDebt)
	}
	if p.Collateral != nil {
		clone.Collateral = make(map[string]*big.Int, len(p.Collateral))
		for asset, qty := range p.Collateral {
			if qty != nil {
				clone.Collateral[asset] = new(big.Int).Set(qty)
			}
		}
	}
	clone.Liquidation = p.Liquidation.Clone()
	return clone
}

// CollateralOf returns the quantity pledged for an asset, zero when absent.
func (p *BorrowerPosition) CollateralOf(assetID string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	qty, ok := p.Collateral[assetID]
	if !ok || qty == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(qty)
}

// AssetPolicy captures the governance-set risk configuration for one
// collateral asset. Ratios are expressed in basis points; the liquidation
// threshold is never below the LTV.
type AssetPolicy struct {
	AssetID                 string `json:"assetId"`
	IsStable                bool   `json:"isStable"`
	LTVBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
}

// PoolState aggregates the scalar accounting for the whole pool. Amounts are
// wei-denominated big integers.
type PoolState struct {
	Balance           *big.Int `json:"balance"`
	TotalDebt         *big.Int `json:"totalDebt"`
	TotalSupplyShares *big.Int `json:"totalSupplyShares"`
	SupplyIndex       *big.Int `json:"supplyIndex"`
	BorrowIndex       *big.Int `json:"borrowIndex"`
	LastAccrual       int64    `json:"lastAccrual"`
	LastPriceCheck    int64    `json:"lastPriceCheck"`
	Paused            bool     `json:"paused"`
	// Custody tracks units of each collateral asset held for borrowers.
	Custody map[string]*big.Int `json:"custody"`
	// Treasury tracks seized collateral no longer accounted to any borrower.
	Treasury map[string]*big.Int `json:"treasury"`
}

// Clone returns a deep copy of the pool state.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	clone := &PoolState{
		LastAccrual:    s.LastAccrual,
		LastPriceCheck: s.LastPriceCheck,
		Paused:         s.Paused,
	}
	if s.Balance != nil {
		clone.Balance = new(big.Int).Set(s.Balance)
	}
	if s.TotalDebt != nil {
		clone.TotalDebt = new(big.Int).Set(s.TotalDebt)
	}
	if s.TotalSupplyShares != nil {
		clone.TotalSupplyShares = new(big.Int).Set(s.TotalSupplyShares)
	}
	if s.SupplyIndex != nil {
		clone.SupplyIndex = new(big.Int).Set(s.SupplyIndex)
	}
	if s.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(s.BorrowIndex)
	}
	clone.Custody = cloneAmountMap(s.Custody)
	clone.Treasury = cloneAmountMap(s.Treasury)
	return clone
}

func cloneAmountMap(m map[string]*big.Int) map[string]*big.Int {
	if m == nil {
		return nil
	}
	clone := make(map[string]*big.Int, len(m))
	for k, v := range m {
		if v != nil {
			clone[k] = new(big.Int).Set(v)
		}
	}
	return clone
}
