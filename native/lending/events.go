package lending

import (
	"math/big"
	"strconv"

	"lendpool/core/types"
)

const (
	// EventTypeDeposit is emitted when a lender supplies base asset.
	EventTypeDeposit = "lending.deposit"
	// EventTypeWithdraw is emitted when a lender redeems base asset.
	EventTypeWithdraw = "lending.withdraw"
	// EventTypeCollateralDeposited is emitted when collateral enters custody.
	EventTypeCollateralDeposited = "lending.collateralDeposited"
	// EventTypeCollateralWithdrawn is emitted when collateral leaves custody.
	EventTypeCollateralWithdrawn = "lending.collateralWithdrawn"
	// EventTypeBorrow is emitted when debt is drawn against collateral.
	EventTypeBorrow = "lending.borrow"
	// EventTypeRepay is emitted when debt is repaid.
	EventTypeRepay = "lending.repay"
	// EventTypeLiquidationStarted is emitted when the grace window opens.
	EventTypeLiquidationStarted = "lending.liquidationStarted"
	// EventTypeLiquidationRecovered is emitted when a borrower cures a
	// liquidation during the grace window.
	EventTypeLiquidationRecovered = "lending.liquidationRecovered"
	// EventTypeLiquidationExecuted is emitted when upkeep seizes collateral.
	EventTypeLiquidationExecuted = "lending.liquidationExecuted"
	// EventTypePaused is emitted when the pool pause toggles.
	EventTypePaused = "lending.paused"
	// EventTypeCircuitBreaker is emitted when stale prices auto-pause the
	// pool.
	EventTypeCircuitBreaker = "lending.circuitBreaker"
	// EventTypeEmergencyWithdraw is emitted when governance extracts stuck
	// assets.
	EventTypeEmergencyWithdraw = "lending.emergencyWithdraw"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newDepositEvent(lender types.Address, amount *big.Int, pool *PoolState) *types.Event {
	return &types.Event{Type: EventTypeDeposit, Attributes: map[string]string{
		"lender":      lender.Hex(),
		"amount":      amountString(amount),
		"poolBalance": amountString(pool.Balance),
	}}
}

func newWithdrawEvent(lender types.Address, amount *big.Int, pool *PoolState) *types.Event {
	return &types.Event{Type: EventTypeWithdraw, Attributes: map[string]string{
		"lender":      lender.Hex(),
		"amount":      amountString(amount),
		"poolBalance": amountString(pool.Balance),
	}}
}

func newCollateralDepositEvent(borrower types.Address, assetID string, amount *big.Int, position *BorrowerPosition) *types.Event {
	return &types.Event{Type: EventTypeCollateralDeposited, Attributes: map[string]string{
		"borrower": borrower.Hex(),
		"asset":    assetID,
		"amount":   amountString(amount),
		"balance":  amountString(position.CollateralOf(assetID)),
	}}
}

func newCollateralWithdrawEvent(borrower types.Address, assetID string, amount *big.Int, position *BorrowerPosition) *types.Event {
	return &types.Event{Type: EventTypeCollateralWithdrawn, Attributes: map[string]string{
		"borrower": borrower.Hex(),
		"asset":    assetID,
		"amount":   amountString(amount),
		"balance":  amountString(position.CollateralOf(assetID)),
	}}
}

func newBorrowEvent(borrower types.Address, amount *big.Int, position *BorrowerPosition, pool *PoolState) *types.Event {
	return &types.Event{Type: EventTypeBorrow, Attributes: map[string]string{
		"borrower":    borrower.Hex(),
		"amount":      amountString(amount),
		"debt":        amountString(position.Debt),
		"poolBalance": amountString(pool.Balance),
		"totalDebt":   amountString(pool.TotalDebt),
	}}
}

func newRepayEvent(borrower types.Address, applied, refund *big.Int, position *BorrowerPosition, pool *PoolState) *types.Event {
	return &types.Event{Type: EventTypeRepay, Attributes: map[string]string{
		"borrower":  borrower.Hex(),
		"applied":   amountString(applied),
		"refund":    amountString(refund),
		"debt":      amountString(position.Debt),
		"totalDebt": amountString(pool.TotalDebt),
	}}
}

func newLiquidationStartedEvent(caller types.Address, position *BorrowerPosition) *types.Event {
	attrs := map[string]string{
		"caller":   caller.Hex(),
		"borrower": position.Address.Hex(),
		"debt":     amountString(position.Debt),
	}
	if record := position.Liquidation; record != nil {
		attrs["startedAt"] = strconv.FormatInt(record.StartedAt, 10)
		attrs["status"] = record.Status.String()
	}
	return &types.Event{Type: EventTypeLiquidationStarted, Attributes: attrs}
}

func newLiquidationRecoveredEvent(borrower types.Address, position *BorrowerPosition) *types.Event {
	return &types.Event{Type: EventTypeLiquidationRecovered, Attributes: map[string]string{
		"borrower": borrower.Hex(),
		"debt":     amountString(position.Debt),
	}}
}

func newLiquidationExecutedEvent(position *BorrowerPosition, debt, seized *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLiquidationExecuted, Attributes: map[string]string{
		"borrower":    position.Address.Hex(),
		"debtCleared": amountString(debt),
		"seizedValue": amountString(seized),
		"status":      LiquidationResolved.String(),
	}}
}

func newPauseEvent(paused bool, actor types.Address) *types.Event {
	return &types.Event{Type: EventTypePaused, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
		"actor":  actor.Hex(),
	}}
}

func newCircuitBreakerEvent(reason string) *types.Event {
	return &types.Event{Type: EventTypeCircuitBreaker, Attributes: map[string]string{
		"reason": reason,
	}}
}

func newEmergencyWithdrawEvent(actor types.Address, assetID string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeEmergencyWithdraw, Attributes: map[string]string{
		"actor":  actor.Hex(),
		"asset":  assetID,
		"amount": amountString(amount),
	}}
}
