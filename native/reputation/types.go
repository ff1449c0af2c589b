package reputation

import "lendpool/core/types"

// InteractionRecord summarizes one account's history with the pool. It feeds
// the external reputation token without exposing ledger internals.
type InteractionRecord struct {
	Account            types.Address `json:"account"`
	FirstInteraction   int64         `json:"firstInteraction"`
	SuccessfulPayments uint64        `json:"successfulPayments"`
	Liquidations       uint64        `json:"liquidations"`
}

// Clone returns a copy of the record.
func (r *InteractionRecord) Clone() *InteractionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
