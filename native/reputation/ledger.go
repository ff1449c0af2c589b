package reputation

import (
	"errors"
	"sync"

	"lendpool/core/types"
	"lendpool/storage"
)

// ErrNotConfigured indicates the ledger was constructed without a backend.
var ErrNotConfigured = errors.New("reputation: storage not configured")

// Ledger maintains per-account interaction records. It implements the pool
// engine's Recorder interface so borrow, repay-to-zero and executed
// liquidations update reputation without the ledger knowing pool internals.
type Ledger struct {
	mu    sync.Mutex
	store *store
}

// NewLedger constructs a ledger backed by the provided database.
func NewLedger(db storage.Database) *Ledger {
	if db == nil {
		return &Ledger{}
	}
	return &Ledger{store: &store{db: db}}
}

// Record returns the interaction record for an account. Accounts that never
// touched the pool return a zero-valued record.
func (l *Ledger) Record(account types.Address) (*InteractionRecord, error) {
	if l == nil || l.store == nil {
		return nil, ErrNotConfigured
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.store.get(account)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &InteractionRecord{Account: account}, nil
	}
	return record, nil
}

// RecordFirstInteraction stamps the account's first touch of the pool. Later
// calls are no-ops.
func (l *Ledger) RecordFirstInteraction(account types.Address, at int64) error {
	return l.update(account, func(record *InteractionRecord) {
		if record.FirstInteraction == 0 {
			record.FirstInteraction = at
		}
	})
}

// RecordSuccessfulPayment increments the successful-payment counter.
func (l *Ledger) RecordSuccessfulPayment(account types.Address) error {
	return l.update(account, func(record *InteractionRecord) {
		record.SuccessfulPayments++
	})
}

// RecordLiquidation increments the liquidation counter.
func (l *Ledger) RecordLiquidation(account types.Address) error {
	return l.update(account, func(record *InteractionRecord) {
		record.Liquidations++
	})
}

func (l *Ledger) update(account types.Address, mutate func(*InteractionRecord)) error {
	if l == nil || l.store == nil {
		return ErrNotConfigured
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.store.get(account)
	if err != nil {
		return err
	}
	if record == nil {
		record = &InteractionRecord{Account: account}
	}
	mutate(record)
	return l.store.put(record)
}
