package oracle

import (
	"math/big"
	"sync"
	"time"
)

// StaticOracle serves deterministic quotes from an in-memory table. It backs
// tests and local development runs where no external feed is available.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticOracle constructs an empty static feed.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{quotes: make(map[string]Quote)}
}

// SetPrice records the unit price for an asset at the supplied timestamp.
func (s *StaticOracle) SetPrice(assetID string, rate *big.Rat, at time.Time) {
	if s == nil || rate == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[assetID] = Quote{
		Rate:      new(big.Rat).Set(rate),
		Timestamp: at,
		Source:    "static",
	}
}

// PriceOf implements PriceOracle.
func (s *StaticOracle) PriceOf(assetID string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[assetID]
	if !ok {
		return Quote{}, ErrUnknownAsset
	}
	return quote.Clone(), nil
}
