package oracle

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// Quote captures the unit price of a collateral asset along with the
// timestamp reported by the upstream feed and the feed identifier.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate using the supplied precision.
func (q Quote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	if precision < 0 {
		precision = 18
	}
	return q.Rate.FloatString(precision)
}

// PriceOracle resolves the current unit price for a collateral asset.
type PriceOracle interface {
	PriceOf(assetID string) (Quote, error)
}

// FeedHealth captures metadata about an individual feed used to drive the
// aggregator.
type FeedHealth struct {
	AssetID      string
	Source       string
	LastObserved time.Time
	Observations int
}

// Health aggregates health information for all tracked assets.
type Health struct {
	Feeds []FeedHealth
}

// ErrNoFreshQuote indicates that no registered feed produced a quote within
// the configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// ErrUnknownAsset indicates that no feed covers the requested asset.
var ErrUnknownAsset = errors.New("oracle: unknown asset")

// Aggregator consults registered feeds in priority order until a fresh quote
// is obtained. Quotes older than maxAge are discarded.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]PriceOracle
	maxAge   time.Duration
	observed map[string]FeedHealth
	nowFunc  func() time.Time
}

// NewAggregator constructs an aggregator with the supplied freshness window.
// A zero maxAge disables staleness filtering.
func NewAggregator(maxAge time.Duration) *Aggregator {
	return &Aggregator{
		feeds:    make(map[string]PriceOracle),
		observed: make(map[string]FeedHealth),
		maxAge:   maxAge,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the wall clock used for staleness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFunc = now
	a.mu.Unlock()
}

// Register adds a feed under the given name. Feeds are consulted in
// registration order unless a later call re-registers the same name.
func (a *Aggregator) Register(name string, feed PriceOracle) {
	if a == nil || feed == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.feeds[name]; !exists {
		a.priority = append(a.priority, name)
	}
	a.feeds[name] = feed
}

// MaxAge reports the configured freshness window.
func (a *Aggregator) MaxAge() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxAge
}

// PriceOf returns the first fresh quote for the asset, walking feeds in
// priority order. Stale quotes are skipped; if every feed is stale the
// aggregator returns ErrNoFreshQuote so callers can trip their circuit
// breaker.
func (a *Aggregator) PriceOf(assetID string) (Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.priority) == 0 {
		return Quote{}, ErrUnknownAsset
	}

	now := a.nowFunc()
	sawQuote := false
	for _, name := range a.priority {
		feed := a.feeds[name]
		quote, err := feed.PriceOf(assetID)
		if err != nil {
			continue
		}
		if quote.Rate == nil || quote.Rate.Sign() < 0 {
			continue
		}
		sawQuote = true
		if quote.Source == "" {
			quote.Source = name
		}
		health := a.observed[assetID]
		health.AssetID = assetID
		health.Source = quote.Source
		health.LastObserved = quote.Timestamp
		health.Observations++
		a.observed[assetID] = health

		if a.maxAge > 0 && quote.Timestamp.Before(now.Add(-a.maxAge)) {
			continue
		}
		return quote.Clone(), nil
	}
	if sawQuote {
		return Quote{}, ErrNoFreshQuote
	}
	return Quote{}, ErrUnknownAsset
}

// Health reports per-asset feed observations sorted by asset identifier.
func (a *Aggregator) Health() Health {
	a.mu.RLock()
	defer a.mu.RUnlock()

	feeds := make([]FeedHealth, 0, len(a.observed))
	for _, health := range a.observed {
		feeds = append(feeds, health)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].AssetID < feeds[j].AssetID })
	return Health{Feeds: feeds}
}
