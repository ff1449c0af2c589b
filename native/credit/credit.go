package credit

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"lendpool/core/types"
)

var (
	// ErrUnauthorized is returned when a non-governance caller mutates scores.
	ErrUnauthorized = errors.New("credit: caller not authorized")
	// ErrNoTiers indicates the registry was constructed without a tier ladder.
	ErrNoTiers   = errors.New("credit: no capacity tiers configured")
	errTierOrder = errors.New("credit: tiers must be monotonically non-decreasing")
)

// Tier maps a minimum credit score to the borrow capacity granted to accounts
// at or above that score. Capacities are denominated in wei.
type Tier struct {
	MinScore uint64
	CapWei   *big.Int
}

// Registry stores governance-assigned credit scores and resolves them into
// borrow capacity through a monotonic step ladder. Scores arrive from the
// external zero-knowledge scoring subsystem via the governance bridge; replay
// protection (nullifiers) stays on that side of the boundary.
type Registry struct {
	mu         sync.RWMutex
	governance types.Address
	scores     map[types.Address]uint64
	tiers      []Tier
}

// NewRegistry builds a registry owned by the supplied governance principal.
// Tiers must be sorted by MinScore with non-decreasing capacities.
func NewRegistry(governance types.Address, tiers []Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	cloned := make([]Tier, len(tiers))
	for i, tier := range tiers {
		cloned[i] = Tier{MinScore: tier.MinScore}
		if tier.CapWei != nil {
			cloned[i].CapWei = new(big.Int).Set(tier.CapWei)
		} else {
			cloned[i].CapWei = big.NewInt(0)
		}
	}
	sort.Slice(cloned, func(i, j int) bool { return cloned[i].MinScore < cloned[j].MinScore })
	for i := 1; i < len(cloned); i++ {
		if cloned[i].CapWei.Cmp(cloned[i-1].CapWei) < 0 {
			return nil, errTierOrder
		}
	}
	return &Registry{
		governance: governance,
		scores:     make(map[types.Address]uint64),
		tiers:      cloned,
	}, nil
}

// SetScore records the score for an account. Only the governance principal
// may call it.
func (r *Registry) SetScore(caller, account types.Address, score uint64) error {
	if caller != r.governance {
		return ErrUnauthorized
	}
	r.mu.Lock()
	r.scores[account] = score
	r.mu.Unlock()
	return nil
}

// Score returns the recorded score for an account, zero when unset.
func (r *Registry) Score(account types.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scores[account]
}

// CapacityFor resolves the borrow capacity granted to the account's current
// score: the capacity of the highest tier whose MinScore does not exceed the
// score. Accounts below the lowest tier receive zero capacity.
func (r *Registry) CapacityFor(account types.Address) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	score := r.scores[account]
	cap := big.NewInt(0)
	for _, tier := range r.tiers {
		if score < tier.MinScore {
			break
		}
		cap = tier.CapWei
	}
	return new(big.Int).Set(cap)
}
