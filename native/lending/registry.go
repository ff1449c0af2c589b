package lending

import (
	"sync"

	"lendpool/core/types"
)

// Default treatment for assets with no explicit policy: volatile,
// undercollateralized-by-default. The threshold falls back to the LTV so an
// unconfigured asset never values higher at liquidation than at borrow time.
const (
	DefaultLTVBps                  = 7_500
	DefaultLiquidationThresholdBps = DefaultLTVBps
)

// PolicyRegistry owns the per-asset risk configuration. Policies are explicit
// map entries injected at construction time and mutated only by the
// governance principal.
type PolicyRegistry struct {
	mu         sync.RWMutex
	governance types.Address
	policies   map[string]AssetPolicy
}

// NewPolicyRegistry constructs a registry owned by the supplied governance
// principal.
func NewPolicyRegistry(governance types.Address) *PolicyRegistry {
	return &PolicyRegistry{
		governance: governance,
		policies:   make(map[string]AssetPolicy),
	}
}

// SetPolicy registers or replaces the policy for an asset. Thresholds below
// the LTV or ratios above 100% are rejected with ErrInvalidPolicy; callers
// other than governance fail with ErrUnauthorized.
func (r *PolicyRegistry) SetPolicy(caller types.Address, policy AssetPolicy) error {
	if caller != r.governance {
		return ErrUnauthorized
	}
	if policy.AssetID == "" {
		return ErrInvalidPolicy
	}
	if policy.LTVBps > 10_000 || policy.LiquidationThresholdBps > 10_000 {
		return ErrInvalidPolicy
	}
	if policy.LiquidationThresholdBps < policy.LTVBps {
		return ErrInvalidPolicy
	}
	r.mu.Lock()
	r.policies[policy.AssetID] = policy
	r.mu.Unlock()
	return nil
}

// Allowed reports whether the asset has a registered policy and may be
// deposited as collateral.
func (r *PolicyRegistry) Allowed(assetID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.policies[assetID]
	return ok
}

// Policy returns the registered policy and whether one exists.
func (r *PolicyRegistry) Policy(assetID string) (AssetPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policy, ok := r.policies[assetID]
	return policy, ok
}

// LTV returns the loan-to-value ratio in basis points, falling back to the
// documented default for unregistered assets.
func (r *PolicyRegistry) LTV(assetID string) uint64 {
	if policy, ok := r.Policy(assetID); ok {
		return policy.LTVBps
	}
	return DefaultLTVBps
}

// LiquidationThreshold returns the liquidation threshold in basis points,
// falling back to the documented default for unregistered assets.
func (r *PolicyRegistry) LiquidationThreshold(assetID string) uint64 {
	if policy, ok := r.Policy(assetID); ok {
		return policy.LiquidationThresholdBps
	}
	return DefaultLiquidationThresholdBps
}
