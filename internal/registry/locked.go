package registry

import (
	"sync"

	"predicore/pkg/types"
)

// lockedLiquidity tracks, per creator address, total micro-units
// committed across created markets. It is a cross-market structure, so
// unlike per-market fields it is guarded by its own lock rather than
// being embedded in an entry.
type lockedLiquidity struct {
	mu   sync.Mutex
	data types.LockedLiquidity
}

func newLockedLiquidity() *lockedLiquidity {
	return &lockedLiquidity{data: make(types.LockedLiquidity)}
}

// IncreaseLocked adds amount to creator's locked liquidity, called on
// market creation.
func (r *Registry) IncreaseLocked(creator string, amount int64) {
	r.locked.mu.Lock()
	defer r.locked.mu.Unlock()
	r.locked.data[creator] += types.Micro(amount)
}

// DecreaseLocked subtracts amount from creator's locked liquidity,
// called on settlement.
func (r *Registry) DecreaseLocked(creator string, amount int64) {
	r.locked.mu.Lock()
	defer r.locked.mu.Unlock()
	r.locked.data[creator] -= types.Micro(amount)
}

// GetLocked returns the locked liquidity for a single address.
func (r *Registry) GetLocked(creator string) int64 {
	r.locked.mu.Lock()
	defer r.locked.mu.Unlock()
	return int64(r.locked.data[creator])
}

// LockedSnapshot returns a copy of the full locked-liquidity map, for
// the store port to serialize.
func (r *Registry) LockedSnapshot() types.LockedLiquidity {
	r.locked.mu.Lock()
	defer r.locked.mu.Unlock()
	out := make(types.LockedLiquidity, len(r.locked.data))
	for k, v := range r.locked.data {
		out[k] = v
	}
	return out
}

// RestoreLocked replaces the locked-liquidity map wholesale, used by the
// store port at startup.
func (r *Registry) RestoreLocked(locked types.LockedLiquidity) {
	r.locked.mu.Lock()
	defer r.locked.mu.Unlock()
	r.locked.data = make(types.LockedLiquidity, len(locked))
	for k, v := range locked {
		r.locked.data[k] = v
	}
}
