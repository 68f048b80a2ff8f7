// Package registry owns the Market aggregates: it is the sole shared
// mutable structure in the core, guarded by a single-writer discipline.
// A coarse registry-wide lock protects the market index itself (insertion
// and iteration); each market's fields are guarded by its own lock, so
// concurrent mutations to different markets never contend — no cross-
// market invariant requires a registry-wide lock for mutation.
package registry

import (
	"fmt"
	"sync"

	"predicore/internal/core"
	"predicore/pkg/types"
)

type entry struct {
	mu     sync.RWMutex
	market *types.Market
}

// Registry indexes every market known to the core.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*entry
	locked  *lockedLiquidity
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{markets: make(map[string]*entry), locked: newLockedLiquidity()}
}

// Insert adds a newly created market. It fails if the id is already in
// use (caller is responsible for id uniqueness; engine.CreateMarket
// derives ids from a salted keccak256 hash).
func (r *Registry) Insert(m *types.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.ID]; ok {
		return fmt.Errorf("registry: market %s already exists", m.ID)
	}
	r.markets[m.ID] = &entry{market: m}
	return nil
}

// Get returns a deep-copied snapshot of a market, safe for the caller to
// read without holding any lock.
func (r *Registry) Get(id string) (*types.Market, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Clone(), nil
}

// List returns snapshots of every market currently known to the
// registry. Iteration order is unspecified.
func (r *Registry) List() []*types.Market {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.markets))
	for _, e := range r.markets {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*types.Market, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.market.Clone())
		e.mu.RUnlock()
	}
	return out
}

// ListByStatus returns snapshots of markets in the given status.
func (r *Registry) ListByStatus(status types.Status) []*types.Market {
	all := r.List()
	out := all[:0]
	for _, m := range all {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// Mutate runs fn with exclusive access to the live market (not a clone).
// fn's return error aborts the mutation's caller-visible effects in the
// sense that the error is propagated; any partial changes fn made to the
// in-memory struct before returning an error are NOT rolled back by this
// function — callers that need atomicity must have fn validate before
// mutating, which is the discipline every component in this module
// follows: validate, then mutate.
func (r *Registry) Mutate(id string, fn func(*types.Market) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.market)
}

// Replace overwrites a market's live state wholesale under its entry
// lock. Used to roll back an in-memory mutation when the subsequent
// persistence write fails: the mutation is rolled back in memory and
// the error propagates to the caller.
func (r *Registry) Replace(id string, m *types.Market) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market = m
	return nil
}

// View runs fn with a read lock on the live market, for callers that need
// to read fields not exposed by Get's deep clone without its cost.
func (r *Registry) View(id string, fn func(*types.Market) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.market)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("registry: %w: %s", core.ErrMarketNotFound, id)
	}
	return e, nil
}

// Restore replaces the registry's contents wholesale, used by the store
// port at startup to load a persisted snapshot. It is not safe to call
// concurrently with any other registry operation.
func (r *Registry) Restore(markets []*types.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = make(map[string]*entry, len(markets))
	for _, m := range markets {
		r.markets[m.ID] = &entry{market: m}
	}
}

// Snapshot returns a deep-copied list of every market, for the store
// port to serialize. Equivalent to List but named for call-site clarity.
func (r *Registry) Snapshot() []*types.Market {
	return r.List()
}
