package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the persistence contract the Registry writes through. The
// concrete implementation (registrystore.Store) is backed by an embedded
// KV store; Registry depends only on this narrow interface, defined here
// where it is consumed rather than where it is implemented.
type Store interface {
	WriteAll(ctx context.Context, ownerOrders map[common.Address]map[ParamsKey]*ConditionalOrder, lastProcessedBlock *BlockCursor, lastNotifiedError *time.Time) error
}

// Registry is the per-chain in-memory aggregate of every owner's live
// conditional orders, plus the bookkeeping cursors persisted alongside it.
type Registry struct {
	Network            string
	LastProcessedBlock  *BlockCursor
	LastNotifiedError   *time.Time

	log   *slog.Logger
	store Store

	ownerOrders map[common.Address]map[ParamsKey]*ConditionalOrder
}

// New constructs an empty registry for the given network. A previously
// persisted snapshot is loaded into it afterwards through Hydrate (see
// registrystore.Store.Load).
func New(network string, log *slog.Logger, store Store) *Registry {
	return &Registry{
		Network:     network,
		log:         log,
		store:       store,
		ownerOrders: make(map[common.Address]map[ParamsKey]*ConditionalOrder),
	}
}

// Hydrate replaces the in-memory order set wholesale, used once at load
// time by registrystore.Load to populate a freshly constructed Registry.
func (r *Registry) Hydrate(ownerOrders map[common.Address]map[ParamsKey]*ConditionalOrder, cursor *BlockCursor, lastNotifiedError *time.Time) {
	if ownerOrders == nil {
		ownerOrders = make(map[common.Address]map[ParamsKey]*ConditionalOrder)
	}
	r.ownerOrders = ownerOrders
	r.LastProcessedBlock = cursor
	r.LastNotifiedError = lastNotifiedError
}

// Add inserts a conditional order for owner if its Params triple is not
// already present (value equality, invariant 2). No-op otherwise.
func (r *Registry) Add(owner common.Address, order *ConditionalOrder) {
	set, ok := r.ownerOrders[owner]
	if !ok {
		set = make(map[ParamsKey]*ConditionalOrder)
		r.ownerOrders[owner] = set
		if r.log != nil {
			r.log.Debug("registry: new owner observed", slog.String("owner", owner.Hex()))
		}
	}
	key := order.Params.Key()
	if _, exists := set[key]; exists {
		if r.log != nil {
			r.log.Debug("registry: duplicate conditional order ignored", slog.String("owner", owner.Hex()))
		}
		return
	}
	set[key] = order
	if r.log != nil {
		r.log.Debug("registry: conditional order added",
			slog.String("owner", owner.Hex()),
			slog.Bool("newOwner", !ok),
		)
	}
}

// Flush removes every conditional order belonging to owner whose proof is
// merkle-published (non-nil) and whose root no longer matches newRoot
// (invariant 3, the flush rule triggered by a MerkleRootSet event).
func (r *Registry) Flush(owner common.Address, newRoot Hash32) {
	set, ok := r.ownerOrders[owner]
	if !ok {
		return
	}
	removed := 0
	for key, order := range set {
		if order.Proof != nil && order.Proof.MerkleRoot != newRoot {
			delete(set, key)
			removed++
		}
	}
	if len(set) == 0 {
		delete(r.ownerOrders, owner)
	}
	if removed > 0 && r.log != nil {
		r.log.Debug("registry: flushed stale merkle orders",
			slog.String("owner", owner.Hex()),
			slog.Int("removed", removed),
		)
	}
}

// Delete removes a single conditional order, used by the filter policy's
// DROP action and the handler's DONT_TRY_AGAIN result.
func (r *Registry) Delete(owner common.Address, key ParamsKey) {
	set, ok := r.ownerOrders[owner]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(r.ownerOrders, owner)
	}
}

// Get returns the conditional order for owner/key, if any.
func (r *Registry) Get(owner common.Address, key ParamsKey) (*ConditionalOrder, bool) {
	set, ok := r.ownerOrders[owner]
	if !ok {
		return nil, false
	}
	order, ok := set[key]
	return order, ok
}

// NumOrders returns the total conditional-order count across all owners.
func (r *Registry) NumOrders() int {
	n := 0
	for _, set := range r.ownerOrders {
		n += len(set)
	}
	return n
}

// NumOwners returns the number of distinct owners with at least one live
// conditional order.
func (r *Registry) NumOwners() int {
	return len(r.ownerOrders)
}

// ForEach iterates every (owner, conditional order) pair. The callback must
// not mutate the registry; use Delete/Flush from the caller after iteration
// completes, or collect a list of (owner, key) pairs to delete.
func (r *Registry) ForEach(fn func(owner common.Address, order *ConditionalOrder)) {
	for owner, set := range r.ownerOrders {
		for _, order := range set {
			fn(owner, order)
		}
	}
}

// NoteError records the time of the last error a chain watcher notified an
// operator about, so a notification cooldown can be enforced across
// restarts (spec.md §3 lastNotifiedError).
func (r *Registry) NoteError(at time.Time) {
	r.LastNotifiedError = &at
}

// ClearNotifiedError resets the error-notification cooldown.
func (r *Registry) ClearNotifiedError() {
	r.LastNotifiedError = nil
}

// SetLastProcessedBlock updates the in-memory cursor. Persistence happens
// on the next Write call.
func (r *Registry) SetLastProcessedBlock(cursor BlockCursor) {
	r.LastProcessedBlock = &cursor
}

// Write delegates to the configured Store as a single atomic batch: schema
// version, serialised ownerOrders, lastProcessedBlock, and
// lastNotifiedError, per spec.md §4.2.
func (r *Registry) Write(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.WriteAll(ctx, r.ownerOrders, r.LastProcessedBlock, r.LastNotifiedError)
}
