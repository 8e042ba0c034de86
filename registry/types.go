// Package registry holds the in-memory conditional-order registry model:
// the per-owner order sets, their invariants, and the mutation operations
// the block processor and filter policy drive. Persistence is delegated to
// registrystore.Store.
package registry

import (
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Hash32 is a 32-byte value (salt, merkle root, tx hash, merkle path node).
type Hash32 [32]byte

func (h Hash32) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// OrderUID is the opaque 56-byte identifier the order-book assigns to a
// discrete order.
type OrderUID [56]byte

func (u OrderUID) Hex() string { return "0x" + hex.EncodeToString(u[:]) }

// Params is the identity triple of a conditional order within an owner.
// Equality is bytewise across all three fields (spec.md §3).
type Params struct {
	Handler     common.Address
	Salt        Hash32
	StaticInput []byte
}

// Key returns a comparable value suitable for use as a Go map key, since
// StaticInput (a byte slice) cannot be compared directly.
func (p Params) Key() ParamsKey {
	return ParamsKey{
		Handler:     p.Handler,
		Salt:        p.Salt,
		StaticInput: string(p.StaticInput),
	}
}

// ParamsKey is the map-key form of Params.
type ParamsKey struct {
	Handler     common.Address
	Salt        Hash32
	StaticInput string
}

// Proof is the optional merkle-batch membership proof. A nil Proof marks a
// "single" conditional order.
type Proof struct {
	MerkleRoot Hash32
	Path       []Hash32
}

// DiscreteOrderStatus tracks a discrete order submitted to the order-book
// on behalf of a conditional order.
type DiscreteOrderStatus string

const (
	StatusSubmitted DiscreteOrderStatus = "SUBMITTED"
	StatusFilled    DiscreteOrderStatus = "FILLED"
)

// PollResultSnapshot is the durable record of the most recent poll outcome,
// kept for observability and dump-db inspection.
type PollResultSnapshot struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// LastPoll records when a conditional order was last evaluated.
type LastPoll struct {
	Timestamp   int64              `json:"timestamp"`
	BlockNumber uint64             `json:"blockNumber"`
	Result      PollResultSnapshot `json:"result"`
}

// orderEntry preserves insertion order for a conditional order's discrete
// orders: invariant 6 (spec.md §3) requires a UID, once recorded, is never
// removed, only advanced in status.
type orderEntry struct {
	UID    OrderUID
	Status DiscreteOrderStatus
}

// ConditionalOrder is a single contract-declared intent tracked by the
// registry for one owner.
type ConditionalOrder struct {
	Tx             Hash32
	Params         Params
	Proof          *Proof
	SourceContract common.Address
	LastPoll       *LastPoll

	orders []orderEntry
}

// OrderStatus looks up the status of a previously recorded discrete order.
func (c *ConditionalOrder) OrderStatus(uid OrderUID) (DiscreteOrderStatus, bool) {
	for _, e := range c.orders {
		if e.UID == uid {
			return e.Status, true
		}
	}
	return "", false
}

// HasOrder reports whether a discrete order UID has already been recorded,
// the idempotence check the poller relies on before resubmitting.
func (c *ConditionalOrder) HasOrder(uid OrderUID) bool {
	_, ok := c.OrderStatus(uid)
	return ok
}

// RecordSubmitted appends a newly submitted discrete order. No-op if the
// UID is already present (preserves invariant 6).
func (c *ConditionalOrder) RecordSubmitted(uid OrderUID) {
	if c.HasOrder(uid) {
		return
	}
	c.orders = append(c.orders, orderEntry{UID: uid, Status: StatusSubmitted})
}

// MarkFilled advances a previously submitted order's status. No-op if the
// UID is unknown, since only SUBMITTED -> FILLED transitions are valid.
func (c *ConditionalOrder) MarkFilled(uid OrderUID) {
	for i, e := range c.orders {
		if e.UID == uid {
			c.orders[i].Status = StatusFilled
			return
		}
	}
}

// Orders returns a copy of the discrete-order set, ordered by insertion.
func (c *ConditionalOrder) Orders() []struct {
	UID    OrderUID
	Status DiscreteOrderStatus
} {
	out := make([]struct {
		UID    OrderUID
		Status DiscreteOrderStatus
	}, len(c.orders))
	for i, e := range c.orders {
		out[i].UID = e.UID
		out[i].Status = e.Status
	}
	return out
}

// NumOrders returns how many discrete orders have ever been recorded.
func (c *ConditionalOrder) NumOrders() int { return len(c.orders) }

// BlockCursor is the persisted "last block fully processed" marker.
type BlockCursor struct {
	Number    uint64    `json:"number"`
	Hash      Hash32    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}
