// Package composable provides the narrow "is this contract
// composable-compatible" check the block processor runs before trusting a
// decoded event (spec.md §4.6 step 1). It is explicitly an external
// collaborator in spec.md §1 ("the conditional-order handler library");
// this package stands in for it with a minimal bytecode-prefix heuristic
// sufficient for tests and replay commands.
package composable

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// CodeFetcher is the narrow RPC surface this check needs.
type CodeFetcher interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber uint64) ([]byte, error)
}

// compatiblePrefixes are bytecode prefixes known to belong to
// composable-order-compatible contracts. In production this would consult
// a registry of known factory bytecode hashes; the heuristic here is
// deliberately small since the real classification logic lives in the
// external handler library.
var compatiblePrefixes = [][]byte{
	{0x60, 0x80, 0x60, 0x40}, // common Solidity constructor preamble
}

// Checker decides whether a contract address is composable-compatible.
type Checker struct {
	client CodeFetcher
}

// New constructs a Checker against a CodeFetcher.
func New(client CodeFetcher) *Checker {
	return &Checker{client: client}
}

// IsCompatible fetches the contract's deployed bytecode and checks it
// against the known-compatible prefixes. A fetch error is treated as
// "not compatible" (non-fatal, counted by the caller) rather than
// propagated, since a single bad probe must not abort block processing.
func (c *Checker) IsCompatible(ctx context.Context, address common.Address, blockNumber uint64) bool {
	if c == nil || c.client == nil {
		return true // no checker configured: treat every event as compatible
	}
	code, err := c.client.CodeAt(ctx, address, blockNumber)
	if err != nil || len(code) == 0 {
		return false
	}
	for _, prefix := range compatiblePrefixes {
		if bytes.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}
