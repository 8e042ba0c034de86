// Package conditionalorderhandler is the integration seam for the
// external conditional-order handler library (spec.md §1, out of scope:
// the library itself decides when a conditional order is due and what
// discrete order to emit). Deferred provides the only behavior this repo
// can supply without that library: always ask to be polled again next
// block, never fabricate an order.
package conditionalorderhandler

import (
	"context"

	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// Deferred implements poller.Handler by deferring every conditional
// order to the next block. Production deployments replace this with a
// binding to the real handler library (e.g. an RPC or in-process call
// keyed by order.Params.Handler); this type exists so `cmd/watchtower`
// has a concrete, always-valid poller.Handler to construct the Poller
// with, and so replay/dry-run commands have deterministic behavior.
type Deferred struct{}

func (Deferred) Poll(ctx context.Context, params registry.Params, block poller.BlockContext) poller.Result {
	return poller.Result{Kind: poller.KindTryNextBlock, Reason: "conditionalorderhandler: no handler library bound"}
}
