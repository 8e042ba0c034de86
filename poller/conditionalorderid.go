package poller

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// conditionalOrderIDArgs mirrors the ComposableCoW/order-book scheme for
// deriving a conditional order's id: keccak256 of the ABI-encoded
// (handler, salt, staticInput) params triple, the same triple that
// identifies a conditional order within an owner (spec.md §3).
var conditionalOrderIDArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ConditionalOrderID computes the filter-policy lookup key for a
// conditional order's identity triple.
func ConditionalOrderID(params registry.Params) registry.Hash32 {
	packed, err := conditionalOrderIDArgs.Pack(params.Handler, [32]byte(params.Salt), params.StaticInput)
	if err != nil {
		// The args are a fixed, well-typed triple; Pack only fails on a
		// type mismatch, which would be a programming error here.
		panic(err)
	}
	return registry.Hash32(crypto.Keccak256Hash(packed))
}
