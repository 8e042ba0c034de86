// Package provider abstracts the chain RPC surface the chain watcher needs,
// so that the watcher can treat a websocket subscription and a plain
// polling JSON-RPC endpoint identically (spec.md §9 Design Notes).
package provider

import (
	"context"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Header is the minimal block header the watcher needs.
type Header struct {
	Number    uint64
	Hash      common.Hash
	ParentHash common.Hash
	Timestamp int64
}

// Provider is the abstract chain connection the chain watcher drives.
// Two concrete implementations are selected by URL scheme: WSProvider for
// ws/wss endpoints, PollProvider for plain http/https ones.
type Provider interface {
	ChainID(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (Header, error)
	GetLatestBlock(ctx context.Context) (Header, error)
	// FilterLogs satisfies chainevents.LogFilterer directly so a Provider
	// can be handed straight to chainevents.New.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber uint64) ([]byte, error)
	// SubscribeBlocks delivers newly observed headers on the returned
	// channel until ctx is cancelled. The channel is closed when the
	// subscription ends. WSProvider also ends it on Close; PollProvider
	// ends it only when ctx is cancelled.
	SubscribeBlocks(ctx context.Context) (<-chan Header, error)
	Close() error
}

func headerFromGeth(h *types.Header) Header {
	return Header{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  int64(h.Time),
	}
}

// ApproxBlockInterval is the default poll-provider cadence used when a
// chain-specific interval isn't configured.
const ApproxBlockInterval = 3 * time.Second
