package provider

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// PollProvider drives a plain http(s) JSON-RPC endpoint that has no
// subscription support, simulating block arrival by polling the latest
// block header (eth_getBlockByNumber "latest") at the configured interval
// (spec.md §4.7, §9 Design Notes).
type PollProvider struct {
	eth      *ethclient.Client
	rpcCli   *rpc.Client
	interval time.Duration
}

// DialPoll connects an ethclient to an http(s) endpoint.
func DialPoll(ctx context.Context, url string, interval time.Duration) (*PollProvider, error) {
	rpcCli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("provider: dial rpc: %w", err)
	}
	if interval <= 0 {
		interval = ApproxBlockInterval
	}
	return &PollProvider{eth: ethclient.NewClient(rpcCli), rpcCli: rpcCli, interval: interval}, nil
}

func (p *PollProvider) ChainID(ctx context.Context) (uint64, error) {
	id, err := p.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (p *PollProvider) GetBlock(ctx context.Context, number uint64) (Header, error) {
	h, err := p.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Header{}, err
	}
	return headerFromGeth(h), nil
}

func (p *PollProvider) GetLatestBlock(ctx context.Context) (Header, error) {
	h, err := p.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Header{}, err
	}
	return headerFromGeth(h), nil
}

func (p *PollProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return p.eth.FilterLogs(ctx, q)
}

func (p *PollProvider) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.eth.TransactionReceipt(ctx, hash)
}

func (p *PollProvider) CodeAt(ctx context.Context, account common.Address, blockNumber uint64) ([]byte, error) {
	return p.eth.CodeAt(ctx, account, new(big.Int).SetUint64(blockNumber))
}

// SubscribeBlocks polls the latest block header at the configured interval
// and, each time the tip advances, emits a Header for every block after
// the last one emitted up to the new tip. The subscription ends when ctx
// is cancelled; Close does not end it.
func (p *PollProvider) SubscribeBlocks(ctx context.Context) (<-chan Header, error) {
	out := make(chan Header)
	go p.pollLoop(ctx, out)
	return out, nil
}

func (p *PollProvider) pollLoop(ctx context.Context, out chan<- Header) {
	defer close(out)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastNumber uint64
	haveLast := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tip, err := p.GetLatestBlock(ctx)
		if err != nil {
			continue
		}
		if !haveLast {
			lastNumber = tip.Number
			haveLast = true
			select {
			case out <- tip:
			case <-ctx.Done():
				return
			}
			continue
		}
		if tip.Number <= lastNumber {
			continue
		}

		// Emit every block between the last-seen tip and the new one, not
		// just the newest header: the tip can advance by more than one
		// between ticks (block time <= poll interval, or a missed tick),
		// and skipping straight to the latest header would silently drop
		// the events in between.
		gapErr := false
		for n := lastNumber + 1; n < tip.Number; n++ {
			hdr, err := p.GetBlock(ctx, n)
			if err != nil {
				gapErr = true
				break
			}
			select {
			case out <- hdr:
			case <-ctx.Done():
				return
			}
			lastNumber = n
		}
		if gapErr {
			continue
		}
		lastNumber = tip.Number
		select {
		case out <- tip:
		case <-ctx.Done():
			return
		}
	}
}

func (p *PollProvider) Close() error {
	p.rpcCli.Close()
	return nil
}
