// Package blockprocessor drives the per-block ingestion and polling sweep
// described in spec.md §4.6: decode events into registry mutations, poll
// due conditional orders, then unconditionally persist the cursor.
package blockprocessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/chainevents"
	"github.com/cowprotocol/tenderly-watch-tower/metrics"
	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// Compatibility is the narrow bytecode-heuristic contract from the
// composable package, consumed here as an interface to keep this package
// free of an RPC dependency.
type Compatibility interface {
	IsCompatible(ctx context.Context, address common.Address, blockNumber uint64) bool
}

// Block is the fully-resolved block object passed alongside its events.
type Block struct {
	Number    uint64
	Hash      common.Hash
	Timestamp int64
}

// Overrides lets historical replay pin the poll context to the
// then-current chain tip, instead of the block's own number/timestamp
// (spec.md §4.5 step 1).
type Overrides struct {
	BlockNumber *uint64
	Timestamp   *int64
}

// Processor implements the Block Processor (spec.md §4.6).
type Processor struct {
	reg                   *registry.Registry
	poll                  *poller.Poller
	compat                Compatibility
	metrics               metrics.Sink
	log                   *slog.Logger
	chainID               string
	processEveryNumBlocks uint64
	fanOut                int
}

// New constructs a Processor. processEveryNumBlocks of 0 or 1 means every
// block runs the polling sweep.
func New(reg *registry.Registry, poll *poller.Poller, compat Compatibility, sink metrics.Sink, log *slog.Logger, chainID string, processEveryNumBlocks uint64) *Processor {
	if sink == nil {
		sink = metrics.Noop{}
	}
	if processEveryNumBlocks == 0 {
		processEveryNumBlocks = 1
	}
	return &Processor{
		reg:                   reg,
		poll:                  poll,
		compat:                compat,
		metrics:               sink,
		log:                   log,
		chainID:               chainID,
		processEveryNumBlocks: processEveryNumBlocks,
		fanOut:                16,
	}
}

// ProcessBlock runs the five ordered steps of spec.md §4.6 and always
// persists the cursor, even when a sub-step failed.
func (p *Processor) ProcessBlock(ctx context.Context, block Block, events []chainevents.Event, overrides Overrides) error {
	start := time.Now()
	var stepErrs []error

	if err := p.ingest(ctx, block, events); err != nil {
		stepErrs = append(stepErrs, err)
	}

	if block.Number%p.processEveryNumBlocks == 0 {
		if err := p.pollDue(ctx, block, overrides); err != nil {
			stepErrs = append(stepErrs, err)
		}
	}

	if err := p.persistCursor(ctx, block); err != nil {
		stepErrs = append(stepErrs, err)
	}

	p.metrics.ObserveHistogram("watch_tower_process_block_duration_seconds", time.Since(start).Seconds(), map[string]string{"chain_id": p.chainID})
	p.metrics.SetGauge("watch_tower_block_height", float64(block.Number), map[string]string{"chain_id": p.chainID})
	p.metrics.SetGauge("watch_tower_active_owners_total", float64(p.reg.NumOwners()), map[string]string{"chain_id": p.chainID})
	p.metrics.SetGauge("watch_tower_active_orders_total", float64(p.reg.NumOrders()), map[string]string{"chain_id": p.chainID})

	if len(stepErrs) > 0 {
		return fmt.Errorf("blockprocessor: block %d: %w", block.Number, errors.Join(stepErrs...))
	}
	return nil
}

func (p *Processor) persistCursor(ctx context.Context, block Block) error {
	p.reg.SetLastProcessedBlock(registry.BlockCursor{
		Number:    block.Number,
		Hash:      registry.Hash32(block.Hash),
		Timestamp: time.Unix(block.Timestamp, 0).UTC(),
	})
	if err := p.reg.Write(ctx); err != nil {
		return fmt.Errorf("blockprocessor: persist cursor: %w", err)
	}
	return nil
}

// PersistCursor durably advances the registry cursor to block without
// running ingest or the poll sweep. The chain watcher's warm-up calls this
// once an event-sparse page range empties, so the tip is committed even
// when no block in the range carried an event (spec.md §4.7 warm-up's
// "persist lastProcessedBlock = tip" step).
func (p *Processor) PersistCursor(ctx context.Context, block Block) error {
	return p.persistCursor(ctx, block)
}

func (p *Processor) ingest(ctx context.Context, block Block, events []chainevents.Event) error {
	var ingestErrs []error
	for _, ev := range events {
		source := eventSourceContract(ev)
		if p.compat != nil && !p.compat.IsCompatible(ctx, source, block.Number) {
			p.metrics.IncCounter("watch_tower_events_processed_total", map[string]string{"chain_id": p.chainID, "outcome": "incompatible"})
			continue
		}
		switch ev.Kind {
		case chainevents.KindConditionalOrderCreated:
			p.applyCreated(ev)
		case chainevents.KindMerkleRootSet:
			p.applyMerkleRootSet(ev)
		default:
			ingestErrs = append(ingestErrs, fmt.Errorf("unknown event kind %v", ev.Kind))
			continue
		}
		p.metrics.IncCounter("watch_tower_events_processed_total", map[string]string{"chain_id": p.chainID, "outcome": "applied"})
	}
	if len(ingestErrs) > 0 {
		return errors.Join(ingestErrs...)
	}
	return nil
}

func (p *Processor) applyCreated(ev chainevents.Event) {
	c := ev.Created
	cond := &registry.ConditionalOrder{
		Tx: registry.Hash32(ev.TxHash),
		Params: registry.Params{
			Handler:     c.Handler,
			Salt:        registry.Hash32(c.Salt),
			StaticInput: c.StaticInput,
		},
		SourceContract: c.SourceContract,
	}
	p.reg.Add(c.Owner, cond)
}

func (p *Processor) applyMerkleRootSet(ev chainevents.Event) {
	m := ev.MerkleRoot
	root := registry.Hash32(m.Root)
	p.reg.Flush(m.Owner, root)
	for _, o := range m.Orders {
		path := make([]registry.Hash32, len(o.ProofPath))
		for i, node := range o.ProofPath {
			path[i] = registry.Hash32(node)
		}
		p.reg.Add(m.Owner, &registry.ConditionalOrder{
			Tx: registry.Hash32(ev.TxHash),
			Params: registry.Params{
				Handler:     o.Handler,
				Salt:        registry.Hash32(o.Salt),
				StaticInput: o.StaticInput,
			},
			Proof:          &registry.Proof{MerkleRoot: root, Path: path},
			SourceContract: m.SourceContract,
		})
	}
}

func eventSourceContract(ev chainevents.Event) common.Address {
	if ev.Created != nil {
		return ev.Created.SourceContract
	}
	if ev.MerkleRoot != nil {
		return ev.MerkleRoot.SourceContract
	}
	return common.Address{}
}

func (p *Processor) pollDue(ctx context.Context, block Block, overrides Overrides) error {
	blockCtx := poller.BlockContext{Number: block.Number, Timestamp: block.Timestamp}
	if overrides.BlockNumber != nil {
		blockCtx.Number = *overrides.BlockNumber
	}
	if overrides.Timestamp != nil {
		blockCtx.Timestamp = *overrides.Timestamp
	}

	type job struct {
		owner common.Address
		order *registry.ConditionalOrder
	}
	var jobs []job
	p.reg.ForEach(func(owner common.Address, order *registry.ConditionalOrder) {
		jobs = append(jobs, job{owner: owner, order: order})
	})

	sem := make(chan struct{}, p.fanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var toDelete []job
	var pollErrs []error

	for _, j := range jobs {
		j := j
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := p.poll.Poll(ctx, j.owner, j.order, blockCtx)
			if outcome.Result.Kind == poller.KindUnexpectedError {
				mu.Lock()
				pollErrs = append(pollErrs, fmt.Errorf("poll owner %s: %v", j.owner.Hex(), outcome.Result.Err))
				mu.Unlock()
			}
			if outcome.Deleted {
				mu.Lock()
				toDelete = append(toDelete, j)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, j := range toDelete {
		p.reg.Delete(j.owner, j.order.Params.Key())
	}

	if len(pollErrs) > 0 {
		return errors.Join(pollErrs...)
	}
	return nil
}
