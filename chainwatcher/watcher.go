// Package chainwatcher implements the top-level per-chain state machine
// described in spec.md §4.7: historical warm-up, live tail with reorg
// detection, and an independent watchdog.
package chainwatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/blockprocessor"
	"github.com/cowprotocol/tenderly-watch-tower/chainevents"
	"github.com/cowprotocol/tenderly-watch-tower/health"
	"github.com/cowprotocol/tenderly-watch-tower/metrics"
	"github.com/cowprotocol/tenderly-watch-tower/provider"
)

// State is the chain watcher's top-level lifecycle state.
type State int

const (
	StateSyncing State = iota
	StateInSync
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateSyncing:
		return "SYNCING"
	case StateInSync:
		return "IN_SYNC"
	case StateUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// DefaultWatchdogTimeout matches spec.md §6's default --watchdog-timeout.
const DefaultWatchdogTimeout = 30 * time.Second

const watchdogTick = 5 * time.Second

// Config bundles per-chain Watcher parameters.
type Config struct {
	ChainID          string
	Contracts        []common.Address
	DeploymentBlock  uint64
	PageSize         uint64
	WatchdogTimeout  time.Duration
	InPod            bool

	// OnFatalWatchdog, if set, runs just before the watchdog exits the
	// process outside an orchestration pod (spec.md §4.7/§8 scenario 6:
	// "registry closed; process exits 1"). The caller wires this to
	// close its registry store.
	OnFatalWatchdog func()
}

// lastBlockSeen is shared between the live-tail goroutine and the
// watchdog goroutine under a mutex (spec.md §5 suspension-point note: the
// watchdog's only shared input is this timestamp).
type lastBlockSeen struct {
	mu        sync.Mutex
	number    uint64
	hash      common.Hash
	timestamp int64
	updatedAt time.Time
}

func (l *lastBlockSeen) set(h provider.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.number = h.Number
	l.hash = h.Hash
	l.timestamp = h.Timestamp
	l.updatedAt = time.Now()
}

func (l *lastBlockSeen) get() (provider.Header, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return provider.Header{Number: l.number, Hash: l.hash, Timestamp: l.timestamp}, l.updatedAt
}

// Watcher drives one chain end to end: warm-up, live tail, watchdog.
type Watcher struct {
	cfg    Config
	prov   provider.Provider
	source *chainevents.Source
	proc   *blockprocessor.Processor
	health *health.Aggregator
	metrics metrics.Sink
	log    *slog.Logger

	last  lastBlockSeen
	state State
	stMu  sync.Mutex
}

// New constructs a Watcher. health may be nil in replay/one-shot contexts.
func New(cfg Config, prov provider.Provider, source *chainevents.Source, proc *blockprocessor.Processor, agg *health.Aggregator, sink metrics.Sink, log *slog.Logger) *Watcher {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Watcher{cfg: cfg, prov: prov, source: source, proc: proc, health: agg, metrics: sink, log: log, state: StateSyncing}
}

func (w *Watcher) setState(s State) {
	w.stMu.Lock()
	w.state = s
	w.stMu.Unlock()
	if w.health != nil {
		w.health.SetChain(w.cfg.ChainID, health.ChainStatus{
			Sync:               s.String(),
			ChainID:            w.cfg.ChainID,
			LastProcessedBlock: w.lastProcessedBlockNumber(),
			IsHealthy:          s == StateInSync,
		})
	}
}

func (w *Watcher) State() State {
	w.stMu.Lock()
	defer w.stMu.Unlock()
	return w.state
}

func (w *Watcher) lastProcessedBlockNumber() uint64 {
	h, _ := w.last.get()
	return h.Number
}

// Run drives warm-up then live tail until ctx is cancelled or an
// unrecoverable error occurs. oneShot stops after warm-up completes.
func (w *Watcher) Run(ctx context.Context, startFrom uint64, oneShot bool) error {
	w.setState(StateSyncing)

	if err := w.warmUp(ctx, startFrom); err != nil {
		return fmt.Errorf("chainwatcher: warm-up: %w", err)
	}
	w.setState(StateInSync)
	if oneShot {
		return nil
	}

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go w.runWatchdog(watchdogCtx)

	return w.liveTail(ctx)
}

// warmUp pages through history per spec.md §4.7's warm-up algorithm.
func (w *Watcher) warmUp(ctx context.Context, startFrom uint64) error {
	from := startFrom
	for {
		tip, err := w.prov.GetLatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		if from > tip.Number {
			w.last.set(tip)
			return w.proc.PersistCursor(ctx, blockprocessor.Block{Number: tip.Number, Hash: tip.Hash, Timestamp: tip.Timestamp})
		}

		for {
			var to uint64
			useLatest := w.cfg.PageSize == 0
			if !useLatest {
				to = from + w.cfg.PageSize - 1
				if to > tip.Number {
					to = tip.Number
				}
			} else {
				to = tip.Number
			}

			events, dropped, err := w.source.FetchRange(ctx, w.cfg.Contracts, from, &to)
			if err != nil {
				return fmt.Errorf("fetch range [%d,%d]: %w", from, to, err)
			}
			if dropped > 0 {
				w.metrics.AddCounter("watch_tower_events_processed_total", float64(dropped), map[string]string{"chain_id": w.cfg.ChainID, "outcome": "dropped"})
			}

			buckets := bucketByBlock(events)
			for _, bn := range buckets.order {
				blockEvents := buckets.byBlock[bn]
				hdr, err := w.prov.GetBlock(ctx, bn)
				if err != nil {
					return fmt.Errorf("get block %d: %w", bn, err)
				}
				overrides := blockprocessor.Overrides{BlockNumber: &tip.Number, Timestamp: &tip.Timestamp}
				if err := w.proc.ProcessBlock(ctx, blockprocessor.Block{Number: hdr.Number, Hash: hdr.Hash, Timestamp: hdr.Timestamp}, blockEvents, overrides); err != nil {
					if w.log != nil {
						w.log.Error("chainwatcher: warm-up block processing error", slog.Uint64("block", bn), slog.Any("error", err))
					}
				}
			}

			from = to + 1
			if to >= tip.Number {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w.last.set(tip)
		if err := w.proc.PersistCursor(ctx, blockprocessor.Block{Number: tip.Number, Hash: tip.Hash, Timestamp: tip.Timestamp}); err != nil {
			return fmt.Errorf("persist warm-up cursor: %w", err)
		}

		newTip, err := w.prov.GetLatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("re-read tip: %w", err)
		}
		if newTip.Number <= tip.Number {
			return nil
		}
		from = tip.Number + 1
	}
}

type blockBuckets struct {
	order   []uint64
	byBlock map[uint64][]chainevents.Event
}

func bucketByBlock(events []chainevents.Event) blockBuckets {
	b := blockBuckets{byBlock: make(map[uint64][]chainevents.Event)}
	for _, ev := range events {
		if _, ok := b.byBlock[ev.BlockNumber]; !ok {
			b.order = append(b.order, ev.BlockNumber)
		}
		b.byBlock[ev.BlockNumber] = append(b.byBlock[ev.BlockNumber], ev)
	}
	return b
}

// liveTail subscribes to new blocks and processes each as it arrives
// (spec.md §4.7 live-tail steps 1-5).
func (w *Watcher) liveTail(ctx context.Context) error {
	blocks, err := w.prov.SubscribeBlocks(ctx)
	if err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hdr, ok := <-blocks:
			if !ok {
				return errors.New("chainwatcher: block subscription closed")
			}
			w.handleIncomingBlock(ctx, hdr)
		}
	}
}

func (w *Watcher) handleIncomingBlock(ctx context.Context, hdr provider.Header) {
	prev, _ := w.last.get()

	if prev.Timestamp != 0 {
		w.metrics.SetGauge("watch_tower_block_time_seconds", float64(hdr.Timestamp-prev.Timestamp), map[string]string{"chain_id": w.cfg.ChainID})
	}

	if prev.Number != 0 && hdr.Number <= prev.Number && hdr.Hash != prev.Hash {
		reorgDepth := prev.Number - hdr.Number + 1
		w.metrics.SetGauge("watch_tower_reorg_depth", float64(reorgDepth), map[string]string{"chain_id": w.cfg.ChainID})
		w.metrics.IncCounter("watch_tower_reorg_total", map[string]string{"chain_id": w.cfg.ChainID})
		if w.log != nil {
			w.log.Warn("chainwatcher: reorg detected", slog.Uint64("block", hdr.Number), slog.Uint64("depth", reorgDepth))
		}
	}

	to := hdr.Number
	events, dropped, err := w.source.FetchRange(ctx, w.cfg.Contracts, hdr.Number, &to)
	if err != nil {
		if w.log != nil {
			w.log.Error("chainwatcher: fetch block events failed", slog.Uint64("block", hdr.Number), slog.Any("error", err))
		}
		return
	}
	if dropped > 0 {
		w.metrics.AddCounter("watch_tower_events_processed_total", float64(dropped), map[string]string{"chain_id": w.cfg.ChainID, "outcome": "dropped"})
	}

	if err := w.proc.ProcessBlock(ctx, blockprocessor.Block{Number: hdr.Number, Hash: hdr.Hash, Timestamp: hdr.Timestamp}, events, blockprocessor.Overrides{}); err != nil {
		if w.log != nil {
			w.log.Error("chainwatcher: block processing error", slog.Uint64("block", hdr.Number), slog.Any("error", err))
		}
	}

	w.last.set(hdr)
}

// runWatchdog is the independent 5-second-tick actor from spec.md §4.7.
func (w *Watcher) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, updatedAt := w.last.get()
		if updatedAt.IsZero() {
			continue
		}
		elapsed := time.Since(updatedAt)
		if elapsed < w.cfg.WatchdogTimeout {
			continue
		}
		if w.log != nil {
			w.log.Error("chainwatcher: watchdog timeout exceeded", slog.Duration("elapsed", elapsed), slog.Duration("timeout", w.cfg.WatchdogTimeout))
		}
		if w.cfg.InPod || inOrchestrationPod() {
			w.setState(StateUnknown)
			continue
		}
		if w.cfg.OnFatalWatchdog != nil {
			w.cfg.OnFatalWatchdog()
		}
		os.Exit(1)
	}
}

// inOrchestrationPod detects Kubernetes pod context the way the --in-pod
// flag override defaults to when unset (spec.md §4.7).
func inOrchestrationPod() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
