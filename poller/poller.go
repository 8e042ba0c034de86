package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cowprotocol/tenderly-watch-tower/filterpolicy"
	"github.com/cowprotocol/tenderly-watch-tower/metrics"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// BlockContext is the block the poll is evaluated against. During
// historical replay the caller pins Number/Timestamp to the chain tip via
// blockprocessor.Overrides (spec.md §4.5 step 1) before constructing this;
// during live processing they are the block's own values.
type BlockContext struct {
	Number    uint64
	Timestamp int64
}

// Handler is the external conditional-order handler library contract.
type Handler interface {
	Poll(ctx context.Context, params registry.Params, block BlockContext) Result
}

// SubmitOutcome classifies what happened to an order-book submission
// attempt (spec.md §4.5 step 4).
type SubmitOutcome int

const (
	SubmitAccepted SubmitOutcome = iota
	SubmitDuplicate                 // HTTP 400-class "duplicate order" body; treated as success
	SubmitRejected
)

// OrderBook is the external off-chain order-book HTTP client contract.
type OrderBook interface {
	Submit(ctx context.Context, order Order, signature Signature, correlationID string) (SubmitOutcome, error)
}

var (
	// ErrOrderBookRetriesExhausted is returned when every retry attempt
	// for a submission failed transiently.
	ErrOrderBookRetriesExhausted = errors.New("poller: order-book submission retries exhausted")
)

// Poller evaluates a single conditional order per spec.md §4.5.
type Poller struct {
	handler     Handler
	orderBook   OrderBook
	policy      func() *filterpolicy.Policy
	metrics     metrics.Sink
	log         *slog.Logger
	dryRun      bool
	maxAttempts int
	limiter     *rate.Limiter
	chainID     string
}

// New constructs a Poller. policy is a func so the caller can hand in a
// filterpolicy.Loader's Current method and always see the latest snapshot.
func New(handler Handler, orderBook OrderBook, policy func() *filterpolicy.Policy, sink metrics.Sink, log *slog.Logger, chainID string, dryRun bool) *Poller {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Poller{
		handler:     handler,
		orderBook:   orderBook,
		policy:      policy,
		metrics:     sink,
		log:         log,
		dryRun:      dryRun,
		maxAttempts: 5,
		limiter:     rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		chainID:     chainID,
	}
}

// Outcome summarises what Poll decided to do, for the block processor to
// act on (delete from registry, or nothing further).
type Outcome struct {
	Deleted bool
	Result  Result
}

// Poll evaluates one conditional order: it reports a deletion
// (Outcome.Deleted) on DROP/DONT_TRY_AGAIN for the caller to apply to the
// registry, records a submitted discrete order on the conditional order on
// SUCCESS, and always stamps LastPoll except when the filter policy
// short-circuits with DROP/SKIP (spec.md §4.5 steps 2-5).
func (p *Poller) Poll(ctx context.Context, owner common.Address, order *registry.ConditionalOrder, block BlockContext) Outcome {
	candidate := filterpolicy.Candidate{
		Owner:              owner.Hex(),
		Handler:            order.Params.Handler.Hex(),
		TransactionHash:    order.Tx.Hex(),
		ConditionalOrderID: ConditionalOrderID(order.Params).Hex(),
	}
	action := p.currentPolicy().Evaluate(candidate)
	switch action {
	case filterpolicy.ActionDrop:
		if p.log != nil {
			p.log.Info("poller: filter policy DROP, deleting conditional order", slog.String("owner", owner.Hex()))
		}
		return Outcome{Deleted: true}
	case filterpolicy.ActionSkip:
		if p.log != nil {
			p.log.Debug("poller: filter policy SKIP", slog.String("owner", owner.Hex()))
		}
		return Outcome{}
	}

	p.metrics.IncCounter("watch_tower_polling_attempts_total", map[string]string{"chain_id": p.chainID})
	start := time.Now()
	result := p.handler.Poll(ctx, order.Params, block)
	p.metrics.ObserveHistogram("watch_tower_polling_duration_seconds", time.Since(start).Seconds(), map[string]string{"chain_id": p.chainID})

	outcome := p.apply(ctx, owner, order, result)

	order.LastPoll = &registry.LastPoll{
		Timestamp:   block.Timestamp,
		BlockNumber: block.Number,
		Result:      registry.PollResultSnapshot{Kind: result.Kind.String(), Reason: result.Reason},
	}
	return outcome
}

func (p *Poller) currentPolicy() *filterpolicy.Policy {
	if p.policy == nil {
		return &filterpolicy.Policy{DefaultAction: filterpolicy.ActionAccept}
	}
	return p.policy()
}

func (p *Poller) apply(ctx context.Context, owner common.Address, order *registry.ConditionalOrder, result Result) Outcome {
	switch result.Kind {
	case KindSuccess:
		p.submit(ctx, owner, order, result)
		return Outcome{Result: result}
	case KindTryNextBlock, KindTryAtBlock, KindTryAtEpoch:
		if p.log != nil {
			p.log.Debug("poller: handler deferred", slog.String("kind", result.Kind.String()), slog.String("reason", result.Reason))
		}
		return Outcome{Result: result}
	case KindDontTryAgain:
		if p.log != nil {
			p.log.Info("poller: handler says DONT_TRY_AGAIN, deleting conditional order", slog.String("owner", owner.Hex()), slog.String("reason", result.Reason))
		}
		return Outcome{Deleted: true, Result: result}
	case KindUnexpectedError:
		p.metrics.IncCounter("watch_tower_polling_errors_total", map[string]string{"chain_id": p.chainID})
		if p.log != nil {
			p.log.Warn("poller: unexpected error from handler, continuing", slog.String("owner", owner.Hex()), slog.Any("error", result.Err))
		}
		return Outcome{Result: result}
	default:
		return Outcome{Result: result}
	}
}

func (p *Poller) submit(ctx context.Context, owner common.Address, order *registry.ConditionalOrder, result Result) {
	uid := computeOrderUID(owner, result.Order)
	if order.HasOrder(uid) {
		if p.log != nil {
			p.log.Debug("poller: discrete order already submitted, skipping", slog.String("uid", uid.Hex()))
		}
		return
	}
	if p.dryRun {
		if p.log != nil {
			p.log.Info("poller: dry-run, suppressing order-book submission", slog.String("uid", uid.Hex()))
		}
		order.RecordSubmitted(uid)
		return
	}

	correlationID := uuid.NewString()
	outcome, err := p.submitWithRetry(ctx, result.Order, result.Signature, correlationID)
	switch {
	case err != nil:
		p.metrics.IncCounter("watch_tower_orderbook_errors_total", map[string]string{
			"chain_id": p.chainID, "handler": order.Params.Handler.Hex(), "owner": owner.Hex(), "id": uid.Hex(), "status": "error", "error": err.Error(),
		})
		if p.log != nil {
			p.log.Error("poller: order-book submission failed", slog.String("uid", uid.Hex()), slog.String("correlationId", correlationID), slog.Any("error", err))
		}
	case outcome == SubmitRejected:
		p.metrics.IncCounter("watch_tower_orderbook_errors_total", map[string]string{
			"chain_id": p.chainID, "handler": order.Params.Handler.Hex(), "owner": owner.Hex(), "id": uid.Hex(), "status": "rejected", "error": "",
		})
		if p.log != nil {
			p.log.Warn("poller: order-book rejected submission, will retry next block", slog.String("uid", uid.Hex()))
		}
	default: // SubmitAccepted or SubmitDuplicate both mean the order-book now has it
		p.metrics.IncCounter("watch_tower_orderbook_discrete_orders_total", map[string]string{
			"chain_id": p.chainID, "handler": order.Params.Handler.Hex(), "owner": owner.Hex(), "id": uid.Hex(),
		})
		order.RecordSubmitted(uid)
	}
}

func (p *Poller) submitWithRetry(ctx context.Context, order Order, sig Signature, correlationID string) (SubmitOutcome, error) {
	var lastErr error
	backoff := 20 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.limiter != nil {
			_ = p.limiter.Wait(ctx)
		}
		outcome, err := p.orderBook.Submit(ctx, order, sig, correlationID)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !isTransient(err) {
			return SubmitRejected, err
		}
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return SubmitRejected, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return SubmitRejected, errors.Join(ErrOrderBookRetriesExhausted, lastErr)
}

// isTransient is a narrow classification hook; the OrderBook implementation
// is expected to return a *TransientError for network/timeout failures and
// a plain error for HTTP-level rejections.
func isTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// TransientError wraps a network/timeout failure eligible for retry.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
