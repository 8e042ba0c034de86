package poller_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/filterpolicy"
	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

type fakeHandler struct {
	result poller.Result
}

func (f *fakeHandler) Poll(ctx context.Context, params registry.Params, block poller.BlockContext) poller.Result {
	return f.result
}

type fakeOrderBook struct {
	calls    int
	outcome  poller.SubmitOutcome
	err      error
	lastCorr string
}

func (f *fakeOrderBook) Submit(ctx context.Context, order poller.Order, sig poller.Signature, correlationID string) (poller.SubmitOutcome, error) {
	f.calls++
	f.lastCorr = correlationID
	return f.outcome, f.err
}

func acceptAll() *filterpolicy.Policy {
	return &filterpolicy.Policy{DefaultAction: filterpolicy.ActionAccept}
}

func sampleOrder() *registry.ConditionalOrder {
	return &registry.ConditionalOrder{
		Params: registry.Params{Handler: common.HexToAddress("0xBBBB111111111111111111111111111111bbbb")},
	}
}

func successResult() poller.Result {
	return poller.Result{
		Kind: poller.KindSuccess,
		Order: poller.Order{
			Sell:       []byte{1},
			Buy:        []byte{2},
			SellAmount: uint256.NewInt(100),
			BuyAmount:  uint256.NewInt(200),
			ValidTo:    1000,
		},
	}
}

func TestPollFilterDropDeletesWithoutCallingHandler(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	policy := &filterpolicy.Policy{DefaultAction: filterpolicy.ActionDrop}
	p := poller.New(handler, ob, func() *filterpolicy.Policy { return policy }, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	out := p.Poll(context.Background(), owner, sampleOrder(), poller.BlockContext{Number: 1})

	require.True(t, out.Deleted)
	require.Equal(t, 0, ob.calls)
}

func TestPollFilterDropByConditionalOrderIDDeletesWithoutCallingHandler(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	order := sampleOrder()
	id := poller.ConditionalOrderID(order.Params).Hex()
	policy := &filterpolicy.Policy{
		DefaultAction:      filterpolicy.ActionAccept,
		ByConditionalOrder: map[string]filterpolicy.Action{strings.ToLower(id): filterpolicy.ActionDrop},
	}
	p := poller.New(handler, ob, func() *filterpolicy.Policy { return policy }, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	out := p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.True(t, out.Deleted)
	require.Equal(t, 0, ob.calls)
}

func TestPollFilterSkipDoesNotCallHandler(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	policy := &filterpolicy.Policy{DefaultAction: filterpolicy.ActionSkip}
	p := poller.New(handler, ob, func() *filterpolicy.Policy { return policy }, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	out := p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.False(t, out.Deleted)
	require.Equal(t, 0, ob.calls)
	require.Nil(t, order.LastPoll, "SKIP must not stamp LastPoll since the handler was never invoked")
}

func TestPollSuccessSubmitsAndRecordsOrder(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 5, Timestamp: 1000})

	require.Equal(t, 1, ob.calls)
	require.Equal(t, 1, order.NumOrders())
	require.NotNil(t, order.LastPoll)
	require.Equal(t, uint64(5), order.LastPoll.BlockNumber)
}

func TestPollSuccessIsIdempotentAcrossReplays(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 5})
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 5})

	require.Equal(t, 1, ob.calls, "replaying the same block must not duplicate submissions")
	require.Equal(t, 1, order.NumOrders())
}

func TestPollDuplicateOrderBookResponseCountsAsSuccess(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitDuplicate}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.Equal(t, 1, order.NumOrders())
}

func TestPollRejectionLeavesOrderEligibleNextBlock(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitRejected}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.Equal(t, 0, order.NumOrders())
}

func TestPollTransientNetworkErrorRetriesThenRejects(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{err: &poller.TransientError{Err: errors.New("timeout")}}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.Equal(t, 5, ob.calls, "must retry up to the default attempt count")
	require.Equal(t, 0, order.NumOrders())
}

func TestPollDontTryAgainDeletesOrder(t *testing.T) {
	handler := &fakeHandler{result: poller.Result{Kind: poller.KindDontTryAgain, Reason: "expired"}}
	ob := &fakeOrderBook{}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	out := p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.True(t, out.Deleted)
	require.Equal(t, 0, ob.calls)
}

func TestPollUnexpectedErrorIsNeverFatal(t *testing.T) {
	handler := &fakeHandler{result: poller.Result{Kind: poller.KindUnexpectedError, Err: errors.New("boom")}}
	ob := &fakeOrderBook{}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", false)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	out := p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.False(t, out.Deleted)
	require.NotNil(t, order.LastPoll)
}

func TestPollDryRunSuppressesSubmission(t *testing.T) {
	handler := &fakeHandler{result: successResult()}
	ob := &fakeOrderBook{outcome: poller.SubmitAccepted}
	p := poller.New(handler, ob, acceptAll, nil, nil, "1", true)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	order := sampleOrder()
	p.Poll(context.Background(), owner, order, poller.BlockContext{Number: 1})

	require.Equal(t, 0, ob.calls)
	require.Equal(t, 1, order.NumOrders(), "dry-run still records the UID so re-polling stays idempotent")
}
