package blockprocessor_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/blockprocessor"
	"github.com/cowprotocol/tenderly-watch-tower/chainevents"
	"github.com/cowprotocol/tenderly-watch-tower/filterpolicy"
	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

type alwaysCompatible struct{}

func (alwaysCompatible) IsCompatible(ctx context.Context, address common.Address, blockNumber uint64) bool {
	return true
}

type neverCompatible struct{}

func (neverCompatible) IsCompatible(ctx context.Context, address common.Address, blockNumber uint64) bool {
	return false
}

type noHandler struct{}

func (noHandler) Poll(ctx context.Context, params registry.Params, block poller.BlockContext) poller.Result {
	return poller.Result{Kind: poller.KindTryNextBlock, Reason: "not due"}
}

type noOrderBook struct{}

func (noOrderBook) Submit(ctx context.Context, order poller.Order, sig poller.Signature, correlationID string) (poller.SubmitOutcome, error) {
	return poller.SubmitAccepted, nil
}

func acceptAll() *filterpolicy.Policy {
	return &filterpolicy.Policy{DefaultAction: filterpolicy.ActionAccept}
}

func newCreatedEvent(owner, handler common.Address, blockNumber uint64, logIndex uint) chainevents.Event {
	return chainevents.Event{
		Kind:        chainevents.KindConditionalOrderCreated,
		BlockNumber: blockNumber,
		LogIndex:    logIndex,
		TxHash:      common.HexToHash("0x01"),
		Created: &chainevents.ConditionalOrderCreated{
			Owner:          owner,
			Handler:        handler,
			SourceContract: handler,
		},
	}
}

func TestProcessBlockIngestsCompatibleEventsAndPersistsCursor(t *testing.T) {
	reg := registry.New("1", nil, nil)
	p := poller.New(noHandler{}, noOrderBook{}, acceptAll, nil, nil, "1", false)
	bp := blockprocessor.New(reg, p, alwaysCompatible{}, nil, nil, "1", 1)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	handler := common.HexToAddress("0xBBBB111111111111111111111111111111bbbb")
	events := []chainevents.Event{newCreatedEvent(owner, handler, 10, 0)}

	err := bp.ProcessBlock(context.Background(), blockprocessor.Block{Number: 10, Timestamp: 123}, events, blockprocessor.Overrides{})
	require.NoError(t, err)
	require.Equal(t, 1, reg.NumOrders())
	require.NotNil(t, reg.LastProcessedBlock)
	require.Equal(t, uint64(10), reg.LastProcessedBlock.Number)
}

func TestProcessBlockDropsIncompatibleEvents(t *testing.T) {
	reg := registry.New("1", nil, nil)
	p := poller.New(noHandler{}, noOrderBook{}, acceptAll, nil, nil, "1", false)
	bp := blockprocessor.New(reg, p, neverCompatible{}, nil, nil, "1", 1)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	handler := common.HexToAddress("0xBBBB111111111111111111111111111111bbbb")
	events := []chainevents.Event{newCreatedEvent(owner, handler, 10, 0)}

	err := bp.ProcessBlock(context.Background(), blockprocessor.Block{Number: 10}, events, blockprocessor.Overrides{})
	require.NoError(t, err)
	require.Equal(t, 0, reg.NumOrders())
}

func TestProcessBlockPersistsCursorEvenWithoutEvents(t *testing.T) {
	reg := registry.New("1", nil, nil)
	p := poller.New(noHandler{}, noOrderBook{}, acceptAll, nil, nil, "1", false)
	bp := blockprocessor.New(reg, p, alwaysCompatible{}, nil, nil, "1", 5)

	err := bp.ProcessBlock(context.Background(), blockprocessor.Block{Number: 7}, nil, blockprocessor.Overrides{})
	require.NoError(t, err)
	require.NotNil(t, reg.LastProcessedBlock)
	require.Equal(t, uint64(7), reg.LastProcessedBlock.Number)
}

func TestProcessBlockSkipsPollWhenNotDueByModulo(t *testing.T) {
	reg := registry.New("1", nil, nil)
	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	handler := common.HexToAddress("0xBBBB111111111111111111111111111111bbbb")
	reg.Add(owner, &registry.ConditionalOrder{Params: registry.Params{Handler: handler}})

	polled := false
	h := pollRecorder{fn: func() { polled = true }}
	p := poller.New(h, noOrderBook{}, acceptAll, nil, nil, "1", false)
	bp := blockprocessor.New(reg, p, alwaysCompatible{}, nil, nil, "1", 10)

	err := bp.ProcessBlock(context.Background(), blockprocessor.Block{Number: 3}, nil, blockprocessor.Overrides{})
	require.NoError(t, err)
	require.False(t, polled, "block 3 is not a multiple of processEveryNumBlocks=10")
}

type pollRecorder struct {
	fn func()
}

func (p pollRecorder) Poll(ctx context.Context, params registry.Params, block poller.BlockContext) poller.Result {
	p.fn()
	return poller.Result{Kind: poller.KindTryNextBlock}
}

// TestProcessBlockMerkleRootSetFlushesThenAddsCarriedOrders is spec.md §8
// scenario 5: owner A has three merkle orders at root R1; a MerkleRootSet
// event for root R2 carries two orders. The three stale orders must be
// removed and the two carried orders added, all proven against R2.
func TestProcessBlockMerkleRootSetFlushesThenAddsCarriedOrders(t *testing.T) {
	reg := registry.New("1", nil, nil)
	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	handler := common.HexToAddress("0xBBBB111111111111111111111111111111bbbb")
	contract := common.HexToAddress("0xCCCC111111111111111111111111111111cccc")
	rootOld := registry.Hash32{0x01}
	rootNew := registry.Hash32{0x02}

	for i := 0; i < 3; i++ {
		salt := registry.Hash32{byte(i + 1)}
		reg.Add(owner, &registry.ConditionalOrder{
			Params:         registry.Params{Handler: handler, Salt: salt},
			Proof:          &registry.Proof{MerkleRoot: rootOld},
			SourceContract: contract,
		})
	}
	require.Equal(t, 3, reg.NumOrders())

	p := poller.New(noHandler{}, noOrderBook{}, acceptAll, nil, nil, "1", false)
	bp := blockprocessor.New(reg, p, alwaysCompatible{}, nil, nil, "1", 1)

	ev := chainevents.Event{
		Kind:        chainevents.KindMerkleRootSet,
		BlockNumber: 20,
		TxHash:      common.HexToHash("0x02"),
		MerkleRoot: &chainevents.MerkleRootSet{
			Owner:          owner,
			Root:           rootNew,
			SourceContract: contract,
			Orders: []chainevents.MerkleOrder{
				{Handler: handler, Salt: [32]byte{0x10}, StaticInput: []byte("a")},
				{Handler: handler, Salt: [32]byte{0x11}, StaticInput: []byte("b")},
			},
		},
	}

	err := bp.ProcessBlock(context.Background(), blockprocessor.Block{Number: 20}, []chainevents.Event{ev}, blockprocessor.Overrides{})
	require.NoError(t, err)
	require.Equal(t, 2, reg.NumOrders())

	reg.ForEach(func(o common.Address, order *registry.ConditionalOrder) {
		require.Equal(t, owner, o)
		require.NotNil(t, order.Proof)
		require.Equal(t, rootNew, order.Proof.MerkleRoot)
	})
}
