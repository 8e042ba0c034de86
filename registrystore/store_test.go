package registrystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
	"github.com/cowprotocol/tenderly-watch-tower/registrystore"
	"github.com/cowprotocol/tenderly-watch-tower/storage"
)

func TestLoadOnEmptyStoreYieldsDefaults(t *testing.T) {
	kv := storage.NewMemKV()
	store := registrystore.New(kv, "1", nil)
	reg := registry.New("1", nil, store)

	require.NoError(t, store.Load(context.Background(), reg))
	require.Equal(t, 0, reg.NumOrders())
	require.Nil(t, reg.LastProcessedBlock)
	require.Nil(t, reg.LastNotifiedError)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	kv := storage.NewMemKV()
	store := registrystore.New(kv, "1", nil)
	reg := registry.New("1", nil, store)

	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	var salt registry.Hash32
	salt[0] = 0x42
	order := &registry.ConditionalOrder{
		Tx: registry.Hash32{0x01},
		Params: registry.Params{
			Handler:     common.HexToAddress("0xBBBB111111111111111111111111111111bbbb"),
			Salt:        salt,
			StaticInput: []byte("hello"),
		},
		SourceContract: common.HexToAddress("0xCCCC111111111111111111111111111111cccc"),
	}
	var uid registry.OrderUID
	uid[0] = 0x9
	order.RecordSubmitted(uid)
	reg.Add(owner, order)

	cursor := registry.BlockCursor{Number: 100, Hash: registry.Hash32{0x55}, Timestamp: time.Unix(1_700_000_000, 0).UTC()}
	reg.SetLastProcessedBlock(cursor)
	errTime := time.Unix(1_700_000_100, 0).UTC()
	reg.NoteError(errTime)

	require.NoError(t, reg.Write(context.Background()))

	loaded := registry.New("1", nil, store)
	require.NoError(t, store.Load(context.Background(), loaded))

	require.Equal(t, 1, loaded.NumOrders())
	require.NotNil(t, loaded.LastProcessedBlock)
	require.Equal(t, cursor.Number, loaded.LastProcessedBlock.Number)
	require.Equal(t, cursor.Hash, loaded.LastProcessedBlock.Hash)
	require.Equal(t, cursor.Timestamp.Unix(), loaded.LastProcessedBlock.Timestamp.Unix())
	require.NotNil(t, loaded.LastNotifiedError)
	require.Equal(t, errTime.Unix(), loaded.LastNotifiedError.Unix())

	got, ok := loaded.Get(owner, order.Params.Key())
	require.True(t, ok)
	require.Equal(t, order.Tx, got.Tx)
	require.Equal(t, order.Params, got.Params)
	require.True(t, got.HasOrder(uid))
}

func TestWriteWithNilCursorAndErrorDeletesKeys(t *testing.T) {
	kv := storage.NewMemKV()
	store := registrystore.New(kv, "1", nil)
	reg := registry.New("1", nil, store)

	cursor := registry.BlockCursor{Number: 1, Hash: registry.Hash32{0x1}, Timestamp: time.Unix(1, 0)}
	reg.SetLastProcessedBlock(cursor)
	reg.NoteError(time.Unix(2, 0))
	require.NoError(t, reg.Write(context.Background()))

	reg.LastProcessedBlock = nil
	reg.ClearNotifiedError()
	require.NoError(t, reg.Write(context.Background()))

	reloaded := registry.New("1", nil, store)
	require.NoError(t, store.Load(context.Background(), reloaded))
	require.Nil(t, reloaded.LastProcessedBlock)
	require.Nil(t, reloaded.LastNotifiedError)
}

func TestEmptyRegistryRoundTripsWithNoOwners(t *testing.T) {
	kv := storage.NewMemKV()
	store := registrystore.New(kv, "7", nil)
	reg := registry.New("7", nil, store)

	require.NoError(t, reg.Write(context.Background()))

	loaded := registry.New("7", nil, store)
	require.NoError(t, store.Load(context.Background(), loaded))
	require.Equal(t, 0, loaded.NumOrders())
}

func TestNetworksAreNamespacedIndependently(t *testing.T) {
	kv := storage.NewMemKV()
	storeA := registrystore.New(kv, "1", nil)
	storeB := registrystore.New(kv, "5", nil)

	regA := registry.New("1", nil, storeA)
	owner := common.HexToAddress("0xAAAA111111111111111111111111111111aaaa")
	regA.Add(owner, &registry.ConditionalOrder{Params: registry.Params{Handler: owner, Salt: registry.Hash32{0x1}}})
	require.NoError(t, regA.Write(context.Background()))

	regB := registry.New("5", nil, storeB)
	require.NoError(t, storeB.Load(context.Background(), regB))
	require.Equal(t, 0, regB.NumOrders(), "network 5 must not observe network 1's orders")
}
