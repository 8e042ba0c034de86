package storage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/storage"
)

func TestMemKVGetMissingReturnsErrNotFound(t *testing.T) {
	kv := storage.NewMemKV()
	_, err := kv.Get([]byte("missing"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemKVPutGetRoundTrip(t *testing.T) {
	kv := storage.NewMemKV()
	require.NoError(t, kv.Put([]byte("k"), []byte("v")))
	got, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestMemKVBatchIsAtomic(t *testing.T) {
	kv := storage.NewMemKV()
	require.NoError(t, kv.Put([]byte("a"), []byte("1")))

	batch := kv.NewBatch()
	batch.Put([]byte("a"), []byte("2"))
	batch.Put([]byte("b"), []byte("3"))
	batch.Delete([]byte("a"))
	require.NoError(t, batch.Commit())

	_, err := kv.Get([]byte("a"))
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := kv.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)
}

func TestLevelDBRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(filepath.Join(dir, "data"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("x"), []byte("y")))
	got, err := db.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("y"), got)

	require.NoError(t, db.Delete([]byte("x")))
	_, err = db.Get([]byte("x"))
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLevelDBCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(filepath.Join(dir, "data"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
