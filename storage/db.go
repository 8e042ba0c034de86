// Package storage provides the embedded key/value facade the registry store
// is built on: get/put/delete plus an atomic batch writer, backed by
// goleveldb for production and an in-memory map for tests.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent. Callers that treat
// a missing key as a default value should check for this with errors.Is.
var ErrNotFound = errors.New("storage: key not found")

// KV is the narrow facade every component of the registry store is built
// against. Put/Delete outside of a Batch are not guaranteed atomic relative
// to each other; NewBatch().Commit() is the only atomic multi-key mutation.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	// Close releases all resources held by the store. Idempotent.
	Close() error
}

// Batch accumulates mutations for a single atomic commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// LevelDB is the persistent KV implementation used in production.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a goleveldb database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

// Close releases the underlying file handles. Safe to call more than once.
func (l *LevelDB) Close() error {
	if err := l.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}
	return nil
}

// Iterate calls fn for every key with the given prefix, in key order, so a
// caller can enumerate a network's namespaced keys without the registry
// store exposing its key list.
func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Commit() error         { return b.db.Write(b.batch, nil) }

// MemKV is an in-memory KV store used by tests, where durability is
// irrelevant.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV constructs an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemKV) NewBatch() Batch {
	return &memBatch{store: m}
}

func (m *MemKV) Close() error { return nil }

type memOp struct {
	del   bool
	key   []byte
	value []byte
}

type memBatch struct {
	store *MemKV
	ops   []memOp
}

func (b *memBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memOp{key: key, value: value})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{del: true, key: key})
}

func (b *memBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.store.data, string(op.key))
			continue
		}
		cp := make([]byte, len(op.value))
		copy(cp, op.value)
		b.store.data[string(op.key)] = cp
	}
	return nil
}
