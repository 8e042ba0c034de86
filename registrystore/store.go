// Package registrystore persists the conditional-order registry into an
// embedded KV store (storage.KV), namespacing keys by network id and
// committing every write as a single atomic batch (spec.md §4.1).
package registrystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
	"github.com/cowprotocol/tenderly-watch-tower/storage"
)

// Store is the goleveldb-backed implementation of registry.Store.
type Store struct {
	kv      storage.KV
	network string
	log     *slog.Logger
}

// New wraps a storage.KV for the given network.
func New(kv storage.KV, network string, log *slog.Logger) *Store {
	return &Store{kv: kv, network: network, log: log}
}

// Load hydrates a Registry from disk. Missing keys are treated as defaults
// (empty registry, nil cursor, nil lastNotifiedError) per spec.md §4.1's
// load tolerance.
func (s *Store) Load(ctx context.Context, reg *registry.Registry) error {
	version, err := s.loadVersion()
	if err != nil {
		return err
	}
	if version != CurrentSchemaVersion {
		migrated, err := s.migrate(ctx, version)
		if err != nil {
			return fmt.Errorf("migrate registry schema %d -> %d: %w", version, CurrentSchemaVersion, err)
		}
		if !migrated {
			if s.log != nil {
				s.log.Warn("registrystore: no migration registered for stale schema version, starting fresh",
					slog.Int("foundVersion", version),
					slog.Int("currentVersion", CurrentSchemaVersion),
				)
			}
			reg.Hydrate(nil, nil, nil)
			return nil
		}
	}

	raw, err := s.kv.Get(namespaced(keyRegistry, s.network))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load registry: %w", err)
	}
	ownerOrders, err := decodeOwnerOrders(raw)
	if err != nil {
		return err
	}

	cursor, err := s.loadCursor()
	if err != nil {
		return err
	}

	lastNotified, err := s.loadLastNotifiedError()
	if err != nil {
		return err
	}

	reg.Hydrate(ownerOrders, cursor, lastNotified)
	return nil
}

func (s *Store) loadVersion() (int, error) {
	raw, err := s.kv.Get(namespaced(keyVersion, s.network))
	if errors.Is(err, storage.ErrNotFound) {
		return CurrentSchemaVersion, nil // missing version key means "empty registry at schema v1"
	}
	if err != nil {
		return 0, fmt.Errorf("load schema version: %w", err)
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return v, nil
}

func (s *Store) loadCursor() (*registry.BlockCursor, error) {
	raw, err := s.kv.Get(namespaced(keyLastProcessedBlk, s.network))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last processed block: %w", err)
	}
	var wire struct {
		Number    uint64 `json:"number"`
		Hash      string `json:"hash"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode last processed block: %w", err)
	}
	hash, err := parseHash32(wire.Hash)
	if err != nil {
		return nil, fmt.Errorf("decode last processed block hash: %w", err)
	}
	return &registry.BlockCursor{
		Number:    wire.Number,
		Hash:      hash,
		Timestamp: time.Unix(wire.Timestamp, 0).UTC(),
	}, nil
}

func (s *Store) loadLastNotifiedError() (*time.Time, error) {
	raw, err := s.kv.Get(namespaced(keyLastNotifiedError, s.network))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last notified error: %w", err)
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse last notified error timestamp: %w", err)
	}
	return &t, nil
}

// WriteAll commits the registry version, owner orders, cursor, and
// last-notified-error timestamp as a single atomic batch. Implements
// registry.Store.
func (s *Store) WriteAll(ctx context.Context, ownerOrders map[common.Address]map[registry.ParamsKey]*registry.ConditionalOrder, cursor *registry.BlockCursor, lastNotifiedError *time.Time) error {
	wire, err := encodeOwnerOrders(ownerOrders)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	registryBytes, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	batch := s.kv.NewBatch()
	batch.Put(namespaced(keyVersion, s.network), []byte(strconv.Itoa(CurrentSchemaVersion)))
	batch.Put(namespaced(keyRegistry, s.network), registryBytes)

	if cursor != nil {
		cursorBytes, err := json.Marshal(struct {
			Number    uint64 `json:"number"`
			Hash      string `json:"hash"`
			Timestamp int64  `json:"timestamp"`
		}{Number: cursor.Number, Hash: cursor.Hash.Hex(), Timestamp: cursor.Timestamp.Unix()})
		if err != nil {
			return fmt.Errorf("marshal last processed block: %w", err)
		}
		batch.Put(namespaced(keyLastProcessedBlk, s.network), cursorBytes)
	} else {
		batch.Delete(namespaced(keyLastProcessedBlk, s.network))
	}

	if lastNotifiedError != nil {
		batch.Put(namespaced(keyLastNotifiedError, s.network), []byte(lastNotifiedError.UTC().Format(time.RFC3339)))
	} else {
		batch.Delete(namespaced(keyLastNotifiedError, s.network))
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit registry batch: %w", err)
	}
	return nil
}

// Close releases the underlying KV store. Idempotent.
func (s *Store) Close() error {
	return s.kv.Close()
}
