package registrystore

import "context"

// migrationFunc upgrades the on-disk schema in place. Registered under the
// version it migrates *from*.
type migrationFunc func(ctx context.Context, s *Store) error

// migrations holds one entry per schema bump. There have been none since
// v1, the current schema, so this is empty; a future bump registers its
// migration here rather than silently dropping data (spec.md §3 invariant
// 4).
var migrations = map[int]migrationFunc{}

// migrate runs the registered migration for fromVersion, if any. Returns
// false if no migration is registered, in which case the caller falls back
// to starting fresh rather than reading data in an unknown shape.
func (s *Store) migrate(ctx context.Context, fromVersion int) (bool, error) {
	fn, ok := migrations[fromVersion]
	if !ok {
		return false, nil
	}
	if err := fn(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}
