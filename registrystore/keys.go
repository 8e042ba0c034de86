package registrystore

import "fmt"

// Key suffixes are namespaced by network id so a single KV store can host
// several chains' registries (spec.md §4.1).
const (
	keyVersion           = "CONDITIONAL_ORDER_REGISTRY_VERSION"
	keyRegistry          = "CONDITIONAL_ORDER_REGISTRY"
	keyLastProcessedBlk  = "LAST_PROCESSED_BLOCK"
	keyLastNotifiedError = "LAST_NOTIFIED_ERROR"
)

// CurrentSchemaVersion is the schema version this build writes. Bumping it
// requires a migration entry in migrations (see migrate.go).
const CurrentSchemaVersion = 1

func namespaced(base, network string) []byte {
	return []byte(fmt.Sprintf("%s_%s", base, network))
}
