// Package dedupe provides a TTL cache for tracking already-processed platform
// event ids, so redelivered or duplicated events are handled idempotently.
package dedupe
