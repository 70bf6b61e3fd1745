// Package idgen allocates identifiers for operations and runtime
// instances: operation ids come from sharded counters to avoid a
// single hot cache line, instance ids are uuids. It lives under
// `internal` because callers should treat identifiers as opaque.
package idgen
