// Package identity defines the per-identity attribute store used by nodes that keep state
// across journeys, such as durable retry counters and bound device profiles.
//
// # Design
//
// Attributes are multi-valued string lists addressed by (realm, username, attribute).
// Writes are read-modify-write cycles expressed as an [UpdateFunc]. Every implementation
// guards the cycle with optimistic concurrency: the update function may run more than
// once, and an update that keeps losing the race fails with [ErrConflict] instead of
// silently overwriting a concurrent journey's write.
//
// # Implementations
//
//   - [MemoryStore]: in-process, mutex guarded.
//   - redisstore: go-redis WATCH/MULTI transactions.
//   - sqlstore: SQLite rows with a version column.
package identity
