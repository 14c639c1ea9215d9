// Package limiters implements per-identity brute-force lockout.
//
// # Lockout
//
// [LockoutTracker] runs a three-state machine per identity: Clear, Warming(k)
// and Locked(until). The transition logic lives only in the tracker; a
// [LockoutStore] supplies atomic read-modify-write per identity.
//
//   - [MemoryLockoutStore]: sharded in-process map, one mutex per identity.
//   - [RedisLockoutStore]: one hash per identity, WATCH/MULTI retried on conflict.
//
// Store errors wrap [ErrLockoutUnavailable]. A nil *LockoutTracker admits everything.
//
// # Architecture boundaries
//
// Thresholds come from [LockoutConfig] supplied at construction time. The
// clock is injected so lock expiry is testable.
//
// # What this package must NOT do
//
//   - Import shopauth or any sibling internal package.
//   - Decide consequences beyond admit/reject. The engine maps results to errors.
//   - Hold any lock across caller I/O.
package limiters
