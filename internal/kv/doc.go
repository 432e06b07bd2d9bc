// Package kv provides a typed, TTL-aware key-value store with an atomic
// compare-and-consume primitive.
//
// Two variants share identical semantics:
//
//   - Memory: an in-process map guarded by a mutex, with a background
//     sweeper removing expired entries.
//   - Redis: a network KV with native TTL and GETDEL atomic consume.
//
// Fallback composes both, degrading to the in-process variant when the
// network backend reports ErrTransient.
//
// The KV is not durable. Pending actions, session contexts, and the
// idempotency cache are all built on top of it and tolerate loss by
// re-issuing.
package kv
