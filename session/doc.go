// Package session provides the in-memory core.SessionStore implementation:
// tenant-scoped sessions with a sliding message window, per-user session
// caps, pinning and LRU eviction. It is safe for concurrent access and best
// suited for tests, examples and single-process deployments; the redis
// subpackage offers a durable alternative with identical semantics.
package session
