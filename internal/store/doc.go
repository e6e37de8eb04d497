// Package store provides persistent conversation-thread state using SQLite.
//
// One row per platform thread: who started it, which feedback prompt is
// awaiting a reaction, how many backend round-trips have completed, and the
// thread status (pending, pending_support, closed). The store is the single
// source of truth for in-flight conversations — a process restart must be
// able to pick up where it left off from these rows alone.
//
// Every mutation runs inside its own transaction (begin, execute, commit or
// rollback) so concurrent callers never observe partial writes and no
// connection is held across handler boundaries.
//
// Common errors:
//
//   - ErrNotFound: no record for the thread
//   - ErrThreadExists: Create lost a creation race
//
// All methods accept context.Context for cancellation support.
package store
