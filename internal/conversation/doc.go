// ABOUTME: Doc for the conversation package
// ABOUTME: Event router and state machine driving the support-conversation flow

// Package conversation routes platform events through the support flow.
//
// The Service consumes message, reaction and thread-lifecycle events,
// applies an ordered pipeline of guard predicates, and drives transitions
// between the pending, pending_support and closed states. The store is the
// single source of truth; every guard re-reads it rather than trusting
// in-memory state, so a restart never loses an in-flight conversation.
//
// Answer dispatch goes through a backend.Backend chosen once at startup.
// Synchronous strategies return the reply inline; asynchronous strategies
// return nothing and the reply arrives later as a correlated message in
// the configured reply channel, handled by the same success and guardrail
// paths.
package conversation
