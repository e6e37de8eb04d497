// ABOUTME: Doc for the escalation package
// ABOUTME: Best-effort notifier posting hand-off notices to the support channel

// Package escalation posts a notice to the fixed support channel when a
// user asks for human help. Notification is best effort: failures are
// logged and swallowed so they can never block or fail the conversation
// flow that triggered them.
package escalation
