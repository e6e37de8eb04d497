// ABOUTME: Doc for the requests package
// ABOUTME: Ticket-style request tracking driven by text commands

// Package requests tracks operational request tickets (store migrations,
// search reindexing) opened by support staff with text commands. Tickets
// live in SQLite and move through a simple open/done lifecycle; aged done
// tickets are reaped together with the conversation retention sweep.
package requests
