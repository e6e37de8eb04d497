// Package backend provides the answer-backend strategies.
//
// Exactly one strategy is active per process, selected at startup: the
// synchronous HTTP orchestrator (call-and-wait against POST /answer), the
// synchronous MCP client (the same capability spoken natively over MCP), or
// the asynchronous webhook (fire the request, the answer arrives later as a
// correlated message in the reply channel). A deferred strategy signals
// itself by returning a nil Reply with a nil error.
package backend
