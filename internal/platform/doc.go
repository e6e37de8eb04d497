// Package platform defines the narrow chat-connector surface the conversation
// router consumes, together with the inbound event types connectors deliver.
//
// The router never touches a platform SDK directly: it sends text, edits
// thread lock/archive flags, reacts, pins, and reads history through the
// Connector interface, and receives message/reaction/archive/delete events
// through the Handler interface. Concrete connectors live in subpackages
// (currently Matrix).
package platform
