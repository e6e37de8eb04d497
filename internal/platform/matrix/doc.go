// Package matrix implements the platform.Connector against a Matrix
// homeserver using mautrix.
//
// Mapping: each support thread is a Matrix room. The thread starter is the
// sender of m.room.create, the parent channel is the room's m.space.parent
// (falling back to the room itself), write-locking raises the power level
// required to post, archiving is a com.helpdesk.lifecycle state event, and
// closing markers are pinned through m.room.pinned_events. Asynchronous
// backend replies arrive as messages in a dedicated reply room carrying a
// com.helpdesk.reply envelope in their raw content.
package matrix
