// Package journal records what peers' activity managers do in SQLite.
//
// The journal is diagnostic: it is written by a Recorder observing a
// workflow.Manager and read back by the trace command. It holds:
//   - Activities: one row per activity per peer, with its final state
//   - Transitions: every state change
//   - Messages: every message received or sent, with its digest
//   - Actions: every scheduled action with its duration
//
// # Ordering
//
// Rows are ordered by the manager's logical clock (seq), never by wall
// time. seq is unique per peer, so (peer, seq) keys every event row.
//
// # Idempotency
//
// Every insert uses ON CONFLICT DO NOTHING, so observing the same event
// twice leaves one row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package journal
