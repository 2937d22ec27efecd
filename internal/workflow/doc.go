// Package workflow implements the peer activity engine.
//
// An Activity is one running instance of a multi-message protocol between
// peers, identified by a correlation id (the conversation-id of every message
// that belongs to it). Activities advance through States; Completed, Failed
// and Canceled are terminal.
//
// Activities come in two flavours:
//   - imperative activities embed *Base and implement MessageHandler
//   - state-machine activities embed *FSM and declare their transitions in a
//     Definition registered with the Manager
//
// The Manager owns the activity type and live activity registries and
// schedules work. Every top-level activity and all of its children share one
// FIFO of pending actions (a hierarchy). A single scheduler loop picks the
// hierarchy with the highest priority and runs exactly one of its actions on
// a worker goroutine; the hierarchy is only reconsidered after that action
// returns. Actions of one hierarchy therefore never overlap, while unrelated
// hierarchies run concurrently.
//
// Priority: a hierarchy whose root Future is being waited on and has pending
// work is served first. Otherwise the larger
// (now - lastActionTime) * (1 + pendingActions) wins.
//
// Failures inside a transition or message handler are recorded on the
// activity's Future, the activity is forced into Failed and, when a message
// triggered the action, a Failure reply is sent to its sender.
package workflow
