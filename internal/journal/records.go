package journal

import "time"

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ActivityRecord is one activity as seen by one peer.
type ActivityRecord struct {
	Peer     string `json:"peer"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Origin   string `json:"origin"`
	// CreatedSeq is the logical time of registration.
	CreatedSeq int64 `json:"created_seq"`
	// FinalState is empty while the activity is live.
	FinalState  string `json:"final_state,omitempty"`
	Error       string `json:"error,omitempty"`
	FinishedSeq int64  `json:"finished_seq,omitempty"`
}

// Finished reports whether the activity reached a terminal state.
func (r ActivityRecord) Finished() bool { return r.FinishedSeq > 0 }

// TransitionRecord is one state change.
type TransitionRecord struct {
	Peer       string `json:"peer"`
	Seq        int64  `json:"seq"`
	ActivityID string `json:"activity_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// MessageRecord is one message received or sent by a peer.
type MessageRecord struct {
	Peer           string `json:"peer"`
	Seq            int64  `json:"seq"`
	Direction      string `json:"direction"`
	Digest         string `json:"digest"`
	ConversationID string `json:"conversation_id,omitempty"`
	Performative   string `json:"performative,omitempty"`
	// Remote is the sender of an inbound and the target of an outbound
	// message.
	Remote string `json:"remote,omitempty"`
	// Body is the canonical JSON envelope.
	Body string `json:"body"`
}

// ActionRecord is one executed scheduler action.
type ActionRecord struct {
	Peer       string        `json:"peer"`
	Seq        int64         `json:"seq"`
	ActivityID string        `json:"activity_id"`
	Kind       string        `json:"kind"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Error      string        `json:"error,omitempty"`
}

// TimelineEntry is one line of an activity's history.
type TimelineEntry struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}
