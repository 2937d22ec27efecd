package journal

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// Recorder writes the events of one peer's manager to a Journal.
// It implements workflow.Observer.
//
// Write failures are logged and counted; they never reach the engine.
type Recorder struct {
	journal  *Journal
	peer     string
	logger   *slog.Logger
	failures atomic.Int64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder that files events under peer.
func NewRecorder(j *Journal, peer string, opts ...RecorderOption) *Recorder {
	r := &Recorder{journal: j, peer: peer, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ workflow.Observer = (*Recorder)(nil)

// Observe records ev.
func (r *Recorder) Observe(ev workflow.Event) {
	if err := r.record(context.Background(), ev); err != nil {
		r.failures.Add(1)
		r.logger.Error("journal write failed",
			"peer", r.peer,
			"event", ev.Type.String(),
			"seq", ev.Seq,
			"error", err)
	}
}

// Failures returns the number of events that could not be written.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

func (r *Recorder) record(ctx context.Context, ev workflow.Event) error {
	switch ev.Type {
	case workflow.EventActivityCreated:
		rec := ActivityRecord{
			Peer:       r.peer,
			ID:         ev.Activity.ID(),
			Type:       ev.Activity.Type(),
			Origin:     string(ev.Origin),
			CreatedSeq: ev.Seq,
		}
		if ev.Parent != nil {
			rec.ParentID = ev.Parent.ID()
		}
		return r.journal.WriteActivity(ctx, rec)

	case workflow.EventStateChanged:
		return r.journal.WriteTransition(ctx, TransitionRecord{
			Peer:       r.peer,
			Seq:        ev.Seq,
			ActivityID: ev.Activity.ID(),
			From:       string(ev.From),
			To:         string(ev.To),
		})

	case workflow.EventActivityFinished:
		return r.journal.FinishActivity(ctx, r.peer, ev.Activity.ID(), string(ev.To), errText(ev.Err), ev.Seq)

	case workflow.EventMessageReceived:
		return r.writeMessage(ctx, ev, DirectionIn)

	case workflow.EventMessageSent:
		return r.writeMessage(ctx, ev, DirectionOut)

	case workflow.EventActionExecuted:
		return r.journal.WriteAction(ctx, ActionRecord{
			Peer:       r.peer,
			Seq:        ev.Seq,
			ActivityID: ev.Activity.ID(),
			Kind:       ev.Action,
			Elapsed:    ev.Elapsed,
			Error:      errText(ev.Err),
		})
	}
	return nil
}

func (r *Recorder) writeMessage(ctx context.Context, ev workflow.Event, direction string) error {
	body, err := message.Encode(ev.Message)
	if err != nil {
		return err
	}
	digest, err := message.Digest(ev.Message)
	if err != nil {
		return err
	}
	return r.journal.WriteMessage(ctx, MessageRecord{
		Peer:           r.peer,
		Seq:            ev.Seq,
		Direction:      direction,
		Digest:         digest,
		ConversationID: ev.Message.ConversationID(),
		Performative:   string(ev.Message.Performative()),
		Remote:         ev.Target,
		Body:           string(body),
	})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
