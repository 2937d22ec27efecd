package journal

import (
	"context"
	"fmt"
)

// WriteActivity inserts an activity row. Duplicates are ignored.
func (j *Journal) WriteActivity(ctx context.Context, rec ActivityRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO activities (peer, id, type, parent_id, origin, created_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rec.Peer, rec.ID, rec.Type, rec.ParentID, rec.Origin, rec.CreatedSeq)
	if err != nil {
		return fmt.Errorf("write activity: %w", err)
	}
	return nil
}

// FinishActivity records the terminal state of an activity. Only the first
// call for an activity has an effect.
func (j *Journal) FinishActivity(ctx context.Context, peer, id, state, errText string, seq int64) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE activities
		SET final_state = ?, error = ?, finished_seq = ?
		WHERE peer = ? AND id = ? AND finished_seq = 0
	`, state, errText, seq, peer, id)
	if err != nil {
		return fmt.Errorf("finish activity: %w", err)
	}
	return nil
}

// WriteTransition inserts a state change. Duplicates are ignored.
func (j *Journal) WriteTransition(ctx context.Context, rec TransitionRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions (peer, seq, activity_id, from_state, to_state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rec.Peer, rec.Seq, rec.ActivityID, rec.From, rec.To)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// WriteMessage inserts a message. Duplicates are ignored.
func (j *Journal) WriteMessage(ctx context.Context, rec MessageRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO messages (peer, seq, direction, digest, conversation_id, performative, remote, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rec.Peer, rec.Seq, rec.Direction, rec.Digest, rec.ConversationID, rec.Performative, rec.Remote, rec.Body)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteAction inserts an executed action. Duplicates are ignored.
func (j *Journal) WriteAction(ctx context.Context, rec ActionRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO actions (peer, seq, activity_id, kind, elapsed_ns, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rec.Peer, rec.Seq, rec.ActivityID, rec.Kind, rec.Elapsed.Nanoseconds(), rec.Error)
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}
