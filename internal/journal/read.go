package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ActivityFilter narrows ListActivities. Zero fields match everything.
type ActivityFilter struct {
	Peer string
	Type string
	// State matches the final state; "live" matches unfinished activities.
	State string
	Limit int
}

// StateLive selects unfinished activities in ActivityFilter.State.
const StateLive = "live"

// ListActivities returns activities ordered by peer, then creation.
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) ListActivities(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Peer != "" {
		where = append(where, "peer = ?")
		args = append(args, f.Peer)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	switch f.State {
	case "":
	case StateLive:
		where = append(where, "finished_seq = 0")
	default:
		where = append(where, "final_state = ?")
		args = append(args, f.State)
	}

	query := `
		SELECT peer, id, type, parent_id, origin, created_seq, final_state, error, finished_seq
		FROM activities`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY peer COLLATE BINARY ASC, created_seq ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf("\n\t\tLIMIT %d", f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	out := []ActivityRecord{}
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

// Activity returns one activity. Returns sql.ErrNoRows if not found.
func (j *Journal) Activity(ctx context.Context, peer, id string) (ActivityRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT peer, id, type, parent_id, origin, created_seq, final_state, error, finished_seq
		FROM activities
		WHERE peer = ? AND id = ?
	`, peer, id)
	return scanActivity(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(s scanner) (ActivityRecord, error) {
	var rec ActivityRecord
	err := s.Scan(&rec.Peer, &rec.ID, &rec.Type, &rec.ParentID, &rec.Origin,
		&rec.CreatedSeq, &rec.FinalState, &rec.Error, &rec.FinishedSeq)
	if err == sql.ErrNoRows {
		return ActivityRecord{}, err
	}
	if err != nil {
		return ActivityRecord{}, fmt.Errorf("scan activity: %w", err)
	}
	return rec, nil
}

// Peers returns the peer names present in the journal.
func (j *Journal) Peers(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT DISTINCT peer FROM activities
		ORDER BY peer COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return out, nil
}

// Transitions returns the state changes of an activity in order.
func (j *Journal) Transitions(ctx context.Context, peer, activityID string) ([]TransitionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT peer, seq, activity_id, from_state, to_state
		FROM transitions
		WHERE peer = ? AND activity_id = ?
		ORDER BY seq ASC
	`, peer, activityID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []TransitionRecord{}
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.Peer, &rec.Seq, &rec.ActivityID, &rec.From, &rec.To); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Messages returns the messages of a conversation as seen by peer.
func (j *Journal) Messages(ctx context.Context, peer, conversationID string) ([]MessageRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT peer, seq, direction, digest, conversation_id, performative, remote, body
		FROM messages
		WHERE peer = ? AND conversation_id = ?
		ORDER BY seq ASC
	`, peer, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []MessageRecord{}
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.Peer, &rec.Seq, &rec.Direction, &rec.Digest,
			&rec.ConversationID, &rec.Performative, &rec.Remote, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Actions returns the executed actions of an activity in order.
func (j *Journal) Actions(ctx context.Context, peer, activityID string) ([]ActionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT peer, seq, activity_id, kind, elapsed_ns, error
		FROM actions
		WHERE peer = ? AND activity_id = ?
		ORDER BY seq ASC
	`, peer, activityID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	out := []ActionRecord{}
	for rows.Next() {
		var (
			rec     ActionRecord
			elapsed int64
		)
		if err := rows.Scan(&rec.Peer, &rec.Seq, &rec.ActivityID, &rec.Kind, &elapsed, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Elapsed = time.Duration(elapsed)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

// Timeline merges everything journaled about one activity at one peer,
// ordered by logical time.
func (j *Journal) Timeline(ctx context.Context, peer, activityID string) ([]TimelineEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT created_seq AS seq, 'created' AS kind, type || ' (' || origin || ')' AS detail
		FROM activities WHERE peer = ? AND id = ?
		UNION ALL
		SELECT seq, 'transition', from_state || ' -> ' || to_state
		FROM transitions WHERE peer = ? AND activity_id = ?
		UNION ALL
		SELECT seq, 'message-' || direction,
			performative || CASE WHEN remote = '' THEN ''
				WHEN direction = 'in' THEN ' from ' || remote
				ELSE ' to ' || remote END
		FROM messages WHERE peer = ? AND conversation_id = ?
		UNION ALL
		SELECT seq, 'action', kind || CASE WHEN error = '' THEN '' ELSE ': ' || error END
		FROM actions WHERE peer = ? AND activity_id = ?
		UNION ALL
		SELECT finished_seq, 'finished', final_state || CASE WHEN error = '' THEN '' ELSE ': ' || error END
		FROM activities WHERE peer = ? AND id = ? AND finished_seq > 0
		ORDER BY seq ASC, kind ASC
	`, peer, activityID, peer, activityID, peer, activityID, peer, activityID, peer, activityID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := []TimelineEntry{}
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return out, nil
}
