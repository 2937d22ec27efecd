package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hgpeer/internal/journal"
)

// seedJournal writes an echo seen by alice and bob, a failed survey and a
// live affirm-identity at alice.
func seedJournal(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.WriteActivity(ctx, journal.ActivityRecord{Peer: "alice", ID: "e-1", Type: "echo", Origin: "local", CreatedSeq: 1}))
	require.NoError(t, j.WriteMessage(ctx, journal.MessageRecord{Peer: "alice", Seq: 2, Direction: journal.DirectionOut,
		Digest: "d1", ConversationID: "e-1", Performative: "Request", Remote: "bob", Body: "{}"}))
	require.NoError(t, j.WriteMessage(ctx, journal.MessageRecord{Peer: "alice", Seq: 3, Direction: journal.DirectionIn,
		Digest: "d2", ConversationID: "e-1", Performative: "Inform", Remote: "bob", Body: "{}"}))
	require.NoError(t, j.WriteTransition(ctx, journal.TransitionRecord{Peer: "alice", Seq: 4, ActivityID: "e-1", From: "Started", To: "Completed"}))
	require.NoError(t, j.FinishActivity(ctx, "alice", "e-1", "Completed", "", 4))

	require.NoError(t, j.WriteActivity(ctx, journal.ActivityRecord{Peer: "bob", ID: "e-1", Type: "echo", Origin: "remote", CreatedSeq: 1}))
	require.NoError(t, j.FinishActivity(ctx, "bob", "e-1", "Completed", "", 3))

	require.NoError(t, j.WriteActivity(ctx, journal.ActivityRecord{Peer: "alice", ID: "s-1", Type: "survey", Origin: "local", CreatedSeq: 5}))
	require.NoError(t, j.FinishActivity(ctx, "alice", "s-1", "Failed", "boom", 6))

	require.NoError(t, j.WriteActivity(ctx, journal.ActivityRecord{Peer: "alice", ID: "a-1", Type: "affirm-identity", Origin: "local", CreatedSeq: 7}))
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, "text", "--peer", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "absent.db")
	out, err := executeTrace(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "journal not found")
	assert.NoFileExists(t, dbPath)
}

func TestTraceListsActivities(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "4 activities (1 live, 1 failed, 0 canceled)")
	assert.Regexp(t, `alice\s+s-1\s+survey\s+local\s+Failed: boom`, out)
	assert.Regexp(t, `alice\s+a-1\s+affirm-identity\s+local\s+live`, out)
	assert.Regexp(t, `bob\s+e-1\s+echo\s+remote\s+Completed`, out)
}

func TestTraceListFiltersJSON(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := executeTrace(t, "json", "--db", dbPath, "--peer", "alice", "--state", "live")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Activities, 1)
	assert.Equal(t, "a-1", resp.Data.Activities[0].ID)
	assert.Equal(t, TraceStats{Total: 1, Live: 1}, resp.Data.Stats)
}

func TestTraceActivityTimeline(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "--activity", "e-1", "--peer", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Activity e-1 (echo) at alice")
	assert.Contains(t, out, "[1] created      echo (local)")
	assert.Contains(t, out, "[2] message-out  Request to bob")
	assert.Contains(t, out, "[3] message-in   Inform from bob")
	assert.Contains(t, out, "[4] finished     Completed")
	assert.Contains(t, out, "[4] transition   Started -> Completed")
	assert.NotContains(t, out, "at bob")
}

func TestTraceActivityAtEveryPeerJSON(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := executeTrace(t, "json", "--db", dbPath, "--activity", "e-1")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Traces, 2)
	assert.Equal(t, "alice", resp.Data.Traces[0].Activity.Peer)
	assert.Len(t, resp.Data.Traces[0].Timeline, 5)
	assert.Equal(t, "bob", resp.Data.Traces[1].Activity.Peer)
	assert.Equal(t, []journal.TimelineEntry{
		{Seq: 1, Kind: "created", Detail: "echo (remote)"},
		{Seq: 3, Kind: "finished", Detail: "Completed"},
	}, resp.Data.Traces[1].Timeline)
	assert.Equal(t, TraceStats{Total: 2}, resp.Data.Stats)
}

func TestTraceUnknownActivity(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "--activity", "nope")
	require.NoError(t, err)
	assert.Contains(t, out, "No journal entries for activity: nope")
}

func TestTraceStatsCountsStates(t *testing.T) {
	var s TraceStats
	s.add(journal.ActivityRecord{})
	s.add(journal.ActivityRecord{FinalState: "Failed", FinishedSeq: 2})
	s.add(journal.ActivityRecord{FinalState: "Canceled", FinishedSeq: 3})
	s.add(journal.ActivityRecord{FinalState: "Completed", FinishedSeq: 4})
	assert.Equal(t, TraceStats{Total: 4, Live: 1, Failed: 1, Canceled: 1}, s)
}
