package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hgpeer/internal/journal"
	"github.com/roach88/hgpeer/internal/peer"
)

func executeRun(t *testing.T, ctx context.Context, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestRunMissingConfig(t *testing.T) {
	out, err := executeRun(t, context.Background(), "text", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E201]")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, `log: level: "warn"`)

	out, err := executeRun(t, context.Background(), "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E204]")
}

func TestRunAffirmsIdentitiesAndJournals(t *testing.T) {
	path := writeConfig(t, twoPeers)
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	out, err := executeRun(t, context.Background(), "text", "--db", dbPath, "--duration", "50ms", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Started 2 peer(s)")
	assert.Regexp(t, `alice \(\S+\) at a knows bob`, out)
	assert.Regexp(t, `bob \(\S+\) at b knows alice`, out)
	assert.Contains(t, out, "Journal: "+dbPath)

	jnl, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer jnl.Close()

	peers, err := jnl.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, peers)

	affirms, err := jnl.ListActivities(context.Background(), journal.ActivityFilter{Peer: "alice", Type: peer.AffirmIdentityType})
	require.NoError(t, err)
	assert.NotEmpty(t, affirms)
}

func TestRunJSONWithoutAffirm(t *testing.T) {
	path := writeConfig(t, `
peers: [
	{name: "alice", address: "a"},
	{name: "bob", address: "b"},
]
bootstrap: affirm_identity: false
metrics: enabled: true
`)

	out, err := executeRun(t, context.Background(), "json", "--duration", "20ms", path)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.Data.Complete)
	assert.Empty(t, resp.Data.Journal)
	assert.Empty(t, resp.Data.Metrics)
	require.Len(t, resp.Data.Peers, 2)
	for _, p := range resp.Data.Peers {
		assert.NotEmpty(t, p.ID)
		assert.Empty(t, p.Known)
	}
	assert.Equal(t, "alice", resp.Data.Peers[0].Name)
	assert.Equal(t, "b", resp.Data.Peers[1].Address)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	path := writeConfig(t, `peer: {name: "alice", address: "a"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := executeRun(t, ctx, "text", path)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop when its context was canceled")
	}
}

func TestSummarizeNamesKnownPeers(t *testing.T) {
	var buf bytes.Buffer
	writeRunText(&buf, RunResult{Peers: []PeerSummary{
		{Name: "alice", ID: "id-a", Address: "a", Known: []string{"bob", "carol"}},
		{Name: "dave", ID: "id-d", Address: "d", Known: []string{}},
	}})
	assert.Equal(t, "alice (id-a) at a knows bob, carol\ndave (id-d) at d knows nobody\n", buf.String())
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "flag.db", firstNonEmpty("flag.db", "config.db"))
	assert.Equal(t, "config.db", firstNonEmpty("", "config.db"))
	assert.Empty(t, firstNonEmpty("", ""))
}
