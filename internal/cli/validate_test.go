package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPeers = `
peers: [
	{name: "alice", address: "a"},
	{name: "bob", address: "b"},
]
scheduler: max_workers: 4
`

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, twoPeers)

	out, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (2 peer(s): alice, bob)")
}

func TestValidateValidConfigJSON(t *testing.T) {
	path := writeConfig(t, twoPeers)

	out, err := executeValidate(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ValidationResult{
		Valid:          true,
		Peers:          []string{"alice", "bob"},
		MaxWorkers:     4,
		AffirmIdentity: true,
	}, resp.Data)
}

func TestValidateMissingFile(t *testing.T) {
	out, err := executeValidate(t, "text", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E201]")
}

func TestValidateSchemaError(t *testing.T) {
	path := writeConfig(t, `peer: {name: "alice", address: "a"}
scheduler: max_workers: -1
`)

	out, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E203]")
}

func TestValidateDuplicatePeerJSON(t *testing.T) {
	path := writeConfig(t, `peers: [
	{name: "alice", address: "a"},
	{name: "alice", address: "b"},
]
`)

	out, err := executeValidate(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string        `json:"code"`
			Message string        `json:"message"`
			Details ErrorLocation `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E205", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, `peer name "alice" used twice`)
	assert.Equal(t, path, resp.Error.Details.File)
	assert.Equal(t, 3, resp.Error.Details.Line)
}

func TestValidateRequiresOneArg(t *testing.T) {
	_, err := executeValidate(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
