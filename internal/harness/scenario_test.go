package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: valid
description: a valid scenario
peers:
  - name: alice
  - name: bob
    address: b
steps:
  - id: greet
    peer: alice
    initiate: echo
    target: b
    content: {text: hello, n: 2}
  - wait: greet
  - id: raw
    send:
      to: b
      performative: Request
      conversation_id: c-1
    expect:
      replies: [NotUnderstood]
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)

	assert.Equal(t, "valid", s.Name)
	require.Len(t, s.Peers, 2)
	assert.Equal(t, "alice", s.Peers[0].address())
	assert.Equal(t, "b", s.Peers[1].address())
	require.Len(t, s.Steps, 3)
	assert.Equal(t, map[string]any{"text": "hello", "n": 2}, s.Steps[0].Content)
	assert.Equal(t, "greet", s.Steps[1].Wait)
	assert.Equal(t, DefaultProbe, s.Steps[2].Send.from())
	assert.Equal(t, DefaultTimeout, s.timeout())
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(validScenario + "\nasserts: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Timeout(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario + "timeout: 250ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.timeout())
}

func TestValidateScenario_Errors(t *testing.T) {
	peers := []PeerSpec{{Name: "alice"}, {Name: "bob"}}
	echo := Step{ID: "e", Peer: "alice", Initiate: InitiateEcho, Target: "bob"}

	tests := []struct {
		name     string
		scenario Scenario
		want     string
	}{
		{"no name", Scenario{Description: "d", Peers: peers, Steps: []Step{echo}}, "name is required"},
		{"no description", Scenario{Name: "n", Peers: peers, Steps: []Step{echo}}, "description is required"},
		{"bad timeout", Scenario{Name: "n", Description: "d", Timeout: "soon", Peers: peers, Steps: []Step{echo}}, "timeout"},
		{"negative workers", Scenario{Name: "n", Description: "d", MaxWorkers: -1, Peers: peers, Steps: []Step{echo}}, "max_workers"},
		{"no peers", Scenario{Name: "n", Description: "d", Steps: []Step{echo}}, "peers list is required"},
		{"no steps", Scenario{Name: "n", Description: "d", Peers: peers}, "steps list is required"},
		{"duplicate peer", Scenario{Name: "n", Description: "d", Peers: []PeerSpec{{Name: "a"}, {Name: "a"}}, Steps: []Step{echo}}, "duplicate name"},
		{"duplicate address", Scenario{Name: "n", Description: "d", Peers: []PeerSpec{{Name: "a", Address: "x"}, {Name: "b", Address: "x"}}, Steps: []Step{echo}}, "duplicate address"},
		{"two kinds", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Peer: "alice", Initiate: InitiateEcho, Target: "bob", Wait: "x"}}}, "exactly one of"},
		{"missing id", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{Peer: "alice", Initiate: InitiateSurvey}}}, "id is required"},
		{"duplicate id", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{echo, echo}}, "duplicate id"},
		{"unknown peer", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Peer: "carol", Initiate: InitiateSurvey}}}, "unknown peer"},
		{"unknown activity", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Peer: "alice", Initiate: "dance"}}}, "unknown activity"},
		{"echo without target", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Peer: "alice", Initiate: InitiateEcho}}}, "target is required"},
		{"replies on initiate", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Peer: "alice", Initiate: InitiateSurvey, Expect: &Expect{Replies: []string{"Inform"}}}}}, "only allowed on a send step"},
		{"send without to", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Send: &SendSpec{Performative: "Inform"}}}}, "send.to"},
		{"send without performative", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Send: &SendSpec{To: "bob"}}}}, "send.performative"},
		{"send from a peer", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Send: &SendSpec{From: "alice", To: "bob", Performative: "Inform"}}}}, "is a peer address"},
		{"state on send", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{ID: "x", Send: &SendSpec{To: "bob", Performative: "Inform"}, Expect: &Expect{State: "Completed"}}}}, "only takes replies"},
		{"wait for later step", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{{Wait: "e"}, echo}}, "no earlier step"},
		{"expect on wait", Scenario{Name: "n", Description: "d", Peers: peers, Steps: []Step{echo, {Wait: "e", Expect: &Expect{}}}}, "not allowed on a wait step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScenario(&tt.scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "golden/x.yaml", "nested/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, single)

	_, err = FindScenarios(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
