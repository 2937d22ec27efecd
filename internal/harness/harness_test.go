package harness

import (
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hgpeer/internal/workflow"
)

func TestRun_ScenariosMatchGolden(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expectations",
		Description: "every expectation is wrong",
		Timeout:     "2s",
		Peers:       []PeerSpec{{Name: "alice"}, {Name: "bob"}},
		Steps: []Step{
			{ID: "greet", Peer: "alice", Initiate: InitiateEcho, Target: "bob", Content: "hi",
				Expect: &Expect{State: "Failed"}},
			{ID: "lost", Peer: "alice", Initiate: InitiateEcho, Target: "nobody",
				Expect: &Expect{State: "Failed", Error: "refused"}},
			{ID: "raw", Send: &SendSpec{To: "bob", Performative: "Inform", ConversationID: "c-9", ActivityType: "nope"},
				Expect: &Expect{Replies: []string{"Inform"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step greet: state: expected Failed, got Completed",
		`step lost: error: expected "refused", got "send Request: send to nobody: unknown network target"`,
		"step raw: replies: expected [Inform], got [NotUnderstood]",
	}, result.Errors)
}

func TestRun_TimesOutUnfinishedActivities(t *testing.T) {
	// The probe never answers, so the echo waits forever.
	scenario := &Scenario{
		Name:        "silent-target",
		Description: "nobody answers",
		Timeout:     "100ms",
		Peers:       []PeerSpec{{Name: "alice"}},
		Steps: []Step{
			{ID: "open", Send: &SendSpec{To: "alice", Performative: "Inform", ConversationID: "x", ActivityType: "echo"}},
			{ID: "greet", Peer: "alice", Initiate: InitiateEcho, Target: DefaultProbe},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "step greet: activity did not finish within 100ms")
	out, ok := result.Outcome("greet")
	require.True(t, ok)
	assert.Equal(t, "alice-1", out.ActivityID)
	assert.Empty(t, out.State)
}

func TestRun_AffirmIdentity(t *testing.T) {
	scenario := &Scenario{
		Name:        "affirm",
		Description: "explicit identity exchange",
		Peers:       []PeerSpec{{Name: "alice"}, {Name: "bob"}},
		Steps: []Step{
			{ID: "hello", Peer: "alice", Initiate: InitiateAffirm, Target: "bob",
				Expect: &Expect{State: "Completed"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var types []string
	for _, tr := range result.Trace {
		types = append(types, tr.Peer+":"+tr.Type)
	}
	assert.Equal(t, []string{"alice:affirm-identity", "bob:affirm-identity"}, types)
}

func TestRun_ForwardsEvents(t *testing.T) {
	var events atomic.Int64
	scenario := &Scenario{
		Name:        "observed",
		Description: "events reach an extra observer",
		Peers:       []PeerSpec{{Name: "alice"}},
		Steps:       []Step{{ID: "empty", Peer: "alice", Initiate: InitiateSurvey}},
	}

	result, err := Run(scenario, WithObserver(workflow.ObserverFunc(func(workflow.Event) {
		events.Add(1)
	})))
	require.NoError(t, err)

	assert.True(t, result.Pass)
	// Created, Limbo -> Started, Started -> Completed, Finished.
	assert.Equal(t, int64(4), events.Load())
}
