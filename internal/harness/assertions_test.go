package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateExpectations(t *testing.T) {
	steps := []Step{
		{ID: "ok", Peer: "a", Initiate: InitiateEcho, Target: "b", Expect: &Expect{State: "Completed"}},
		{ID: "failed", Peer: "a", Initiate: InitiateEcho, Target: "b", Expect: &Expect{State: "Failed", Error: "refused"}},
		{ID: "silent", Peer: "a", Initiate: InitiateEcho, Target: "b"},
	}

	tests := []struct {
		name     string
		outcomes []StepOutcome
		replies  map[string][]string
		want     []string
	}{
		{
			name: "all met",
			outcomes: []StepOutcome{
				{Step: "ok", ActivityID: "a-1", State: "Completed"},
				{Step: "failed", ActivityID: "a-2", State: "Failed", Error: "peer b refused: busy"},
				{Step: "silent", ActivityID: "a-3", State: "Canceled"},
			},
		},
		{
			name: "wrong state",
			outcomes: []StepOutcome{
				{Step: "ok", ActivityID: "a-1"},
				{Step: "failed", ActivityID: "a-2", State: "Completed"},
				{Step: "silent", ActivityID: "a-3", State: "Completed"},
			},
			want: []string{
				"step ok: state: expected Completed, got <none>",
				"step failed: state: expected Failed, got Completed",
			},
		},
		{
			name: "wrong error",
			outcomes: []StepOutcome{
				{Step: "ok", ActivityID: "a-1", State: "Completed"},
				{Step: "failed", ActivityID: "a-2", State: "Failed", Error: "timeout"},
				{Step: "silent", Error: "DUPLICATE_ACTIVITY: already registered"},
			},
			want: []string{
				`step failed: error: expected "refused", got "timeout"`,
				`step silent: error: expected activity to start, got "DUPLICATE_ACTIVITY: already registered"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewResult()
			result.Steps = tt.outcomes
			got := EvaluateExpectations(&Scenario{Steps: steps}, result)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateExpectations_Replies(t *testing.T) {
	s := &Scenario{Steps: []Step{
		{ID: "raw", Send: &SendSpec{To: "b", Performative: "Request"}, Expect: &Expect{Replies: []string{"Agree", "Inform"}}},
		{ID: "quiet", Send: &SendSpec{To: "b", Performative: "Inform"}},
	}}

	result := NewResult()
	result.Replies["raw"] = []string{"Agree", "Inform"}
	result.Replies["quiet"] = []string{"NotUnderstood"}
	assert.Empty(t, EvaluateExpectations(s, result))

	result.Replies["raw"] = []string{"Inform", "Agree"}
	assert.Equal(t, []string{"step raw: replies: expected [Agree Inform], got [Inform Agree]"},
		EvaluateExpectations(s, result))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
