package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hgpeer/internal/message"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot renders the deterministic part of a result as canonical JSON:
// step outcomes, per-activity state histories and probe replies.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, o := range result.Steps {
		m := map[string]any{
			"step": o.Step,
			"peer": o.Peer,
		}
		setNonEmpty(m, "activity_id", o.ActivityID)
		setNonEmpty(m, "state", o.State)
		setNonEmpty(m, "error", o.Error)
		steps[i] = m
	}

	trace := make([]any, len(result.Trace))
	for i, t := range result.Trace {
		m := map[string]any{
			"peer":   t.Peer,
			"id":     t.ID,
			"type":   t.Type,
			"states": t.States,
		}
		setNonEmpty(m, "origin", t.Origin)
		setNonEmpty(m, "parent", t.Parent)
		setNonEmpty(m, "error", t.Error)
		trace[i] = m
	}

	snapshot := map[string]any{
		"scenario": name,
		"steps":    steps,
		"trace":    trace,
	}
	if len(result.Replies) > 0 {
		replies := make(map[string]any, len(result.Replies))
		for id, perfs := range result.Replies {
			replies[id] = perfs
		}
		snapshot["replies"] = replies
	}
	return message.MarshalCanonical(snapshot)
}

func setNonEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
