package harness

import (
	"fmt"
	"slices"
	"strings"
)

// ExpectationError describes one expectation that did not hold.
type ExpectationError struct {
	Step     string
	Kind     string // "state", "error" or "replies"
	Expected string
	Actual   string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("step %s: %s: expected %s, got %s", e.Step, e.Kind, e.Expected, e.Actual)
}

// EvaluateExpectations checks every step's expect clause against result
// and returns one message per failure. An initiate step without an error
// expectation must not have failed to initiate.
func EvaluateExpectations(s *Scenario, result *Result) []string {
	var errs []string
	for _, step := range s.Steps {
		var err error
		switch {
		case step.Initiate != "":
			out, _ := result.Outcome(step.ID)
			err = checkOutcome(step, out)
		case step.Send != nil && step.Expect != nil && len(step.Expect.Replies) > 0:
			err = checkReplies(step, result.Replies[step.ID])
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func checkOutcome(step Step, out StepOutcome) error {
	expect := step.Expect
	if expect == nil {
		expect = &Expect{}
	}

	if expect.State != "" && out.State != expect.State {
		return &ExpectationError{Step: step.ID, Kind: "state", Expected: expect.State, Actual: orNone(out.State)}
	}

	switch {
	case expect.Error != "" && !strings.Contains(out.Error, expect.Error):
		return &ExpectationError{Step: step.ID, Kind: "error", Expected: fmt.Sprintf("%q", expect.Error), Actual: fmt.Sprintf("%q", out.Error)}
	case expect.Error == "" && out.ActivityID == "" && out.Error != "":
		return &ExpectationError{Step: step.ID, Kind: "error", Expected: "activity to start", Actual: fmt.Sprintf("%q", out.Error)}
	}
	return nil
}

func checkReplies(step Step, got []string) error {
	if slices.Equal(step.Expect.Replies, got) {
		return nil
	}
	return &ExpectationError{
		Step:     step.ID,
		Kind:     "replies",
		Expected: "[" + strings.Join(step.Expect.Replies, " ") + "]",
		Actual:   "[" + strings.Join(got, " ") + "]",
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
