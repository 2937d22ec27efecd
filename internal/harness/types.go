package harness

// StepOutcome is what an initiate step produced.
type StepOutcome struct {
	Step       string `json:"step"`
	Peer       string `json:"peer"`
	ActivityID string `json:"activity_id,omitempty"`
	// State is empty when the activity did not finish in time or could
	// not be initiated.
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// ActivityTrace is the state history of one activity at one peer.
type ActivityTrace struct {
	Peer   string   `json:"peer"`
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Origin string   `json:"origin"`
	Parent string   `json:"parent,omitempty"`
	States []string `json:"states"`
	Error  string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Steps has one entry per initiate step, in step order.
	Steps []StepOutcome `json:"steps"`

	// Trace has one entry per activity at every peer, ordered by peer
	// then id.
	Trace []ActivityTrace `json:"trace"`

	// Replies maps a send step id to the performatives the probe got
	// back in that conversation.
	Replies map[string][]string `json:"replies,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepOutcome{},
		Trace:   []ActivityTrace{},
		Replies: make(map[string][]string),
		Errors:  []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcome returns the outcome of an initiate step.
func (r *Result) Outcome(step string) (StepOutcome, bool) {
	for _, o := range r.Steps {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}
