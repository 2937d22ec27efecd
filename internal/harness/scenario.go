package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds how long a scenario waits for its activities.
const DefaultTimeout = 5 * time.Second

// DefaultProbe is the address raw messages are sent from.
const DefaultProbe = "probe"

// Initiate step kinds.
const (
	InitiateEcho   = "echo"
	InitiateSurvey = "survey"
	InitiateAffirm = "affirm"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Timeout is a Go duration string. Default: DefaultTimeout.
	Timeout string `yaml:"timeout,omitempty"`

	// AffirmIdentity runs identity affirmation as peers join.
	// Off by default so traces only contain what the steps started.
	AffirmIdentity bool `yaml:"affirm_identity,omitempty"`

	// MaxWorkers bounds each peer's scheduler. Zero is unbounded.
	MaxWorkers int `yaml:"max_workers,omitempty"`

	Peers []PeerSpec `yaml:"peers"`
	Steps []Step     `yaml:"steps"`
}

// PeerSpec describes one peer of the scenario network.
type PeerSpec struct {
	Name string `yaml:"name"`
	// Address defaults to Name.
	Address string `yaml:"address,omitempty"`
}

// Step is one action of the scenario. Exactly one of Initiate, Send and
// Wait is set.
type Step struct {
	ID string `yaml:"id,omitempty"`

	// Peer names the peer an initiate step runs on.
	Peer     string   `yaml:"peer,omitempty"`
	Initiate string   `yaml:"initiate,omitempty"`
	Target   string   `yaml:"target,omitempty"`
	Targets  []string `yaml:"targets,omitempty"`
	Content  any      `yaml:"content,omitempty"`

	Send *SendSpec `yaml:"send,omitempty"`

	// Wait blocks until the named step has finished.
	Wait string `yaml:"wait,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// SendSpec is a raw message sent from a probe endpoint.
type SendSpec struct {
	// From is the probe address. Default: DefaultProbe.
	From           string `yaml:"from,omitempty"`
	To             string `yaml:"to"`
	Performative   string `yaml:"performative"`
	ConversationID string `yaml:"conversation_id,omitempty"`
	ActivityType   string `yaml:"activity_type,omitempty"`
	ParentScope    string `yaml:"parent_scope,omitempty"`
	Content        any    `yaml:"content,omitempty"`
}

// Expect is checked once the scenario has settled.
type Expect struct {
	// State is the terminal state of an initiated activity.
	State string `yaml:"state,omitempty"`
	// Error must be a substring of the activity's error.
	Error string `yaml:"error,omitempty"`
	// Replies are the performatives a probe receives, in order.
	Replies []string `yaml:"replies,omitempty"`
}

func (s *Scenario) timeout() time.Duration {
	if s.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func (p PeerSpec) address() string {
	if p.Address == "" {
		return p.Name
	}
	return p.Address
}

func (s *SendSpec) from() string {
	if s.From == "" {
		return DefaultProbe
	}
	return s.From
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under path in lexical
// order. A file path is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != path && info.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("timeout %q is not a positive duration", s.Timeout)
		}
	}

	if s.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be non-negative")
	}

	if len(s.Peers) == 0 {
		return fmt.Errorf("peers list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	names := map[string]bool{}
	addrs := map[string]bool{}
	for i, p := range s.Peers {
		if p.Name == "" {
			return fmt.Errorf("peers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("peers[%d]: duplicate name %q", i, p.Name)
		}
		if addrs[p.address()] {
			return fmt.Errorf("peers[%d]: duplicate address %q", i, p.address())
		}
		names[p.Name] = true
		addrs[p.address()] = true
	}

	seen := map[string]*Step{}
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := validateStep(step, names, addrs, seen); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.ID != "" {
			seen[step.ID] = step
		}
	}

	return nil
}

func validateStep(step *Step, peers, addrs map[string]bool, earlier map[string]*Step) error {
	kinds := 0
	if step.Initiate != "" {
		kinds++
	}
	if step.Send != nil {
		kinds++
	}
	if step.Wait != "" {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("exactly one of initiate, send and wait is required")
	}

	if step.Wait != "" {
		if _, ok := earlier[step.Wait]; !ok {
			return fmt.Errorf("wait: no earlier step %q", step.Wait)
		}
		if step.Expect != nil {
			return fmt.Errorf("expect is not allowed on a wait step")
		}
		return nil
	}

	if step.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, ok := earlier[step.ID]; ok {
		return fmt.Errorf("duplicate id %q", step.ID)
	}

	if step.Send != nil {
		if step.Send.To == "" {
			return fmt.Errorf("send.to is required")
		}
		if step.Send.Performative == "" {
			return fmt.Errorf("send.performative is required")
		}
		if addrs[step.Send.from()] {
			return fmt.Errorf("send.from %q is a peer address", step.Send.from())
		}
		if step.Expect != nil && (step.Expect.State != "" || step.Expect.Error != "") {
			return fmt.Errorf("expect on a send step only takes replies")
		}
		return nil
	}

	if !peers[step.Peer] {
		return fmt.Errorf("unknown peer %q", step.Peer)
	}
	switch step.Initiate {
	case InitiateEcho:
		if step.Target == "" {
			return fmt.Errorf("target is required for echo")
		}
	case InitiateSurvey, InitiateAffirm:
	default:
		return fmt.Errorf("unknown activity %q", step.Initiate)
	}
	if step.Expect != nil && len(step.Expect.Replies) > 0 {
		return fmt.Errorf("expect.replies is only allowed on a send step")
	}
	return nil
}
