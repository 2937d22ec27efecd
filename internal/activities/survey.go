package activities

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// SurveyType is the activity type name of Survey.
const SurveyType = "survey"

// Survey echoes the same content off several peers.
//
// Each target gets its own Echo child. The survey completes when every
// child has completed and fails as soon as one child fails.
type Survey struct {
	*workflow.FSM
	targets []string
	content any

	mu      sync.Mutex
	replies map[string]any
	pending int
}

// NewSurvey creates a survey of targets.
func NewSurvey(targets []string, content any) *Survey {
	return &Survey{
		FSM:     workflow.NewFSM(SurveyType, ""),
		targets: targets,
		content: content,
		replies: make(map[string]any),
	}
}

// SurveyDefinition is the registration of the survey type. Surveys are only
// started locally; a remote request for one is refused.
func SurveyDefinition() workflow.Definition {
	return workflow.Definition{
		Name: SurveyType,
		Factory: func(id string, msg message.Message) (workflow.Activity, error) {
			return nil, errors.New("survey cannot be started by a remote peer")
		},
		Transitions: []workflow.TransitionSpec{
			{
				Name:     "echo-completed",
				From:     []workflow.State{workflow.Started},
				When:     workflow.WhenChild(EchoType, workflow.Completed),
				Child:    workflow.OnChild((*Survey).onEchoCompleted),
				Outcomes: []workflow.State{workflow.Completed},
			},
			{
				Name:  "echo-failed",
				From:  []workflow.State{workflow.Started},
				When:  workflow.WhenChild(EchoType, workflow.Failed),
				Child: workflow.OnChild((*Survey).onEchoFailed),
			},
		},
	}
}

// Replies returns the echoed content per target collected so far.
func (s *Survey) Replies() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.replies)
}

func (s *Survey) Initiate(ctx context.Context) error {
	if len(s.targets) == 0 {
		return s.State().Assign(workflow.Completed)
	}
	s.mu.Lock()
	s.pending = len(s.targets)
	s.mu.Unlock()
	for _, target := range s.targets {
		if _, err := s.Manager().Initiate(ctx, NewEcho(target, s.content), workflow.WithParent(s)); err != nil {
			return fmt.Errorf("survey %s: %w", target, err)
		}
	}
	return nil
}

func (s *Survey) onEchoCompleted(ctx context.Context, child *Echo) (workflow.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[child.Target()] = child.Echoed()
	s.pending--
	if s.pending > 0 {
		return workflow.Stay(), nil
	}
	return workflow.GoTo(workflow.Completed), nil
}

func (s *Survey) onEchoFailed(ctx context.Context, child *Echo) (workflow.Outcome, error) {
	cause := child.Future().Err()
	if cause == nil {
		cause = errors.New("no reason given")
	}
	return workflow.Stay(), fmt.Errorf("echo to %s failed: %w", child.Target(), cause)
}
