// Package activities holds the protocols bundled with hgpeer.
//
// Echo is an imperative activity: the initiator sends a Request and the
// responder answers with an Inform carrying the same content. Survey is a
// state machine that runs one Echo child per target and completes once
// every child has.
package activities

import "github.com/roach88/hgpeer/internal/workflow"

// Register registers every bundled activity type with m.
func Register(m *workflow.Manager) error {
	for _, def := range []workflow.Definition{EchoDefinition(), SurveyDefinition()} {
		if err := m.RegisterType(def); err != nil {
			return err
		}
	}
	return nil
}
