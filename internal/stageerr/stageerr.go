// Package stageerr defines the error taxonomy shared by every stage of the
// evolution pipeline and the components around it.
package stageerr

import "fmt"

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	ConfigMissing       Kind = "config_missing"
	ExternalUnavailable Kind = "external_unavailable"
	PolicyViolation     Kind = "policy_violation"
	SanityFailure       Kind = "sanity_failure"
	NoChange            Kind = "no_change"
	TestFailure         Kind = "test_failure"
	PushRejected        Kind = "push_rejected"
	Timeout             Kind = "timeout"
)

// StageError wraps an underlying error with the stage that produced it and
// the taxonomy kind it belongs to, so callers can branch with errors.As
// instead of string matching.
type StageError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// New builds a StageError.
func New(stage string, kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*StageError); ok {
			if se.Kind == kind {
				return true
			}
			err = se.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
