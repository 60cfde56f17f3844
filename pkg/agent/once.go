package agent

import "github.com/pkg/errors"

// Once selects when the agent stops on its own.
type Once int

const (
	// OnceNever keeps following until shutdown.
	OnceNever Once = iota
	// OnceAny stops after the first cycle that checked the remote
	// successfully, whether or not it activated anything.
	OnceAny
	// OnceActivate stops after the first successful activation.
	OnceActivate
)

func ParseOnce(s string) (Once, error) {
	switch s {
	case "", "never":
		return OnceNever, nil
	case "any":
		return OnceAny, nil
	case "activate":
		return OnceActivate, nil
	}
	return OnceNever, errors.Errorf("invalid once policy %q, expected any or activate", s)
}

func (o Once) String() string {
	switch o {
	case OnceAny:
		return "any"
	case OnceActivate:
		return "activate"
	}
	return "never"
}

// satisfiedBy reports whether a cycle with outcome ends the run. Paused and
// failed cycles never do.
func (o Once) satisfiedBy(outcome string) bool {
	switch o {
	case OnceAny:
		return outcome == OutcomeUnchanged || outcome == OutcomeActivated
	case OnceActivate:
		return outcome == OutcomeActivated
	}
	return false
}
