package planmerge

// Phase is the stage of a planning conversation
type Phase string

const (
	PhaseOnboarding Phase = "onboarding"
	PhaseGreeting   Phase = "greeting"
	PhasePlanning   Phase = "planning"
	PhaseDone       Phase = "done"
)

// IsValid reports whether p is a known phase
func (p Phase) IsValid() bool {
	switch p {
	case PhaseOnboarding, PhaseGreeting, PhasePlanning, PhaseDone:
		return true
	default:
		return false
	}
}

// Greet moves an onboarding conversation to greeting once the user has introduced the project
func (p Phase) Greet() Phase {
	if p == PhaseOnboarding {
		return PhaseGreeting
	}
	return p
}

// Advance returns the phase after a planner turn. The first turn that merges
// nodes enters planning; a turn reporting done while planning enters done.
// Done is a label only: later merges are still applied and leave the phase at done.
func (p Phase) Advance(merged, done bool) Phase {
	next := p
	if merged && (next == PhaseOnboarding || next == PhaseGreeting) {
		next = PhasePlanning
	}
	if done && next == PhasePlanning {
		next = PhaseDone
	}
	return next
}
