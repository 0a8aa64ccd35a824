package machina

// Transition maps an event arriving while Source is active to a Target
// state. At most one transition per (source, event) may have a passing guard
// at dispatch time; more than one is an ambiguity error.
type Transition struct {
	Source string
	Target string
	Event  string
	Guard  GuardFunc
	Action ActionFunc
	// Internal suppresses exit and entry entirely; only valid on
	// self-targeted transitions.
	Internal bool
}

// TransitionOption configures a transition at definition time
type TransitionOption func(*Transition)

// WithGuard adds a guard condition to the transition
func WithGuard(guard GuardFunc) TransitionOption {
	return func(t *Transition) {
		t.Guard = guard
	}
}

// WithAction adds an action to the transition, invoked after exits and
// before entries
func WithAction(action ActionFunc) TransitionOption {
	return func(t *Transition) {
		t.Action = action
	}
}

// AsInternal marks the transition internal: the source neither exits nor
// re-enters, only the action runs
func AsInternal() TransitionOption {
	return func(t *Transition) {
		t.Internal = true
	}
}

// eventKey returns the lookup key a transition is stored under. Completion
// transitions are keyed per source state so they never leak into sibling
// regions.
func (t *Transition) eventKey() string {
	if t.Event == Completion {
		return completionEventName(t.Source)
	}
	return t.Event
}

// enabledTransitions returns the transitions registered on state for the
// event key whose guards pass under ctx. Guard panics count as rejection and
// are reported through onPanic.
func enabledTransitions(table map[string][]*Transition, state, key string, ctx Context, onPanic func(string, error)) []*Transition {
	var enabled []*Transition
	for _, t := range table[state] {
		if t.eventKey() != key {
			continue
		}
		if t.Guard == nil {
			enabled = append(enabled, t)
			continue
		}
		pass, err := safeEvaluateGuard(t.Guard, ctx)
		if err != nil {
			onPanic(state, err)
			continue
		}
		if pass {
			enabled = append(enabled, t)
		}
	}
	return enabled
}
