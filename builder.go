package machina

// MachineBuilder assembles a Definition through a fluent interface. The
// first error encountered sticks and surfaces at Build, so call chains stay
// unbroken even when a declaration fails.
//
//	def, err := machina.NewBuilder().
//		Root("player", machina.WithInitial("stopped")).
//		Atomic("stopped").
//		Atomic("playing").
//		Transition("stopped", "play", "playing").
//		Transition("playing", "stop", "stopped").
//		Build()
type MachineBuilder struct {
	def *Definition
	err error
}

// NewBuilder creates an empty machine builder
func NewBuilder() *MachineBuilder {
	return &MachineBuilder{def: NewDefinition()}
}

func (mb *MachineBuilder) define(id string, kind StateKind, parent string, opts []StateOption) {
	if mb.err != nil {
		return
	}
	mb.err = mb.def.DefineState(id, kind, parent, opts...)
}

// Root declares the root as a composite state and opens its scope. Use
// RootParallel for a parallel root and RootAtomic for a degenerate
// single-state machine.
func (mb *MachineBuilder) Root(id string, opts ...StateOption) *StateScope {
	mb.define(id, Composite, "", opts)
	return &StateScope{mb: mb, id: id}
}

// RootParallel declares the root as a parallel state and opens its scope
func (mb *MachineBuilder) RootParallel(id string, opts ...StateOption) *StateScope {
	mb.define(id, Parallel, "", opts)
	return &StateScope{mb: mb, id: id}
}

// RootAtomic declares an atomic root and opens its scope
func (mb *MachineBuilder) RootAtomic(id string, opts ...StateOption) *StateScope {
	mb.define(id, Atomic, "", opts)
	return &StateScope{mb: mb, id: id}
}

// Build validates the declared tree and returns the definition
func (mb *MachineBuilder) Build() (*Definition, error) {
	if mb.err != nil {
		return nil, mb.err
	}
	if err := mb.def.Validate(); err != nil {
		return nil, err
	}
	return mb.def, nil
}

// StateScope declares children and transitions under one state. Composite
// and Parallel descend into the child's scope; End climbs back out.
type StateScope struct {
	mb     *MachineBuilder
	parent *StateScope
	id     string
}

// Atomic declares an atomic child and stays in this scope
func (s *StateScope) Atomic(id string, opts ...StateOption) *StateScope {
	s.mb.define(id, Atomic, s.id, opts)
	return s
}

// Composite declares a composite child and descends into its scope. The
// child needs WithInitial to name its default entry.
func (s *StateScope) Composite(id string, opts ...StateOption) *StateScope {
	s.mb.define(id, Composite, s.id, opts)
	return &StateScope{mb: s.mb, parent: s, id: id}
}

// Parallel declares a parallel child and descends into its scope; the states
// declared inside it are its orthogonal regions
func (s *StateScope) Parallel(id string, opts ...StateOption) *StateScope {
	s.mb.define(id, Parallel, s.id, opts)
	return &StateScope{mb: s.mb, parent: s, id: id}
}

// End returns to the enclosing scope; at the root it is a no-op
func (s *StateScope) End() *StateScope {
	if s.parent == nil {
		return s
	}
	return s.parent
}

// Transition declares a transition between two already-declared states.
// State ids are absolute, so transitions may be declared from any scope.
func (s *StateScope) Transition(source, event, target string, opts ...TransitionOption) *StateScope {
	if s.mb.err == nil {
		s.mb.err = s.mb.def.AddTransition(source, event, target, opts...)
	}
	return s
}

// OnCompletion declares a completion transition from source, taken
// automatically once source has been fully entered
func (s *StateScope) OnCompletion(source, target string, opts ...TransitionOption) *StateScope {
	return s.Transition(source, Completion, target, opts...)
}

// Build validates the declared tree and returns the definition
func (s *StateScope) Build() (*Definition, error) {
	return s.mb.Build()
}

// MustBuild is Build for declarations known to be well-formed; it panics on
// error
func (s *StateScope) MustBuild() *Definition {
	def, err := s.Build()
	if err != nil {
		panic(err)
	}
	return def
}
