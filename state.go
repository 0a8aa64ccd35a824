package machina

// StateKind discriminates the three structural kinds of state node
type StateKind int

const (
	// Atomic is a leaf state with no children
	Atomic StateKind = iota
	// Composite holds children of which exactly one is active at a time
	Composite
	// Parallel holds orthogonal regions that are all active simultaneously
	Parallel
)

// String returns the kind name
func (k StateKind) String() string {
	switch k {
	case Atomic:
		return "atomic"
	case Composite:
		return "composite"
	case Parallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// ActionFunc is an opaque callback invoked on entry, exit, during a
// transition, or as a do-activity. The engine never inspects it.
type ActionFunc func(ctx Context) error

// GuardFunc is a boolean predicate over the dispatch context
type GuardFunc func(ctx Context) bool

// StateNode is one node of the state tree. Nodes are structural only and
// immutable once defined; which child of a composite is active is runtime
// state owned by the Machine, so a single Definition can back any number of
// machine instances.
type StateNode struct {
	// ID is unique within the definition
	ID string
	// Kind selects atomic, composite, or parallel semantics
	Kind StateKind
	// Parent is the owning state id, empty for the root
	Parent string
	// Children holds child ids in declaration order
	Children []string
	// Initial names the child entered by default (Composite only)
	Initial string

	entryAction ActionFunc
	exitAction  ActionFunc
	doActivity  ActionFunc
}

// StateOption configures a state at definition time
type StateOption func(*StateNode)

// WithEntry sets the entry action
func WithEntry(action ActionFunc) StateOption {
	return func(s *StateNode) {
		s.entryAction = action
	}
}

// WithExit sets the exit action
func WithExit(action ActionFunc) StateOption {
	return func(s *StateNode) {
		s.exitAction = action
	}
}

// WithDo sets the do-activity, invoked synchronously right after the entry
// action completes
func WithDo(action ActionFunc) StateOption {
	return func(s *StateNode) {
		s.doActivity = action
	}
}

// WithInitial names the default child of a Composite
func WithInitial(childID string) StateOption {
	return func(s *StateNode) {
		s.Initial = childID
	}
}

// IsAtomic returns true for leaf states
func (s *StateNode) IsAtomic() bool {
	return s.Kind == Atomic
}

// IsComposite returns true for exclusive-OR container states
func (s *StateNode) IsComposite() bool {
	return s.Kind == Composite
}

// IsParallel returns true for orthogonal container states
func (s *StateNode) IsParallel() bool {
	return s.Kind == Parallel
}

// hasChild reports whether id is a direct child
func (s *StateNode) hasChild(id string) bool {
	for _, c := range s.Children {
		if c == id {
			return true
		}
	}
	return false
}
