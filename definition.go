package machina

import "fmt"

// Definition is the arena holding a machine's state tree and transition
// table. It is the sole owner of StateNodes; parent and child links are id
// references into it. Definitions are built once, validated, and then shared
// read-only by any number of Machine instances.
type Definition struct {
	states      map[string]*StateNode
	order       []string
	transitions map[string][]*Transition
	rootID      string
}

// NewDefinition creates an empty definition
func NewDefinition() *Definition {
	return &Definition{
		states:      make(map[string]*StateNode),
		transitions: make(map[string][]*Transition),
	}
}

// DefineState adds a state to the tree. The first state defined with an
// empty parent becomes the root; every later state must name a known,
// non-atomic parent. Composites must declare their initial child here (the
// child may be defined afterwards; Validate checks it resolves).
func (d *Definition) DefineState(id string, kind StateKind, parent string, opts ...StateOption) error {
	if id == "" {
		return NewHierarchyError("", "state id must not be empty")
	}
	if _, exists := d.states[id]; exists {
		return NewStateAlreadyDefinedError(id)
	}
	if parent == "" {
		if d.rootID != "" {
			return NewHierarchyError(id, fmt.Sprintf("root is already defined as '%s'", d.rootID))
		}
	} else {
		parentNode, ok := d.states[parent]
		if !ok {
			return NewStateNotFoundError(parent)
		}
		if parentNode.IsAtomic() {
			return NewHierarchyError(parent, "atomic state cannot own children")
		}
	}

	node := &StateNode{
		ID:     id,
		Kind:   kind,
		Parent: parent,
	}
	for _, opt := range opts {
		opt(node)
	}
	if node.Initial != "" && kind != Composite {
		return NewHierarchyError(id, "initial child is only valid on composite states")
	}
	if kind == Composite && node.Initial == "" {
		return NewHierarchyError(id, "composite state lacks an initial child")
	}

	d.states[id] = node
	d.order = append(d.order, id)
	if parent == "" {
		d.rootID = id
	} else {
		parentNode := d.states[parent]
		parentNode.Children = append(parentNode.Children, id)
	}
	return nil
}

// AddTransition registers a transition from source to target on the given
// event label. Two unguarded transitions on the same (source, event) are a
// provable overlap and rejected here; guarded overlaps surface at dispatch
// as AmbiguousTransition.
func (d *Definition) AddTransition(source, event, target string, opts ...TransitionOption) error {
	if _, ok := d.states[source]; !ok {
		return NewStateNotFoundError(source)
	}
	if _, ok := d.states[target]; !ok {
		return NewStateNotFoundError(target)
	}
	if event == "" {
		return NewTransitionError(ErrCodeInvalidTransition, source, target, event, "event label must not be empty")
	}

	t := &Transition{
		Source: source,
		Target: target,
		Event:  event,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Internal && source != target {
		return NewTransitionError(ErrCodeInvalidTransition, source, target, event,
			"internal transitions must target their own source")
	}
	if boundary := lca(d.states, source, target); boundary != "" && boundary != source && boundary != target && source != target {
		if d.states[boundary].Kind == Parallel {
			return NewHierarchyError(boundary,
				fmt.Sprintf("transition '%s'->'%s' would cross orthogonal regions", source, target))
		}
	}

	key := t.eventKey()
	for _, existing := range d.transitions[source] {
		if existing.eventKey() == key && existing.Guard == nil && t.Guard == nil {
			return NewAmbiguousTransitionError(source, event, 2)
		}
	}
	d.transitions[source] = append(d.transitions[source], t)
	return nil
}

// Validate checks the structural completeness rules that cannot be enforced
// while the tree is still being declared: the definition has a root, every
// composite's initial child resolves to one of its children, and every
// parallel has at least two regions.
func (d *Definition) Validate() error {
	if d.rootID == "" {
		return NewHierarchyError("", "no root state defined")
	}
	for _, id := range d.order {
		node := d.states[id]
		switch node.Kind {
		case Composite:
			if len(node.Children) == 0 {
				return NewHierarchyError(id, "composite state has no children")
			}
			if !node.hasChild(node.Initial) {
				return NewHierarchyError(id,
					fmt.Sprintf("initial child '%s' is not a child of '%s'", node.Initial, id))
			}
		case Parallel:
			if len(node.Children) < 2 {
				return NewHierarchyError(id, "parallel state requires at least two regions")
			}
		}
	}
	return nil
}

// Root returns the root state id, empty until one is defined
func (d *Definition) Root() string {
	return d.rootID
}

// State returns the node for id
func (d *Definition) State(id string) (*StateNode, bool) {
	node, ok := d.states[id]
	return node, ok
}

// StateIDs returns all state ids in definition order
func (d *Definition) StateIDs() []string {
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	return ids
}

// TransitionsFrom returns the transitions declared on source
func (d *Definition) TransitionsFrom(source string) []*Transition {
	ts := d.transitions[source]
	out := make([]*Transition, len(ts))
	copy(out, ts)
	return out
}
