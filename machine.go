package machina

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MachineStatus represents the lifecycle phase of a machine instance
type MachineStatus int

const (
	// StatusNotStarted means Start has not been called yet
	StatusNotStarted MachineStatus = iota
	// StatusRunning means the machine is accepting events
	StatusRunning
	// StatusStopped means the machine has been torn down; stopped machines
	// do not restart
	StatusStopped
)

// String returns the status name
func (s MachineStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// defaultMaxInternalEvents bounds how many queued events a single
// run-to-completion cycle may drain before it is treated as a runaway loop
const defaultMaxInternalEvents = 1024

// Machine is a running instance over a shared, read-only Definition. All
// mutable runtime state lives here: the active configuration, the internal
// event queue, armed timers, and clock assignments.
//
// Exactly one run-to-completion cycle executes at a time. Dispatch,
// AdvanceClock, and ResetClock claim the cycle; calling any of them from
// inside a guard or action is refused with a ReentrantDispatch error instead
// of deadlocking. Actions queue follow-up events with Context.Post.
type Machine struct {
	id  string
	def *Definition

	clock  *Clock
	clocks map[string]*Clock

	// activeChild records, per composite id, which child is currently
	// entered. The active configuration is derived from it and the root.
	activeChild map[string]string

	queue       []Event
	maxInternal int

	timers    *timerRegistry
	context   *machineContext
	observers *ObserverManager

	mutex       sync.RWMutex
	status      MachineStatus
	dispatching bool
}

// MachineOption configures a machine at creation time
type MachineOption func(*Machine)

// WithID overrides the generated machine id
func WithID(id string) MachineOption {
	return func(m *Machine) {
		m.id = id
	}
}

// WithClock replaces the machine's default clock
func WithClock(clock *Clock) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMaxInternalEvents adjusts the internal event budget of one
// run-to-completion cycle
func WithMaxInternalEvents(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.maxInternal = n
		}
	}
}

// WithObserver registers an observer before the machine starts
func WithObserver(observer Observer) MachineOption {
	return func(m *Machine) {
		if observer != nil {
			m.observers.AddObserver(observer)
		}
	}
}

// NewMachine validates the definition and creates a machine in the
// NotStarted state. The definition is shared: many machines may run over it
// concurrently, each with its own configuration, timers, and clocks.
func (d *Definition) NewMachine(opts ...MachineOption) (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		id:          uuid.NewString(),
		def:         d,
		clock:       NewClock(),
		clocks:      make(map[string]*Clock),
		activeChild: make(map[string]string),
		maxInternal: defaultMaxInternalEvents,
		timers:      newTimerRegistry(),
		observers:   NewObserverManager(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.context = newMachineContext(m)
	return m, nil
}

// ID returns the machine id
func (m *Machine) ID() string {
	return m.id
}

// Definition returns the shared definition
func (m *Machine) Definition() *Definition {
	return m.def
}

// Status returns the lifecycle phase
func (m *Machine) Status() MachineStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.status
}

// IsRunning reports whether the machine has started and not stopped
func (m *Machine) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Context returns the machine's dispatch context
func (m *Machine) Context() Context {
	return m.context
}

// AddObserver registers an observer
func (m *Machine) AddObserver(observer Observer) {
	m.observers.AddObserver(observer)
}

// RemoveObserver unregisters an observer
func (m *Machine) RemoveObserver(observer Observer) {
	m.observers.RemoveObserver(observer)
}

// Set stores a value in the machine's key/value store
func (m *Machine) Set(key string, value any) {
	m.context.Set(key, value)
}

// Get reads a value from the machine's key/value store
func (m *Machine) Get(key string) (any, bool) {
	return m.context.Get(key)
}

// Start enters the initial configuration: the root is entered, composites
// descend into their initial children and parallels into every region, entry
// actions firing outermost first. Completion transitions enabled by the
// initial entry run before Start returns. A machine starts at most once.
func (m *Machine) Start() error {
	m.mutex.Lock()
	switch m.status {
	case StatusRunning:
		m.mutex.Unlock()
		return NewMachineAlreadyStartedError("start")
	case StatusStopped:
		m.mutex.Unlock()
		return NewMachineStoppedError("start")
	}
	m.status = StatusRunning
	m.dispatching = true
	m.mutex.Unlock()
	defer m.endDispatch()

	var entered []string
	var firstErr error
	m.enterNode(m.def.rootID, nil, &entered, &firstErr)
	m.queueCompletions(entered)

	m.observers.NotifyMachineStarted(m.context)

	if err := m.drainQueue(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stop exits the active configuration innermost first, running exit actions
// and cancelling timers, then stops the machine for good.
func (m *Machine) Stop() error {
	m.mutex.Lock()
	if m.status != StatusRunning {
		m.mutex.Unlock()
		return NewMachineNotStartedError("stop")
	}
	if m.dispatching {
		m.mutex.Unlock()
		return NewReentrantDispatchError("stop")
	}
	m.dispatching = true
	m.mutex.Unlock()

	var firstErr error
	exits := exitSubtree(m.def.states, m.activeChild, m.def.rootID)
	m.runExits(exits, &firstErr)

	for _, t := range m.allTimers() {
		m.dropTimer(t.handle)
		m.observers.NotifyTimerCancelled(t.handle, t.owner, m.context)
	}

	m.mutex.Lock()
	m.queue = nil
	m.status = StatusStopped
	m.dispatching = false
	m.mutex.Unlock()

	m.observers.NotifyMachineStopped(m.context)
	return firstErr
}

// Dispatch delivers an external event and runs one full run-to-completion
// cycle: the event resolves against the current configuration, fires, and
// every event queued by actions or by completions drains in FIFO order
// before Dispatch returns. The result reports the configurations before and
// after the whole cycle.
//
// Dispatch never blocks on itself. When called from inside a guard or
// action it returns a ReentrantDispatch error; use Context.Post there.
func (m *Machine) Dispatch(event Event) *EventResult {
	return m.DispatchWithContext(context.Background(), event)
}

// DispatchWithContext is Dispatch with a caller-supplied context.Context
// that guards and actions observe for deadlines and cancellation.
func (m *Machine) DispatchWithContext(ctx context.Context, event Event) *EventResult {
	previous := m.Configuration()
	if event == nil {
		return NewEventResult(false, false, previous, previous).
			WithRejection("event must not be nil")
	}
	if strings.HasPrefix(event.GetName(), "__completion_") {
		reason := fmt.Sprintf("event name '%s' is reserved for completion events", event.GetName())
		m.observers.NotifyEventRejected(event, reason, m.context)
		return NewEventResult(false, false, previous, previous).WithRejection(reason)
	}
	if err := m.beginDispatch("dispatch"); err != nil {
		return NewEventResult(false, false, previous, previous).WithError(err)
	}
	defer m.endDispatch()

	m.context.setBase(ctx)
	defer m.context.setBase(context.Background())

	result, _ := m.runCycle(event)
	return result
}

// DispatchEvent is shorthand for Dispatch(NewEvent(name, data))
func (m *Machine) DispatchEvent(name string, data any) *EventResult {
	return m.Dispatch(NewEvent(name, data))
}

// Post queues an event behind the current run-to-completion cycle. Inside a
// guard or action this is the only legal way to produce follow-up events;
// outside a cycle it dispatches immediately with the result discarded.
// Events posted to a machine that is not running are rejected.
func (m *Machine) Post(event Event) {
	if event == nil {
		return
	}
	m.mutex.Lock()
	if m.status != StatusRunning {
		m.mutex.Unlock()
		m.observers.NotifyEventRejected(event, "machine is not running", m.context)
		return
	}
	m.queue = append(m.queue, event)
	claimed := !m.dispatching
	if claimed {
		m.dispatching = true
	}
	m.mutex.Unlock()

	if !claimed {
		return
	}
	defer m.endDispatch()
	// errors are notified where they occur
	_ = m.drainQueue()
}

// requireRunning verifies the machine accepts the operation
func (m *Machine) requireRunning(operation string) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.requireRunningLocked(operation)
}

func (m *Machine) requireRunningLocked(operation string) error {
	switch m.status {
	case StatusNotStarted:
		return NewMachineNotStartedError(operation)
	case StatusStopped:
		return NewMachineStoppedError(operation)
	}
	return nil
}

// beginDispatch claims the machine's single run-to-completion slot
func (m *Machine) beginDispatch(operation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.requireRunningLocked(operation); err != nil {
		return err
	}
	if m.dispatching {
		return NewReentrantDispatchError(operation)
	}
	m.dispatching = true
	return nil
}

func (m *Machine) endDispatch() {
	m.mutex.Lock()
	m.dispatching = false
	m.mutex.Unlock()
}

// runCycle performs one run-to-completion cycle for a trigger event whose
// dispatch slot is already claimed: deliver the trigger, then drain the
// internal queue until it is empty or the budget runs out.
func (m *Machine) runCycle(event Event) (*EventResult, error) {
	previous := m.Configuration()

	fired, firstErr := m.dispatchOne(event)

	if err := m.drainQueue(); err != nil && firstErr == nil {
		firstErr = err
	}

	current := m.Configuration()
	result := NewEventResult(fired, !slices.Equal(previous, current), previous, current)
	if firstErr != nil {
		result.WithError(firstErr)
	}
	if !fired && firstErr == nil {
		reason := fmt.Sprintf("no active state handles event '%s'", event.GetName())
		result.WithRejection(reason)
		m.observers.NotifyEventRejected(event, reason, m.context)
	}
	return result, firstErr
}

// drainQueue delivers queued events in FIFO order until the queue is empty.
// Delivered events may queue more; the budget turns a completion or post
// loop into an EventOverflow error instead of a hang. Queued events that no
// active state handles are dropped silently.
func (m *Machine) drainQueue() error {
	var firstErr error
	for delivered := 0; ; delivered++ {
		m.mutex.Lock()
		if len(m.queue) == 0 {
			m.mutex.Unlock()
			return firstErr
		}
		if delivered >= m.maxInternal {
			pending := len(m.queue)
			m.queue = nil
			m.mutex.Unlock()
			err := NewMachineError(ErrCodeEventOverflow, "dispatch",
				fmt.Sprintf("internal event budget of %d exhausted with %d events still queued",
					m.maxInternal, pending))
			m.observers.NotifyError(err, m.context)
			if firstErr == nil {
				firstErr = err
			}
			return firstErr
		}
		event := m.queue[0]
		m.queue = m.queue[1:]
		m.mutex.Unlock()

		if _, err := m.dispatchOne(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

// dispatchOne resolves and applies transitions for a single event against
// the current configuration. Resolution mutates nothing, so an ambiguity
// abort leaves the configuration untouched. Application skips resolutions
// whose source an earlier transition of the same event has already exited.
func (m *Machine) dispatchOne(event Event) (bool, error) {
	m.context.setEvent(event)

	selected, err := m.resolve(event.GetName())
	if err != nil {
		m.observers.NotifyError(err, m.context)
		return false, err
	}
	if len(selected) == 0 {
		return false, nil
	}

	fired := false
	var firstErr error
	for _, t := range selected {
		if !isActiveState(m.def.states, m.activeChild, m.def.rootID, t.Source) {
			continue
		}
		fired = true
		if err := m.applyTransition(t, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return fired, firstErr
}

// resolve selects at most one transition per active leaf by bubbling the
// event from each leaf toward the root and stopping at the first state with
// an enabled transition. Two enabled transitions on the same state for the
// same event are an ambiguity; the whole dispatch aborts before any effect.
// Leaves in sibling regions that bubble to the same ancestor transition
// yield it once.
func (m *Machine) resolve(eventKey string) ([]*Transition, error) {
	leaves := activeLeaves(m.def.states, m.activeChild, m.def.rootID)
	onPanic := func(state string, err error) {
		m.observers.NotifyError(NewActionError("guard", state, err), m.context)
	}

	var selected []*Transition
	seen := make(map[*Transition]bool)
	for _, leaf := range leaves {
		for state := leaf; state != ""; {
			m.context.setTransition(state, "")
			enabled := enabledTransitions(m.def.transitions, state, eventKey, m.context, onPanic)
			if len(enabled) > 1 {
				return nil, NewAmbiguousTransitionError(state, eventKey, len(enabled))
			}
			if len(enabled) == 1 {
				if !seen[enabled[0]] {
					seen[enabled[0]] = true
					selected = append(selected, enabled[0])
				}
				break
			}
			node, ok := m.def.states[state]
			if !ok {
				break
			}
			state = node.Parent
		}
	}
	return selected, nil
}

// applyTransition runs the exit-action-entry sequence for one selected
// transition. Internal transitions run only their action. External
// self-transitions exit and re-enter their source in full. Everything else
// is scoped by the source/target boundary: states strictly inside it exit
// innermost first, then the target chain enters outermost first with default
// selections below the target.
func (m *Machine) applyTransition(t *Transition, event Event) error {
	m.context.setTransition(t.Source, t.Target)

	var firstErr error
	if t.Internal {
		m.runAction(t.Action, "transition", t.Source, &firstErr)
		m.observers.NotifyTransition(t.Source, t.Target, event, m.context)
		return firstErr
	}

	var boundary string
	var exits []string
	if t.Source == t.Target {
		boundary = m.def.states[t.Source].Parent
		exits = exitSubtree(m.def.states, m.activeChild, t.Source)
	} else {
		boundary = lca(m.def.states, t.Source, t.Target)
		exits = m.exitsBelow(boundary)
	}
	pin := pathBetween(m.def.states, boundary, t.Target)

	m.runExits(exits, &firstErr)
	if boundary != "" {
		if node := m.def.states[boundary]; node.Kind == Composite {
			m.clearActiveChild(boundary)
		}
	}

	m.runAction(t.Action, "transition", t.Source, &firstErr)

	var entered []string
	m.enterUnder(boundary, pin, &entered, &firstErr)
	m.queueCompletions(entered)

	m.observers.NotifyTransition(t.Source, t.Target, event, m.context)
	return firstErr
}

// exitsBelow returns the active states strictly inside boundary, innermost
// first. An empty boundary means the whole tree exits, root included.
func (m *Machine) exitsBelow(boundary string) []string {
	if boundary == "" {
		return exitSubtree(m.def.states, m.activeChild, m.def.rootID)
	}
	node := m.def.states[boundary]
	var exits []string
	switch node.Kind {
	case Composite:
		if child := m.activeChild[boundary]; child != "" {
			exits = exitSubtree(m.def.states, m.activeChild, child)
		}
	case Parallel:
		for _, child := range node.Children {
			exits = append(exits, exitSubtree(m.def.states, m.activeChild, child)...)
		}
	}
	return exits
}

// runExits leaves each state in order: exit action, timer auto-cancel,
// observer notification, then removal from the configuration.
func (m *Machine) runExits(exits []string, firstErr *error) {
	for _, id := range exits {
		node, ok := m.def.states[id]
		if !ok {
			continue
		}
		m.runAction(node.exitAction, "exit", id, firstErr)
		for _, t := range m.cancelOwnedTimers(id) {
			m.observers.NotifyTimerCancelled(t.handle, t.owner, m.context)
		}
		m.observers.NotifyStateExit(id, m.context)
		m.clearActiveChild(id)
	}
}

// enterUnder enters states below boundary. pin is the chain to force,
// outermost first; where it runs out, composite initial selections and
// parallel region fan-out take over. The boundary itself is already active
// and is not re-entered. An empty boundary enters the pinned chain from the
// root.
func (m *Machine) enterUnder(boundary string, pin []string, entered *[]string, firstErr *error) {
	if boundary == "" {
		if len(pin) > 0 {
			m.enterNode(pin[0], pin[1:], entered, firstErr)
		}
		return
	}
	node, ok := m.def.states[boundary]
	if !ok {
		return
	}
	switch node.Kind {
	case Composite:
		child := node.Initial
		var rest []string
		if len(pin) > 0 {
			child = pin[0]
			rest = pin[1:]
		}
		m.enterNode(child, rest, entered, firstErr)
	case Parallel:
		for _, child := range node.Children {
			if len(pin) > 0 && pin[0] == child {
				m.enterNode(child, pin[1:], entered, firstErr)
			} else {
				m.enterNode(child, nil, entered, firstErr)
			}
		}
	}
}

// enterNode enters id and drives entry downward: record the selection on the
// parent, run the entry action and do-activity, then recurse into children
// with whatever remains of the pin.
func (m *Machine) enterNode(id string, pin []string, entered *[]string, firstErr *error) {
	node, ok := m.def.states[id]
	if !ok {
		return
	}
	if node.Parent != "" {
		if parent, ok := m.def.states[node.Parent]; ok && parent.Kind == Composite {
			m.setActiveChild(node.Parent, id)
		}
	}
	m.runAction(node.entryAction, "entry", id, firstErr)
	*entered = append(*entered, id)
	m.observers.NotifyStateEnter(id, m.context)
	m.runAction(node.doActivity, "do", id, firstErr)
	m.enterUnder(id, pin, entered, firstErr)
}

// queueCompletions queues the scoped completion event of every entered state
// that declares a completion transition, innermost first.
func (m *Machine) queueCompletions(entered []string) {
	for i := len(entered) - 1; i >= 0; i-- {
		id := entered[i]
		if !m.hasCompletionTransition(id) {
			continue
		}
		m.mutex.Lock()
		m.queue = append(m.queue, NewEvent(completionEventName(id), nil))
		m.mutex.Unlock()
	}
}

func (m *Machine) hasCompletionTransition(id string) bool {
	for _, t := range m.def.transitions[id] {
		if t.Event == Completion {
			return true
		}
	}
	return false
}

// runAction executes one action with panic containment. Failures are
// reported to observers and recorded as the cycle's first error; they never
// halt the exit/entry sequence, so the configuration always lands in a
// well-defined place.
func (m *Machine) runAction(action ActionFunc, label, state string, firstErr *error) {
	if action == nil {
		return
	}
	if err := safeExecuteAction(action, m.context); err != nil {
		wrapped := NewActionError(label, state, err)
		m.observers.NotifyError(wrapped, m.context)
		if *firstErr == nil {
			*firstErr = wrapped
		}
	}
}

// safeEvaluateGuard evaluates a guard with panic recovery
func safeEvaluateGuard(guard GuardFunc, ctx Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	result = guard(ctx)
	return result, nil
}

// safeExecuteAction executes an action with panic recovery
func safeExecuteAction(action ActionFunc, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	err = action(ctx)
	return err
}

// Configuration bookkeeping helpers. Writes happen only on the goroutine
// holding the dispatch slot; the lock keeps concurrent readers coherent.

func (m *Machine) setActiveChild(parent, child string) {
	m.mutex.Lock()
	m.activeChild[parent] = child
	m.mutex.Unlock()
}

func (m *Machine) clearActiveChild(id string) {
	m.mutex.Lock()
	delete(m.activeChild, id)
	m.mutex.Unlock()
}

func (m *Machine) cancelOwnedTimers(owner string) []*timer {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.timers.cancelOwned(owner)
}

func (m *Machine) dropTimer(handle TimerHandle) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.timers.cancel(handle)
}

func (m *Machine) allTimers() []*timer {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.timers.all()
}

// Configuration returns the active leaf states in document order: a
// composite contributes its active branch, a parallel every region. Empty
// unless the machine is running.
func (m *Machine) Configuration() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.status != StatusRunning {
		return nil
	}
	return activeLeaves(m.def.states, m.activeChild, m.def.rootID)
}

// ActiveStates returns every active state, containers included, outermost
// first in document order. Empty unless the machine is running.
func (m *Machine) ActiveStates() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.status != StatusRunning {
		return nil
	}
	var states []string
	var walk func(id string)
	walk = func(id string) {
		node, ok := m.def.states[id]
		if !ok {
			return
		}
		states = append(states, id)
		switch node.Kind {
		case Composite:
			if child := m.activeChild[id]; child != "" {
				walk(child)
			}
		case Parallel:
			for _, child := range node.Children {
				walk(child)
			}
		}
	}
	walk(m.def.rootID)
	return states
}

// IsActive reports whether id is in the active configuration, containers
// included
func (m *Machine) IsActive(id string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.status != StatusRunning {
		return false
	}
	return isActiveState(m.def.states, m.activeChild, m.def.rootID, id)
}

// ActiveChild returns the currently entered child of a composite state,
// empty if none is selected
func (m *Machine) ActiveChild(id string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.activeChild[id]
}
