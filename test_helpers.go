package machina

import (
	"slices"
	"sync"
	"testing"
)

// TestObserver captures every observer callback for assertions in tests
type TestObserver struct {
	mutex        sync.RWMutex
	Transitions  []TransitionRecord
	StateEnters  []StateRecord
	StateExits   []StateRecord
	EventRejects []RejectRecord
	Errors       []error
	Started      int
	Stopped      int
	TimerArms    []TimerRecord
	TimerFires   []TimerRecord
	TimerCancels []TimerRecord
	ClockMoves   []ClockRecord
	ClockResets  []ClockRecord
}

type TransitionRecord struct {
	From  string
	To    string
	Event Event
}

type StateRecord struct {
	State string
}

type RejectRecord struct {
	Event  Event
	Reason string
}

type TimerRecord struct {
	Handle   TimerHandle
	Owner    string
	Deadline int64
	Event    Event
}

type ClockRecord struct {
	Clock *Clock
	Old   int64
	Now   int64
}

// NewTestObserver creates an empty capture observer
func NewTestObserver() *TestObserver {
	return &TestObserver{}
}

func (o *TestObserver) OnTransition(from string, to string, event Event, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = append(o.Transitions, TransitionRecord{From: from, To: to, Event: event})
}

func (o *TestObserver) OnStateEnter(state string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.StateEnters = append(o.StateEnters, StateRecord{State: state})
}

func (o *TestObserver) OnStateExit(state string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.StateExits = append(o.StateExits, StateRecord{State: state})
}

func (o *TestObserver) OnEventRejected(event Event, reason string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.EventRejects = append(o.EventRejects, RejectRecord{Event: event, Reason: reason})
}

func (o *TestObserver) OnError(err error, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Errors = append(o.Errors, err)
}

func (o *TestObserver) OnMachineStarted(ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Started++
}

func (o *TestObserver) OnMachineStopped(ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Stopped++
}

func (o *TestObserver) OnTimerArmed(handle TimerHandle, owner string, deadline int64, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.TimerArms = append(o.TimerArms, TimerRecord{Handle: handle, Owner: owner, Deadline: deadline})
}

func (o *TestObserver) OnTimerFired(handle TimerHandle, owner string, event Event, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.TimerFires = append(o.TimerFires, TimerRecord{Handle: handle, Owner: owner, Event: event})
}

func (o *TestObserver) OnTimerCancelled(handle TimerHandle, owner string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.TimerCancels = append(o.TimerCancels, TimerRecord{Handle: handle, Owner: owner})
}

func (o *TestObserver) OnClockAdvanced(clock *Clock, old, now int64, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.ClockMoves = append(o.ClockMoves, ClockRecord{Clock: clock, Old: old, Now: now})
}

func (o *TestObserver) OnClockReset(clock *Clock, old, now int64, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.ClockResets = append(o.ClockResets, ClockRecord{Clock: clock, Old: old, Now: now})
}

// Reset clears all captures
func (o *TestObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = nil
	o.StateEnters = nil
	o.StateExits = nil
	o.EventRejects = nil
	o.Errors = nil
	o.Started = 0
	o.Stopped = 0
	o.TimerArms = nil
	o.TimerFires = nil
	o.TimerCancels = nil
	o.ClockMoves = nil
	o.ClockResets = nil
}

func (o *TestObserver) TransitionCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Transitions)
}

func (o *TestObserver) EnterSequence() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	seq := make([]string, len(o.StateEnters))
	for i, e := range o.StateEnters {
		seq[i] = e.State
	}
	return seq
}

func (o *TestObserver) ExitSequence() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	seq := make([]string, len(o.StateExits))
	for i, e := range o.StateExits {
		seq[i] = e.State
	}
	return seq
}

func (o *TestObserver) LastTransition() *TransitionRecord {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if len(o.Transitions) == 0 {
		return nil
	}
	return &o.Transitions[len(o.Transitions)-1]
}

func (o *TestObserver) ErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Errors)
}

// Shared machine shapes used across the test suite

// CreateSimpleMachine builds a flat three-state machine: idle -> running ->
// stopped -> idle
func CreateSimpleMachine() *Machine {
	def := NewBuilder().
		Root("root", WithInitial("idle")).
		Atomic("idle").
		Atomic("running").
		Atomic("stopped").
		Transition("idle", "start", "running").
		Transition("running", "stop", "stopped").
		Transition("stopped", "reset", "idle").
		MustBuild()
	return mustMachine(def)
}

// CreateHierarchicalMachine builds offline <-> online{idle, processing}
func CreateHierarchicalMachine() *Machine {
	def := NewBuilder().
		Root("root", WithInitial("offline")).
		Atomic("offline").
		Composite("online", WithInitial("online_idle")).
		Atomic("online_idle").
		Atomic("online_processing").
		End().
		Transition("offline", "connect", "online").
		Transition("online", "disconnect", "offline").
		Transition("online_idle", "process", "online_processing").
		Transition("online_processing", "complete", "online_idle").
		MustBuild()
	return mustMachine(def)
}

// CreateParallelMachine builds inactive -> active{motor{stopped, running},
// lights{off, on}}
func CreateParallelMachine() *Machine {
	def := NewBuilder().
		Root("root", WithInitial("inactive")).
		Atomic("inactive").
		Parallel("active").
		Composite("motor", WithInitial("motor_stopped")).
		Atomic("motor_stopped").
		Atomic("motor_running").
		End().
		Composite("lights", WithInitial("lights_off")).
		Atomic("lights_off").
		Atomic("lights_on").
		End().
		End().
		Transition("inactive", "activate", "active").
		Transition("active", "deactivate", "inactive").
		Transition("motor_stopped", "start_motor", "motor_running").
		Transition("lights_off", "turn_on_lights", "lights_on").
		MustBuild()
	return mustMachine(def)
}

// CreateTimerMachine builds armed -> fired where entering armed schedules a
// "timeout" event ten simulated seconds out
func CreateTimerMachine() *Machine {
	def := NewBuilder().
		Root("root", WithInitial("armed")).
		Atomic("armed", WithEntry(func(ctx Context) error {
			_, err := ctx.Machine().ArmTimer("armed", 10*Sec, NewEvent("timeout", nil))
			return err
		})).
		Atomic("fired").
		Transition("armed", "timeout", "fired").
		Transition("fired", "rearm", "armed").
		MustBuild()
	return mustMachine(def)
}

// CreateGuardedMachine builds a fork on the "go" event: the boolean "flag"
// machine variable picks between left and right
func CreateGuardedMachine() *Machine {
	flagIs := func(want bool) GuardFunc {
		return func(ctx Context) bool {
			v, ok := ctx.Get("flag")
			return ok && v.(bool) == want
		}
	}
	def := NewBuilder().
		Root("root", WithInitial("fork")).
		Atomic("fork").
		Atomic("left").
		Atomic("right").
		Transition("fork", "go", "left", WithGuard(flagIs(true))).
		Transition("fork", "go", "right", WithGuard(flagIs(false))).
		MustBuild()
	return mustMachine(def)
}

func mustMachine(def *Definition, opts ...MachineOption) *Machine {
	m, err := def.NewMachine(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Assertions

// AssertConfiguration checks the machine's active leaves
func AssertConfiguration(t *testing.T, m *Machine, expected ...string) {
	t.Helper()
	got := m.Configuration()
	if !slices.Equal(got, expected) {
		t.Errorf("expected configuration %v, got %v", expected, got)
	}
}

// AssertActive checks that a state is in the active configuration
func AssertActive(t *testing.T, m *Machine, id string) {
	t.Helper()
	if !m.IsActive(id) {
		t.Errorf("expected state '%s' to be active, configuration is %v", id, m.Configuration())
	}
}

// AssertNotActive checks that a state is not in the active configuration
func AssertNotActive(t *testing.T, m *Machine, id string) {
	t.Helper()
	if m.IsActive(id) {
		t.Errorf("expected state '%s' to be inactive, configuration is %v", id, m.Configuration())
	}
}

// AssertEventProcessed checks whether a dispatch fired a transition
func AssertEventProcessed(t *testing.T, result *EventResult, shouldProcess bool) {
	t.Helper()
	if result.Processed != shouldProcess {
		if shouldProcess {
			t.Errorf("expected event to be processed, rejected with: %s", result.RejectionReason)
		} else {
			t.Error("expected event to be rejected")
		}
	}
}

// AssertResultStates checks the configurations a dispatch reported
func AssertResultStates(t *testing.T, result *EventResult, previous, current []string) {
	t.Helper()
	if !slices.Equal(result.Previous, previous) {
		t.Errorf("expected previous %v, got %v", previous, result.Previous)
	}
	if !slices.Equal(result.Current, current) {
		t.Errorf("expected current %v, got %v", current, result.Current)
	}
}

// AssertNoError fails the test on error
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertErrorCode checks an error's classification
func AssertErrorCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := GetErrorCode(err); got != code {
		t.Errorf("expected error code %d, got %d (%v)", code, got, err)
	}
}
