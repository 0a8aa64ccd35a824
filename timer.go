package machina

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// TimerHandle identifies an armed timer. Handles stay valid until the timer
// fires its final time or is cancelled.
type TimerHandle string

// timer is one armed entry in the registry. Deadlines live on the owning
// clock's timeline; seq preserves registration order for tie-breaking.
type timer struct {
	handle    TimerHandle
	owner     string
	clock     *Clock
	deadline  int64
	period    int64
	recurring bool
	event     Event
	seq       uint64
}

// timerArm collects ArmTimer options
type timerArm struct {
	absolute  bool
	period    int64
	recurring bool
}

// TimerOption configures a timer at arm time
type TimerOption func(*timerArm)

// WithPeriod makes the timer recurring: after each firing it re-arms at
// deadline + period
func WithPeriod(period int64) TimerOption {
	return func(a *timerArm) {
		a.recurring = true
		a.period = period
	}
}

// AtDeadline interprets ArmTimer's time argument as an absolute deadline on
// the owner's clock instead of a relative delay
func AtDeadline() TimerOption {
	return func(a *timerArm) {
		a.absolute = true
	}
}

// timerRegistry owns every armed timer of one machine instance
type timerRegistry struct {
	timers  map[TimerHandle]*timer
	nextSeq uint64
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		timers: make(map[TimerHandle]*timer),
	}
}

func (r *timerRegistry) arm(t *timer) {
	t.seq = r.nextSeq
	r.nextSeq++
	r.timers[t.handle] = t
}

// cancel removes the timer for handle; unknown handles are a no-op
func (r *timerRegistry) cancel(handle TimerHandle) (*timer, bool) {
	t, ok := r.timers[handle]
	if ok {
		delete(r.timers, handle)
	}
	return t, ok
}

// cancelOwned removes every timer owned by the given state, returned in
// registration order
func (r *timerRegistry) cancelOwned(owner string) []*timer {
	var cancelled []*timer
	for _, t := range r.timers {
		if t.owner == owner {
			cancelled = append(cancelled, t)
		}
	}
	for _, t := range cancelled {
		delete(r.timers, t.handle)
	}
	sortTimers(cancelled)
	return cancelled
}

// due returns the armed timer on clock c with the earliest deadline at or
// before the clock's current time, ties broken by registration order
func (r *timerRegistry) due(c *Clock) *timer {
	now := c.Now()
	var best *timer
	for _, t := range r.timers {
		if t.clock != c || t.deadline > now {
			continue
		}
		if best == nil || t.deadline < best.deadline ||
			(t.deadline == best.deadline && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// consume retires a fired timer: recurring timers re-arm at deadline+period
// keeping their handle and registration order, one-shot timers are removed
func (r *timerRegistry) consume(t *timer) {
	if t.recurring {
		t.deadline += t.period
		return
	}
	delete(r.timers, t.handle)
}

// shift moves every deadline on clock c by delta (rearm reset policy)
func (r *timerRegistry) shift(c *Clock, delta int64) {
	for _, t := range r.timers {
		if t.clock == c {
			t.deadline += delta
		}
	}
}

// dropClock removes every timer on clock c (drop reset policy), returned in
// registration order
func (r *timerRegistry) dropClock(c *Clock) []*timer {
	var dropped []*timer
	for _, t := range r.timers {
		if t.clock == c {
			dropped = append(dropped, t)
		}
	}
	for _, t := range dropped {
		delete(r.timers, t.handle)
	}
	sortTimers(dropped)
	return dropped
}

// all returns every armed timer in registration order
func (r *timerRegistry) all() []*timer {
	out := make([]*timer, 0, len(r.timers))
	for _, t := range r.timers {
		out = append(out, t)
	}
	sortTimers(out)
	return out
}

func sortTimers(ts []*timer) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].seq < ts[j].seq })
}

// ArmTimer schedules event against the owner state's effective clock. The
// timer is cancelled automatically when the owner exits, including as part
// of an ancestor's exit chain. By default when is a delay relative to the
// clock's current time; AtDeadline switches it to an absolute deadline and
// WithPeriod makes the timer recurring. Arming is legal from inside actions.
func (m *Machine) ArmTimer(owner string, when int64, event Event, opts ...TimerOption) (TimerHandle, error) {
	if err := m.requireRunning("arm_timer"); err != nil {
		return "", err
	}
	if _, ok := m.def.states[owner]; !ok {
		return "", NewStateNotFoundError(owner)
	}
	if event == nil {
		return "", NewInvalidTimerError(owner, "event must not be nil")
	}

	var arm timerArm
	for _, opt := range opts {
		opt(&arm)
	}
	if arm.recurring && arm.period <= 0 {
		return "", NewInvalidTimerError(owner, fmt.Sprintf("period must be positive, got %d", arm.period))
	}
	if !arm.absolute && when < 0 {
		return "", NewInvalidTimerError(owner, fmt.Sprintf("delay must not be negative, got %d", when))
	}

	clock := m.clockFor(owner)
	deadline := when
	if !arm.absolute {
		deadline = clock.Now() + when
	}

	t := &timer{
		handle:    TimerHandle(uuid.NewString()),
		owner:     owner,
		clock:     clock,
		deadline:  deadline,
		period:    arm.period,
		recurring: arm.recurring,
		event:     event,
	}
	m.mutex.Lock()
	m.timers.arm(t)
	m.mutex.Unlock()
	m.observers.NotifyTimerArmed(t.handle, owner, deadline, m.context)
	return t.handle, nil
}

// CancelTimer cancels the timer for handle and reports whether a timer was
// actually cancelled. Cancelling an unknown, already-fired, or
// already-cancelled handle is a no-op, never an error, so explicit
// cancellation can race exit-driven auto-cancellation safely.
func (m *Machine) CancelTimer(handle TimerHandle) bool {
	m.mutex.Lock()
	t, ok := m.timers.cancel(handle)
	m.mutex.Unlock()
	if ok {
		m.observers.NotifyTimerCancelled(t.handle, t.owner, m.context)
	}
	return ok
}

// Timers returns the handles of all armed timers in registration order
func (m *Machine) Timers() []TimerHandle {
	ts := m.allTimers()
	handles := make([]TimerHandle, len(ts))
	for i, t := range ts {
		handles[i] = t.handle
	}
	return handles
}

// AdvanceClock moves clock forward by the drift-scaled delta, then fires
// every due timer in deadline order (registration order on ties). Each fired
// event runs a full run-to-completion cycle before the next timer is
// considered, so a firing that exits another timer's owner cancels that
// timer before it can fire. Delta is reference time and must not be
// negative.
func (m *Machine) AdvanceClock(clock *Clock, delta int64) error {
	if clock == nil {
		return NewMachineError(ErrCodeInvalidClock, "advance_clock", "clock must not be nil")
	}
	if delta < 0 {
		return NewMachineError(ErrCodeInvalidClock, "advance_clock", fmt.Sprintf("delta must not be negative, got %d", delta))
	}
	if err := m.beginDispatch("advance_clock"); err != nil {
		return err
	}
	defer m.endDispatch()

	old := clock.Now()
	now := clock.advance(delta)
	m.observers.NotifyClockAdvanced(clock, old, now, m.context)

	var firstErr error
	for {
		t := m.consumeDue(clock)
		if t == nil {
			break
		}
		m.observers.NotifyTimerFired(t.handle, t.owner, t.event, m.context)
		if _, err := m.runCycle(t.event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// consumeDue pops the next due timer on clock, re-arming recurring ones
func (m *Machine) consumeDue(clock *Clock) *timer {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t := m.timers.due(clock)
	if t != nil {
		m.timers.consume(t)
	}
	return t
}

// ResetClock jumps clock to an arbitrary time, the only sanctioned
// non-monotonic move. In-flight timers on that clock follow its ResetPolicy:
// rearm keeps each timer's remaining delay relative to the new time, drop
// cancels them.
func (m *Machine) ResetClock(clock *Clock, now int64) error {
	if clock == nil {
		return NewMachineError(ErrCodeInvalidClock, "reset_clock", "clock must not be nil")
	}
	if err := m.beginDispatch("reset_clock"); err != nil {
		return err
	}
	defer m.endDispatch()

	old := clock.reset(now)
	switch clock.Policy() {
	case ResetDropTimers:
		m.mutex.Lock()
		dropped := m.timers.dropClock(clock)
		m.mutex.Unlock()
		for _, t := range dropped {
			m.observers.NotifyTimerCancelled(t.handle, t.owner, m.context)
		}
	default:
		m.mutex.Lock()
		m.timers.shift(clock, now-old)
		m.mutex.Unlock()
	}
	m.observers.NotifyClockReset(clock, old, now, m.context)
	return nil
}

// SetClock assigns a clock to the subtree rooted at stateID. A state's
// effective clock is the nearest self-or-ancestor assignment, falling back
// to the machine clock. Timers already armed keep the clock they were armed
// against.
func (m *Machine) SetClock(stateID string, clock *Clock) error {
	if clock == nil {
		return NewMachineError(ErrCodeInvalidClock, "set_clock", "clock must not be nil")
	}
	if _, ok := m.def.states[stateID]; !ok {
		return NewStateNotFoundError(stateID)
	}
	m.mutex.Lock()
	m.clocks[stateID] = clock
	m.mutex.Unlock()
	return nil
}

// Clock returns the machine's default clock
func (m *Machine) Clock() *Clock {
	return m.clock
}

// ClockFor returns the effective clock for stateID, nil for unknown states
func (m *Machine) ClockFor(stateID string) *Clock {
	if _, ok := m.def.states[stateID]; !ok {
		return nil
	}
	return m.clockFor(stateID)
}

// clockFor resolves the nearest self-or-ancestor clock assignment
func (m *Machine) clockFor(stateID string) *Clock {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for id := stateID; id != ""; {
		if c, ok := m.clocks[id]; ok {
			return c
		}
		node, ok := m.def.states[id]
		if !ok {
			break
		}
		id = node.Parent
	}
	return m.clock
}
