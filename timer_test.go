package machina

import (
	"testing"
)

// twoStateDef builds waiting/done with a timeout transition, leaving timer
// arming to the test
func twoStateDef() *Definition {
	return NewBuilder().
		Root("root", WithInitial("waiting")).
		Atomic("waiting").
		Atomic("done").
		Transition("waiting", "timeout", "done").
		Transition("done", "rewind", "waiting").
		MustBuild()
}

func TestArmTimer_FiresOnAdvance(t *testing.T) {
	machine := mustMachine(twoStateDef())
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	handle, err := machine.ArmTimer("waiting", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)
	if len(observer.TimerArms) != 1 || observer.TimerArms[0].Handle != handle {
		t.Fatalf("Expected arm notification for %s, got %+v", handle, observer.TimerArms)
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 9*Sec))
	AssertConfiguration(t, machine, "waiting")
	if len(observer.TimerFires) != 0 {
		t.Fatal("Expected no firing before the deadline")
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), Sec))
	AssertConfiguration(t, machine, "done")
	if len(observer.TimerFires) != 1 || observer.TimerFires[0].Handle != handle {
		t.Errorf("Expected fire notification for %s, got %+v", handle, observer.TimerFires)
	}
	if len(machine.Timers()) != 0 {
		t.Errorf("Expected one-shot timer gone after firing, got %v", machine.Timers())
	}
}

func TestArmTimer_RequiresRunning(t *testing.T) {
	machine := mustMachine(twoStateDef())

	_, err := machine.ArmTimer("waiting", Sec, NewEvent("timeout", nil))
	AssertErrorCode(t, err, ErrCodeMachineNotStarted)
}

func TestArmTimer_UnknownOwner(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("ghost", Sec, NewEvent("timeout", nil))
	if !IsUnknownState(err) {
		t.Errorf("Expected unknown state error, got: %v", err)
	}
}

func TestArmTimer_InvalidArguments(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("waiting", Sec, nil)
	AssertErrorCode(t, err, ErrCodeInvalidTimer)

	_, err = machine.ArmTimer("waiting", -Sec, NewEvent("timeout", nil))
	AssertErrorCode(t, err, ErrCodeInvalidTimer)

	_, err = machine.ArmTimer("waiting", Sec, NewEvent("timeout", nil), WithPeriod(0))
	AssertErrorCode(t, err, ErrCodeInvalidTimer)

	_, err = machine.ArmTimer("waiting", Sec, NewEvent("timeout", nil), WithPeriod(-Sec))
	AssertErrorCode(t, err, ErrCodeInvalidTimer)
}

func TestArmTimer_AtDeadline(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 5*Sec))

	_, err := machine.ArmTimer("waiting", 8*Sec, NewEvent("timeout", nil), AtDeadline())
	AssertNoError(t, err)

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 3*Sec))
	AssertConfiguration(t, machine, "done")
}

func TestArmTimer_AtDeadlineAlreadyDue(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 5*Sec))

	// a deadline in the past fires on the next advance, even a zero one
	_, err := machine.ArmTimer("waiting", 2*Sec, NewEvent("timeout", nil), AtDeadline())
	AssertNoError(t, err)

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 0))
	AssertConfiguration(t, machine, "done")
}

func TestTimer_FireInDeadlineOrder(t *testing.T) {
	var order []string
	def := NewBuilder().
		Root("root", WithInitial("s")).
		Atomic("s").
		Transition("s", "late", "s", AsInternal(), WithAction(func(ctx Context) error {
			order = append(order, "late")
			return nil
		})).
		Transition("s", "early", "s", AsInternal(), WithAction(func(ctx Context) error {
			order = append(order, "early")
			return nil
		})).
		MustBuild()
	machine := mustMachine(def)
	AssertNoError(t, machine.Start())

	// armed in reverse deadline order
	_, err := machine.ArmTimer("s", 5*Sec, NewEvent("late", nil))
	AssertNoError(t, err)
	_, err = machine.ArmTimer("s", 3*Sec, NewEvent("early", nil))
	AssertNoError(t, err)

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 10*Sec))

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("Expected deadline-ordered firing [early late], got %v", order)
	}
}

func TestTimer_EqualDeadlinesFireInArmOrder(t *testing.T) {
	var order []string
	def := NewBuilder().
		Root("root", WithInitial("s")).
		Atomic("s").
		Transition("s", "first", "s", AsInternal(), WithAction(func(ctx Context) error {
			order = append(order, "first")
			return nil
		})).
		Transition("s", "second", "s", AsInternal(), WithAction(func(ctx Context) error {
			order = append(order, "second")
			return nil
		})).
		MustBuild()
	machine := mustMachine(def)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("s", 4*Sec, NewEvent("first", nil))
	AssertNoError(t, err)
	_, err = machine.ArmTimer("s", 4*Sec, NewEvent("second", nil))
	AssertNoError(t, err)

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 4*Sec))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected arm-ordered firing [first second], got %v", order)
	}
}

func TestTimer_RecurringFiresEveryPeriod(t *testing.T) {
	ticks := 0
	def := NewBuilder().
		Root("root", WithInitial("s")).
		Atomic("s").
		Transition("s", "tick", "s", AsInternal(), WithAction(func(ctx Context) error {
			ticks++
			return nil
		})).
		MustBuild()
	machine := mustMachine(def)
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	handle, err := machine.ArmTimer("s", 2*Sec, NewEvent("tick", nil), WithPeriod(2*Sec))
	AssertNoError(t, err)

	// one advance crossing several periods fires once per period
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 7*Sec))
	if ticks != 3 {
		t.Errorf("Expected 3 ticks over 7 seconds at a 2 second period, got %d", ticks)
	}

	// the handle survives every firing
	for _, fire := range observer.TimerFires {
		if fire.Handle != handle {
			t.Errorf("Expected stable handle %s, got %s", handle, fire.Handle)
		}
	}
	if len(machine.Timers()) != 1 || machine.Timers()[0] != handle {
		t.Errorf("Expected recurring timer still armed, got %v", machine.Timers())
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), Sec))
	if ticks != 4 {
		t.Errorf("Expected tick at the 8 second mark, got %d", ticks)
	}
}

func TestCancelTimer_Idempotent(t *testing.T) {
	machine := mustMachine(twoStateDef())
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	handle, err := machine.ArmTimer("waiting", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	if !machine.CancelTimer(handle) {
		t.Error("Expected first cancel to report true")
	}
	if machine.CancelTimer(handle) {
		t.Error("Expected second cancel to report false")
	}
	if machine.CancelTimer("no-such-handle") {
		t.Error("Expected cancel of unknown handle to report false")
	}
	if len(observer.TimerCancels) != 1 {
		t.Errorf("Expected exactly 1 cancel notification, got %d", len(observer.TimerCancels))
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 20*Sec))
	AssertConfiguration(t, machine, "waiting")
}

func TestTimer_AutoCancelOnOwnerExit(t *testing.T) {
	def := NewBuilder().
		Root("root", WithInitial("a")).
		Atomic("a").
		Atomic("b").
		Transition("a", "leave", "b").
		Transition("a", "timeout", "b").
		MustBuild()
	machine := mustMachine(def)
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("a", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	_ = machine.DispatchEvent("leave", nil)

	if len(observer.TimerCancels) != 1 {
		t.Errorf("Expected auto-cancel on owner exit, got %d cancels", len(observer.TimerCancels))
	}
	if len(machine.Timers()) != 0 {
		t.Errorf("Expected no armed timers after owner exit, got %v", machine.Timers())
	}
}

func TestTimer_AutoCancelOnAncestorExit(t *testing.T) {
	def := NewBuilder().
		Root("root", WithInitial("outer")).
		Composite("outer", WithInitial("inner")).
		Atomic("inner").
		End().
		Atomic("elsewhere").
		Transition("outer", "leave", "elsewhere").
		MustBuild()
	machine := mustMachine(def)
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("inner", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	_ = machine.DispatchEvent("leave", nil)

	if len(observer.TimerCancels) != 1 {
		t.Errorf("Expected auto-cancel when an ancestor exits, got %d cancels", len(observer.TimerCancels))
	}
}

func TestTimer_FiringCancelsLaterDueTimer(t *testing.T) {
	def := NewBuilder().
		Root("root", WithInitial("active")).
		Parallel("active").
		Composite("r1", WithInitial("x1")).
		Atomic("x1").
		End().
		Composite("r2", WithInitial("x2")).
		Atomic("x2").
		Atomic("y2").
		End().
		End().
		Atomic("outside").
		Transition("x1", "break", "outside").
		Transition("x2", "nudge", "y2").
		MustBuild()
	machine := mustMachine(def)
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("x1", 5*Sec, NewEvent("break", nil))
	AssertNoError(t, err)
	_, err = machine.ArmTimer("x2", 6*Sec, NewEvent("nudge", nil))
	AssertNoError(t, err)

	// both deadlines fall inside one advance, but the first firing exits the
	// whole parallel state and takes the second timer with it
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 10*Sec))

	AssertConfiguration(t, machine, "outside")
	if len(observer.TimerFires) != 1 {
		t.Errorf("Expected only the first timer to fire, got %d fires", len(observer.TimerFires))
	}
	if len(observer.TimerCancels) != 1 {
		t.Errorf("Expected the second timer cancelled by the exit, got %d cancels", len(observer.TimerCancels))
	}
}

func TestTimer_ListedInArmOrder(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())

	h1, _ := machine.ArmTimer("waiting", 5*Sec, NewEvent("timeout", nil))
	h2, _ := machine.ArmTimer("waiting", 3*Sec, NewEvent("timeout", nil))
	h3, _ := machine.ArmTimer("root", 4*Sec, NewEvent("timeout", nil))

	handles := machine.Timers()
	if len(handles) != 3 || handles[0] != h1 || handles[1] != h2 || handles[2] != h3 {
		t.Errorf("Expected registration order [%s %s %s], got %v", h1, h2, h3, handles)
	}
}

func TestSetClock_SubtreeResolution(t *testing.T) {
	region := NewClock(WithClockName("region"))
	def := NewBuilder().
		Root("root", WithInitial("outer")).
		Composite("outer", WithInitial("inner")).
		Atomic("inner").
		End().
		Atomic("elsewhere").
		MustBuild()
	machine := mustMachine(def)

	AssertNoError(t, machine.SetClock("outer", region))

	if machine.ClockFor("inner") != region {
		t.Error("Expected inner state to inherit the subtree clock")
	}
	if machine.ClockFor("outer") != region {
		t.Error("Expected the assigned state to use the subtree clock")
	}
	if machine.ClockFor("elsewhere") != machine.Clock() {
		t.Error("Expected unassigned states to fall back to the machine clock")
	}
	if machine.ClockFor("ghost") != nil {
		t.Error("Expected nil clock for unknown state")
	}
}

func TestSetClock_NearestAssignmentWins(t *testing.T) {
	outerClock := NewClock(WithClockName("outer"))
	innerClock := NewClock(WithClockName("inner"))
	def := NewBuilder().
		Root("root", WithInitial("outer")).
		Composite("outer", WithInitial("inner")).
		Atomic("inner").
		End().
		MustBuild()
	machine := mustMachine(def)

	AssertNoError(t, machine.SetClock("outer", outerClock))
	AssertNoError(t, machine.SetClock("inner", innerClock))

	if machine.ClockFor("inner") != innerClock {
		t.Error("Expected the nearer assignment to win")
	}
	if machine.ClockFor("outer") != outerClock {
		t.Error("Expected the outer assignment untouched")
	}
}

func TestSetClock_Validation(t *testing.T) {
	machine := mustMachine(twoStateDef())

	err := machine.SetClock("waiting", nil)
	AssertErrorCode(t, err, ErrCodeInvalidClock)

	err = machine.SetClock("ghost", NewClock())
	if !IsUnknownState(err) {
		t.Errorf("Expected unknown state error, got: %v", err)
	}
}

func TestTimer_UsesOwnersClock(t *testing.T) {
	region := NewClock(WithClockName("region"))
	def := NewBuilder().
		Root("root", WithInitial("waiting")).
		Atomic("waiting").
		Atomic("done").
		Transition("waiting", "timeout", "done").
		MustBuild()
	machine := mustMachine(def)
	AssertNoError(t, machine.SetClock("waiting", region))
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("waiting", 5*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	// the machine clock is not the owner's clock: nothing fires
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 10*Sec))
	AssertConfiguration(t, machine, "waiting")

	AssertNoError(t, machine.AdvanceClock(region, 5*Sec))
	AssertConfiguration(t, machine, "done")
}

func TestResetClock_RearmPreservesRemainingDelay(t *testing.T) {
	machine := mustMachine(twoStateDef())
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("waiting", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	AssertNoError(t, machine.ResetClock(machine.Clock(), 100*Sec))
	if len(observer.ClockResets) != 1 {
		t.Fatalf("Expected 1 reset notification, got %d", len(observer.ClockResets))
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 9*Sec))
	AssertConfiguration(t, machine, "waiting")

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), Sec))
	AssertConfiguration(t, machine, "done")
}

func TestResetClock_DropCancelsTimers(t *testing.T) {
	clock := NewClock(WithResetPolicy(ResetDropTimers))
	machine := mustMachine(twoStateDef(), WithClock(clock))
	observer := NewTestObserver()
	machine.AddObserver(observer)
	AssertNoError(t, machine.Start())

	_, err := machine.ArmTimer("waiting", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	AssertNoError(t, machine.ResetClock(clock, 100*Sec))

	if len(observer.TimerCancels) != 1 {
		t.Errorf("Expected drop policy to cancel the timer, got %d cancels", len(observer.TimerCancels))
	}
	AssertNoError(t, machine.AdvanceClock(clock, 50*Sec))
	AssertConfiguration(t, machine, "waiting")
}

func TestResetClock_BackwardJump(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())
	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 100*Sec))

	_, err := machine.ArmTimer("waiting", 10*Sec, NewEvent("timeout", nil))
	AssertNoError(t, err)

	// jumping backward shifts the deadline with the clock
	AssertNoError(t, machine.ResetClock(machine.Clock(), 0))
	if machine.Clock().Now() != 0 {
		t.Errorf("Expected clock back at zero, got %d", machine.Clock().Now())
	}

	AssertNoError(t, machine.AdvanceClock(machine.Clock(), 10*Sec))
	AssertConfiguration(t, machine, "done")
}

func TestResetClock_NilClock(t *testing.T) {
	machine := mustMachine(twoStateDef())
	AssertNoError(t, machine.Start())

	err := machine.ResetClock(nil, Sec)
	AssertErrorCode(t, err, ErrCodeInvalidClock)
}

func TestTimer_EntryArmedCycle(t *testing.T) {
	machine := CreateTimerMachine()
	AssertNoError(t, machine.Start())

	for i := 0; i < 3; i++ {
		AssertConfiguration(t, machine, "armed")
		AssertNoError(t, machine.AdvanceClock(machine.Clock(), 10*Sec))
		AssertConfiguration(t, machine, "fired")
		result := machine.DispatchEvent("rearm", nil)
		AssertEventProcessed(t, result, true)
	}
	if len(machine.Timers()) != 1 {
		t.Errorf("Expected one armed timer after re-entry, got %d", len(machine.Timers()))
	}
}
