package machina

import "fmt"

// Observer receives the core state machine lifecycle callbacks
type Observer interface {
	// OnTransition is called after a transition has fully committed
	OnTransition(from string, to string, event Event, ctx Context)

	// OnStateEnter is called when a state is entered
	OnStateEnter(state string, ctx Context)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnStateExit is called when a state is exited
	OnStateExit(state string, ctx Context)

	// OnEventRejected is called when no active state handles an event
	OnEventRejected(event Event, reason string, ctx Context)

	// OnError is called when an action or guard fails or panics
	OnError(err error, ctx Context)

	// OnMachineStarted is called once the root configuration is entered
	OnMachineStarted(ctx Context)

	// OnMachineStopped is called after teardown
	OnMachineStopped(ctx Context)
}

// TimerObserver receives timer registry callbacks
type TimerObserver interface {
	// OnTimerArmed is called when a timer is registered
	OnTimerArmed(handle TimerHandle, owner string, deadline int64, ctx Context)

	// OnTimerFired is called when a deadline is reached, before the
	// timer's event dispatches
	OnTimerFired(handle TimerHandle, owner string, event Event, ctx Context)

	// OnTimerCancelled is called for explicit and exit-driven cancellation
	OnTimerCancelled(handle TimerHandle, owner string, ctx Context)
}

// ClockObserver receives simulated-time callbacks
type ClockObserver interface {
	// OnClockAdvanced is called after a clock moved forward, before due
	// timers fire
	OnClockAdvanced(clock *Clock, old, now int64, ctx Context)

	// OnClockReset is called after a clock jumped to a new time
	OnClockReset(clock *Clock, old, now int64, ctx Context)
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

// OnTransition implements the required Observer method
func (o *BaseObserver) OnTransition(from string, to string, event Event, ctx Context) {
}

// OnStateEnter implements the required Observer method
func (o *BaseObserver) OnStateEnter(state string, ctx Context) {
}

// OnStateExit implements the optional ExtendedObserver method
func (o *BaseObserver) OnStateExit(state string, ctx Context) {
}

// OnEventRejected implements the optional ExtendedObserver method
func (o *BaseObserver) OnEventRejected(event Event, reason string, ctx Context) {
}

// OnError implements the optional ExtendedObserver method
func (o *BaseObserver) OnError(err error, ctx Context) {
}

// OnMachineStarted implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStarted(ctx Context) {
}

// OnMachineStopped implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStopped(ctx Context) {
}

// OnTimerArmed implements the optional TimerObserver method
func (o *BaseObserver) OnTimerArmed(handle TimerHandle, owner string, deadline int64, ctx Context) {
}

// OnTimerFired implements the optional TimerObserver method
func (o *BaseObserver) OnTimerFired(handle TimerHandle, owner string, event Event, ctx Context) {
}

// OnTimerCancelled implements the optional TimerObserver method
func (o *BaseObserver) OnTimerCancelled(handle TimerHandle, owner string, ctx Context) {
}

// OnClockAdvanced implements the optional ClockObserver method
func (o *BaseObserver) OnClockAdvanced(clock *Clock, old, now int64, ctx Context) {
}

// OnClockReset implements the optional ClockObserver method
func (o *BaseObserver) OnClockReset(clock *Clock, old, now int64, ctx Context) {
}

// ObserverManager manages a collection of observers. Every notification is
// delivered to a snapshot of the registered observers, and observer panics
// are contained: they surface through OnError when the panicking observer
// implements ExtendedObserver and are otherwise dropped.
type ObserverManager struct {
	observers []Observer
}

// NewObserverManager creates a new observer manager
func NewObserverManager() *ObserverManager {
	return &ObserverManager{
		observers: make([]Observer, 0),
	}
}

// AddObserver adds an observer to the manager
func (om *ObserverManager) AddObserver(observer Observer) {
	om.observers = append(om.observers, observer)
}

// RemoveObserver removes an observer from the manager
func (om *ObserverManager) RemoveObserver(observer Observer) {
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

// snapshot copies the observer list so callbacks may add or remove
// observers without invalidating the iteration
func (om *ObserverManager) snapshot() []Observer {
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)
	return observers
}

// deliver runs one callback with panic containment
func deliver(observer Observer, callback string, ctx Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if extObs, ok := observer.(ExtendedObserver); ok {
				func() {
					defer func() { _ = recover() }()
					extObs.OnError(fmt.Errorf("observer panic in %s: %v", callback, r), ctx)
				}()
			}
		}
	}()
	fn()
}

// NotifyTransition notifies all observers of a committed transition
func (om *ObserverManager) NotifyTransition(from string, to string, event Event, ctx Context) {
	for _, observer := range om.snapshot() {
		observer := observer
		deliver(observer, "OnTransition", ctx, func() {
			observer.OnTransition(from, to, event, ctx)
		})
	}
}

// NotifyStateEnter notifies all observers of state entry
func (om *ObserverManager) NotifyStateEnter(state string, ctx Context) {
	for _, observer := range om.snapshot() {
		observer := observer
		deliver(observer, "OnStateEnter", ctx, func() {
			observer.OnStateEnter(state, ctx)
		})
	}
}

// NotifyStateExit notifies all observers of state exit
func (om *ObserverManager) NotifyStateExit(state string, ctx Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			deliver(observer, "OnStateExit", ctx, func() {
				extObs.OnStateExit(state, ctx)
			})
		}
	}
}

// NotifyEventRejected notifies all observers of event rejection
func (om *ObserverManager) NotifyEventRejected(event Event, reason string, ctx Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			deliver(observer, "OnEventRejected", ctx, func() {
				extObs.OnEventRejected(event, reason, ctx)
			})
		}
	}
}

// NotifyError notifies all observers of errors
func (om *ObserverManager) NotifyError(err error, ctx Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			deliver(observer, "OnError", ctx, func() {
				extObs.OnError(err, ctx)
			})
		}
	}
}

// NotifyMachineStarted notifies all observers that the machine has started
func (om *ObserverManager) NotifyMachineStarted(ctx Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			deliver(observer, "OnMachineStarted", ctx, func() {
				extObs.OnMachineStarted(ctx)
			})
		}
	}
}

// NotifyMachineStopped notifies all observers that the machine has stopped
func (om *ObserverManager) NotifyMachineStopped(ctx Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			deliver(observer, "OnMachineStopped", ctx, func() {
				extObs.OnMachineStopped(ctx)
			})
		}
	}
}

// NotifyTimerArmed notifies all timer observers of a new timer
func (om *ObserverManager) NotifyTimerArmed(handle TimerHandle, owner string, deadline int64, ctx Context) {
	for _, observer := range om.snapshot() {
		if tObs, ok := observer.(TimerObserver); ok {
			deliver(observer, "OnTimerArmed", ctx, func() {
				tObs.OnTimerArmed(handle, owner, deadline, ctx)
			})
		}
	}
}

// NotifyTimerFired notifies all timer observers of a firing timer
func (om *ObserverManager) NotifyTimerFired(handle TimerHandle, owner string, event Event, ctx Context) {
	for _, observer := range om.snapshot() {
		if tObs, ok := observer.(TimerObserver); ok {
			deliver(observer, "OnTimerFired", ctx, func() {
				tObs.OnTimerFired(handle, owner, event, ctx)
			})
		}
	}
}

// NotifyTimerCancelled notifies all timer observers of a cancellation
func (om *ObserverManager) NotifyTimerCancelled(handle TimerHandle, owner string, ctx Context) {
	for _, observer := range om.snapshot() {
		if tObs, ok := observer.(TimerObserver); ok {
			deliver(observer, "OnTimerCancelled", ctx, func() {
				tObs.OnTimerCancelled(handle, owner, ctx)
			})
		}
	}
}

// NotifyClockAdvanced notifies all clock observers of an advance
func (om *ObserverManager) NotifyClockAdvanced(clock *Clock, old, now int64, ctx Context) {
	for _, observer := range om.snapshot() {
		if cObs, ok := observer.(ClockObserver); ok {
			deliver(observer, "OnClockAdvanced", ctx, func() {
				cObs.OnClockAdvanced(clock, old, now, ctx)
			})
		}
	}
}

// NotifyClockReset notifies all clock observers of a reset
func (om *ObserverManager) NotifyClockReset(clock *Clock, old, now int64, ctx Context) {
	for _, observer := range om.snapshot() {
		if cObs, ok := observer.(ClockObserver); ok {
			deliver(observer, "OnClockReset", ctx, func() {
				cObs.OnClockReset(clock, old, now, ctx)
			})
		}
	}
}
