// Package machina is a hierarchical state machine library built around
// simulated time. It implements the UML statechart core (composite and
// parallel states, guarded transitions with leaf-to-root event bubbling,
// internal and completion transitions, run-to-completion dispatch) on top
// of an explicit simulated clock, so models that span hours of protocol
// time run deterministically in microseconds of wall time.
//
// A Definition holds the state tree and transition table and is built once,
// either directly or through the fluent builder:
//
//	def, err := machina.NewBuilder().
//		Root("door", machina.WithInitial("closed")).
//		Atomic("closed").
//		Atomic("open").
//		Transition("closed", "open", "open").
//		Transition("open", "close", "closed").
//		Build()
//
// Any number of Machine instances can run over one definition, each with its
// own active configuration, timers, and clocks:
//
//	m, err := def.NewMachine()
//	if err := m.Start(); err != nil { ... }
//	result := m.DispatchEvent("open", nil)
//
// Time never passes on its own. Timers armed with ArmTimer fire only when
// the test or simulation harness calls AdvanceClock, and orthogonal regions
// may run on separate clocks with configurable drift, which is how skew
// between independently-clocked devices is modelled.
package machina
