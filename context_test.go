package machina

import (
	"context"
	"sync"
	"testing"
)

func TestContext_MachineReference(t *testing.T) {
	machine := CreateSimpleMachine()
	ctx := machine.Context()

	if ctx.Machine() != machine {
		t.Error("Expected context to reference its machine")
	}
	if ctx.GetSourceState() != "" || ctx.GetTargetState() != "" {
		t.Error("Expected empty transition states initially")
	}
	if ctx.GetCurrentEvent() != nil {
		t.Error("Expected nil current event initially")
	}
}

func TestContext_DataOperations(t *testing.T) {
	machine := CreateSimpleMachine()
	ctx := machine.Context()

	ctx.Set("counter", 3)
	ctx.Set("label", "conveyor")

	if value, ok := ctx.Get("counter"); !ok || value != 3 {
		t.Errorf("Expected counter 3, got %v (ok=%v)", value, ok)
	}
	if _, ok := ctx.Get("missing"); ok {
		t.Error("Expected missing key to report absence")
	}

	all := ctx.GetAll()
	if len(all) != 2 || all["label"] != "conveyor" {
		t.Errorf("Expected copy of both entries, got %v", all)
	}

	// mutating the copy must not touch the store
	all["label"] = "tampered"
	if value, _ := ctx.Get("label"); value != "conveyor" {
		t.Error("Expected GetAll to return an isolated copy")
	}
}

func TestContext_SharedWithMachineStore(t *testing.T) {
	machine := CreateSimpleMachine()

	machine.Set("from_machine", 1)
	if value, ok := machine.Context().Get("from_machine"); !ok || value != 1 {
		t.Error("Expected machine store visible through the context")
	}

	machine.Context().Set("from_context", 2)
	if value, ok := machine.Get("from_context"); !ok || value != 2 {
		t.Error("Expected context store visible through the machine")
	}
}

func TestContext_TransitionStatesDuringDispatch(t *testing.T) {
	type seen struct{ source, target string }
	var inGuard, inAction seen

	def := NewBuilder().
		Root("root", WithInitial("a")).
		Atomic("a").
		Atomic("b").
		Transition("a", "go", "b",
			WithGuard(func(ctx Context) bool {
				inGuard = seen{ctx.GetSourceState(), ctx.GetTargetState()}
				return true
			}),
			WithAction(func(ctx Context) error {
				inAction = seen{ctx.GetSourceState(), ctx.GetTargetState()}
				return nil
			})).
		MustBuild()
	machine := mustMachine(def)
	_ = machine.Start()

	_ = machine.DispatchEvent("go", nil)

	// guards run during resolution, before any target is committed
	if inGuard.source != "a" || inGuard.target != "" {
		t.Errorf("Expected guard to see source only, got %+v", inGuard)
	}
	if inAction.source != "a" || inAction.target != "b" {
		t.Errorf("Expected action to see the full transition, got %+v", inAction)
	}
}

func TestContext_EventAccessors(t *testing.T) {
	var name string
	var data any

	def := NewBuilder().
		Root("root", WithInitial("a")).
		Atomic("a").
		Transition("a", "probe", "a", AsInternal(), WithAction(func(ctx Context) error {
			name = ctx.GetEventName()
			data = ctx.GetEventData()
			return nil
		})).
		MustBuild()
	machine := mustMachine(def)
	_ = machine.Start()

	_ = machine.DispatchEvent("probe", 99)

	if name != "probe" {
		t.Errorf("Expected event name 'probe', got '%s'", name)
	}
	if data != 99 {
		t.Errorf("Expected event data 99, got %v", data)
	}
}

func TestContext_DataAs(t *testing.T) {
	type command struct {
		Op    string
		Count int
	}
	var decoded command

	def := NewBuilder().
		Root("root", WithInitial("a")).
		Atomic("a").
		Transition("a", "cmd", "a", AsInternal(), WithAction(func(ctx Context) error {
			return ctx.DataAs(&decoded)
		})).
		MustBuild()
	machine := mustMachine(def)
	_ = machine.Start()

	result := machine.DispatchEvent("cmd", map[string]any{"op": "reset", "count": 4})

	AssertNoError(t, result.Error)
	if decoded.Op != "reset" || decoded.Count != 4 {
		t.Errorf("Expected decoded command {reset 4}, got %+v", decoded)
	}
}

func TestContext_WithValueOverlay(t *testing.T) {
	machine := CreateSimpleMachine()
	base := machine.Context()
	base.Set("shared", "base")

	derived := base.WithValue("extra", 7)

	if value, ok := derived.Get("extra"); !ok || value != 7 {
		t.Error("Expected overlay value on derived context")
	}
	if value, ok := derived.Get("shared"); !ok || value != "base" {
		t.Error("Expected derived context to read through to the store")
	}
	if _, ok := base.Get("extra"); ok {
		t.Error("Expected overlay to leave the base context untouched")
	}

	// overlays stack
	stacked := derived.WithValue("extra", 8)
	if value, _ := stacked.Get("extra"); value != 8 {
		t.Errorf("Expected nearest overlay to win, got %v", value)
	}
}

func TestContext_EmbedsDispatchContext(t *testing.T) {
	type ctxKey struct{}
	var observed any

	def := NewBuilder().
		Root("root", WithInitial("a")).
		Atomic("a").
		Transition("a", "go", "a", AsInternal(), WithAction(func(ctx Context) error {
			observed = ctx.Value(ctxKey{})
			return nil
		})).
		MustBuild()
	machine := mustMachine(def)
	_ = machine.Start()

	callerCtx := context.WithValue(context.Background(), ctxKey{}, "trace-1")
	_ = machine.DispatchWithContext(callerCtx, NewEvent("go", nil))

	if observed != "trace-1" {
		t.Errorf("Expected caller context value, got %v", observed)
	}
}

func TestContext_ConcurrentAccess(t *testing.T) {
	machine := CreateSimpleMachine()
	ctx := machine.Context()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx.Set("key", i)
			_, _ = ctx.Get("key")
			_ = ctx.GetAll()
		}(i)
	}
	wg.Wait()

	if _, ok := ctx.Get("key"); !ok {
		t.Error("Expected key present after concurrent writes")
	}
}
