package machina

import (
	"context"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Context is handed to every guard, action, and do-activity. It exposes the
// machine's key/value store (the caller-supplied guard-evaluation context),
// the event being dispatched, and the transition under way, and it embeds
// the context.Context the dispatch was started with.
type Context interface {
	context.Context

	Get(key string) (any, bool)
	Set(key string, value any)
	GetAll() map[string]any

	Machine() *Machine
	GetSourceState() string
	GetTargetState() string

	GetCurrentEvent() Event
	GetEventName() string
	GetEventData() any
	// DataAs decodes the event data into target, which must be a pointer.
	// Map payloads decode field-by-field, anything else must assign
	// directly.
	DataAs(target any) error

	// Post queues an event behind the current run-to-completion cycle. It
	// is the only legal way for an action to produce follow-up events.
	Post(event Event)

	WithValue(key string, value any) Context
}

// machineContext implements Context. One instance lives per machine; the
// dispatch loop updates the event and transition fields as it goes.
type machineContext struct {
	context.Context
	machine *Machine

	mutex       sync.RWMutex
	data        map[string]any
	sourceState string
	targetState string
	event       Event
}

func newMachineContext(machine *Machine) *machineContext {
	return &machineContext{
		Context: context.Background(),
		machine: machine,
		data:    make(map[string]any),
	}
}

// Get retrieves a value from the machine store
func (ctx *machineContext) Get(key string) (any, bool) {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	value, exists := ctx.data[key]
	return value, exists
}

// Set stores a value in the machine store
func (ctx *machineContext) Set(key string, value any) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.data[key] = value
}

// GetAll returns a copy of the machine store
func (ctx *machineContext) GetAll() map[string]any {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	result := make(map[string]any, len(ctx.data))
	for k, v := range ctx.data {
		result[k] = v
	}
	return result
}

// Machine returns the machine this context belongs to
func (ctx *machineContext) Machine() *Machine {
	return ctx.machine
}

// GetSourceState returns the source of the transition being applied
func (ctx *machineContext) GetSourceState() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.sourceState
}

// GetTargetState returns the target of the transition being applied
func (ctx *machineContext) GetTargetState() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.targetState
}

// GetCurrentEvent returns the event being dispatched
func (ctx *machineContext) GetCurrentEvent() Event {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.event
}

// GetEventName returns the name of the event being dispatched
func (ctx *machineContext) GetEventName() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	if ctx.event != nil {
		return ctx.event.GetName()
	}
	return ""
}

// GetEventData returns the data of the event being dispatched
func (ctx *machineContext) GetEventData() any {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	if ctx.event != nil {
		return ctx.event.GetData()
	}
	return nil
}

// DataAs decodes the current event data into target
func (ctx *machineContext) DataAs(target any) error {
	return mapstructure.Decode(ctx.GetEventData(), target)
}

// Post queues an event behind the current cycle
func (ctx *machineContext) Post(event Event) {
	ctx.machine.Post(event)
}

// WithValue returns a derived context carrying one extra key/value pair.
// The derived context shares the machine store for everything else.
func (ctx *machineContext) WithValue(key string, value any) Context {
	return &valueContext{Context: ctx, key: key, value: value}
}

// valueContext overlays a single pair on top of a parent Context
type valueContext struct {
	Context
	key   string
	value any
}

func (ctx *valueContext) Get(key string) (any, bool) {
	if key == ctx.key {
		return ctx.value, true
	}
	return ctx.Context.Get(key)
}

func (ctx *valueContext) WithValue(key string, value any) Context {
	return &valueContext{Context: ctx, key: key, value: value}
}

// internal setters used by the dispatch loop

func (ctx *machineContext) setBase(base context.Context) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx.Context = base
}

func (ctx *machineContext) setEvent(event Event) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.event = event
}

func (ctx *machineContext) setTransition(source, target string) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.sourceState = source
	ctx.targetState = target
}
