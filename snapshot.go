package machina

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Snapshot is a serializable capture of a machine's runtime state: lifecycle
// status, active configuration, clock positions, armed timers, and the
// key/value store. Code is not captured (actions, guards, and drift
// functions live in the Definition), so a snapshot restores only onto a
// fresh machine built from the same definition, with the same clock
// assignments re-established first.
type Snapshot struct {
	MachineID      string                   `json:"machine_id" yaml:"machine_id"`
	Status         string                   `json:"status" yaml:"status"`
	Configuration  []string                 `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	ActiveChildren map[string]string        `json:"active_children,omitempty" yaml:"active_children,omitempty"`
	Clock          ClockSnapshot            `json:"clock" yaml:"clock"`
	StateClocks    map[string]ClockSnapshot `json:"state_clocks,omitempty" yaml:"state_clocks,omitempty"`
	Timers         []TimerSnapshot          `json:"timers,omitempty" yaml:"timers,omitempty"`
	Data           map[string]any           `json:"data,omitempty" yaml:"data,omitempty"`
}

// ClockSnapshot captures one clock's position on its own timeline
type ClockSnapshot struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Now  int64  `json:"now" yaml:"now"`
}

// TimerSnapshot captures one armed timer. Event payloads survive as whatever
// the encoding decodes them to, typically maps for structured data.
type TimerSnapshot struct {
	Handle    string `json:"handle" yaml:"handle"`
	Owner     string `json:"owner" yaml:"owner"`
	Deadline  int64  `json:"deadline" yaml:"deadline"`
	Period    int64  `json:"period,omitempty" yaml:"period,omitempty"`
	Recurring bool   `json:"recurring,omitempty" yaml:"recurring,omitempty"`
	EventName string `json:"event" yaml:"event"`
	EventData any    `json:"event_data,omitempty" yaml:"event_data,omitempty"`
}

// Snapshot captures the machine's current runtime state. Taking a snapshot
// from inside an action records the transient mid-transition configuration,
// so prefer calling it between dispatches.
func (m *Machine) Snapshot() *Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := &Snapshot{
		MachineID: m.id,
		Status:    m.status.String(),
		Clock:     ClockSnapshot{Name: m.clock.Name(), Now: m.clock.Now()},
		Data:      m.context.GetAll(),
	}
	if m.status == StatusRunning {
		snap.Configuration = activeLeaves(m.def.states, m.activeChild, m.def.rootID)
	}
	if len(m.activeChild) > 0 {
		snap.ActiveChildren = make(map[string]string, len(m.activeChild))
		for k, v := range m.activeChild {
			snap.ActiveChildren[k] = v
		}
	}
	if len(m.clocks) > 0 {
		snap.StateClocks = make(map[string]ClockSnapshot, len(m.clocks))
		for id, c := range m.clocks {
			snap.StateClocks[id] = ClockSnapshot{Name: c.Name(), Now: c.Now()}
		}
	}
	for _, t := range m.timers.all() {
		snap.Timers = append(snap.Timers, TimerSnapshot{
			Handle:    string(t.handle),
			Owner:     t.owner,
			Deadline:  t.deadline,
			Period:    t.period,
			Recurring: t.recurring,
			EventName: t.event.GetName(),
			EventData: t.event.GetData(),
		})
	}
	return snap
}

// RestoreSnapshot rehydrates a fresh machine from a snapshot taken on a
// machine with the same definition. The configuration is installed directly:
// no entry actions run, no completion events fire. Clock positions are
// applied to the machine clock and to whatever clocks are currently assigned
// under the snapshot's keys; timers re-arm against their owner's effective
// clock with their saved handles and deadlines.
func (m *Machine) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return NewMachineError(ErrCodeInvalidSnapshot, "restore_snapshot", "snapshot must not be nil")
	}
	status, ok := parseMachineStatus(snap.Status)
	if !ok {
		return NewMachineError(ErrCodeInvalidSnapshot, "restore_snapshot",
			fmt.Sprintf("unknown status '%s'", snap.Status))
	}
	if m.Status() != StatusNotStarted {
		return NewMachineAlreadyStartedError("restore_snapshot")
	}

	for parent, child := range snap.ActiveChildren {
		node, ok := m.def.states[parent]
		if !ok {
			return NewStateNotFoundError(parent)
		}
		if !node.IsComposite() || !node.hasChild(child) {
			return NewHierarchyError(parent,
				fmt.Sprintf("snapshot selects '%s' which is not a child", child))
		}
	}
	for _, leaf := range snap.Configuration {
		if _, ok := m.def.states[leaf]; !ok {
			return NewStateNotFoundError(leaf)
		}
	}
	for key := range snap.StateClocks {
		if _, ok := m.clocks[key]; !ok {
			return NewMachineError(ErrCodeInvalidClock, "restore_snapshot",
				fmt.Sprintf("no clock assigned at '%s'; call SetClock before restoring", key))
		}
	}
	for _, ts := range snap.Timers {
		if _, ok := m.def.states[ts.Owner]; !ok {
			return NewStateNotFoundError(ts.Owner)
		}
		if ts.Recurring && ts.Period <= 0 {
			return NewInvalidTimerError(ts.Owner,
				fmt.Sprintf("period must be positive, got %d", ts.Period))
		}
	}

	m.clock.reset(snap.Clock.Now)
	for key, cs := range snap.StateClocks {
		m.clocks[key].reset(cs.Now)
	}

	m.mutex.Lock()
	m.status = status
	for parent, child := range snap.ActiveChildren {
		m.activeChild[parent] = child
	}
	for _, ts := range snap.Timers {
		m.timers.arm(&timer{
			handle:    TimerHandle(ts.Handle),
			owner:     ts.Owner,
			deadline:  ts.Deadline,
			period:    ts.Period,
			recurring: ts.Recurring,
			event:     NewEvent(ts.EventName, ts.EventData),
		})
	}
	m.mutex.Unlock()

	// effective clocks resolve only after the assignments above are seen
	for _, t := range m.allTimers() {
		t.clock = m.clockFor(t.owner)
	}

	for k, v := range snap.Data {
		m.context.Set(k, v)
	}
	return nil
}

func parseMachineStatus(s string) (MachineStatus, bool) {
	switch s {
	case "not_started":
		return StatusNotStarted, true
	case "running":
		return StatusRunning, true
	case "stopped":
		return StatusStopped, true
	default:
		return StatusNotStarted, false
	}
}

// ToJSON encodes the snapshot as JSON
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToYAML encodes the snapshot as YAML
func (s *Snapshot) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// SnapshotFromJSON decodes a snapshot from JSON
func SnapshotFromJSON(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// SnapshotFromYAML decodes a snapshot from YAML
func SnapshotFromYAML(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// MarshalJSON encodes the machine's runtime state as a JSON snapshot
func (m *Machine) MarshalJSON() ([]byte, error) {
	return m.Snapshot().ToJSON()
}

// UnmarshalJSON restores the machine from a JSON snapshot; the machine must
// be freshly created from the same definition
func (m *Machine) UnmarshalJSON(data []byte) error {
	snap, err := SnapshotFromJSON(data)
	if err != nil {
		return err
	}
	return m.RestoreSnapshot(snap)
}
