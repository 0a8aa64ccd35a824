package machina

import "sync"

// Simulated time is a bare int64 count of nanoseconds. The ladder of unit
// constants includes the IEEE 802.11 Time Unit (1024 microseconds), which is
// the natural tick size when modelling wireless MAC layers.
const (
	Nsec int64 = 1
	Usec       = 1000 * Nsec
	Msec       = 1000 * Usec
	TU         = 1024 * Usec
	Sec        = 1000 * Msec
	Minute     = 60 * Sec
	Hour       = 60 * Minute
	Day        = 24 * Hour
)

// Drift magnitudes. Drift is carried in parts per billion so that integer
// arithmetic stays exact over long simulations.
const (
	PPB int64 = 1
	PPM       = 1000 * PPB
)

// DriftFunc maps a reference-time advance to this clock's local advance.
// Results below zero are clamped to zero to preserve monotonicity.
type DriftFunc func(delta int64) int64

// DriftPPB builds a linear drift of the given parts per billion: positive
// values run the clock fast, negative slow. Split multiplication keeps the
// intermediate products inside int64 for deltas up to centuries.
func DriftPPB(ppb int64) DriftFunc {
	return func(delta int64) int64 {
		whole := delta / Sec
		frac := delta % Sec
		return delta + whole*ppb + frac*ppb/Sec
	}
}

// ResetPolicy selects what happens to in-flight timers when their clock is
// reset to a new time.
type ResetPolicy int

const (
	// ResetRearmTimers shifts every armed deadline so the remaining delay
	// is preserved across the jump
	ResetRearmTimers ResetPolicy = iota
	// ResetDropTimers cancels every timer armed against the old timeline
	ResetDropTimers
)

// String returns the policy name
func (p ResetPolicy) String() string {
	switch p {
	case ResetRearmTimers:
		return "rearm"
	case ResetDropTimers:
		return "drop"
	default:
		return "unknown"
	}
}

// Clock holds a monotonically non-decreasing simulated time value and an
// optional drift function. Each orthogonal region may own its own Clock;
// advancing one never moves another, which is how relative drift between
// cooperating machines is modelled. The only sanctioned non-monotonic move
// is ResetClock, governed by the ResetPolicy.
type Clock struct {
	name        string
	drift       DriftFunc
	resetPolicy ResetPolicy

	mutex sync.Mutex
	now   int64
}

// ClockOption configures a Clock at construction
type ClockOption func(*Clock)

// WithClockName labels the clock for observers and snapshots
func WithClockName(name string) ClockOption {
	return func(c *Clock) {
		c.name = name
	}
}

// WithTime sets the starting simulated time
func WithTime(now int64) ClockOption {
	return func(c *Clock) {
		c.now = now
	}
}

// WithDrift installs a custom drift function
func WithDrift(fn DriftFunc) ClockOption {
	return func(c *Clock) {
		c.drift = fn
	}
}

// WithDriftPPB installs a linear drift in parts per billion
func WithDriftPPB(ppb int64) ClockOption {
	return func(c *Clock) {
		c.drift = DriftPPB(ppb)
	}
}

// WithResetPolicy selects the in-flight timer behavior on reset
func WithResetPolicy(policy ResetPolicy) ClockOption {
	return func(c *Clock) {
		c.resetPolicy = policy
	}
}

// NewClock creates a clock at time zero with no drift and the rearm reset
// policy
func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the clock label
func (c *Clock) Name() string {
	return c.name
}

// Now returns the current simulated time
func (c *Clock) Now() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

// Policy returns the reset policy
func (c *Clock) Policy() ResetPolicy {
	return c.resetPolicy
}

// scale maps a reference advance through the drift function
func (c *Clock) scale(delta int64) int64 {
	if c.drift == nil {
		return delta
	}
	scaled := c.drift(delta)
	if scaled < 0 {
		return 0
	}
	return scaled
}

// advance moves the clock forward by the drift-scaled delta and returns the
// new time. Callers go through Machine.AdvanceClock so timers fire.
func (c *Clock) advance(delta int64) int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now += c.scale(delta)
	return c.now
}

// reset jumps the clock to an arbitrary time and returns the old one.
// Callers go through Machine.ResetClock so the reset policy applies.
func (c *Clock) reset(now int64) int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	old := c.now
	c.now = now
	return old
}
