package observers

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anggasct/machina"
)

// Metrics exports machine activity as Prometheus metrics: transition,
// entry, rejection, error, lifecycle, and timer counters, a gauge tracking
// each clock's simulated time, and a wall-clock histogram of how long states
// stay active. One Metrics instance may watch any number of machines; series
// are partitioned by machine id.
type Metrics struct {
	transitions *prometheus.CounterVec
	stateEnters *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	errors      *prometheus.CounterVec
	lifecycle   *prometheus.CounterVec
	timerArms   *prometheus.CounterVec
	timerFires  *prometheus.CounterVec
	timerStops  *prometheus.CounterVec
	clockTime   *prometheus.GaugeVec
	dwell       *prometheus.HistogramVec

	mutex     sync.Mutex
	enteredAt map[string]time.Time
}

var (
	_ machina.ExtendedObserver = (*Metrics)(nil)
	_ machina.TimerObserver    = (*Metrics)(nil)
	_ machina.ClockObserver    = (*Metrics)(nil)
)

// MetricsOption configures a Metrics observer at construction
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
}

// WithNamespace overrides the metric name prefix, "machina" by default
func WithNamespace(namespace string) MetricsOption {
	return func(c *metricsConfig) {
		c.namespace = namespace
	}
}

// NewMetrics creates a metrics observer and registers its collectors with
// reg. A nil Registerer leaves the collectors unregistered, which is useful
// for throwaway machines in tests.
func NewMetrics(reg prometheus.Registerer, opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{namespace: "machina"}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "transitions_total",
			Help:      "Committed transitions by source, target, and event.",
		}, []string{"machine", "from", "to", "event"}),
		stateEnters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "state_enters_total",
			Help:      "State entries.",
		}, []string{"machine", "state"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "event_rejections_total",
			Help:      "Events no active state handled.",
		}, []string{"machine", "event"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "errors_total",
			Help:      "Action, guard, and dispatch errors.",
		}, []string{"machine"}),
		lifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "lifecycle_total",
			Help:      "Machine starts and stops.",
		}, []string{"machine", "event"}),
		timerArms: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "timer_arms_total",
			Help:      "Timers armed by owner state.",
		}, []string{"machine", "owner"}),
		timerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "timer_fires_total",
			Help:      "Timers fired by owner state.",
		}, []string{"machine", "owner"}),
		timerStops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "timer_cancellations_total",
			Help:      "Timers cancelled explicitly or by owner exit.",
		}, []string{"machine", "owner"}),
		clockTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "clock_time_seconds",
			Help:      "Simulated time of each clock in seconds.",
		}, []string{"machine", "clock"}),
		dwell: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "state_dwell_seconds",
			Help:      "Wall-clock time states stay active.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"machine", "state"}),
		enteredAt: make(map[string]time.Time),
	}
}

func dwellKey(machine, state string) string {
	return machine + "\x00" + state
}

// OnTransition counts a committed transition
func (o *Metrics) OnTransition(from string, to string, event machina.Event, ctx machina.Context) {
	o.transitions.WithLabelValues(machineLabel(ctx), from, to, event.GetName()).Inc()
}

// OnStateEnter counts the entry and starts the dwell stopwatch
func (o *Metrics) OnStateEnter(state string, ctx machina.Context) {
	machine := machineLabel(ctx)
	o.stateEnters.WithLabelValues(machine, state).Inc()

	o.mutex.Lock()
	o.enteredAt[dwellKey(machine, state)] = time.Now()
	o.mutex.Unlock()
}

// OnStateExit observes how long the state was active
func (o *Metrics) OnStateExit(state string, ctx machina.Context) {
	machine := machineLabel(ctx)
	key := dwellKey(machine, state)

	o.mutex.Lock()
	enteredAt, ok := o.enteredAt[key]
	if ok {
		delete(o.enteredAt, key)
	}
	o.mutex.Unlock()

	if ok {
		o.dwell.WithLabelValues(machine, state).Observe(time.Since(enteredAt).Seconds())
	}
}

// OnEventRejected counts an unhandled event
func (o *Metrics) OnEventRejected(event machina.Event, reason string, ctx machina.Context) {
	o.rejections.WithLabelValues(machineLabel(ctx), event.GetName()).Inc()
}

// OnError counts an error
func (o *Metrics) OnError(err error, ctx machina.Context) {
	o.errors.WithLabelValues(machineLabel(ctx)).Inc()
}

// OnMachineStarted counts a machine start
func (o *Metrics) OnMachineStarted(ctx machina.Context) {
	o.lifecycle.WithLabelValues(machineLabel(ctx), "started").Inc()
}

// OnMachineStopped counts a machine stop
func (o *Metrics) OnMachineStopped(ctx machina.Context) {
	o.lifecycle.WithLabelValues(machineLabel(ctx), "stopped").Inc()
}

// OnTimerArmed counts a newly armed timer
func (o *Metrics) OnTimerArmed(handle machina.TimerHandle, owner string, deadline int64, ctx machina.Context) {
	o.timerArms.WithLabelValues(machineLabel(ctx), owner).Inc()
}

// OnTimerFired counts a due timer
func (o *Metrics) OnTimerFired(handle machina.TimerHandle, owner string, event machina.Event, ctx machina.Context) {
	o.timerFires.WithLabelValues(machineLabel(ctx), owner).Inc()
}

// OnTimerCancelled counts a cancelled timer
func (o *Metrics) OnTimerCancelled(handle machina.TimerHandle, owner string, ctx machina.Context) {
	o.timerStops.WithLabelValues(machineLabel(ctx), owner).Inc()
}

// OnClockAdvanced tracks the clock's new position
func (o *Metrics) OnClockAdvanced(clock *machina.Clock, old, now int64, ctx machina.Context) {
	o.setClock(clock, now, ctx)
}

// OnClockReset tracks the clock's new position after a jump
func (o *Metrics) OnClockReset(clock *machina.Clock, old, now int64, ctx machina.Context) {
	o.setClock(clock, now, ctx)
}

func (o *Metrics) setClock(clock *machina.Clock, now int64, ctx machina.Context) {
	o.clockTime.WithLabelValues(machineLabel(ctx), clockLabel(clock)).
		Set(float64(now) / float64(machina.Sec))
}
