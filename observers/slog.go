package observers

import (
	"io"
	"log/slog"

	"github.com/anggasct/machina"
)

// Slog logs every machine notification through a structured logger.
// Transitions, lifecycle changes, timer fires, and clock resets log at info;
// state enters and exits, timer arms and cancels, and clock advances log at
// debug; rejections at warn and errors at error. Each record carries the
// machine id when the notification provides one.
type Slog struct {
	logger *slog.Logger
}

var (
	_ machina.ExtendedObserver = (*Slog)(nil)
	_ machina.TimerObserver    = (*Slog)(nil)
	_ machina.ClockObserver    = (*Slog)(nil)
)

// NewSlog creates a logging observer. A nil logger discards everything,
// which keeps call sites free of conditionals.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Slog{logger: logger}
}

func (o *Slog) with(ctx machina.Context) *slog.Logger {
	if id := machineLabel(ctx); id != "" {
		return o.logger.With("machine", id)
	}
	return o.logger
}

// OnTransition logs a committed transition
func (o *Slog) OnTransition(from string, to string, event machina.Event, ctx machina.Context) {
	o.with(ctx).Info("transition",
		"from", from,
		"to", to,
		"event", event.GetName(),
	)
}

// OnStateEnter logs state entry
func (o *Slog) OnStateEnter(state string, ctx machina.Context) {
	o.with(ctx).Debug("state_enter", "state", state)
}

// OnStateExit logs state exit
func (o *Slog) OnStateExit(state string, ctx machina.Context) {
	o.with(ctx).Debug("state_exit", "state", state)
}

// OnEventRejected logs an unhandled event with its reason
func (o *Slog) OnEventRejected(event machina.Event, reason string, ctx machina.Context) {
	o.with(ctx).Warn("event_rejected",
		"event", event.GetName(),
		"reason", reason,
	)
}

// OnError logs action, guard, and dispatch errors
func (o *Slog) OnError(err error, ctx machina.Context) {
	o.with(ctx).Error("machine_error", "error", err)
}

// OnMachineStarted logs machine start
func (o *Slog) OnMachineStarted(ctx machina.Context) {
	o.with(ctx).Info("machine_started")
}

// OnMachineStopped logs machine stop
func (o *Slog) OnMachineStopped(ctx machina.Context) {
	o.with(ctx).Info("machine_stopped")
}

// OnTimerArmed logs a newly armed timer with its absolute deadline
func (o *Slog) OnTimerArmed(handle machina.TimerHandle, owner string, deadline int64, ctx machina.Context) {
	o.with(ctx).Debug("timer_armed",
		"handle", string(handle),
		"owner", owner,
		"deadline", deadline,
	)
}

// OnTimerFired logs a due timer before its event dispatches
func (o *Slog) OnTimerFired(handle machina.TimerHandle, owner string, event machina.Event, ctx machina.Context) {
	o.with(ctx).Info("timer_fired",
		"handle", string(handle),
		"owner", owner,
		"event", event.GetName(),
	)
}

// OnTimerCancelled logs explicit and exit-driven cancellations
func (o *Slog) OnTimerCancelled(handle machina.TimerHandle, owner string, ctx machina.Context) {
	o.with(ctx).Debug("timer_cancelled",
		"handle", string(handle),
		"owner", owner,
	)
}

// OnClockAdvanced logs simulated time moving forward
func (o *Slog) OnClockAdvanced(clock *machina.Clock, old, now int64, ctx machina.Context) {
	o.with(ctx).Debug("clock_advanced",
		"clock", clockLabel(clock),
		"old", old,
		"now", now,
	)
}

// OnClockReset logs a clock jump
func (o *Slog) OnClockReset(clock *machina.Clock, old, now int64, ctx machina.Context) {
	o.with(ctx).Info("clock_reset",
		"clock", clockLabel(clock),
		"old", old,
		"now", now,
	)
}
