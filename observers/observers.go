// Package observers provides optional adapters that bridge machine
// notifications into structured logging and Prometheus metrics. The core
// package stays silent; attach these to the machines you want to watch.
package observers

import (
	"github.com/anggasct/machina"
)

// machineLabel extracts the machine id from a notification context, empty
// when the notification carries no machine.
func machineLabel(ctx machina.Context) string {
	if ctx == nil {
		return ""
	}
	if m := ctx.Machine(); m != nil {
		return m.ID()
	}
	return ""
}

// clockLabel names a clock for log fields and metric labels. The machine
// clock is usually unnamed and reports as "default".
func clockLabel(clock *machina.Clock) string {
	if clock == nil {
		return "default"
	}
	if name := clock.Name(); name != "" {
		return name
	}
	return "default"
}
