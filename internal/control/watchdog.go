package control

import (
	"context"
	"time"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/monitor"
)

// NewWatchdog builds a stall watchdog for the controller's worker. A stall or
// a failed target probe makes the next cycle re-resolve the target. The
// caller starts and stops it.
func (c *Controller) NewWatchdog(bus events.EventBus, stallTimeout, probeInterval time.Duration) *monitor.HealthChecker {
	w := c.worker
	hc := monitor.NewHealthChecker(w.Running).
		WithEventBus(bus).
		WithProbe(c.probeTarget, probeInterval).
		WithUnhealthyCallback(func(reason string, err error) {
			c.log.WarnWithContext("Loop unhealthy, forcing reconnect", map[string]interface{}{
				"reason": reason,
				"error":  err.Error(),
			})
			w.Reconnect()
		})
	if stallTimeout > 0 {
		hc.WithStallTimeout(stallTimeout).
			WithCheckInterval(min(stallTimeout/2, 5*time.Second))
	}
	w.SetHealth(hc)
	return hc
}

// probeTarget fails when the tracked window has gone away.
func (c *Controller) probeTarget(context.Context) error {
	t := c.tracker.Current()
	if t == nil {
		return nil
	}
	_, err := c.tracker.Revalidate(t)
	return err
}
