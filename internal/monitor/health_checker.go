package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/logging"
)

// UnhealthyCallback is called when the loop stalls or a probe fails.
type UnhealthyCallback func(reason string, err error)

// Probe checks an external dependency, such as the tracked window or the adb
// device.
type Probe func(ctx context.Context) error

// HealthChecker watches the worker for stalls: running but with no completed
// cycle for stallTimeout.
type HealthChecker struct {
	running func() bool
	bus     events.EventBus
	probe   Probe
	log     *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.RWMutex
	lastActivityTime time.Time
	stuckCount       int
	stuckThreshold   int
	stallTimeout     time.Duration
	checkInterval    time.Duration
	probeInterval    time.Duration
	onUnhealthy      UnhealthyCallback
}

// NewHealthChecker creates a checker; running reports whether the loop
// should be making progress.
func NewHealthChecker(running func() bool) *HealthChecker {
	return &HealthChecker{
		running:          running,
		log:              logging.NewLogger("monitor"),
		lastActivityTime: time.Now(),
		stuckThreshold:   1,
		stallTimeout:     30 * time.Second,
		checkInterval:    5 * time.Second,
		probeInterval:    10 * time.Second,
	}
}

// WithUnhealthyCallback sets the callback for unhealthy events
func (hc *HealthChecker) WithUnhealthyCallback(callback UnhealthyCallback) *HealthChecker {
	hc.onUnhealthy = callback
	return hc
}

// WithStallTimeout sets how long the loop may go without a cycle.
func (hc *HealthChecker) WithStallTimeout(d time.Duration) *HealthChecker {
	hc.stallTimeout = d
	return hc
}

// WithCheckInterval sets the stall check interval
func (hc *HealthChecker) WithCheckInterval(interval time.Duration) *HealthChecker {
	hc.checkInterval = interval
	return hc
}

// WithStuckThreshold sets how many consecutive stalled checks trigger the callback.
func (hc *HealthChecker) WithStuckThreshold(n int) *HealthChecker {
	hc.stuckThreshold = max(n, 1)
	return hc
}

// WithEventBus publishes loop.stalled on the bus.
func (hc *HealthChecker) WithEventBus(bus events.EventBus) *HealthChecker {
	hc.bus = bus
	return hc
}

// WithProbe adds a periodic dependency check.
func (hc *HealthChecker) WithProbe(p Probe, interval time.Duration) *HealthChecker {
	hc.probe = p
	if interval > 0 {
		hc.probeInterval = interval
	}
	return hc
}

// Start begins monitoring until ctx is done or Stop is called.
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)
	hc.wg.Add(1)
	go hc.monitorStuck(ctx)
	if hc.probe != nil {
		hc.wg.Add(1)
		go hc.monitorHealth(ctx)
	}
}

// Stop stops health monitoring
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
	}
	hc.wg.Wait()
}

// RecordActivity marks a completed cycle.
func (hc *HealthChecker) RecordActivity() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastActivityTime = time.Now()
	hc.stuckCount = 0
}

// LastActivity returns when the last cycle completed.
func (hc *HealthChecker) LastActivity() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastActivityTime
}

func (hc *HealthChecker) monitorStuck(ctx context.Context) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hc.checkIfStuck(now)
		}
	}
}

func (hc *HealthChecker) checkIfStuck(now time.Time) {
	if hc.running != nil && !hc.running() {
		hc.RecordActivity()
		return
	}

	hc.mu.Lock()
	idle := now.Sub(hc.lastActivityTime)
	fire := false
	if idle > hc.stallTimeout {
		hc.stuckCount++
		if hc.stuckCount >= hc.stuckThreshold {
			fire = true
			hc.stuckCount = 0
		}
	} else {
		hc.stuckCount = 0
	}
	cb := hc.onUnhealthy
	hc.mu.Unlock()

	if !fire {
		return
	}
	hc.log.WarnWithContext("Loop stalled", map[string]interface{}{"idle": idle.String()})
	if hc.bus != nil {
		hc.bus.Publish(events.NewLoopStalledEvent(idle))
	}
	if cb != nil {
		cb("loop_stalled", fmt.Errorf("no cycle completed for %v", idle.Round(time.Millisecond)))
	}
}

func (hc *HealthChecker) monitorHealth(ctx context.Context) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hc.running != nil && !hc.running() {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := hc.probe(pctx)
			cancel()
			if err != nil && hc.onUnhealthy != nil {
				hc.onUnhealthy("probe_failed", err)
			}
		}
	}
}
