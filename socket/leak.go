package socket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LeakReport describes a bridge that outlived the leak detector's limit.
type LeakReport struct {
	Handle uint64
	State  State
	Age    time.Duration
}

// LeakDetector periodically looks for bridges that are still bound long
// after they were created. It is a debugging aid: bridges are only retired
// by closing them, and one that never closes holds its transport forever.
type LeakDetector struct {
	registry *Registry
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	reported map[*Bridge]struct{}
}

// NewLeakDetector creates a detector over registry.
func NewLeakDetector(registry *Registry, maxAge, interval time.Duration, logger *slog.Logger) *LeakDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LeakDetector{
		registry: registry,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger.With("component", "socket-leaks"),
		now:      time.Now,
		reported: make(map[*Bridge]struct{}),
	}
}

// Sweep reports every bound bridge older than the limit that is not closed.
// Each bridge is reported once.
func (d *LeakDetector) Sweep() []LeakReport {
	now := d.now()
	bridges := d.registry.Bridges()

	d.mu.Lock()
	defer d.mu.Unlock()

	live := make(map[*Bridge]struct{}, len(bridges))
	var leaks []LeakReport
	for _, b := range bridges {
		live[b] = struct{}{}
		age := now.Sub(b.Created())
		if age < d.maxAge {
			continue
		}
		state := b.State()
		if state == StateClosed {
			continue
		}
		if _, seen := d.reported[b]; seen {
			continue
		}
		d.reported[b] = struct{}{}
		leaks = append(leaks, LeakReport{Handle: b.Handle(), State: state, Age: age})
		d.logger.Warn("socket bridge not closed", "handle", b.Handle(), "state", state, "age", age)
	}

	for b := range d.reported {
		if _, ok := live[b]; !ok {
			delete(d.reported, b)
		}
	}
	return leaks
}

// Run sweeps every interval until ctx ends.
func (d *LeakDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
