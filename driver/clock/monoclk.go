package clock

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/base/zaplog"
)

const MonotonicClockKey = "mono-clock"

// MonotonicClock ticks a drift-free relative timescale in milliseconds. On
// linux it reads CLOCK_BOOTTIME, so the value keeps advancing across suspend
// and is immune to wall clock steps; elsewhere it falls back to milliseconds
// since process start.
type MonotonicClock struct {
	Log      *zap.Logger
	interval time.Duration
	fan      fanout

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ timesys.Clock = (*MonotonicClock)(nil)

func NewMonotonicClock(interval time.Duration, log *zap.Logger) *MonotonicClock {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if log == nil {
		log = zaplog.Logger()
	}
	return &MonotonicClock{Log: log, interval: interval}
}

func (c *MonotonicClock) Key() string  { return MonotonicClockKey }
func (c *MonotonicClock) Name() string { return "Monotonic Clock" }

func (c *MonotonicClock) Description() string {
	return "Drift-free relative time in milliseconds, unaffected by wall clock steps"
}

func (c *MonotonicClock) Time() float64 {
	return monotonicMillis(c.Log)
}

func (c *MonotonicClock) Notify(fn func(float64)) (stop func()) {
	return c.fan.notify(fn)
}

func (c *MonotonicClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.Log.Debug("monotonic clock started", zap.Duration("interval", c.interval))
	go c.run(c.stop, c.done)
}

func (c *MonotonicClock) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.fan.publish(monotonicMillis(c.Log))
		}
	}
}

func (c *MonotonicClock) Stop() {
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	close(stop)
	<-done
	c.Log.Debug("monotonic clock stopped")
}
