package clock

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timemath"
	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/base/zaplog"
)

const (
	SystemClockKey = "local-clock"

	defaultTickInterval = 100 * time.Millisecond
)

// SystemClock ticks UTC wall clock time as epoch milliseconds at a fixed
// cadence. Ticks are delivered only between Start and Stop; Time answers at
// any point.
type SystemClock struct {
	Log      *zap.Logger
	interval time.Duration
	fan      fanout

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ timesys.Clock = (*SystemClock)(nil)

func NewSystemClock(interval time.Duration, log *zap.Logger) *SystemClock {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if log == nil {
		log = zaplog.Logger()
	}
	return &SystemClock{Log: log, interval: interval}
}

func (c *SystemClock) Key() string  { return SystemClockKey }
func (c *SystemClock) Name() string { return "Local Clock" }

func (c *SystemClock) Description() string {
	return "Host wall clock time in UTC epoch milliseconds"
}

func (c *SystemClock) Time() float64 {
	return timemath.Millis(time.Now())
}

func (c *SystemClock) Notify(fn func(float64)) (stop func()) {
	return c.fan.notify(fn)
}

func (c *SystemClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.Log.Debug("system clock started", zap.Duration("interval", c.interval))
	go c.run(c.stop, c.done)
}

func (c *SystemClock) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.fan.publish(timemath.Millis(time.Now()))
		}
	}
}

// Stop halts ticking and waits for the tick loop to exit. Subscriptions stay
// registered; Start resumes delivery to them.
func (c *SystemClock) Stop() {
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
	c.Log.Debug("system clock stopped")
}
