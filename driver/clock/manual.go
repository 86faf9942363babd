package clock

import (
	"sync"

	"example.com/telemetry-time/base/timesys"
)

// ManualClock is advanced explicitly by its owner. It drives replay and
// simulation sources, where "now" is wherever the data says it is, and it is
// the fake of choice in tests.
type ManualClock struct {
	key string
	fan fanout

	mu  sync.Mutex
	val float64
}

var _ timesys.Clock = (*ManualClock)(nil)

func NewManualClock(key string, start float64) *ManualClock {
	if key == "" {
		panic("clock key must not be empty")
	}
	return &ManualClock{key: key, val: start}
}

func (c *ManualClock) Key() string  { return c.key }
func (c *ManualClock) Name() string { return "Manual Clock" }

func (c *ManualClock) Description() string {
	return "Explicitly advanced clock for replay and simulation"
}

func (c *ManualClock) Time() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

func (c *ManualClock) Notify(fn func(float64)) (stop func()) {
	return c.fan.notify(fn)
}

// SetTime moves the clock to v and publishes a tick.
func (c *ManualClock) SetTime(v float64) {
	c.mu.Lock()
	c.val = v
	c.mu.Unlock()
	c.fan.publish(v)
}

// Advance moves the clock forward by d milliseconds and publishes a tick.
func (c *ManualClock) Advance(d float64) {
	c.mu.Lock()
	c.val += d
	v := c.val
	c.mu.Unlock()
	c.fan.publish(v)
}
