package clock_test

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timemath"
	"example.com/telemetry-time/driver/clock"
)

func TestManualClock(t *testing.T) {
	c := clock.NewManualClock("replay", 100)
	if v := c.Time(); v != 100 {
		t.Errorf("start value: got %v", v)
	}
	var got []float64
	stop := c.Notify(func(v float64) { got = append(got, v) })
	c.SetTime(500)
	c.Advance(25)
	stop()
	c.Advance(25)
	if v := c.Time(); v != 550 {
		t.Errorf("value: got %v, expected 550", v)
	}
	if len(got) != 2 || got[0] != 500 || got[1] != 525 {
		t.Errorf("ticks: got %v, expected [500 525]", got)
	}
}

func TestManualClockDescriptor(t *testing.T) {
	c := clock.NewManualClock("replay", 0)
	if c.Key() != "replay" {
		t.Errorf("key: got %q", c.Key())
	}
	if c.Name() == "" || c.Description() == "" {
		t.Error("empty name or description")
	}
}

func TestNotifyStopIdempotent(t *testing.T) {
	c := clock.NewManualClock("replay", 0)
	n := 0
	stop := c.Notify(func(float64) { n++ })
	c.Advance(1)
	stop()
	stop()
	c.Advance(1)
	if n != 1 {
		t.Errorf("deliveries: got %d, expected 1", n)
	}
}

// A subscriber stopping itself from within its callback must not deadlock:
// delivery holds no fanout lock.
func TestStopFromCallback(t *testing.T) {
	c := clock.NewManualClock("replay", 0)
	n := 0
	var stop func()
	stop = c.Notify(func(float64) {
		n++
		stop()
	})
	c.Advance(1)
	c.Advance(1)
	if n != 1 {
		t.Errorf("deliveries: got %d, expected 1", n)
	}
}

func TestMultipleSubscribers(t *testing.T) {
	c := clock.NewManualClock("replay", 0)
	a, b := 0, 0
	c.Notify(func(float64) { a++ })
	stopB := c.Notify(func(float64) { b++ })
	c.Advance(1)
	stopB()
	c.Advance(1)
	if a != 2 || b != 1 {
		t.Errorf("deliveries: got a=%d b=%d, expected a=2 b=1", a, b)
	}
}

func TestSystemClockTime(t *testing.T) {
	c := clock.NewSystemClock(0, zap.NewNop())
	now := timemath.Millis(time.Now())
	if v := c.Time(); math.Abs(v-now) > 5000 {
		t.Errorf("time: got %v, host %v", v, now)
	}
	if c.Key() != clock.SystemClockKey {
		t.Errorf("key: got %q", c.Key())
	}
}

func TestSystemClockTicks(t *testing.T) {
	c := clock.NewSystemClock(10*time.Millisecond, zap.NewNop())
	ticks := make(chan float64, 16)
	c.Notify(func(v float64) {
		select {
		case ticks <- v:
		default:
		}
	})
	c.Start()
	c.Start() // idempotent
	var v float64
	select {
	case v = <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick within 2s")
	}
	now := timemath.Millis(time.Now())
	if math.Abs(v-now) > 5000 {
		t.Errorf("tick value: got %v, host %v", v, now)
	}
	c.Stop()
	c.Stop() // idempotent
	for len(ticks) > 0 {
		<-ticks
	}
	time.Sleep(50 * time.Millisecond)
	if len(ticks) != 0 {
		t.Error("tick delivered after Stop")
	}
}

func TestMonotonicClockAdvances(t *testing.T) {
	c := clock.NewMonotonicClock(0, zap.NewNop())
	t1 := c.Time()
	if t1 < 0 {
		t.Fatalf("negative monotonic time: %v", t1)
	}
	time.Sleep(5 * time.Millisecond)
	t2 := c.Time()
	if t2 < t1 {
		t.Errorf("monotonic time went backwards: %v then %v", t1, t2)
	}
}

func TestMonotonicClockTicks(t *testing.T) {
	c := clock.NewMonotonicClock(10*time.Millisecond, zap.NewNop())
	ticks := make(chan float64, 16)
	c.Notify(func(v float64) {
		select {
		case ticks <- v:
		default:
		}
	})
	c.Start()
	defer c.Stop()
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick within 2s")
	}
}
