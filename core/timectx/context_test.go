package timectx_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/core/timectx"
)

type testClock struct {
	key string

	mu   sync.Mutex
	val  float64
	subs map[int]func(float64)
	next int
}

func newTestClock(key string, val float64) *testClock {
	return &testClock{key: key, val: val, subs: make(map[int]func(float64))}
}

func (c *testClock) Key() string         { return c.key }
func (c *testClock) Name() string        { return c.key }
func (c *testClock) Description() string { return "test clock" }

func (c *testClock) Time() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

func (c *testClock) Notify(fn func(float64)) (stop func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *testClock) advance(v float64) {
	c.mu.Lock()
	c.val = v
	fns := make([]func(float64), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []timectx.Event
}

var allKinds = []timectx.EventKind{
	timectx.TimeSystemChanged,
	timectx.BoundsChanged,
	timectx.ModeChanged,
	timectx.ClockChanged,
	timectx.RefreshContext,
	timectx.RemoveOwnContext,
}

func record(c timectx.TimeContext, kinds ...timectx.EventKind) *recorder {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	r := &recorder{}
	for _, k := range kinds {
		c.On(k, func(ev timectx.Event) {
			r.mu.Lock()
			r.evs = append(r.evs, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) events() []timectx.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timectx.Event(nil), r.evs...)
}

func (r *recorder) kinds() []timectx.EventKind {
	evs := r.events()
	ks := make([]timectx.EventKind, len(evs))
	for i, ev := range evs {
		ks[i] = ev.Kind
	}
	return ks
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}

func sameKinds(got, want []timectx.EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func newGlobal(t *testing.T) (*timectx.GlobalContext, *testClock) {
	t.Helper()
	g := timectx.NewGlobalContext(nil, zap.NewNop())
	err := g.AddTimeSystem(timesys.TimeSystem{
		Key: "utc", Name: "UTC", TimestampFormat: "utc-format",
	})
	if err != nil {
		t.Fatal(err)
	}
	clk := newTestClock("local-clock", 0)
	if err = g.AddClock(clk); err != nil {
		t.Fatal(err)
	}
	return g, clk
}

func TestSetTimeSystem(t *testing.T) {
	g, _ := newGlobal(t)
	r := record(g)
	err := g.SetTimeSystem("utc", timesys.Bounds{Start: 0, End: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if k := g.TimeSystemKey(); k != "utc" {
		t.Errorf("time system key: got %q, expected %q", k, "utc")
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 0, End: 1000}) {
		t.Errorf("bounds: got %v", b)
	}
	if m := g.Mode(); m != timesys.Fixed {
		t.Errorf("mode: got %v, expected fixed", m)
	}
	evs := r.events()
	want := []timectx.EventKind{timectx.TimeSystemChanged, timectx.BoundsChanged}
	if !sameKinds(r.kinds(), want) {
		t.Fatalf("events: got %v, expected %v", r.kinds(), want)
	}
	if evs[0].TimeSystem.Key != "utc" {
		t.Errorf("time system event: got %q", evs[0].TimeSystem.Key)
	}
	if evs[1].Bounds != (timesys.Bounds{Start: 0, End: 1000}) || evs[1].Tick {
		t.Errorf("bounds event: got %+v", evs[1])
	}
}

func TestSetTimeSystemUnknown(t *testing.T) {
	g, _ := newGlobal(t)
	r := record(g)
	err := g.SetTimeSystem("tai", timesys.Bounds{Start: 0, End: 1})
	if !errors.Is(err, timectx.ErrUnknownTimeSystem) {
		t.Fatalf("got %v, expected ErrUnknownTimeSystem", err)
	}
	if len(r.events()) != 0 {
		t.Errorf("unexpected events: %v", r.kinds())
	}
	if k := g.TimeSystemKey(); k != "" {
		t.Errorf("time system key: got %q, expected none", k)
	}
}

func TestSetBoundsInvalid(t *testing.T) {
	g, _ := newGlobal(t)
	r := record(g)
	err := g.SetBounds(timesys.Bounds{Start: 5, End: 1})
	if !errors.Is(err, timesys.ErrInvalidBounds) {
		t.Fatalf("got %v, expected ErrInvalidBounds", err)
	}
	if err = g.SetBounds(timesys.Bounds{Start: math.NaN(), End: 1}); err == nil {
		t.Error("expected error for NaN bounds")
	}
	if len(r.events()) != 0 {
		t.Errorf("unexpected events: %v", r.kinds())
	}
}

func TestSetClockDrivesBounds(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetTimeSystem("utc", timesys.Bounds{Start: 0, End: 1000}); err != nil {
		t.Fatal(err)
	}
	r := record(g)
	err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -1000, End: 0})
	if err != nil {
		t.Fatal(err)
	}
	clk.advance(5000)
	if b := g.Bounds(); b != (timesys.Bounds{Start: 4000, End: 5000}) {
		t.Errorf("bounds: got %v, expected {4000 5000}", b)
	}
	if m := g.Mode(); m != timesys.RealTime {
		t.Errorf("mode: got %v, expected realtime", m)
	}
	if k := g.ClockKey(); k != "local-clock" {
		t.Errorf("clock key: got %q", k)
	}
	evs := r.events()
	want := []timectx.EventKind{
		timectx.ClockChanged, timectx.BoundsChanged, timectx.BoundsChanged,
	}
	if !sameKinds(r.kinds(), want) {
		t.Fatalf("events: got %v, expected %v", r.kinds(), want)
	}
	if evs[0].ClockKey != "local-clock" {
		t.Errorf("clock event: got %q", evs[0].ClockKey)
	}
	if evs[1].Tick {
		t.Error("seed bounds event must not be tick-driven")
	}
	if evs[1].Bounds != (timesys.Bounds{Start: -1000, End: 0}) {
		t.Errorf("seed bounds: got %v", evs[1].Bounds)
	}
	if !evs[2].Tick {
		t.Error("tick bounds event must be tick-driven")
	}
	if evs[2].Bounds != (timesys.Bounds{Start: 4000, End: 5000}) {
		t.Errorf("tick bounds: got %v", evs[2].Bounds)
	}
}

func TestSetClockUnknown(t *testing.T) {
	g, _ := newGlobal(t)
	r := record(g)
	err := g.SetClock("quartz", timesys.ClockOffsets{Start: -1, End: 0})
	if !errors.Is(err, timectx.ErrUnknownClock) {
		t.Fatalf("got %v, expected ErrUnknownClock", err)
	}
	if len(r.events()) != 0 {
		t.Errorf("unexpected events: %v", r.kinds())
	}
	if m := g.Mode(); m != timesys.Fixed {
		t.Errorf("mode: got %v, expected fixed", m)
	}
}

func TestTickIgnoredInFixedMode(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -1000, End: 0}); err != nil {
		t.Fatal(err)
	}
	clk.advance(5000)
	g.SetMode(timesys.Fixed)
	r := record(g)
	clk.advance(7000)
	if len(r.events()) != 0 {
		t.Errorf("unexpected events in fixed mode: %v", r.kinds())
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 4000, End: 5000}) {
		t.Errorf("bounds moved in fixed mode: %v", b)
	}

	// Switching back re-seeds from the clock so the stale window does not
	// linger until the next tick.
	g.SetMode(timesys.RealTime)
	want := []timectx.EventKind{timectx.ModeChanged, timectx.BoundsChanged}
	if !sameKinds(r.kinds(), want) {
		t.Fatalf("events: got %v, expected %v", r.kinds(), want)
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 6000, End: 7000}) {
		t.Errorf("bounds after re-seed: got %v", b)
	}
}

func TestNonFiniteTickIsNoOp(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -100, End: 0}); err != nil {
		t.Fatal(err)
	}
	clk.advance(1000)
	r := record(g)
	clk.advance(math.NaN())
	clk.advance(math.Inf(1))
	if len(r.events()) != 0 {
		t.Errorf("unexpected events: %v", r.kinds())
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 900, End: 1000}) {
		t.Errorf("bounds: got %v", b)
	}
}

func TestStopClock(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -100, End: 0}); err != nil {
		t.Fatal(err)
	}
	clk.advance(1000)
	r := record(g)
	g.StopClock()
	evs := r.events()
	if !sameKinds(r.kinds(), []timectx.EventKind{timectx.ClockChanged}) {
		t.Fatalf("events: got %v, expected clock event only", r.kinds())
	}
	if evs[0].ClockKey != "" {
		t.Errorf("clock event key: got %q, expected empty", evs[0].ClockKey)
	}
	if k := g.ClockKey(); k != "" {
		t.Errorf("clock key: got %q, expected empty", k)
	}
	if m := g.Mode(); m != timesys.RealTime {
		t.Errorf("mode changed by StopClock: %v", m)
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 900, End: 1000}) {
		t.Errorf("bounds changed by StopClock: %v", b)
	}
	r.clear()
	clk.advance(2000)
	if len(r.events()) != 0 {
		t.Errorf("tick after StopClock delivered: %v", r.kinds())
	}
	g.StopClock()
	if len(r.events()) != 0 {
		t.Error("StopClock without a clock must not emit")
	}
}

func TestSetClockOffsets(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -1000, End: 0}); err != nil {
		t.Fatal(err)
	}
	clk.advance(5000)
	r := record(g)
	if err := g.SetClockOffsets(timesys.ClockOffsets{Start: -500, End: 0}); err != nil {
		t.Fatal(err)
	}
	evs := r.events()
	if !sameKinds(r.kinds(), []timectx.EventKind{timectx.BoundsChanged}) {
		t.Fatalf("events: got %v, expected bounds event only", r.kinds())
	}
	if evs[0].Tick {
		t.Error("offset recompute must not be tick-driven")
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 4500, End: 5000}) {
		t.Errorf("bounds: got %v", b)
	}

	if err := g.SetClockOffsets(timesys.ClockOffsets{Start: 1, End: 0}); err == nil {
		t.Error("expected error for inverted offsets")
	}
}

func TestSetClockOffsetsStoresInFixedMode(t *testing.T) {
	g, clk := newGlobal(t)
	if err := g.SetClock("local-clock", timesys.ClockOffsets{Start: -1000, End: 0}); err != nil {
		t.Fatal(err)
	}
	clk.advance(5000)
	g.SetMode(timesys.Fixed)
	r := record(g)
	if err := g.SetClockOffsets(timesys.ClockOffsets{Start: -200, End: 0}); err != nil {
		t.Fatal(err)
	}
	if len(r.events()) != 0 {
		t.Errorf("unexpected events in fixed mode: %v", r.kinds())
	}
	if b := g.Bounds(); b != (timesys.Bounds{Start: 4000, End: 5000}) {
		t.Errorf("bounds: got %v", b)
	}
	// The stored offsets apply once the clock drives bounds again.
	g.SetMode(timesys.RealTime)
	if b := g.Bounds(); b != (timesys.Bounds{Start: 4800, End: 5000}) {
		t.Errorf("bounds after mode switch: got %v", b)
	}
}

func TestSetModePanicsOnUnknownMode(t *testing.T) {
	g, _ := newGlobal(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	g.SetMode(timesys.Mode(42))
}

func TestDuplicateRegistration(t *testing.T) {
	g, _ := newGlobal(t)
	err := g.AddTimeSystem(timesys.TimeSystem{Key: "utc", Name: "UTC 2"})
	if !errors.Is(err, timectx.ErrDuplicateRegistration) {
		t.Errorf("time system: got %v, expected ErrDuplicateRegistration", err)
	}
	err = g.AddClock(newTestClock("local-clock", 0))
	if !errors.Is(err, timectx.ErrDuplicateRegistration) {
		t.Errorf("clock: got %v, expected ErrDuplicateRegistration", err)
	}
	// The original registrations are intact.
	if n := len(g.TimeSystems()); n != 1 {
		t.Errorf("time systems: got %d, expected 1", n)
	}
	if n := len(g.Clocks()); n != 1 {
		t.Errorf("clocks: got %d, expected 1", n)
	}
}

func TestRegistrationOrder(t *testing.T) {
	g, _ := newGlobal(t)
	if err := g.AddTimeSystem(timesys.TimeSystem{Key: "met"}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddTimeSystem(timesys.TimeSystem{Key: "sclk"}); err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, ts := range g.TimeSystems() {
		keys = append(keys, ts.Key)
	}
	want := []string{"utc", "met", "sclk"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, expected %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, expected %v", keys, want)
		}
	}
}
