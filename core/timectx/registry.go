package timectx

import (
	"fmt"
	"sync"

	"example.com/telemetry-time/base/timesys"
)

// systemRegistry holds the known time systems in registration order. Both
// registries reject duplicate keys, so a key, once registered, always refers
// to the same descriptor.
type systemRegistry struct {
	mu    sync.Mutex
	byKey map[string]timesys.TimeSystem
	order []timesys.TimeSystem
}

func newSystemRegistry() *systemRegistry {
	return &systemRegistry{byKey: make(map[string]timesys.TimeSystem)}
}

func (r *systemRegistry) register(ts timesys.TimeSystem) error {
	if ts.Key == "" {
		panic("time system key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[ts.Key]; ok {
		return fmt.Errorf("time system %q: %w", ts.Key, ErrDuplicateRegistration)
	}
	r.byKey[ts.Key] = ts
	r.order = append(r.order, ts)
	return nil
}

func (r *systemRegistry) lookup(key string) (timesys.TimeSystem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.byKey[key]
	return ts, ok
}

func (r *systemRegistry) all() []timesys.TimeSystem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timesys.TimeSystem(nil), r.order...)
}

type clockRegistry struct {
	mu    sync.Mutex
	byKey map[string]timesys.Clock
	order []timesys.Clock
}

func newClockRegistry() *clockRegistry {
	return &clockRegistry{byKey: make(map[string]timesys.Clock)}
}

func (r *clockRegistry) register(c timesys.Clock) error {
	if c == nil {
		panic("clock must not be nil")
	}
	if c.Key() == "" {
		panic("clock key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[c.Key()]; ok {
		return fmt.Errorf("clock %q: %w", c.Key(), ErrDuplicateRegistration)
	}
	r.byKey[c.Key()] = c
	r.order = append(r.order, c)
	return nil
}

func (r *clockRegistry) lookup(key string) (timesys.Clock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[key]
	return c, ok
}

func (r *clockRegistry) all() []timesys.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timesys.Clock(nil), r.order...)
}
