package clock

import "sync"

// fanout distributes tick values to subscribers. Callbacks run without the
// fanout lock held, so a subscriber may call notify or stop from within a
// callback; stop removes the subscription without waiting for deliveries
// already in flight.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]func(float64)
}

func (f *fanout) notify(fn func(float64)) (stop func()) {
	if fn == nil {
		panic("tick callback must not be nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(float64))
	}
	f.next++
	id := f.next
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fanout) publish(v float64) {
	f.mu.Lock()
	fns := make([]func(float64), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
