package timectx

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timesys"
)

// GlobalContext is the application-wide time context. It owns the time system
// and clock registries and the registry of independent per-object contexts,
// and it is the context the resolver falls back to when no override exists
// for an object.
type GlobalContext struct {
	baseContext
	log   *zap.Logger
	keyFn KeyFunc

	indMu        sync.Mutex
	independents map[string]*indEntry
}

// indEntry pairs an independent context with the fingerprint of the object
// path it was resolved for. A context created through the override protocol
// has no path yet; the first resolve adopts one.
type indEntry struct {
	ctx     *IndependentContext
	path    string
	hasPath bool
}

var _ TimeContext = (*GlobalContext)(nil)

// NewGlobalContext returns a context with empty registries, fixed mode, and
// zero bounds. A nil keyFn defaults to DefaultKey, a nil log to a nop logger.
func NewGlobalContext(keyFn KeyFunc, log *zap.Logger) *GlobalContext {
	if keyFn == nil {
		keyFn = DefaultKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &GlobalContext{
		baseContext: baseContext{
			em:      &emitter{},
			systems: newSystemRegistry(),
			clocks:  newClockRegistry(),
		},
		log:          log,
		keyFn:        keyFn,
		independents: make(map[string]*indEntry),
	}
	// Release funcs only notify. The teardown itself is this subscription,
	// so it is synchronous with the emission and observable by anyone
	// listening on the global context.
	g.em.on(RemoveOwnContext, func(ev Event) { g.revertIndependent(ev.ObjectKey) })
	return g
}

// AddTimeSystem registers a time system application-wide. Keys are unique;
// registering one twice fails with ErrDuplicateRegistration.
func (g *GlobalContext) AddTimeSystem(ts timesys.TimeSystem) error {
	if err := g.systems.register(ts); err != nil {
		return err
	}
	g.log.Debug("registered time system", zap.String("key", ts.Key))
	return nil
}

// AddClock registers a clock application-wide. Keys are unique; registering
// one twice fails with ErrDuplicateRegistration.
func (g *GlobalContext) AddClock(c timesys.Clock) error {
	if err := g.clocks.register(c); err != nil {
		return err
	}
	g.log.Debug("registered clock", zap.String("key", c.Key()))
	return nil
}

// TimeSystems returns the registered time systems in registration order.
func (g *GlobalContext) TimeSystems() []timesys.TimeSystem {
	return g.systems.all()
}

// Clocks returns the registered clocks in registration order.
func (g *GlobalContext) Clocks() []timesys.Clock {
	return g.clocks.all()
}

// AddIndependentFixed establishes or replaces a fixed-bounds override for the
// object keyed by objectKey. The object's context is created if needed, reset
// (stale upstream hooks and clock listeners torn down), switched to fixed
// mode, and pinned to b; a refresh event keyed by objectKey then fires on the
// global context so already-resolved views re-pull their bounds. Nothing is
// applied if validation fails.
//
// The returned release func emits a remove event keyed by objectKey; that
// emission is its sole direct effect. The global context reacts by reverting
// the object to following, synchronously within the release call. Releasing
// after a newer override was established for the same key reverts that one
// too; the owner of the override's lifecycle decides when to release.
func (g *GlobalContext) AddIndependentFixed(objectKey string, b timesys.Bounds) (release func(), err error) {
	if objectKey == "" {
		return nil, fmt.Errorf("empty object key: %w", ErrInvalidPath)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	ic := g.independentFor(objectKey)
	st := ic.beginOverride()
	st.SetMode(timesys.Fixed)
	if err := st.SetBounds(b); err != nil {
		return nil, err
	}
	g.log.Debug("fixed override",
		zap.String("object", objectKey),
		zap.Float64("start", b.Start),
		zap.Float64("end", b.End))
	g.em.emit(Event{Kind: RefreshContext, ObjectKey: objectKey})
	return g.releaseFunc(objectKey), nil
}

// AddIndependentRealTime establishes or replaces a clock-driven override for
// the object keyed by objectKey. Same protocol as AddIndependentFixed, but
// the context switches to real-time mode and attaches the clock registered
// under clockKey with the given offsets, ticking independently of the global
// clock from then on.
func (g *GlobalContext) AddIndependentRealTime(objectKey, clockKey string, o timesys.ClockOffsets) (release func(), err error) {
	if objectKey == "" {
		return nil, fmt.Errorf("empty object key: %w", ErrInvalidPath)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if _, ok := g.clocks.lookup(clockKey); !ok {
		return nil, fmt.Errorf("clock %q: %w", clockKey, ErrUnknownClock)
	}
	ic := g.independentFor(objectKey)
	st := ic.beginOverride()
	st.SetMode(timesys.RealTime)
	if err := st.SetClock(clockKey, o); err != nil {
		return nil, err
	}
	g.log.Debug("real-time override",
		zap.String("object", objectKey),
		zap.String("clock", clockKey))
	g.em.emit(Event{Kind: RefreshContext, ObjectKey: objectKey})
	return g.releaseFunc(objectKey), nil
}

// IndependentContext looks up the independent context registered for
// objectKey, if any. Pure lookup, never creates.
func (g *GlobalContext) IndependentContext(objectKey string) (*IndependentContext, bool) {
	g.indMu.Lock()
	defer g.indMu.Unlock()
	e, ok := g.independents[objectKey]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Overriding returns the object keys currently holding an override, sorted.
func (g *GlobalContext) Overriding() []string {
	g.indMu.Lock()
	ctxs := make([]*IndependentContext, 0, len(g.independents))
	for _, e := range g.independents {
		ctxs = append(ctxs, e.ctx)
	}
	g.indMu.Unlock()
	var keys []string
	for _, ic := range ctxs {
		if ic.Overriding() {
			keys = append(keys, ic.ObjectKey())
		}
	}
	slices.Sort(keys)
	return keys
}

func (g *GlobalContext) independentFor(objectKey string) *IndependentContext {
	g.indMu.Lock()
	defer g.indMu.Unlock()
	if e, ok := g.independents[objectKey]; ok {
		return e.ctx
	}
	ic := newIndependentContext(g, objectKey)
	g.independents[objectKey] = &indEntry{ctx: ic}
	return ic
}

func (g *GlobalContext) releaseFunc(objectKey string) func() {
	return func() {
		g.em.emit(Event{Kind: RemoveOwnContext, ObjectKey: objectKey})
	}
}

func (g *GlobalContext) revertIndependent(objectKey string) {
	g.indMu.Lock()
	e, ok := g.independents[objectKey]
	g.indMu.Unlock()
	if !ok {
		return
	}
	e.ctx.follow()
	g.log.Debug("override released", zap.String("object", objectKey))
}
