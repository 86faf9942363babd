// Package bus re-publishes global context events onto an application-wide
// event bus, one topic per event kind. Collaborators that care about a single
// kind subscribe to its topic instead of filtering a full feed.
package bus

import (
	evbus "github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/telemetry-time/base/metrics"
	"example.com/telemetry-time/core/timectx"
)

const (
	TopicTimeSystem = "time.system"
	TopicBounds     = "time.bounds"
	TopicMode       = "time.mode"
	TopicClock      = "time.clock"
	TopicRefresh    = "time.refresh"
	TopicRemove     = "time.remove"
)

// Topic returns the bus topic carrying events of the given kind, or an empty
// string for kinds the bridge does not publish.
func Topic(k timectx.EventKind) string {
	switch k {
	case timectx.TimeSystemChanged:
		return TopicTimeSystem
	case timectx.BoundsChanged:
		return TopicBounds
	case timectx.ModeChanged:
		return TopicMode
	case timectx.ClockChanged:
		return TopicClock
	case timectx.RefreshContext:
		return TopicRefresh
	case timectx.RemoveOwnContext:
		return TopicRemove
	default:
		return ""
	}
}

type bridgeMetrics struct {
	published       prometheus.Counter
	dropped         prometheus.Counter
	systemEvents    prometheus.Counter
	boundsEvents    prometheus.Counter
	tickEvents      prometheus.Counter
	modeEvents      prometheus.Counter
	clockEvents     prometheus.Counter
	overridesActive prometheus.Gauge
}

func newBridgeMetrics() *bridgeMetrics {
	return &bridgeMetrics{
		published: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.BusEventsPublishedN,
			Help: metrics.BusEventsPublishedH,
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.BusEventsDroppedN,
			Help: metrics.BusEventsDroppedH,
		}),
		systemEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.TimeSystemEventsN,
			Help: metrics.TimeSystemEventsH,
		}),
		boundsEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.TimeBoundsEventsN,
			Help: metrics.TimeBoundsEventsH,
		}),
		tickEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.TimeTickEventsN,
			Help: metrics.TimeTickEventsH,
		}),
		modeEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.TimeModeEventsN,
			Help: metrics.TimeModeEventsH,
		}),
		clockEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.TimeClockEventsN,
			Help: metrics.TimeClockEventsH,
		}),
		overridesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.TimeOverridesActiveN,
			Help: metrics.TimeOverridesActiveH,
		}),
	}
}

// A Bridge hooks every event kind of one global context and forwards each
// event to the bus topic for its kind. Events published to a topic nobody
// subscribed are counted as dropped instead of handed to the bus.
type Bridge struct {
	bus   evbus.Bus
	src   *timectx.GlobalContext
	log   *zap.Logger
	mtrcs *bridgeMetrics
	stops []func()
}

// NewBridge attaches a bridge to src. A nil b starts a fresh bus, a nil log
// defaults to a nop logger.
func NewBridge(b evbus.Bus, src *timectx.GlobalContext, log *zap.Logger) *Bridge {
	return newBridge(b, src, log, newBridgeMetrics())
}

func newBridge(b evbus.Bus, src *timectx.GlobalContext, log *zap.Logger, mtrcs *bridgeMetrics) *Bridge {
	if b == nil {
		b = evbus.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	br := &Bridge{bus: b, src: src, log: log, mtrcs: mtrcs}
	for _, k := range []timectx.EventKind{
		timectx.TimeSystemChanged, timectx.BoundsChanged, timectx.ModeChanged,
		timectx.ClockChanged, timectx.RefreshContext, timectx.RemoveOwnContext,
	} {
		topic := Topic(k)
		br.stops = append(br.stops, src.On(k, func(ev timectx.Event) {
			br.forward(topic, ev)
		}))
	}
	return br
}

// Bus returns the underlying bus for subscribing.
func (br *Bridge) Bus() evbus.Bus { return br.bus }

// Close detaches the bridge from its context. Topics stay subscribable, they
// just stop receiving.
func (br *Bridge) Close() {
	for _, stop := range br.stops {
		stop()
	}
	br.stops = nil
}

func (br *Bridge) forward(topic string, ev timectx.Event) {
	br.count(ev)
	if !br.bus.HasCallback(topic) {
		br.mtrcs.dropped.Inc()
		return
	}
	br.bus.Publish(topic, ev)
	br.mtrcs.published.Inc()
}

// count maintains the per-kind event counters and the override gauge. The
// reverting subscription on the global context registers before any bridge,
// so by the time a remove event arrives here the release already happened
// and the gauge reads the post-release count.
func (br *Bridge) count(ev timectx.Event) {
	switch ev.Kind {
	case timectx.TimeSystemChanged:
		br.mtrcs.systemEvents.Inc()
	case timectx.BoundsChanged:
		br.mtrcs.boundsEvents.Inc()
		if ev.Tick {
			br.mtrcs.tickEvents.Inc()
		}
	case timectx.ModeChanged:
		br.mtrcs.modeEvents.Inc()
	case timectx.ClockChanged:
		br.mtrcs.clockEvents.Inc()
	case timectx.RefreshContext, timectx.RemoveOwnContext:
		br.mtrcs.overridesActive.Set(float64(len(br.src.Overriding())))
	}
}
