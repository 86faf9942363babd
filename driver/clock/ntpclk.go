package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"

	"example.com/telemetry-time/base/timemath"
	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/base/zaplog"
)

const (
	NTPClockKey = "ntp-clock"

	defaultSyncInterval = 2 * time.Minute
)

// NTPClock ticks NTP-corrected wall clock time as epoch milliseconds. It
// periodically queries one server for the clock offset and applies the last
// known good offset to the host clock between syncs; a failed query keeps the
// previous offset and never disturbs ticking.
type NTPClock struct {
	Log          *zap.Logger
	server       string
	interval     time.Duration
	syncInterval time.Duration
	fan          fanout
	query        func(server string) (time.Duration, error)

	mu     sync.Mutex
	offset time.Duration
	synced time.Time
	stop   chan struct{}
	done   chan struct{}
}

var _ timesys.Clock = (*NTPClock)(nil)

func NewNTPClock(server string, interval, syncInterval time.Duration, log *zap.Logger) *NTPClock {
	if server == "" {
		panic("ntp server must not be empty")
	}
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}
	if log == nil {
		log = zaplog.Logger()
	}
	return &NTPClock{
		Log:          log,
		server:       server,
		interval:     interval,
		syncInterval: syncInterval,
		query:        queryOffset,
	}
}

func queryOffset(server string) (time.Duration, error) {
	r, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r.ClockOffset, nil
}

func (c *NTPClock) Key() string  { return NTPClockKey }
func (c *NTPClock) Name() string { return "NTP Clock" }

func (c *NTPClock) Description() string {
	return "Host wall clock corrected by an NTP server offset, in UTC epoch milliseconds"
}

// Offset returns the currently applied clock offset and the time of the last
// successful sync, zero values before the first one.
func (c *NTPClock) Offset() (offset time.Duration, synced time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.synced
}

func (c *NTPClock) Time() float64 {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()
	return timemath.Millis(time.Now().Add(offset))
}

func (c *NTPClock) Notify(fn func(float64)) (stop func()) {
	return c.fan.notify(fn)
}

func (c *NTPClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.Log.Debug("ntp clock started",
		zap.String("server", c.server),
		zap.Duration("interval", c.interval),
		zap.Duration("syncInterval", c.syncInterval))
	go c.run(c.stop, c.done)
}

func (c *NTPClock) run(stop, done chan struct{}) {
	defer close(done)
	c.sync()
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	resync := time.NewTicker(c.syncInterval)
	defer resync.Stop()
	for {
		select {
		case <-stop:
			return
		case <-resync.C:
			c.sync()
		case <-tick.C:
			c.fan.publish(c.Time())
		}
	}
}

func (c *NTPClock) sync() {
	offset, err := c.query(c.server)
	if err != nil {
		c.Log.Info("ntp sync failed, keeping last offset",
			zap.String("server", c.server), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.offset = offset
	c.synced = time.Now()
	c.mu.Unlock()
	c.Log.Debug("ntp sync",
		zap.String("server", c.server),
		zap.Duration("offset", offset))
}

func (c *NTPClock) Stop() {
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
	c.Log.Debug("ntp clock stopped")
}
