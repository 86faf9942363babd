// Package server exposes the time service over websocket feeds. A session
// binds one client to one time context: state changes stream out as event
// frames, control commands map onto context operations, and command errors
// come back as structured replies without dropping the connection.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/telemetry-time/base/metrics"
	"example.com/telemetry-time/base/timemath"
	"example.com/telemetry-time/core/timectx"
	"example.com/telemetry-time/net/timefeed"
)

const (
	sendQueueLen = 256
	writeTimeout = 10 * time.Second
	tickWindow   = 64
)

type feedMetrics struct {
	sessionsOpened     prometheus.Counter
	sessionsActive     prometheus.Gauge
	framesSent         prometheus.Counter
	cmdsAccepted       prometheus.Counter
	cmdErrors          prometheus.Counter
	tickIntervalMedian prometheus.Gauge
}

func newFeedMetrics() *feedMetrics {
	return &feedMetrics{
		sessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.FeedSessionsOpenedN,
			Help: metrics.FeedSessionsOpenedH,
		}),
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.FeedSessionsActiveN,
			Help: metrics.FeedSessionsActiveH,
		}),
		framesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.FeedFramesSentN,
			Help: metrics.FeedFramesSentH,
		}),
		cmdsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.FeedCmdsAcceptedN,
			Help: metrics.FeedCmdsAcceptedH,
		}),
		cmdErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.FeedCmdErrorsN,
			Help: metrics.FeedCmdErrorsH,
		}),
		tickIntervalMedian: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.FeedTickIntervalMedianN,
			Help: metrics.FeedTickIntervalMedianH,
		}),
	}
}

// Server serves websocket feed sessions bound to one global context.
type Server struct {
	global   *timectx.GlobalContext
	log      *zap.Logger
	mtrcs    *feedMetrics
	presets  []timefeed.OffsetPreset
	upgrader websocket.Upgrader

	mu        sync.Mutex
	sessions  map[string]*session
	lastTick  time.Time
	intervals []float64

	stopTick func()
}

var _ http.Handler = (*Server)(nil)

// NewFeedServer returns a server for g. A nil log defaults to a nop logger;
// presets are surfaced verbatim in hello frames.
func NewFeedServer(g *timectx.GlobalContext, presets []timefeed.OffsetPreset, log *zap.Logger) *Server {
	return newFeedServer(g, presets, log, newFeedMetrics())
}

func newFeedServer(g *timectx.GlobalContext, presets []timefeed.OffsetPreset,
	log *zap.Logger, mtrcs *feedMetrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		global:  g,
		log:     log,
		mtrcs:   mtrcs,
		presets: presets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
	s.stopTick = g.On(timectx.BoundsChanged, func(ev timectx.Event) {
		if ev.Tick {
			s.observeTick(time.Now())
		}
	})
	return s
}

// StartFeedServer listens on listenAddr and serves feed sessions at /feed
// until ctx is canceled. The listener binds with SO_REUSEPORT so a
// replacement daemon can bind before the old one exits.
func StartFeedServer(ctx context.Context, log *zap.Logger, listenAddr string,
	g *timectx.GlobalContext, presets []timefeed.OffsetPreset) *Server {
	s := NewFeedServer(g, presets, log)
	ln, err := reuseport.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal("failed to listen for feed connections", zap.Error(err))
	}
	mux := http.NewServeMux()
	mux.Handle("/feed", s)
	hs := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = hs.Close()
	}()
	go func() {
		err := hs.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			log.Error("feed server failed", zap.Error(err))
		}
	}()
	log.Info("feed server listening", zap.String("addr", listenAddr))
	return s
}

// ServeHTTP upgrades the request to a websocket and runs the session until
// the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("failed to upgrade feed connection", zap.Error(err))
		return
	}
	sess := s.openSession(conn)
	defer s.closeSession(sess)
	s.send(sess, s.helloFrame(sess))
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("feed session closed unexpectedly",
					zap.String("session", sess.id), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.handleFrame(sess, msg)
	}
}

// Close stops the tick observer and drops every open session.
func (s *Server) Close() {
	s.stopTick()
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
}

// observeTick folds one tick arrival into the rolling inter-tick window and
// publishes the window median.
func (s *Server) observeTick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastTick.IsZero() {
		gap := float64(now.Sub(s.lastTick)) / float64(time.Millisecond)
		s.intervals = append(s.intervals, gap)
		if len(s.intervals) > tickWindow {
			s.intervals = s.intervals[1:]
		}
		vs := make([]float64, len(s.intervals))
		copy(vs, s.intervals)
		s.mtrcs.tickIntervalMedian.Set(timemath.Median(vs))
	}
	s.lastTick = now
}
