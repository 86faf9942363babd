package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/core/timectx"
	"example.com/telemetry-time/net/timefeed"
)

// session is one feed connection. ctx, okey, offs, and releases are touched
// only by the connection's read loop; out is drained by the write pump so
// event listeners never write to the socket directly.
type session struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}

	ctx      timectx.TimeContext
	okey     string
	offs     []func()
	releases map[string]func()
}

var stateKinds = []timectx.EventKind{
	timectx.TimeSystemChanged, timectx.BoundsChanged,
	timectx.ModeChanged, timectx.ClockChanged,
}

func (s *Server) openSession(conn *websocket.Conn) *session {
	sess := &session{
		id:       uuid.NewString(),
		conn:     conn,
		out:      make(chan []byte, sendQueueLen),
		done:     make(chan struct{}),
		releases: make(map[string]func()),
	}
	s.bind(sess, s.global)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.mtrcs.sessionsOpened.Inc()
	s.mtrcs.sessionsActive.Inc()
	go s.writePump(sess)
	s.log.Info("feed session opened",
		zap.String("session", sess.id),
		zap.String("remote", conn.RemoteAddr().String()))
	return sess
}

// closeSession unhooks the session and releases every override it still
// holds, so overrides never outlive their owning connection.
func (s *Server) closeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.unbind(sess)
	for key, release := range sess.releases {
		release()
		delete(sess.releases, key)
	}
	close(sess.done)
	_ = sess.conn.Close()
	s.mtrcs.sessionsActive.Dec()
	s.log.Info("feed session closed", zap.String("session", sess.id))
}

// bind points the session at c and routes its events to the socket. State
// kinds come from c itself. Override lifecycle kinds fire on the global
// context only, so they are tapped there: unfiltered for a session on the
// global context, filtered to the bound object otherwise.
func (s *Server) bind(sess *session, c timectx.TimeContext) {
	sess.ctx = c
	sess.okey = ""
	if ic, ok := c.(*timectx.IndependentContext); ok {
		sess.okey = ic.ObjectKey()
	}
	okey := sess.okey
	for _, k := range stateKinds {
		sess.offs = append(sess.offs, c.On(k, func(ev timectx.Event) {
			s.pushEvent(sess, ev, okey)
		}))
	}
	for _, k := range []timectx.EventKind{timectx.RefreshContext, timectx.RemoveOwnContext} {
		sess.offs = append(sess.offs, s.global.On(k, func(ev timectx.Event) {
			if okey != "" && ev.ObjectKey != okey {
				return
			}
			s.pushEvent(sess, ev, okey)
		}))
	}
}

func (s *Server) unbind(sess *session) {
	for _, off := range sess.offs {
		off()
	}
	sess.offs = nil
}

func (s *Server) pushEvent(sess *session, ev timectx.Event, okey string) {
	wev := timefeed.FromContextEvent(ev)
	if wev.Object == "" {
		wev.Object = okey
	}
	s.send(sess, &timefeed.ServerFrame{Type: timefeed.TypeEvent, Event: &wev})
}

func (s *Server) sendReply(sess *session, r *timefeed.Reply) {
	s.send(sess, &timefeed.ServerFrame{Type: timefeed.TypeReply, Reply: r})
}

// send enqueues a frame for the write pump. A session that cannot keep up
// loses its connection rather than stalling event dispatch.
func (s *Server) send(sess *session, f *timefeed.ServerFrame) {
	b, err := timefeed.EncodeServerFrame(f)
	if err != nil {
		s.log.Error("failed to encode feed frame", zap.Error(err))
		return
	}
	select {
	case sess.out <- b:
		s.mtrcs.framesSent.Inc()
	default:
		s.log.Warn("feed session queue full, dropping connection",
			zap.String("session", sess.id))
		_ = sess.conn.Close()
	}
}

func (s *Server) writePump(sess *session) {
	for {
		select {
		case b := <-sess.out:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = sess.conn.Close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (s *Server) handleFrame(sess *session, msg []byte) {
	f, err := timefeed.DecodeClientFrame(msg)
	if err != nil {
		s.mtrcs.cmdErrors.Inc()
		s.sendReply(sess, &timefeed.Reply{OK: false, Error: err.Error()})
		return
	}
	switch f.Type {
	case timefeed.TypeAttach:
		s.handleAttach(sess, f.Attach)
	case timefeed.TypeCommand:
		s.handleCommand(sess, f.Command)
	}
}

// handleAttach re-binds the session to the context resolved for the named
// object path and answers with a fresh hello carrying the re-bound state.
func (s *Server) handleAttach(sess *session, att *timefeed.Attach) {
	c, err := s.global.ContextForView(att.Path)
	if err != nil {
		s.mtrcs.cmdErrors.Inc()
		s.sendReply(sess, &timefeed.Reply{OK: false, Error: err.Error()})
		return
	}
	s.unbind(sess)
	s.bind(sess, c)
	s.send(sess, s.helloFrame(sess))
	s.log.Debug("feed session attached",
		zap.String("session", sess.id),
		zap.String("object", sess.okey))
}

func (s *Server) handleCommand(sess *session, cmd *timefeed.Command) {
	var err error
	switch cmd.Op {
	case timefeed.OpSetTimeSystem:
		err = sess.ctx.SetTimeSystem(cmd.TimeSystem, *cmd.Bounds)
	case timefeed.OpSetBounds:
		err = sess.ctx.SetBounds(*cmd.Bounds)
	case timefeed.OpSetClock:
		err = sess.ctx.SetClock(cmd.Clock, *cmd.Offsets)
	case timefeed.OpSetClockOffsets:
		err = sess.ctx.SetClockOffsets(*cmd.Offsets)
	case timefeed.OpSetMode:
		var m timesys.Mode
		m, err = timesys.ParseMode(cmd.Mode)
		if err == nil {
			sess.ctx.SetMode(m)
		}
	case timefeed.OpStopClock:
		sess.ctx.StopClock()
	case timefeed.OpOverride:
		var release func()
		if cmd.Clock != "" {
			release, err = s.global.AddIndependentRealTime(cmd.Object, cmd.Clock, *cmd.Offsets)
		} else {
			release, err = s.global.AddIndependentFixed(cmd.Object, *cmd.Bounds)
		}
		if err == nil {
			// Replacing our own override: the old release func would
			// revert the new one, so it is dropped, not called.
			sess.releases[cmd.Object] = release
		}
	case timefeed.OpRelease:
		release, ok := sess.releases[cmd.Object]
		if !ok {
			err = fmt.Errorf("no override held for object %q", cmd.Object)
		} else {
			release()
			delete(sess.releases, cmd.Object)
		}
	}
	if err != nil {
		s.mtrcs.cmdErrors.Inc()
		s.log.Info("feed command rejected",
			zap.String("session", sess.id),
			zap.String("op", cmd.Op),
			zap.Error(err))
		s.sendReply(sess, &timefeed.Reply{ID: cmd.ID, OK: false, Error: err.Error()})
		return
	}
	s.mtrcs.cmdsAccepted.Inc()
	st := timefeed.Snapshot(sess.ctx, sess.okey)
	s.sendReply(sess, &timefeed.Reply{ID: cmd.ID, OK: true, State: &st})
}

func (s *Server) helloFrame(sess *session) *timefeed.ServerFrame {
	systems := s.global.TimeSystems()
	sinfos := make([]timefeed.TimeSystemInfo, 0, len(systems))
	for _, ts := range systems {
		sinfos = append(sinfos, timefeed.SystemInfo(ts))
	}
	clocks := s.global.Clocks()
	cinfos := make([]timefeed.ClockInfo, 0, len(clocks))
	for _, c := range clocks {
		cinfos = append(cinfos, timefeed.ClockInfo{
			Key:         c.Key(),
			Name:        c.Name(),
			Description: c.Description(),
			Time:        c.Time(),
		})
	}
	st := timefeed.Snapshot(sess.ctx, sess.okey)
	return &timefeed.ServerFrame{Type: timefeed.TypeHello, Hello: &timefeed.Hello{
		Session:     sess.id,
		TimeSystems: sinfos,
		Clocks:      cinfos,
		Presets:     s.presets,
		State:       st,
	}}
}
