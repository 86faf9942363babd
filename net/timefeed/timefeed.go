// Package timefeed defines the JSON frames exchanged on the time feed
// socket. The server pushes hello, event, and reply frames; clients send
// attach and command frames. Payload values are expressed in the active time
// system's units, epoch milliseconds for the stock clocks.
package timefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/core/timectx"
)

const (
	TypeHello   = "hello"
	TypeEvent   = "event"
	TypeReply   = "reply"
	TypeAttach  = "attach"
	TypeCommand = "command"
)

// Command ops map 1:1 onto context operations; Override and Release drive
// the per-object override protocol.
const (
	OpSetTimeSystem   = "set_time_system"
	OpSetBounds       = "set_bounds"
	OpSetClock        = "set_clock"
	OpSetClockOffsets = "set_clock_offsets"
	OpSetMode         = "set_mode"
	OpStopClock       = "stop_clock"
	OpOverride        = "override"
	OpRelease         = "release"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownOp      = errors.New("unknown op")
)

type TimeSystemInfo struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	TimestampFormat string `json:"timestampFormat,omitempty"`
	DurationFormat  string `json:"durationFormat,omitempty"`
}

// ClockInfo describes a registered clock; Time is the clock's value at the
// moment the frame was assembled.
type ClockInfo struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Time        float64 `json:"time"`
}

// OffsetPreset is a named sliding window for UI pickers, e.g. "last 15
// minutes".
type OffsetPreset struct {
	Name    string               `json:"name"`
	Offsets timesys.ClockOffsets `json:"offsets"`
}

// State is a snapshot of one context, pushed in hello frames and command
// replies. An empty Object means the global context.
type State struct {
	Object     string               `json:"object,omitempty"`
	Mode       string               `json:"mode"`
	TimeSystem string               `json:"timeSystem,omitempty"`
	Clock      string               `json:"clock,omitempty"`
	Bounds     timesys.Bounds       `json:"bounds"`
	Offsets    timesys.ClockOffsets `json:"offsets"`
	Overriding bool                 `json:"overriding,omitempty"`
}

type Hello struct {
	Session     string           `json:"session"`
	TimeSystems []TimeSystemInfo `json:"timeSystems"`
	Clocks      []ClockInfo      `json:"clocks"`
	Presets     []OffsetPreset   `json:"presets,omitempty"`
	State       State            `json:"state"`
}

// Event mirrors one context event. Which fields are present depends on Kind,
// matching the context event contract; an absent clock on a clockChanged
// event means the clock was detached.
type Event struct {
	Kind       string                `json:"kind"`
	TimeSystem *TimeSystemInfo       `json:"timeSystem,omitempty"`
	Bounds     *timesys.Bounds       `json:"bounds,omitempty"`
	Tick       bool                  `json:"tick,omitempty"`
	Mode       string                `json:"mode,omitempty"`
	Clock      string                `json:"clock,omitempty"`
	Offsets    *timesys.ClockOffsets `json:"offsets,omitempty"`
	Object     string                `json:"object,omitempty"`
}

type Reply struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	State *State `json:"state,omitempty"`
}

type Attach struct {
	Path []timesys.Identifier `json:"path"`
}

type Command struct {
	ID         string                `json:"id,omitempty"`
	Op         string                `json:"op"`
	TimeSystem string                `json:"timeSystem,omitempty"`
	Mode       string                `json:"mode,omitempty"`
	Clock      string                `json:"clock,omitempty"`
	Bounds     *timesys.Bounds       `json:"bounds,omitempty"`
	Offsets    *timesys.ClockOffsets `json:"offsets,omitempty"`
	Object     string                `json:"object,omitempty"`
}

type ServerFrame struct {
	Type  string `json:"type"`
	Hello *Hello `json:"hello,omitempty"`
	Event *Event `json:"event,omitempty"`
	Reply *Reply `json:"reply,omitempty"`
}

type ClientFrame struct {
	Type    string   `json:"type"`
	Attach  *Attach  `json:"attach,omitempty"`
	Command *Command `json:"command,omitempty"`
}

func EncodeServerFrame(f *ServerFrame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeServerFrame(b []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	switch f.Type {
	case TypeHello:
		if f.Hello == nil {
			return ServerFrame{}, fmt.Errorf("%w: hello frame without payload", ErrMalformedFrame)
		}
	case TypeEvent:
		if f.Event == nil {
			return ServerFrame{}, fmt.Errorf("%w: event frame without payload", ErrMalformedFrame)
		}
	case TypeReply:
		if f.Reply == nil {
			return ServerFrame{}, fmt.Errorf("%w: reply frame without payload", ErrMalformedFrame)
		}
	default:
		return ServerFrame{}, fmt.Errorf("%w: type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

func EncodeClientFrame(f *ClientFrame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeClientFrame(b []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	switch f.Type {
	case TypeAttach:
		if f.Attach == nil {
			return ClientFrame{}, fmt.Errorf("%w: attach frame without payload", ErrMalformedFrame)
		}
	case TypeCommand:
		if f.Command == nil {
			return ClientFrame{}, fmt.Errorf("%w: command frame without payload", ErrMalformedFrame)
		}
		if err := f.Command.validate(); err != nil {
			return ClientFrame{}, err
		}
	default:
		return ClientFrame{}, fmt.Errorf("%w: type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// validate checks that the arguments an op requires are present. Value-level
// validation (bounds ordering, registered keys) is the context's job and
// surfaces in the reply instead.
func (c *Command) validate() error {
	switch c.Op {
	case OpSetTimeSystem:
		if c.TimeSystem == "" || c.Bounds == nil {
			return fmt.Errorf("%w: %s needs timeSystem and bounds", ErrMalformedFrame, c.Op)
		}
	case OpSetBounds:
		if c.Bounds == nil {
			return fmt.Errorf("%w: %s needs bounds", ErrMalformedFrame, c.Op)
		}
	case OpSetClock:
		if c.Clock == "" || c.Offsets == nil {
			return fmt.Errorf("%w: %s needs clock and offsets", ErrMalformedFrame, c.Op)
		}
	case OpSetClockOffsets:
		if c.Offsets == nil {
			return fmt.Errorf("%w: %s needs offsets", ErrMalformedFrame, c.Op)
		}
	case OpSetMode:
		if c.Mode == "" {
			return fmt.Errorf("%w: %s needs mode", ErrMalformedFrame, c.Op)
		}
	case OpStopClock:
	case OpOverride:
		if c.Object == "" {
			return fmt.Errorf("%w: %s needs object", ErrMalformedFrame, c.Op)
		}
		if c.Clock == "" && c.Bounds == nil {
			return fmt.Errorf("%w: %s needs clock offsets or bounds", ErrMalformedFrame, c.Op)
		}
		if c.Clock != "" && c.Offsets == nil {
			return fmt.Errorf("%w: %s with clock needs offsets", ErrMalformedFrame, c.Op)
		}
	case OpRelease:
		if c.Object == "" {
			return fmt.Errorf("%w: %s needs object", ErrMalformedFrame, c.Op)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	return nil
}

// SystemInfo converts a registered descriptor to its wire form.
func SystemInfo(ts timesys.TimeSystem) TimeSystemInfo {
	return TimeSystemInfo{
		Key:             ts.Key,
		Name:            ts.Name,
		TimestampFormat: ts.TimestampFormat,
		DurationFormat:  ts.DurationFormat,
	}
}

// FromContextEvent converts a context event to its wire form.
func FromContextEvent(ev timectx.Event) Event {
	out := Event{Kind: ev.Kind.String()}
	switch ev.Kind {
	case timectx.TimeSystemChanged:
		info := SystemInfo(ev.TimeSystem)
		out.TimeSystem = &info
	case timectx.BoundsChanged:
		b := ev.Bounds
		out.Bounds = &b
		out.Tick = ev.Tick
	case timectx.ModeChanged:
		out.Mode = ev.Mode.String()
	case timectx.ClockChanged:
		out.Clock = ev.ClockKey
		if ev.ClockKey != "" {
			o := ev.Offsets
			out.Offsets = &o
		}
	case timectx.RefreshContext, timectx.RemoveOwnContext:
		out.Object = ev.ObjectKey
	}
	return out
}

// Snapshot captures a context's current state in wire form. object names the
// context for the client; pass an empty string for the global context.
func Snapshot(c timectx.TimeContext, object string) State {
	s := State{
		Object:     object,
		Mode:       c.Mode().String(),
		TimeSystem: c.TimeSystemKey(),
		Clock:      c.ClockKey(),
		Bounds:     c.Bounds(),
		Offsets:    c.ClockOffsets(),
	}
	if ic, ok := c.(*timectx.IndependentContext); ok {
		s.Overriding = ic.Overriding()
	}
	return s
}
