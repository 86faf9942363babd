package timesys

import (
	"errors"
	"fmt"
	"math"
)

// A TimeSystem describes the units and semantics of the timestamp values a
// context operates in, e.g. UTC epoch milliseconds. The format fields name
// externally registered formatting rules; this package never formats values.
type TimeSystem struct {
	Key             string
	Name            string
	TimestampFormat string
	DurationFormat  string
}

// A Clock is a pluggable tick source. Time returns the latest tick value, or
// a driver-defined default before the first tick. Notify registers fn for
// future ticks and returns an idempotent stop function. Implementations must
// tolerate Notify and stop being called from tick callbacks.
type Clock interface {
	Key() string
	Name() string
	Description() string
	Time() float64
	Notify(fn func(tick float64)) (stop func())
}

// Bounds is the time window currently relevant for display or query,
// expressed in the active time system's units.
type Bounds struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ClockOffsets describes a sliding window relative to a clock's tick value.
// Start is conventionally negative (lead), End non-negative (lag).
type ClockOffsets struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Mode int

const (
	Fixed Mode = iota
	RealTime
)

// Identifier names a domain object as supplied by the composition layer.
type Identifier struct {
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key"`
}

var (
	ErrInvalidBounds  = errors.New("invalid bounds: start must not be after end")
	ErrInvalidOffsets = errors.New("invalid clock offsets: start must not be after end")
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (b Bounds) Validate() error {
	if !finite(b.Start) || !finite(b.End) || b.Start > b.End {
		return ErrInvalidBounds
	}
	return nil
}

// Contains reports whether v lies within the window, bounds inclusive.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Start && v <= b.End
}

func (b Bounds) Duration() float64 {
	return b.End - b.Start
}

func (o ClockOffsets) Validate() error {
	if !finite(o.Start) || !finite(o.End) || o.Start > o.End {
		return ErrInvalidOffsets
	}
	return nil
}

// Window returns the effective bounds for a tick value: (tick+Start, tick+End).
func (o ClockOffsets) Window(tick float64) Bounds {
	return Bounds{Start: tick + o.Start, End: tick + o.End}
}

func (m Mode) String() string {
	switch m {
	case Fixed:
		return "fixed"
	case RealTime:
		return "realtime"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String for wire and config values.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fixed":
		return Fixed, nil
	case "realtime":
		return RealTime, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// String returns the canonical textual form used to key objects:
// "namespace:key", or just "key" when the namespace is empty.
func (i Identifier) String() string {
	if i.Namespace == "" {
		return i.Key
	}
	return i.Namespace + ":" + i.Key
}
