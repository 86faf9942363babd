package timemath

import (
	"math"
	"slices"
	"time"
)

const millisPerSecond = 1e3

// Millis converts a time.Time to a UTC epoch-millisecond value, the unit the
// stock time systems and clocks operate in.
func Millis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// Time converts an epoch-millisecond value back to a time.Time in UTC.
func Time(millis float64) time.Time {
	sec, frac := math.Modf(millis / millisPerSecond)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}

// Duration converts a millisecond span to a time.Duration.
func Duration(millis float64) time.Duration {
	return time.Duration(millis * float64(time.Millisecond))
}

func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func Clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func Midpoint(x, y float64) float64 {
	return x + (y-x)/2.0
}

func Median(vs []float64) float64 {
	n := len(vs)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(vs)
	i := n / 2
	if n%2 != 0 {
		return vs[i]
	}
	return Midpoint(vs[i-1], vs[i])
}

func FaultTolerantMidpoint(vs []float64) float64 {
	n := len(vs)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(vs)
	f := (n - 1) / 3
	return Midpoint(vs[f], vs[n-1-f])
}
