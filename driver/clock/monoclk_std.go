//go:build !linux

package clock

import (
	"time"

	"go.uber.org/zap"
)

var monotonicBase = time.Now()

func monotonicMillis(_ *zap.Logger) float64 {
	return float64(time.Since(monotonicBase)) / float64(time.Millisecond)
}
