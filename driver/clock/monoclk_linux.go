//go:build linux

package clock

import (
	"go.uber.org/zap"

	"golang.org/x/sys/unix"
)

func monotonicMillis(log *zap.Logger) float64 {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts)
	if err != nil {
		log.Fatal("unix.ClockGettime failed", zap.Error(err))
	}
	return float64(ts.Sec)*1e3 + float64(ts.Nsec)/1e6
}
