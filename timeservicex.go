// Driver for quick experiments

package main

import (
	"time"

	"go.uber.org/zap"

	"example.com/telemetry-time/driver/clock"
)

func runX() {
	initLogger(true /* verbose */)

	clk := clock.NewSystemClock(250*time.Millisecond, log)
	log.Debug("clock time", zap.Float64("ms", clk.Time()))
	clk.Start()
	stop := clk.Notify(func(tick float64) {
		log.Debug("clock tick", zap.Float64("ms", tick))
	})
	time.Sleep(1 * time.Second)
	stop()
	clk.Stop()
	log.Debug("clock time", zap.Float64("ms", clk.Time()))
}
