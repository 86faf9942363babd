package benchmark

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/core/timectx"
)

// RunDispatchBenchmark floods a fresh global context with bounds mutations
// while numListeners listeners consume every event, then prints the
// mutation-to-last-delivery latency distribution in microseconds. The
// recording listener subscribes last, so each sample covers the full fan-out.
func RunDispatchBenchmark(numListeners int) {
	// const numMutation = 100_000
	const numMutation = 1_000_000
	if numListeners < 1 {
		numListeners = 1
	}

	g := timectx.NewGlobalContext(nil, nil)
	err := g.AddTimeSystem(timesys.TimeSystem{Key: "utc", Name: "UTC"})
	if err != nil {
		log.Fatalf("Failed to register time system: %v", err)
	}
	err = g.SetTimeSystem("utc", timesys.Bounds{Start: 0, End: 1000})
	if err != nil {
		log.Fatalf("Failed to select time system: %v", err)
	}

	var consumed int64
	for i := numListeners - 1; i > 0; i-- {
		g.On(timectx.BoundsChanged, func(ev timectx.Event) {
			consumed++
		})
	}

	var mu sync.Mutex
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		hg := hdrhistogram.New(1, 50000, 5)

		var t1 time.Time
		g.On(timectx.BoundsChanged, func(ev timectx.Event) {
			lat := time.Since(t1)
			err := hg.RecordValue(lat.Microseconds())
			if err != nil {
				log.Printf("Failed to record histogram value: %v", err)
			}
		})

		defer wg.Done()
		<-sg
		for j := 0; j < numMutation; j++ {
			b := timesys.Bounds{Start: float64(j), End: float64(j) + 1000}

			t1 = time.Now()
			err := g.SetBounds(b)
			if err != nil {
				log.Printf("Failed to set bounds: %v", err)
				return
			}
		}
		mu.Lock()
		defer mu.Unlock()
		hg.PercentilesPrint(os.Stdout, 1, 1.0)
	}()
	t0 := time.Now()
	close(sg)
	wg.Wait()
	log.Print(time.Since(t0))
}
