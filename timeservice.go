// Telemetry time service

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/telemetry-time/base/timesys"
	"example.com/telemetry-time/base/zaplog"

	"example.com/telemetry-time/benchmark"

	"example.com/telemetry-time/core/bus"
	"example.com/telemetry-time/core/server"
	"example.com/telemetry-time/core/timectx"

	"example.com/telemetry-time/driver/clock"

	"example.com/telemetry-time/net/timefeed"
)

const defaultFeedAddr = "127.0.0.1:8844"

type svcConfig struct {
	FeedAddr          string             `toml:"feed_address,omitempty"`
	Clocks            []string           `toml:"clocks,omitempty"`
	TickInterval      float64            `toml:"tick_interval_ms,omitempty"`
	NTPServer         string             `toml:"ntp_server,omitempty"`
	TimeSystems       []timeSystemConfig `toml:"time_systems,omitempty"`
	InitialTimeSystem string             `toml:"initial_time_system,omitempty"`
	InitialBounds     *rangeConfig       `toml:"initial_bounds,omitempty"`
	InitialClock      string             `toml:"initial_clock,omitempty"`
	InitialOffsets    *rangeConfig       `toml:"initial_offsets,omitempty"`
	OffsetPresets     []presetConfig     `toml:"offset_presets,omitempty"`
}

type timeSystemConfig struct {
	Key             string `toml:"key"`
	Name            string `toml:"name"`
	TimestampFormat string `toml:"timestamp_format,omitempty"`
	DurationFormat  string `toml:"duration_format,omitempty"`
}

type rangeConfig struct {
	Start float64 `toml:"start"`
	End   float64 `toml:"end"`
}

type presetConfig struct {
	Name  string  `toml:"name"`
	Start float64 `toml:"start"`
	End   float64 `toml:"end"`
}

// startableClock is a registered clock with a driver goroutine behind it.
type startableClock interface {
	timesys.Clock
	Start()
	Stop()
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe("127.0.0.1:8080", nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	var cfg svcConfig
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	return cfg
}

func feedAddress(cfg svcConfig) string {
	if cfg.FeedAddr == "" {
		return defaultFeedAddr
	}
	return cfg.FeedAddr
}

func registerTimeSystems(g *timectx.GlobalContext, cfg svcConfig) {
	systems := cfg.TimeSystems
	if len(systems) == 0 {
		systems = []timeSystemConfig{
			{Key: "utc", Name: "UTC", TimestampFormat: "iso8601"},
		}
	}
	for _, s := range systems {
		err := g.AddTimeSystem(timesys.TimeSystem{
			Key:             s.Key,
			Name:            s.Name,
			TimestampFormat: s.TimestampFormat,
			DurationFormat:  s.DurationFormat,
		})
		if err != nil {
			log.Fatal("failed to register time system",
				zap.String("key", s.Key), zap.Error(err))
		}
	}
}

func createClocks(cfg svcConfig) []startableClock {
	interval := time.Duration(cfg.TickInterval * float64(time.Millisecond))
	enabled := cfg.Clocks
	if len(enabled) == 0 {
		enabled = []string{clock.SystemClockKey}
	}
	var clks []startableClock
	for _, key := range enabled {
		switch key {
		case clock.SystemClockKey:
			clks = append(clks, clock.NewSystemClock(interval, log))
		case clock.MonotonicClockKey:
			clks = append(clks, clock.NewMonotonicClock(interval, log))
		case clock.NTPClockKey:
			if cfg.NTPServer == "" {
				log.Fatal("ntp_server not specified in config")
			}
			clks = append(clks, clock.NewNTPClock(cfg.NTPServer, interval, 0, log))
		default:
			log.Fatal("unknown clock in config", zap.String("key", key))
		}
	}
	return clks
}

func offsetPresets(cfg svcConfig) []timefeed.OffsetPreset {
	var presets []timefeed.OffsetPreset
	for _, p := range cfg.OffsetPresets {
		presets = append(presets, timefeed.OffsetPreset{
			Name:    p.Name,
			Offsets: timesys.ClockOffsets{Start: p.Start, End: p.End},
		})
	}
	return presets
}

// applyInitialState selects the configured time system, bounds, and clock on
// the global context. Without explicit configuration the first registered
// time system is selected with a window ending now.
func applyInitialState(g *timectx.GlobalContext, cfg svcConfig) {
	key := cfg.InitialTimeSystem
	if key == "" {
		key = g.TimeSystems()[0].Key
	}
	b := timesys.Bounds{Start: -60 * 1000, End: 0}
	if cfg.InitialBounds != nil {
		b = timesys.Bounds{Start: cfg.InitialBounds.Start, End: cfg.InitialBounds.End}
	}
	err := g.SetTimeSystem(key, b)
	if err != nil {
		log.Fatal("failed to select time system", zap.String("key", key), zap.Error(err))
	}
	if cfg.InitialClock != "" {
		o := timesys.ClockOffsets{Start: -60 * 1000, End: 0}
		if cfg.InitialOffsets != nil {
			o = timesys.ClockOffsets{Start: cfg.InitialOffsets.Start, End: cfg.InitialOffsets.End}
		}
		err := g.SetClock(cfg.InitialClock, o)
		if err != nil {
			log.Fatal("failed to select clock",
				zap.String("key", cfg.InitialClock), zap.Error(err))
		}
	}
}

func runServer(configFile string) {
	ctx := context.Background()

	cfg := loadConfig(configFile)

	g := timectx.NewGlobalContext(timectx.DefaultKey, log)
	registerTimeSystems(g, cfg)

	clks := createClocks(cfg)
	for _, clk := range clks {
		err := g.AddClock(clk)
		if err != nil {
			log.Fatal("failed to register clock",
				zap.String("key", clk.Key()), zap.Error(err))
		}
		clk.Start()
	}

	applyInitialState(g, cfg)

	br := bus.NewBridge(nil, g, log)
	defer br.Close()

	server.StartFeedServer(ctx, log, feedAddress(cfg), g, offsetPresets(cfg))

	runMonitor(log)
}

// runClient dials a feed and copies its frames to stdout, one JSON document
// per line, until interrupted or the server goes away.
func runClient(connectAddr string) {
	url := "ws://" + connectAddr + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatal("failed to dial feed", zap.String("url", url), zap.Error(err))
	}
	defer conn.Close()
	log.Info("connected", zap.String("url", url))

	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	go func() {
		<-intr
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Info("feed closed", zap.Error(err))
			return
		}
		fmt.Printf("%s\n", msg)
	}
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose      bool
		configFile   string
		connectAddr  string
		numListeners int
	)

	serverFlags := flag.NewFlagSet("server", flag.ExitOnError)
	clientFlags := flag.NewFlagSet("client", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	serverFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	serverFlags.StringVar(&configFile, "config", "", "Config file")

	clientFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	clientFlags.StringVar(&connectAddr, "connect", defaultFeedAddr, "Feed address")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.IntVar(&numListeners, "listeners", 10, "Number of listeners")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case serverFlags.Name():
		err := serverFlags.Parse(os.Args[2:])
		if err != nil || serverFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runServer(configFile)
	case clientFlags.Name():
		err := clientFlags.Parse(os.Args[2:])
		if err != nil || clientFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runClient(connectAddr)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if numListeners < 1 {
			exitWithUsage()
		}
		initLogger(verbose)
		benchmark.RunDispatchBenchmark(numListeners)
	case "x":
		runX()
	default:
		exitWithUsage()
	}
}
