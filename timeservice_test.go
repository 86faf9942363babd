package main

import (
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"example.com/telemetry-time/net/timefeed"
)

func TestTimeserviceFeed(t *testing.T) {
	feedAddr := os.Getenv("TIMESERVICE_FEED")
	if feedAddr == "" {
		t.Skip("set up and start a time service to run this integration test, " +
			"e.g. TIMESERVICE_FEED=127.0.0.1:8844")
	}

	initLogger(true /* verbose */)

	url := "ws://" + feedAddr + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial feed %v", err)
	}
	defer conn.Close()

	err = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err != nil {
		t.Fatalf("failed to set read deadline %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read hello %v", err)
	}
	f, err := timefeed.DecodeServerFrame(msg)
	if err != nil {
		t.Fatalf("failed to decode hello %v", err)
	}
	if f.Type != timefeed.TypeHello {
		t.Fatalf("expected hello frame, got %q", f.Type)
	}
	if f.Hello.Session == "" {
		t.Fatal("expected a session id in hello")
	}
	if len(f.Hello.TimeSystems) == 0 {
		t.Fatal("expected at least one time system in hello")
	}
	if len(f.Hello.Clocks) == 0 {
		t.Fatal("expected at least one clock in hello")
	}
}
