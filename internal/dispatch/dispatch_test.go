package dispatch

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hervehildenbrand/aggie/internal/aggie"
	"github.com/hervehildenbrand/aggie/internal/monoclock"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	clock := monoclock.New()
	pmURL, _ := url.Parse("ws://127.0.0.1:1/pm")
	agg := aggie.New(clock, t.TempDir()+"/clients.txt", time.Hour, pmURL, zerolog.Nop())
	return New(context.Background(), agg)
}

// E2E scenario 5 (shape): help and ? list the command table, and unknown
// commands get the canned error.
func TestDispatch_HelpAndUnknown(t *testing.T) {
	d := newTestDispatcher(t)

	if reply := d.Dispatch(nil, "help"); !strings.Contains(reply, "status") {
		t.Fatalf("help reply missing command table: %q", reply)
	}
	if reply := d.Dispatch(nil, "?"); !strings.Contains(reply, "status") {
		t.Fatalf("? reply missing command table: %q", reply)
	}
	if reply := d.Dispatch(nil, "frobnicate"); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("unknown command reply = %q", reply)
	}
}

func TestDispatch_CloseAndQuit(t *testing.T) {
	d := newTestDispatcher(t)
	for _, cmd := range []string{"close", "CLOSE", "quit", "QUIT"} {
		if !d.ShouldClose(cmd) {
			t.Errorf("ShouldClose(%q) = false, want true", cmd)
		}
	}
	if d.ShouldClose("status") {
		t.Error("ShouldClose(\"status\") = true, want false")
	}
}

func TestDispatch_StatusBareSummary(t *testing.T) {
	d := newTestDispatcher(t)
	reply := d.Dispatch(nil, "status")
	for _, want := range []string{"Uptime:", "Not connected to PM", "Clients connected: 0 of 0"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("reply %q missing %q", reply, want)
		}
	}
}

func TestDispatch_StatusClientsEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	if reply := d.Dispatch(nil, "status clients"); reply != "no clients configured" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDispatch_StatusClientNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	reply := d.Dispatch(nil, "status client 10.0.0.1 4002")
	if !strings.Contains(reply, "not found") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDispatch_ListClientsEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	if reply := d.Dispatch(nil, "list clients"); reply != "no nodes in the current fleet view" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDispatch_PMConnectBadURL(t *testing.T) {
	d := newTestDispatcher(t)
	reply := d.Dispatch(nil, "pm connect not-a-url")
	if !strings.Contains(reply, "unparseable") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDispatch_PMUsageErrors(t *testing.T) {
	d := newTestDispatcher(t)
	if reply := d.Dispatch(nil, "pm connect"); !strings.Contains(reply, "usage") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := d.Dispatch(nil, "pm send"); !strings.Contains(reply, "usage") {
		t.Fatalf("reply = %q", reply)
	}
}
