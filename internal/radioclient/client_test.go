package radioclient

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hervehildenbrand/aggie/internal/models"
	"github.com/hervehildenbrand/aggie/internal/monoclock"
)

func newTestClient(t *testing.T) *WClient {
	t.Helper()
	clock := monoclock.New()
	c := New(models.Address{Host: "127.0.0.1", Port: "0"}, clock, zerolog.Nop())
	t.Cleanup(c.Release)
	return c
}

// property 1: a 214 reply replaces the column schema used by later rows.
func TestHandleLine_HelpReplacesSchema(t *testing.T) {
	c := newTestClient(t)
	c.HandleLine("214 ID AGE LAT LON")
	c.mu.Lock()
	got := append([]string(nil), c.columnSchema...)
	c.mu.Unlock()
	want := []string{"ID", "AGE", "LAT", "LON"}
	if len(got) != len(want) {
		t.Fatalf("schema = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("schema = %v, want %v", got, want)
		}
	}
}

// property 2: a row whose schema names an unrecognised column leaves that
// field at its zero value, and recognised columns are still applied.
func TestHandleLine_UnknownColumnLeavesZeroValue(t *testing.T) {
	c := newTestClient(t)
	c.HandleLine("214 ID BOGUS LAT")
	c.requestQueue = append(c.requestQueue, "list cn")
	c.HandleLine("201 7 999 12.5")
	nodes := c.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].ID != 7 {
		t.Errorf("ID = %d, want 7", nodes[0].ID)
	}
	if nodes[0].Age != 0 {
		t.Errorf("Age = %d, want 0 (BOGUS column ignored)", nodes[0].Age)
	}
	if nodes[0].Lat != 12.5 {
		t.Errorf("Lat = %v, want 12.5", nodes[0].Lat)
	}
}

// property 3: a 200 reply ends the list and clears it for the next poll
// cycle rather than accumulating rows across cycles.
func TestHandleLine_ReadyClearsListOnNextRound(t *testing.T) {
	c := newTestClient(t)
	var notified int
	c.OnDataChanged = func() { notified++ }

	c.HandleLine("214 ID")
	c.requestQueue = append(c.requestQueue, "list cn")
	c.HandleLine("201 1")
	c.HandleLine("200")

	if got := len(c.Nodes()); got != 1 {
		t.Fatalf("after first round, got %d nodes, want 1", got)
	}
	if notified != 1 {
		t.Fatalf("OnDataChanged called %d times, want 1", notified)
	}
	if !c.DataChanged() {
		t.Fatal("expected DataChanged to be true after 200")
	}
	c.ClearDataChanged()

	c.requestQueue = append(c.requestQueue, "list cn")
	c.HandleLine("201 2")
	if got := len(c.Nodes()); got != 1 {
		t.Fatalf("mid-round, got %d nodes, want 1 (first row of the new round cleared the old list)", got)
	}
	c.HandleLine("200")
	if got := len(c.Nodes()); got != 1 {
		t.Fatalf("after second round, got %d nodes, want 1 (cleared at round start)", got)
	}
}

// property 9: a stale queued request is evicted once the client has been
// silent for longer than half the poll interval (floored at one second).
func TestEvictStaleIfNeeded(t *testing.T) {
	c := newTestClient(t)
	c.requestQueue = append(c.requestQueue, "list cn")
	c.lastRecv.Reset()

	c.EvictStaleIfNeeded(10 * time.Second)
	if len(c.requestQueue) != 1 {
		t.Fatalf("queue len = %d, want 1 (not yet stale)", len(c.requestQueue))
	}

	// Force staleness by rewinding lastRecv's backing stopwatch start time
	// is not exposed, so simulate via a short real sleep against a very
	// short poll interval instead.
	time.Sleep(1100 * time.Millisecond)
	c.EvictStaleIfNeeded(500 * time.Millisecond)
	if len(c.requestQueue) != 0 {
		t.Fatalf("queue len = %d, want 0 (stale request evicted)", len(c.requestQueue))
	}
}

// E2E scenario 3: a 500 BUSY reply discards the pending request and
// disconnects the client.
func TestHandleLine_BusyDiscardsAndDisconnects(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	c := New(models.Address{Host: "127.0.0.1", Port: port}, monoclock.New(), zerolog.Nop())
	t.Cleanup(c.Release)
	if err := c.Conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.requestQueue = append(c.requestQueue, "list cn")

	var wg sync.WaitGroup
	wg.Add(1)
	// Disconnect is dispatched asynchronously to avoid deadlocking a reader
	// goroutine that might call HandleLine; simulate that by watching
	// connected flip rather than blocking on it inline.
	go func() {
		defer wg.Done()
		for i := 0; i < 100 && c.Conn.Connected(); i++ {
			time.Sleep(time.Millisecond)
		}
	}()

	c.HandleLine("500")
	if len(c.requestQueue) != 0 {
		t.Fatalf("queue len = %d, want 0 after BUSY", len(c.requestQueue))
	}
	wg.Wait()
	if c.Conn.Connected() {
		t.Fatal("client still connected after BUSY")
	}
}
