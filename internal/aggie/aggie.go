// Package aggie implements the aggregator of spec.md §4.6 (C8): it owns the
// client set, the PM link, the poll schedule, the merge into the fleet
// view, and the PM publish. The main-loop shape (500ms tick, a
// publish-on-signal branch, a countdown-driven poll branch) is grounded on
// the teacher's cmd/bgp-radar/main.go ticker-driven stats loop, generalised
// from "print stats" to "merge and publish".
package aggie

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hervehildenbrand/aggie/internal/clientsfile"
	"github.com/hervehildenbrand/aggie/internal/models"
	"github.com/hervehildenbrand/aggie/internal/monoclock"
	"github.com/hervehildenbrand/aggie/internal/radioclient"
	"github.com/hervehildenbrand/aggie/internal/wsclient"
)

// UnitSymbolConstant is the literal MIL-STD-2525-style symbol id the
// publish format fills in; spec.md §4.6 fixes it as a constant, not a
// per-node attribute the legacy source ever varied.
const UnitSymbolConstant = "SFGPICU---Exxx"

const (
	tickInterval    = 500 * time.Millisecond
	interCommandGap = 50 * time.Millisecond
	startupGrace    = 10 * time.Millisecond
)

// Unit is one row of the published fleet snapshot.
type Unit struct {
	UnitID     uint32  `json:"unitId"`
	UnitPos    string  `json:"unitPos"`
	UnitSymbol string  `json:"unitSymbol"`
	UnitEnum   string  `json:"unitEnum"`
	UnitAlt    float64 `json:"unitAlt"`
	UnitSpeed  float64 `json:"unitSpeed"`
}

// Snapshot is the JSON body published to the PM.
type Snapshot struct {
	Data []Unit `json:"data"`
}

// Aggie is the singleton aggregator: client set, PM link, poll schedule,
// and the merged fleet view.
type Aggie struct {
	clock          *monoclock.Clock
	log            zerolog.Logger
	clientsPath    string
	pollInterval   time.Duration
	pm             *wsclient.Client

	mu       sync.Mutex // guards clients, aggregatedNodes, newData, pm
	clients  []*radioclient.WClient
	aggregatedNodes map[uint32]models.ClientNode

	newData bool

	pmConnectedAt *monoclock.Stopwatch
	lastPMRecv    *monoclock.Stopwatch
	lastPMSend    *monoclock.Stopwatch

	sentPMMessage atomicBool
	recvPMMessage atomicBool

	running  atomicBool
	stopping atomicBool

	pollCountdown time.Duration
	startedAt     *monoclock.Stopwatch
	cancel        context.CancelFunc
}

// atomicBool is a tiny bool wrapper; the package avoids a sync/atomic.Bool
// dependency here only because these flags are always touched under mu.
type atomicBool struct{ v bool }

// pmRef returns the current PM client under mu; the PM client can be
// replaced wholesale by "pm connect <url>".
func (a *Aggie) pmRef() *wsclient.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pm
}

// New builds an aggregator. The PM client is constructed but not started;
// callers start it as part of Run.
func New(clock *monoclock.Clock, clientsPath string, pollInterval time.Duration, pmURL *url.URL, log zerolog.Logger) *Aggie {
	a := &Aggie{
		clock:           clock,
		log:             log.With().Str("component", "aggie").Logger(),
		clientsPath:     clientsPath,
		pollInterval:    pollInterval,
		aggregatedNodes: make(map[uint32]models.ClientNode),
		pmConnectedAt:   clock.NewStopwatch("pm:connected_at"),
		lastPMRecv:      clock.NewStopwatch("pm:last_recv"),
		lastPMSend:      clock.NewStopwatch("pm:last_send"),
		pollCountdown:   pollInterval,
	}
	a.pm = wsclient.New(pmURL, a.onPMMessage, log)
	return a
}

// onPMMessage logs inbound PM frames; spec.md §6 says they are read and
// logged but not currently acted upon.
func (a *Aggie) onPMMessage(payload []byte) {
	a.lastPMRecv.Reset()
	a.recvPMMessage.v = true
	a.log.Debug().Str("payload", string(payload)).Msg("PM message received")
}

// LoadClients (re)reads the client list file and builds one WClient per
// address, replacing the current set.
func (a *Aggie) LoadClients() error {
	addrs, err := clientsfile.Load(a.clientsPath)
	if err != nil {
		return err
	}
	clients := make([]*radioclient.WClient, 0, len(addrs))
	for _, addr := range addrs {
		wc := radioclient.New(addr, a.clock, a.log)
		wc.OnDataChanged = func() { a.setNewData() }
		clients = append(clients, wc)
	}

	a.mu.Lock()
	old := a.clients
	a.clients = clients
	a.mu.Unlock()

	for _, wc := range old {
		wc.Conn.Disconnect()
		wc.Release()
	}
	return nil
}

func (a *Aggie) setNewData() {
	a.mu.Lock()
	a.newData = true
	a.mu.Unlock()
}

// Run connects every client and the PM, then drives the main loop until ctx
// is cancelled.
func (a *Aggie) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	if err := a.LoadClients(); err != nil {
		return err
	}
	a.connectAllClients(ctx)

	a.pmRef().Start()
	a.pmConnectedAt.Reset()

	a.running.v = true
	a.startedAt = a.clock.NewStopwatch("aggie:uptime")
	time.Sleep(startupGrace)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aggie) connectAllClients(ctx context.Context) {
	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	for _, wc := range clients {
		if err := wc.Conn.Connect(ctx); err != nil {
			a.log.Debug().Err(err).Str("client", wc.Addr.Host+":"+wc.Addr.Port).Msg("client connect failed, will retry next poll")
			continue
		}
		wc.Conn.StartReader(wc.HandleLine)
	}
}

func (a *Aggie) shutdown() {
	if a.stopping.v {
		return
	}
	a.stopping.v = true
	a.running.v = false

	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	for _, wc := range clients {
		wc.Conn.Disconnect()
		wc.Release()
	}
	a.pmRef().Stop()
}

// tick runs one main-loop iteration, spec.md §4.6.
func (a *Aggie) tick(ctx context.Context) {
	a.mu.Lock()
	changed := a.newData
	a.mu.Unlock()

	if changed {
		a.rebuildAndPublish()
	}

	a.pollCountdown -= tickInterval
	if a.pollCountdown <= 0 {
		a.pollAllClients(ctx)
		a.pollCountdown = a.pollInterval
	}
}

func (a *Aggie) rebuildAndPublish() {
	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	merged := make(map[uint32]models.ClientNode)
	for _, wc := range clients {
		for _, node := range wc.Nodes() {
			merged[node.ID] = node // dedup by id, keeping last writer
		}
		wc.ClearDataChanged()
	}

	a.mu.Lock()
	a.aggregatedNodes = merged
	a.newData = false
	a.mu.Unlock()

	a.publish(merged)
}

func (a *Aggie) publish(nodes map[uint32]models.ClientNode) {
	ids := make([]uint32, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	units := make([]Unit, 0, len(ids))
	for _, id := range ids {
		n := nodes[id]
		units = append(units, Unit{
			UnitID:     n.ID,
			UnitPos:    formatPos(n.Lat, n.Lon),
			UnitSymbol: UnitSymbolConstant,
			UnitEnum:   "",
			UnitAlt:    0.0,
			UnitSpeed:  0.0,
		})
	}

	body, err := json.Marshal(Snapshot{Data: units})
	if err != nil {
		a.log.Error().Err(err).Msg("marshalling fleet snapshot")
		return
	}
	if err := a.pmRef().Send(body); err != nil {
		a.log.Debug().Err(err).Msg("publish to PM failed")
		return
	}
	a.lastPMSend.Reset()
	a.sentPMMessage.v = true
}

// pollAllClients evicts stale requests, then issues the three list commands
// to every client with a short gap between commands per client. A client
// found disconnected (busy-handling disconnect, socket error, or a failed
// earlier connect) is reconnected here first, per spec.md §4.5's "the next
// poll cycle will reconnect" rule — there is no separate retry path.
func (a *Aggie) pollAllClients(ctx context.Context) {
	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	commands := []string{"list cn", "list configs", "list connections"}
	for _, wc := range clients {
		if !wc.Conn.Connected() {
			if err := wc.Conn.Connect(ctx); err != nil {
				a.log.Debug().Err(err).Str("client", wc.Addr.Host+":"+wc.Addr.Port).Msg("poll-time reconnect failed, will retry next poll")
				continue
			}
			wc.Conn.StartReader(wc.HandleLine)
		}
		wc.EvictStaleIfNeeded(a.pollInterval)
		for i, cmd := range commands {
			if err := wc.SendCommand(cmd); err != nil {
				a.log.Debug().Err(err).Str("client", wc.Addr.Host+":"+wc.Addr.Port).Msg("poll command failed")
				break
			}
			if i < len(commands)-1 {
				time.Sleep(interCommandGap)
			}
		}
	}
}

// PollNow forces an immediate poll cycle, for the "poll clients" control
// command.
func (a *Aggie) PollNow(ctx context.Context) {
	a.pollAllClients(ctx)
	a.pollCountdown = a.pollInterval
}

// Reload disconnects and forgets every client, then re-reads the client
// file and reconnects, for the "reload clients" control command.
func (a *Aggie) Reload(ctx context.Context) error {
	if err := a.LoadClients(); err != nil {
		return err
	}
	a.connectAllClients(ctx)
	return nil
}

// Shutdown stops the main loop from outside Run's own ctx cancellation path
// (the "shutdown" control command).
func (a *Aggie) Shutdown() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func formatPos(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'g', -1, 64) + " " + strconv.FormatFloat(lon, 'g', -1, 64)
}

// ClientStatus is one client's status line, for "status clients".
type ClientStatus struct {
	Addr      models.Address
	Connected bool
	SentAgo   time.Duration
	RecvAgo   time.Duration
}

// Status is the aggregate "status" command's payload.
type Status struct {
	Uptime         time.Duration
	PMURL          string
	PMConnected    bool
	PMState        string
	PMConnectedAgo time.Duration
	SentAnyPM      bool
	LastPMRecvAgo  time.Duration
	RecvAnyPM      bool
	LastPMSendAgo  time.Duration
	ConnectedCount int
	TotalCount     int
}

// Status reports overall aggregator state for the "status" command.
func (a *Aggie) Status() Status {
	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	connected := 0
	for _, wc := range clients {
		if wc.Conn.Connected() {
			connected++
		}
	}

	var uptime time.Duration
	if a.startedAt != nil {
		uptime = a.startedAt.Elapsed()
	}

	pm := a.pmRef()
	return Status{
		Uptime:         uptime,
		PMURL:          pm.Target().String(),
		PMConnected:    pm.Connected(),
		PMState:        pm.State().String(),
		PMConnectedAgo: a.pmConnectedAt.Elapsed(),
		SentAnyPM:      a.sentPMMessage.v,
		LastPMSendAgo:  a.lastPMSend.Elapsed(),
		RecvAnyPM:      a.recvPMMessage.v,
		LastPMRecvAgo:  a.lastPMRecv.Elapsed(),
		ConnectedCount: connected,
		TotalCount:     len(clients),
	}
}

// ClientStatuses reports per-client status for the "status clients" command.
func (a *Aggie) ClientStatuses() []ClientStatus {
	a.mu.Lock()
	clients := append([]*radioclient.WClient(nil), a.clients...)
	a.mu.Unlock()

	out := make([]ClientStatus, 0, len(clients))
	for _, wc := range clients {
		out = append(out, ClientStatus{
			Addr:      wc.Addr,
			Connected: wc.Conn.Connected(),
			SentAgo:   wc.LastSentElapsed(),
			RecvAgo:   wc.LastRecvElapsed(),
		})
	}
	return out
}

// ClientStatusByAddr reports status for a single client, for "status client
// <host> <port>".
func (a *Aggie) ClientStatusByAddr(host, port string) (ClientStatus, bool) {
	for _, cs := range a.ClientStatuses() {
		if cs.Addr.Host == host && cs.Addr.Port == port {
			return cs, true
		}
	}
	return ClientStatus{}, false
}

// AggregatedNodes returns the current fleet view, ordered by ascending id,
// for the "list clients" command.
func (a *Aggie) AggregatedNodes() []models.ClientNode {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uint32, 0, len(a.aggregatedNodes))
	for id := range a.aggregatedNodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]models.ClientNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.aggregatedNodes[id])
	}
	return out
}

// PMConnect directs the PM client to a new URL, for "pm connect <url>". The
// current connection (if any) is stopped first.
func (a *Aggie) PMConnect(target *url.URL) {
	a.pmRef().Stop()
	next := wsclient.New(target, a.onPMMessage, a.log)
	a.mu.Lock()
	a.pm = next
	a.mu.Unlock()
	next.Start()
	a.pmConnectedAt.Reset()
}

// PMDisconnect stops the PM client, for "pm disconnect".
func (a *Aggie) PMDisconnect() {
	a.pmRef().Stop()
}

// PMSend sends raw text to the PM, for "pm send <text>".
func (a *Aggie) PMSend(text string) error {
	err := a.pmRef().Send([]byte(text))
	if err == nil {
		a.lastPMSend.Reset()
		a.sentPMMessage.v = true
	}
	return err
}
