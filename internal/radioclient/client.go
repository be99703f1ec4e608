// Client state (C6): one WClient per fleet member, holding its connection,
// the most recent column schema, parsed tables, per-list "finished" flags,
// and the FIFO of commands awaiting a reply.
package radioclient

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hervehildenbrand/aggie/internal/models"
	"github.com/hervehildenbrand/aggie/internal/monoclock"
)

// WClient is one fleet member's full state.
type WClient struct {
	Addr models.Address
	Conn *Conn

	log zerolog.Logger

	// OnDataChanged is invoked (never with the mutex held) whenever a list
	// finishes, signalling the aggregator to set its new_data flag.
	OnDataChanged func()

	mu             sync.Mutex
	columnSchema   models.ColumnSchema
	nodes          []models.ClientNode
	configs        []models.Configuration
	connections    []models.Connection
	listFinished   map[ListKind]bool
	requestQueue   []string
	dataChanged    bool

	lastSent *monoclock.Stopwatch
	lastRecv *monoclock.Stopwatch
}

// New builds client state for addr, wired to conn. The client protocol uses
// "\r\n" termination per spec.md §4.2.
func New(addr models.Address, clock *monoclock.Clock, log zerolog.Logger) *WClient {
	conn := NewConn(addr, "\r\n")
	return &WClient{
		Addr:         addr,
		Conn:         conn,
		log:          log.With().Str("client", addr.Host+":"+addr.Port).Logger(),
		listFinished: map[ListKind]bool{ListCN: true, ListConfigs: true, ListConnections: true},
		lastSent:     clock.NewStopwatch("client:" + addr.Host + ":" + addr.Port + ":sent"),
		lastRecv:     clock.NewStopwatch("client:" + addr.Host + ":" + addr.Port + ":recv"),
	}
}

// Release frees the client's stopwatch handles; call during teardown.
func (c *WClient) Release() {
	c.lastSent.Release()
	c.lastRecv.Release()
}

// SendCommand sends a command and enqueues it atomically with respect to
// other goroutines observing the request queue (spec.md §3 invariant).
func (c *WClient) SendCommand(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Conn.Send(cmd); err != nil {
		return err
	}
	c.requestQueue = append(c.requestQueue, cmd)
	c.lastSent.Reset()
	return nil
}

// EvictStaleIfNeeded pops one queued request if the client hasn't replied
// within max(pollInterval/2, 1s), per spec.md §4.5's staleness rule. Call
// before sending a new poll command.
func (c *WClient) EvictStaleIfNeeded(pollInterval time.Duration) {
	threshold := pollInterval / 2
	if threshold < time.Second {
		threshold = time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requestQueue) == 0 {
		return
	}
	if c.lastRecv.Elapsed() > threshold {
		stale := c.requestQueue[0]
		c.requestQueue = c.requestQueue[1:]
		c.log.Debug().Str("command", stale).Msg("evicting stale queued request")
	}
}

// HandleLine dispatches one inbound wire line to the appropriate handler.
// It is safe to call from the connection's reader goroutine.
func (c *WClient) HandleLine(line string) {
	code, tokens, ok := ParseReplyLine(line)
	if !ok {
		c.log.Debug().Str("line", line).Msg("unparseable reply line")
		return
	}
	c.lastRecv.Reset()

	switch code {
	case CodeHelp:
		c.handleHelp(tokens)
	case CodeCommandOutput:
		c.handleRow(tokens)
	case CodeReady:
		c.handleReady()
	case CodeBanner:
		// informational, ignored
	case CodeDisconnecting:
		c.log.Debug().Msg("peer requested disconnect")
		go c.Conn.Disconnect()
	case CodeParseError400, CodeParseError401:
		c.log.Debug().Int("code", code).Str("line", line).Msg("client reported parse error")
	case CodeBusy:
		c.handleBusy()
	default:
		c.log.Debug().Int("code", code).Msg("unrecognised reply code")
	}
}

func (c *WClient) handleHelp(tokens []string) {
	c.mu.Lock()
	c.columnSchema = append(models.ColumnSchema(nil), tokens...)
	c.mu.Unlock()
}

func (c *WClient) handleRow(tokens []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind, ok := c.headKind()
	if !ok {
		// No pending request for this row; discard per spec.md §3 invariant.
		return
	}

	if c.listFinished[kind] {
		c.resetList(kind)
		c.listFinished[kind] = false
	}

	schema := c.columnSchema
	switch kind {
	case ListCN:
		c.nodes = append(c.nodes, buildClientNode(schema, tokens))
	case ListConfigs:
		c.configs = append(c.configs, buildConfiguration(schema, tokens))
	case ListConnections:
		c.connections = append(c.connections, buildConnection(schema, tokens))
	}
}

func (c *WClient) handleReady() {
	var notify bool
	c.mu.Lock()
	if kind, ok := c.popHeadKind(); ok {
		c.listFinished[kind] = true
		c.dataChanged = true
		notify = true
	}
	c.mu.Unlock()

	if notify && c.OnDataChanged != nil {
		c.OnDataChanged()
	}
}

func (c *WClient) handleBusy() {
	c.mu.Lock()
	if len(c.requestQueue) > 0 {
		c.requestQueue = c.requestQueue[1:]
	}
	c.mu.Unlock()
	c.log.Debug().Msg("busy; disconnecting")
	go c.Conn.Disconnect()
}

// headKind returns the list kind of the request at the head of the queue,
// without popping it. Caller must hold mu.
func (c *WClient) headKind() (ListKind, bool) {
	if len(c.requestQueue) == 0 {
		return "", false
	}
	return commandKind(c.requestQueue[0])
}

// popHeadKind pops the head of the queue and returns its list kind. Caller
// must hold mu.
func (c *WClient) popHeadKind() (ListKind, bool) {
	if len(c.requestQueue) == 0 {
		return "", false
	}
	head := c.requestQueue[0]
	c.requestQueue = c.requestQueue[1:]
	return commandKind(head)
}

// resetList clears the destination vector for kind. Caller must hold mu.
func (c *WClient) resetList(kind ListKind) {
	switch kind {
	case ListCN:
		c.nodes = nil
	case ListConfigs:
		c.configs = nil
	case ListConnections:
		c.connections = nil
	}
}

// Nodes returns a copy of the client's current node list.
func (c *WClient) Nodes() []models.ClientNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ClientNode(nil), c.nodes...)
}

// DataChanged reports the data-changed flag without clearing it;
// ClearDataChanged clears it.
func (c *WClient) DataChanged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataChanged
}

// ClearDataChanged clears the data-changed flag after a publish.
func (c *WClient) ClearDataChanged() {
	c.mu.Lock()
	c.dataChanged = false
	c.mu.Unlock()
}

// LastSentElapsed and LastRecvElapsed back the control dispatcher's status
// output (spec.md §4.7).
func (c *WClient) LastSentElapsed() time.Duration { return c.lastSent.Elapsed() }
func (c *WClient) LastRecvElapsed() time.Duration { return c.lastRecv.Elapsed() }
