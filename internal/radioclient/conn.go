// Package radioclient implements the TCP client connection and per-client
// state/parsing components of spec.md §4.2, §4.5 and §4.6 (C3, C6, C7): one
// long-lived connection per fleet member, a background reader that delivers
// whole lines, and a parser that turns tabular replies into typed records.
//
// The connection shape is grounded on the teacher's rislive.Client
// (atomic running/connected state, Start/Stop, a reconnect-capable run loop,
// Stats()) generalized from a single WebSocket feed to N raw TCP feeds.
package radioclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/aggie/internal/aggerr"
	"github.com/hervehildenbrand/aggie/internal/lineproto"
	"github.com/hervehildenbrand/aggie/internal/models"
)

// DefaultEOL is the line terminator used unless overridden (e.g. "\r\n" for
// the client protocol per spec.md §4.2).
const DefaultEOL = "\n"

const readTimeout = time.Second

// Conn is one TCP connection to a client daemon.
type Conn struct {
	addr models.Address
	eol  string

	dialTimeout time.Duration

	sendMu  sync.Mutex // serializes send and close against each other
	netConn net.Conn
	reader  *lineproto.Reader

	running   atomic.Bool
	connected atomic.Bool

	readerWG sync.WaitGroup

	disconnectMu sync.Mutex // guards disconnected against concurrent Disconnect/Connect
	disconnected bool
}

// NewConn builds a connection to addr. eol defaults to DefaultEOL if empty.
func NewConn(addr models.Address, eol string) *Conn {
	if eol == "" {
		eol = DefaultEOL
	}
	return &Conn{addr: addr, eol: eol, dialTimeout: 5 * time.Second}
}

// Addr returns the configured remote address.
func (c *Conn) Addr() models.Address { return c.addr }

// Connected reports whether the connection currently believes it is up.
func (c *Conn) Connected() bool { return c.connected.Load() }

// Connect resolves the host (IPv4 or IPv6) and dials the first candidate
// that accepts, per spec.md §4.2.
func (c *Conn) Connect(ctx context.Context) error {
	if c.addr.Host == "" {
		return aggerr.ErrMissingDestination
	}
	if c.addr.Port == "" {
		return aggerr.ErrMissingDestinationPort
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, c.addr.Host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("%w: %s: %v", aggerr.ErrCouldNotConnect, c.addr.Host, err)
	}

	var lastErr error
	dialer := net.Dialer{Timeout: c.dialTimeout}
	for _, ip := range ips {
		target := net.JoinHostPort(ip.IP.String(), c.addr.Port)
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			continue
		}
		c.sendMu.Lock()
		c.netConn = conn
		c.reader = lineproto.New(conn, lineproto.DefaultBufferSize, lineproto.DefaultMaxLineLength)
		c.sendMu.Unlock()
		c.connected.Store(true)

		c.disconnectMu.Lock()
		c.disconnected = false
		c.disconnectMu.Unlock()

		return nil
	}
	return fmt.Errorf("%w: %s:%s: %v", aggerr.ErrCouldNotConnect, c.addr.Host, c.addr.Port, lastErr)
}

// Send appends the configured end-of-line marker and writes line.
func (c *Conn) Send(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.netConn == nil || !c.connected.Load() {
		return aggerr.ErrNotConnected
	}
	_, err := c.netConn.Write([]byte(line + c.eol))
	if err != nil {
		// A broken pipe marks the connection down but must not take down
		// the process; the next poll cycle reconnects.
		c.connected.Store(false)
		return fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}
	return nil
}

// StartReader spawns a dedicated goroutine that loops ReadLine(1s) and
// delivers each non-empty line to onLine. A fatal socket error stops the
// reader and marks the connection down.
func (c *Conn) StartReader(onLine func(line string)) {
	if c.reader == nil {
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.readerWG.Add(1)
	go c.readLoop(onLine)
}

func (c *Conn) readLoop(onLine func(line string)) {
	defer c.readerWG.Done()
	for c.running.Load() {
		line, err := c.reader.ReadLine(readTimeout)
		if err != nil {
			if err == lineproto.ErrReceiveTimeout {
				continue
			}
			c.connected.Store(false)
			c.running.Store(false)
			return
		}
		if line == "" {
			continue
		}
		onLine(line)
	}
}

// Disconnect stops the reader (waiting for it to exit), closes the socket,
// and is idempotent per connection. A subsequent successful Connect rearms
// it, so a reconnected Conn can be Disconnect()ed again rather than having
// every call after the first silently do nothing.
func (c *Conn) Disconnect() {
	c.disconnectMu.Lock()
	if c.disconnected {
		c.disconnectMu.Unlock()
		return
	}
	c.disconnected = true
	c.disconnectMu.Unlock()

	c.running.Store(false)
	c.sendMu.Lock()
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.sendMu.Unlock()
	c.readerWG.Wait()
	c.connected.Store(false)
}
