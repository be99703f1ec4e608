// Package wsclient implements the RFC 6455 client of spec.md §4.3 (C4): a
// hand-rolled HTTP/1.1 upgrade handshake plus masked TEXT-frame send/receive,
// with a reconnect-with-backoff run loop shaped after the teacher's
// rislive.Client (atomic running/connected state, a background reader
// goroutine, Stats()). Unlike rislive.Client this is generalised from a
// fixed BGP feed URL to an arbitrary ws://host:port/path target, and frames
// are parsed by hand rather than via gorilla/websocket: the handshake and
// masking are the literal mechanism spec.md specifies and tests against, so
// wrapping a library here would hide the thing being built.
package wsclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hervehildenbrand/aggie/internal/aggerr"
)

const (
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay      = 5 * time.Minute
	reconnectBackoff       = 2.0
	readTimeout            = 250 * time.Millisecond
	dialTimeout            = 10 * time.Second
)

// State is the client's connection state machine, spec.md §4.3.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is a reconnecting WebSocket client for a single PM endpoint.
type Client struct {
	target *url.URL
	log    zerolog.Logger

	onText func(payload []byte)

	running   atomic.Bool
	connected atomic.Bool
	state     atomic.Int32

	mu      sync.Mutex // guards netConn against concurrent Send/close
	netConn net.Conn

	done chan struct{}
	wg   sync.WaitGroup

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	reconnects       atomic.Uint64
}

// New builds a client for target (a ws://host:port/path URL). onText is
// invoked on every received TEXT payload; it must not block.
func New(target *url.URL, onText func(payload []byte), log zerolog.Logger) *Client {
	return &Client{
		target: target,
		onText: onText,
		log:    log.With().Str("component", "pm").Logger(),
		done:   make(chan struct{}),
	}
}

// Start begins the connect/read loop in a background goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		return
	}
	c.wg.Add(1)
	go c.runLoop()
}

// Stop gracefully shuts down the client and waits for the run loop to exit.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

// Connected reports whether the socket is currently believed to be open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Target returns the configured PM URL.
func (c *Client) Target() *url.URL { return c.target }

// State reports the client's current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Send writes payload as a single masked TEXT frame. Returns
// aggerr.ErrNotConnected if the socket is currently down.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.netConn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return aggerr.ErrNotConnected
	}
	if err := writeTextFrame(conn, payload); err != nil {
		c.connected.Store(false)
		return err
	}
	c.messagesSent.Add(1)
	return nil
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	delay := initialReconnectDelay
	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			c.reconnects.Add(1)
			c.log.Debug().Err(err).Dur("retry_in", delay).Msg("PM connection lost, reconnecting")
		}

		select {
		case <-c.done:
			return
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * reconnectBackoff)
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}
}

func (c *Client) connectAndStream() error {
	c.state.Store(int32(StateConnecting))

	host := c.target.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		return fmt.Errorf("%w: %s", aggerr.ErrMissingDestinationPort, host)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %v", aggerr.ErrCouldNotConnect, err)
	}

	c.state.Store(int32(StateHandshaking))
	reader, err := doHandshake(conn, c.target)
	if err != nil {
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.mu.Lock()
	c.netConn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.state.Store(int32(StateOpen))
	c.log.Info().Str("url", c.target.String()).Msg("PM connected")

	defer func() {
		c.state.Store(int32(StateClosing))
		c.mu.Lock()
		if c.netConn != nil {
			c.netConn.Close()
			c.netConn = nil
		}
		c.mu.Unlock()
		c.connected.Store(false)
		c.state.Store(int32(StateDisconnected))
	}()

	for c.running.Load() {
		select {
		case <-c.done:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		opcode, payload, err := readFrame(reader)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		switch opcode {
		case opcodeText:
			c.messagesReceived.Add(1)
			if c.onText != nil {
				c.onText(payload)
			}
		case opcodePing, opcodePong:
			// silently accepted and discarded, spec.md §4.3
		case opcodeClose:
			return nil
		}
	}
	return nil
}

// Stats returns counters useful for the control dispatcher's status output.
func (c *Client) Stats() map[string]any {
	return map[string]any{
		"state":             c.State().String(),
		"connected":         c.connected.Load(),
		"messages_received": c.messagesReceived.Load(),
		"messages_sent":     c.messagesSent.Load(),
		"reconnects":        c.reconnects.Load(),
	}
}
