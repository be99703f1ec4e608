// Package controlserver implements the operator-facing line server of
// spec.md §4.4 (C5): it listens on a local TCP port, accepts many concurrent
// sessions without blocking the acceptor, and delivers each inbound line to
// a dispatcher together with a handle for the reply.
//
// The accept loop (context-cancellable listener, semaphore-bounded
// concurrency, per-connection goroutine, WaitGroup-joined shutdown) is
// grounded on scouter-server-go's internal/netio/tcp Server.Start. Accept
// throttling uses golang.org/x/time/rate so a burst of connection attempts
// can't starve the acceptor loop, generalizing scouter-server-go's plain
// semaphore limiter with genuine rate shaping from the rest of the example
// pack (adred-codev-ws_poc uses the same package for its own rate limiting).
package controlserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the control server's default listen port, spec.md §6.
	DefaultPort = 17408

	banner = "aggie control interface\r\n"
	prompt = "> "

	maxSessions = 256
)

// Dispatcher handles one inbound line from a session and returns the text
// to write back (without the trailing prompt, which the server appends).
type Dispatcher interface {
	Dispatch(session *Session, line string) string
}

// SessionCloser is an optional extension a Dispatcher may implement to end
// the session (after its reply is flushed) instead of waiting for EOF —
// the "close"/"quit" commands of spec.md §4.7.
type SessionCloser interface {
	ShouldClose(line string) bool
}

// Server is the control server's TCP acceptor.
type Server struct {
	port int
	log  zerolog.Logger

	dispatcher Dispatcher
	limiter    *rate.Limiter

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New builds a control server bound to port, delivering lines to dispatcher.
func New(port int, dispatcher Dispatcher, log zerolog.Logger) *Server {
	return &Server{
		port:       port,
		log:        log.With().Str("component", "control").Logger(),
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(rate.Limit(50), 50),
		sem:        make(chan struct{}, maxSessions),
	}
}

// Serve listens and accepts sessions until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("controlserver: listen: %w", err)
	}
	s.listener = ln
	s.log.Info().Int("port", s.port).Msg("control server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.log.Debug().Err(err).Msg("accept error")
				continue
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			conn.Close()
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer func() { <-s.sem }()
			defer s.wg.Done()
			s.handleSession(conn)
		}()
	}
}

// Session is one connected operator's handle, passed to the dispatcher so
// replies can reference which peer asked.
type Session struct {
	Peer string
}

func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	session := &Session{Peer: conn.RemoteAddr().String()}
	writer := bufio.NewWriter(conn)
	writer.WriteString(banner)
	writer.WriteString(prompt)
	writer.Flush()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			trimmed := trimEOL(line)
			reply := s.dispatcher.Dispatch(session, trimmed)
			if reply != "" {
				writer.WriteString(reply)
				if reply[len(reply)-1] != '\n' {
					writer.WriteString("\r\n")
				}
			}
			writer.WriteString(prompt)
			if flushErr := writer.Flush(); flushErr != nil {
				return
			}
			if closer, ok := s.dispatcher.(SessionCloser); ok && closer.ShouldClose(trimmed) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func trimEOL(line string) string {
	n := len(line)
	for n > 0 && (line[n-1] == '\n' || line[n-1] == '\r') {
		n--
	}
	return line[:n]
}
