// Package lineproto frames CR/LF-delimited text out of a byte stream with a
// per-call deadline, yielding one logical line per call. It is the line
// framing collaborator spec.md §4.1 describes: a \n terminates a line, any
// \r and embedded NUL are dropped, and a deadline that expires mid-line
// yields a non-fatal "receive timeout" sentinel that preserves internal
// state so the next call can continue the same logical line.
package lineproto

import (
	"bytes"
	"errors"
	"net"
	"time"
)

// DefaultBufferSize is the minimum read-chunk size spec.md §4.1 requires
// ("default >= 1,500 B").
const DefaultBufferSize = 1500

// DefaultMaxLineLength bounds a single logical line; bytes past this limit
// are dropped but the (truncated) line is still returned once terminated.
const DefaultMaxLineLength = 8192

// ErrReceiveTimeout is returned when the deadline elapses before a full line
// is available. It is not fatal: the reader's internal state, including any
// partial line, is preserved for the next call.
var ErrReceiveTimeout = errors.New("lineproto: receive timeout")

// ErrSocketError is returned when the underlying stream reports a fatal
// error (remote close, reset, etc).
var ErrSocketError = errors.New("lineproto: socket error")

// deadlineReader is the subset of net.Conn a Reader needs.
type deadlineReader interface {
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// Reader yields one logical line per ReadLine call from an underlying
// deadline-capable stream.
type Reader struct {
	conn       deadlineReader
	chunk      []byte
	pending    []byte // bytes read but not yet terminated by \n
	maxLineLen int
	truncated  bool // pending has already been truncated to maxLineLen
}

// New wraps conn. bufSize is the per-Read chunk size (0 uses DefaultBufferSize);
// maxLineLen bounds a logical line (0 uses DefaultMaxLineLength).
func New(conn net.Conn, bufSize, maxLineLen int) *Reader {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if maxLineLen <= 0 {
		maxLineLen = DefaultMaxLineLength
	}
	return &Reader{
		conn:       conn,
		chunk:      make([]byte, bufSize),
		maxLineLen: maxLineLen,
	}
}

// ReadLine returns the next logical line, without its terminator. On
// timeout it returns ("", ErrReceiveTimeout); any partial line read so far
// remains buffered for the next call. On a fatal stream error it returns
// ("", ErrSocketError).
func (r *Reader) ReadLine(timeout time.Duration) (string, error) {
	for {
		if line, ok := r.takeLine(); ok {
			return line, nil
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", ErrSocketError
		}
		n, err := r.conn.Read(r.chunk)
		if n > 0 {
			r.append(r.chunk[:n])
			if line, ok := r.takeLine(); ok {
				return line, nil
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", ErrReceiveTimeout
			}
			return "", ErrSocketError
		}
	}
}

// append folds new bytes into pending, dropping \r and NUL as it goes, and
// enforcing maxLineLen once a line has grown past it (further bytes for the
// same line are discarded until the terminator arrives).
func (r *Reader) append(b []byte) {
	lineStart := bytes.LastIndexByte(r.pending, '\n') + 1
	for _, c := range b {
		if c == '\r' || c == 0 {
			continue
		}
		if c == '\n' {
			r.pending = append(r.pending, c)
			lineStart = len(r.pending)
			continue
		}
		if len(r.pending)-lineStart >= r.maxLineLen {
			r.truncated = true
			continue
		}
		r.pending = append(r.pending, c)
	}
}

// takeLine extracts a complete line from pending, if one terminates it.
func (r *Reader) takeLine() (string, bool) {
	idx := bytes.IndexByte(r.pending, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(r.pending[:idx])
	r.pending = r.pending[idx+1:]
	r.truncated = false
	return line, true
}
