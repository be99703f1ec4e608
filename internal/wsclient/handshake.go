package wsclient

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/hervehildenbrand/aggie/internal/aggerr"
)

// doHandshake performs the RFC 6455 client upgrade over conn, per spec.md
// §4.3. The legacy behaviour does not validate Sec-WebSocket-Accept, and
// this implementation doesn't either: only the status line is checked. It
// returns the buffered reader used to read the response, since the PM may
// have written its first frame in the same flush as the 101 response and
// that frame's bytes can already be sitting in the reader's buffer — frame
// reads must continue from this reader, never straight from conn again.
func doHandshake(conn net.Conn, target *url.URL) (*bufio.Reader, error) {
	key, err := secWebSocketKey()
	if err != nil {
		return nil, err
	}

	path := target.Path
	if path == "" {
		path = "/"
	}
	host := target.Host

	var req strings.Builder
	fmt.Fprintf(&req, "GET ws://%s%s HTTP/1.1\r\n", host, path)
	fmt.Fprintf(&req, "Host: %s\r\n", host)
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&req, "Sec-WebSocket-Key: %s\r\n", key)
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}
	if !strings.HasPrefix(statusLine, "HTTP/1.1 101") {
		return nil, fmt.Errorf("%w: unexpected status line %q", aggerr.ErrInvalidMessage, strings.TrimSpace(statusLine))
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	return reader, nil
}

// secWebSocketKey produces a fresh 16-byte random key, base64-encoded, for
// the Sec-WebSocket-Key header.
func secWebSocketKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("wsclient: generating handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}
