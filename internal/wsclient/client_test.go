package wsclient

import (
	"bufio"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeServer accepts one connection, reads the handshake request, then
// writes the 101 response and a masked-free TEXT frame in a single write —
// the scenario where the PM's first frame arrives buffered behind the
// handshake response rather than in its own Read.
func fakeServer(t *testing.T, ln net.Listener, framePayload string) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	var buf strings.Builder
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")

	frame := make([]byte, 0, 2+len(framePayload))
	frame = append(frame, finAndText)
	frame = append(frame, byte(len(framePayload))) // unmasked server->client frame
	frame = append(frame, []byte(framePayload)...)
	buf.Write(frame)

	conn.Write([]byte(buf.String()))
	time.Sleep(200 * time.Millisecond)
}

func TestConnectAndStream_FrameBufferedBehindHandshakeIsNotLost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go fakeServer(t, ln, "hello")

	var mu sync.Mutex
	var got string
	received := make(chan struct{}, 1)

	target, _ := url.Parse("ws://" + ln.Addr().String() + "/feed")
	c := New(target, func(payload []byte) {
		mu.Lock()
		got = string(payload)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	}, zerolog.Nop())

	c.Start()
	defer c.Stop()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("onText was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if got != "hello" {
		t.Fatalf("payload = %q, want %q", got, "hello")
	}
}
