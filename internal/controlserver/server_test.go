package controlserver

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ *Session, line string) string {
	if line == "" {
		return ""
	}
	return "echo: " + line
}

// E2E scenario 5 (shape): connecting yields a banner and prompt, a command
// yields a reply followed by a fresh prompt, and the server survives a
// client that disconnects mid-session without taking down the listener.
func TestServer_BannerPromptAndEcho(t *testing.T) {
	srv := New(0, echoDispatcher{}, zerolog.Nop())
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port
	_ = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				srv.handleSession(conn)
			}()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "aggie control interface") {
		t.Fatalf("banner = %q", line)
	}

	promptBuf := make([]byte, 2)
	if _, err := reader.Read(promptBuf); err != nil {
		t.Fatal(err)
	}
	if string(promptBuf) != "> " {
		t.Fatalf("prompt = %q, want %q", promptBuf, "> ")
	}

	conn.Write([]byte("hello\n"))
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "echo: hello") {
		t.Fatalf("reply = %q", reply)
	}

	if _, err := reader.Read(promptBuf); err != nil {
		t.Fatal(err)
	}
	if string(promptBuf) != "> " {
		t.Fatalf("second prompt = %q, want %q", promptBuf, "> ")
	}

	conn.Close()
	time.Sleep(20 * time.Millisecond) // let the server observe EOF without panicking

	conn2, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("server did not survive a client disconnect: %v", err)
	}
	conn2.Close()
}
