package wsclient

import (
	"bufio"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestDoHandshake_AcceptsSwitchingProtocols(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	target, err := url.Parse("ws://pm.example.com:8080/feed")
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { _, err := doHandshake(client, target); errCh <- err }()

	reader := bufio.NewReader(server)
	var requestLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		if requestLine == "" {
			requestLine = line
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	if !strings.HasPrefix(requestLine, "GET ws://pm.example.com:8080/feed HTTP/1.1") {
		t.Fatalf("request line = %q", requestLine)
	}

	server.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("doHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestDoHandshake_RejectsNon101Status(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	target, _ := url.Parse("ws://pm.example.com:8080/feed")

	errCh := make(chan error, 1)
	go func() { _, err := doHandshake(client, target); errCh <- err }()

	reader := bufio.NewReader(server)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	server.Write([]byte("HTTP/1.1 404 Not Found\r\n\r\n"))

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error for a non-101 status line")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}
