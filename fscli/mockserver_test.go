// =============================================================================
// mockserver_test.go - Mock Event Socket Server for REPL Tests
// =============================================================================
//
// A minimal TCP server that greets with auth/request, accepts the password
// "secret" and answers each command through a handler function, so the REPL
// can be driven end to end without a real switch.
//
// =============================================================================

package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hnimminh/redfs/eslprotocol"
)

type mockServer struct {
	listener net.Listener
	handler  func(cmd string) string

	mu       sync.Mutex
	conns    []net.Conn
	commands []string

	wg sync.WaitGroup
}

func startMockServer(t *testing.T, handler func(cmd string) string) *mockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create mock server socket: %v", err)
	}
	if handler == nil {
		handler = defaultMockHandler
	}

	ms := &mockServer{listener: listener, handler: handler}
	ms.wg.Add(1)
	go ms.acceptLoop()

	t.Cleanup(ms.stop)
	return ms
}

func (ms *mockServer) acceptLoop() {
	defer ms.wg.Done()
	for {
		conn, err := ms.listener.Accept()
		if err != nil {
			return
		}
		ms.mu.Lock()
		ms.conns = append(ms.conns, conn)
		ms.mu.Unlock()

		ms.wg.Add(1)
		go ms.serve(conn)
	}
}

func (ms *mockServer) serve(conn net.Conn) {
	defer ms.wg.Done()
	defer conn.Close()

	if _, err := io.WriteString(conn, "Content-Type: auth/request\n\n"); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		if cmd == "" {
			continue
		}

		ms.mu.Lock()
		ms.commands = append(ms.commands, cmd)
		ms.mu.Unlock()

		if _, err := io.WriteString(conn, ms.handler(cmd)); err != nil {
			return
		}
	}
}

// push writes frame to every connection.
func (ms *mockServer) push(frame string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, c := range ms.conns {
		io.WriteString(c, frame)
	}
}

func (ms *mockServer) received() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.commands...)
}

func (ms *mockServer) stop() {
	ms.listener.Close()
	ms.mu.Lock()
	for _, c := range ms.conns {
		c.Close()
	}
	ms.mu.Unlock()
	ms.wg.Wait()
}

func (ms *mockServer) config() eslprotocol.Config {
	host, portText, _ := net.SplitHostPort(ms.listener.Addr().String())
	port, _ := strconv.Atoi(portText)

	cfg := eslprotocol.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = "secret"
	cfg.ConnectTimeout = time.Second
	cfg.ExitTimeout = 200 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func defaultMockHandler(cmd string) string {
	switch {
	case cmd == "auth secret":
		return replyFrame("+OK accepted")
	case cmd == "api status":
		return apiFrame("UP 0 years, 0 days\nready\n")
	case cmd == "api fail":
		return apiFrame("-ERR no such command\n")
	case strings.HasPrefix(cmd, "bgapi "):
		return "Content-Type: command/reply\nReply-Text: +OK Job-UUID: 42\nJob-UUID: 42\n\n"
	case strings.HasPrefix(cmd, "event "):
		return replyFrame("+OK event listener enabled plain")
	case cmd == "noevents":
		return replyFrame("+OK no longer listening for events")
	case cmd == "exit":
		return replyFrame("+OK bye")
	default:
		return replyFrame("-ERR command not found")
	}
}

func replyFrame(text string) string {
	return "Content-Type: command/reply\nReply-Text: " + text + "\n\n"
}

func apiFrame(body string) string {
	return fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)
}

func eventFrame(kv ...string) string {
	var body strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		body.WriteString(kv[i] + ": " + kv[i+1] + "\n")
	}
	body.WriteString("\n")
	return fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", body.Len(), body.String())
}
