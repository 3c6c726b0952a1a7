package eslprotocol

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
)

// mockClose tells the mock server to drop the connection instead of replying.
const mockClose = "\x00close"

// mockServer is a lightweight event socket server for tests.
//
// It greets every connection with greeting, then reads one command per
// blank-line-terminated block and writes whatever handler returns. Frames can
// also be pushed to every open connection with push.
type mockServer struct {
	listener net.Listener

	greeting string
	handler  func(cmd string) string

	mu          sync.Mutex
	connections []net.Conn
	commands    []string
	connected   chan struct{}

	wg sync.WaitGroup
}

// startMockServer starts a mock server on a loopback port. A nil handler uses
// defaultMockHandler. The server is stopped when the test finishes.
func startMockServer(t *testing.T, handler func(cmd string) string) *mockServer {
	t.Helper()
	return startMockServerWithGreeting(t, authRequestFrame(), handler)
}

func startMockServerWithGreeting(t *testing.T, greeting string, handler func(cmd string) string) *mockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create mock server socket: %v", err)
	}

	if handler == nil {
		handler = defaultMockHandler
	}

	ms := &mockServer{
		listener:  listener,
		greeting:  greeting,
		handler:   handler,
		connected: make(chan struct{}, 16),
	}

	ms.wg.Add(1)
	go ms.acceptLoop()

	t.Cleanup(ms.stop)
	return ms
}

// config returns a client configuration pointing at the mock server.
func (ms *mockServer) config() Config {
	host, portText, _ := net.SplitHostPort(ms.listener.Addr().String())
	port, _ := strconv.Atoi(portText)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = "secret"
	cfg.ConnectTimeout = time.Second
	cfg.ExitTimeout = 200 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func (ms *mockServer) acceptLoop() {
	defer ms.wg.Done()

	for {
		conn, err := ms.listener.Accept()
		if err != nil {
			return
		}

		ms.mu.Lock()
		ms.connections = append(ms.connections, conn)
		ms.mu.Unlock()

		ms.wg.Add(1)
		go ms.handleConnection(conn)
	}
}

func (ms *mockServer) handleConnection(conn net.Conn) {
	defer ms.wg.Done()
	defer conn.Close()

	if ms.greeting == mockClose {
		return
	}
	if ms.greeting != "" {
		if _, err := io.WriteString(conn, ms.greeting); err != nil {
			return
		}
	}
	select {
	case ms.connected <- struct{}{}:
	default:
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

		response := ms.handler(cmd)
		if response == mockClose {
			return
		}
		if _, err := io.WriteString(conn, response); err != nil {
			return
		}
	}
}

// push writes frame to every open connection.
func (ms *mockServer) push(t *testing.T, frame string) {
	t.Helper()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, conn := range ms.connections {
		if _, err := io.WriteString(conn, frame); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}
}

// dropConnections closes every open connection from the server side.
func (ms *mockServer) dropConnections() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, conn := range ms.connections {
		conn.Close()
	}
	ms.connections = nil
}

// received returns the commands read so far.
func (ms *mockServer) received() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, len(ms.commands))
	copy(out, ms.commands)
	return out
}

func (ms *mockServer) stop() {
	ms.listener.Close()
	ms.dropConnections()
	ms.wg.Wait()
}

// defaultMockHandler accepts the password "secret", answers "api status" with
// "ready", echoes "api echo <x>" and says goodbye to exit.
func defaultMockHandler(cmd string) string {
	switch {
	case cmd == "auth secret":
		return commandReplyFrame(AuthAccepted)
	case strings.HasPrefix(cmd, "auth "):
		return commandReplyFrame("-ERR invalid")
	case cmd == "api status":
		return apiResponseFrame("ready")
	case strings.HasPrefix(cmd, "api echo "):
		return apiResponseFrame(strings.TrimPrefix(cmd, "api echo "))
	case cmd == "api hang":
		return ""
	case cmd == "exit":
		return commandReplyFrame("+OK bye") + disconnectNoticeFrame("")
	default:
		return commandReplyFrame("+OK")
	}
}

// Frame builders.

func authRequestFrame() string {
	return "Content-Type: auth/request\n\n"
}

func commandReplyFrame(text string) string {
	return "Content-Type: command/reply\nReply-Text: " + text + "\n\n"
}

func apiResponseFrame(body string) string {
	return fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)
}

func disconnectNoticeFrame(disposition string) string {
	body := "Disconnected, goodbye.\n"
	headers := "Content-Type: text/disconnect-notice\n"
	if disposition != "" {
		headers += "Content-Disposition: " + disposition + "\n"
	}
	return fmt.Sprintf("%sContent-Length: %d\n\n%s", headers, len(body), body)
}

func rudeRejectionFrame() string {
	body := "Access Denied, go away.\n"
	return fmt.Sprintf("Content-Type: text/rude-rejection\nContent-Length: %d\n\n%s", len(body), body)
}

// plainEventFrame builds a text/event-plain frame from key/value pairs.
func plainEventFrame(kv ...string) string {
	var body strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		body.WriteString(kv[i] + ": " + kv[i+1] + "\n")
	}
	body.WriteString("\n")
	return fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", body.Len(), body.String())
}

func logDataFrame(text string) string {
	return fmt.Sprintf("Content-Type: log/data\nContent-Length: %d\nLog-Level: 7\n\n%s", len(text), text)
}
