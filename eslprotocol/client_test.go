package eslprotocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectClient(t *testing.T, ms *mockServer) *Client {
	t.Helper()
	c, err := Dial(context.Background(), ms.config())
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func waitForCommand(t *testing.T, ms *mockServer, cmd string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, got := range ms.received() {
			if got == cmd {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "server never received %q", cmd)
}

func TestConnectAuthenticates(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	assert.Equal(t, StateAuthenticated, c.State())
	assert.True(t, c.IsConnected())
	assert.Equal(t, []string{"auth secret"}, ms.received())
}

func TestConnectWrongPassword(t *testing.T) {
	ms := startMockServer(t, nil)
	cfg := ms.config()
	cfg.Password = "wrong"

	c := NewClient(cfg)
	err := c.Connect(context.Background())

	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateClosed, c.State())
}

func TestConnectRudeRejection(t *testing.T) {
	ms := startMockServerWithGreeting(t, rudeRejectionFrame(), nil)

	c := NewClient(ms.config())
	err := c.Connect(context.Background())

	require.ErrorIs(t, err, ErrServerClosed)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestConnectServerClosesBeforeAuth(t *testing.T) {
	ms := startMockServerWithGreeting(t, mockClose, nil)

	c := NewClient(ms.config())
	err := c.Connect(context.Background())

	require.ErrorIs(t, err, ErrServerClosed)
	assert.False(t, c.IsConnected())
}

func TestConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	cfg := DefaultConfig()
	cfg.Port = addr.Port
	cfg.Logger = discardLogger()

	c := NewClient(cfg)
	err = c.Connect(context.Background())

	require.ErrorIs(t, err, ErrNotConnected)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, StateDisconnected, c.State(), "a failed dial leaves the client retryable")
}

func TestConnectTwice(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnectAfterStop(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)
	require.NoError(t, c.Stop())

	assert.ErrorIs(t, c.Connect(context.Background()), ErrNotConnected)
}

func TestSendAPI(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	ev, err := c.Send("api status")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeAPIResponse, ev.ContentType())
	assert.Equal(t, "ready", ev.BodyText())

	body, err := c.API(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
}

func TestSendCommandError(t *testing.T) {
	ms := startMockServer(t, func(cmd string) string {
		if cmd == "auth secret" {
			return commandReplyFrame(AuthAccepted)
		}
		return commandReplyFrame("-ERR command not found")
	})
	c := connectClient(t, ms)

	_, err := c.SendCommand(context.Background(), NewRawCommand("bogus"))
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bogus", cmdErr.Command)
	assert.Equal(t, "command not found", cmdErr.Reply)
}

func TestBgAPIReturnsJobUUID(t *testing.T) {
	ms := startMockServer(t, func(cmd string) string {
		if cmd == "auth secret" {
			return commandReplyFrame(AuthAccepted)
		}
		return "Content-Type: command/reply\nReply-Text: +OK Job-UUID: 1234\nJob-UUID: 1234\n\n"
	})
	c := connectClient(t, ms)

	uuid, err := c.BgAPI(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, "1234", uuid)
}

func TestSendSequentialReplyOrder(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	for i := 0; i < 20; i++ {
		want := "msg-" + strconv.Itoa(i)
		ev, err := c.Send("api echo " + want)
		require.NoError(t, err)
		assert.Equal(t, want, ev.BodyText())
	}
}

func TestSendConcurrentReplyOrder(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	const senders = 16
	const perSender = 10

	var wg sync.WaitGroup
	errs := make(chan error, senders*perSender)
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				want := strconv.Itoa(s) + "-" + strconv.Itoa(i)
				ev, err := c.Send("api echo " + want)
				if err != nil {
					errs <- err
					return
				}
				if got := ev.BodyText(); got != want {
					errs <- errors.New("got reply " + got + " for command " + want)
				}
			}
		}(s)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient(DefaultConfig())

	_, err := c.Send("api status")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectReleasesPendingCommands(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	result := make(chan error, 1)
	go func() {
		_, err := c.Send("api hang")
		result <- err
	}()

	waitForCommand(t, ms, "api hang")
	ms.dropConnections()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was not released when the connection dropped")
	}

	assert.Eventually(t, func() bool { return c.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Error("Done() was not closed after the connection dropped")
	}
}

func TestCommandTimeoutKeepsReplyOrder(t *testing.T) {
	ms := startMockServer(t, nil)
	cfg := ms.config()
	cfg.CommandTimeout = 100 * time.Millisecond

	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })

	_, err = c.Send("api hang")
	require.ErrorIs(t, err, ErrTimeout)

	// The late reply belongs to the abandoned command.
	ms.push(t, apiResponseFrame("late"))

	ev, err := c.Send("api status")
	require.NoError(t, err)
	assert.Equal(t, "ready", ev.BodyText())
}

func TestSendContextCancel(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendContext(ctx, "api hang")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventDispatch(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	got := make(chan *Event, 4)
	heartbeat := HandlerFunc("heartbeat", func(ev *Event) error {
		got <- ev
		return nil
	})
	c.RegisterHandle([]string{"HEARTBEAT"}, heartbeat)

	ms.push(t, plainEventFrame("Event-Name", "HEARTBEAT", "Up-Time", "0%20years"))

	select {
	case ev := <-got:
		assert.Equal(t, "HEARTBEAT", ev.Name())
		assert.Equal(t, "0 years", ev.Get("Up-Time"))
	case <-time.After(2 * time.Second):
		t.Fatal("HEARTBEAT handler was not called")
	}

	require.NoError(t, c.UnregisterHandle("HEARTBEAT", heartbeat))
	assert.ErrorIs(t, c.UnregisterHandle("HEARTBEAT", heartbeat), ErrNoHandlers)
}

func TestCustomEventDispatchBySubclass(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	got := make(chan string, 4)
	c.RegisterHandle([]string{"sofia::register"}, HandlerFunc("register", func(ev *Event) error {
		got <- "subclass:" + ev.Subclass()
		return nil
	}))
	c.RegisterHandle([]string{"CUSTOM"}, HandlerFunc("custom", func(ev *Event) error {
		got <- "name"
		return nil
	}))

	ms.push(t, plainEventFrame("Event-Name", "CUSTOM", "Event-Subclass", "sofia::register"))

	select {
	case v := <-got:
		assert.Equal(t, "subclass:sofia::register", v)
	case <-time.After(2 * time.Second):
		t.Fatal("subclass handler was not called")
	}
	select {
	case v := <-got:
		t.Errorf("unexpected extra dispatch %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLingerKeepsDispatching(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	notices := make(chan *Event, 1)
	events := make(chan *Event, 1)
	c.RegisterHandle([]string{"DISCONNECT"}, HandlerFunc("disconnect", func(ev *Event) error {
		notices <- ev
		return nil
	}))
	c.RegisterHandle([]string{"CHANNEL_HANGUP"}, HandlerFunc("hangup", func(ev *Event) error {
		events <- ev
		return nil
	}))

	ms.push(t, disconnectNoticeFrame(DispositionLinger))

	select {
	case ev := <-notices:
		assert.Equal(t, DispositionLinger, ev.Get(HeaderContentDisposition))
	case <-time.After(2 * time.Second):
		t.Fatal("DISCONNECT handler was not called")
	}
	assert.Equal(t, StateLingering, c.State())
	assert.True(t, c.IsConnected())

	ms.push(t, plainEventFrame("Event-Name", "CHANNEL_HANGUP"))
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("events stopped after a lingering disconnect")
	}

	_, err := c.Send("api status")
	assert.NoError(t, err)
}

func TestDisconnectNoticeStopsSends(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	ms.push(t, disconnectNoticeFrame(""))

	require.Eventually(t, func() bool { return c.State() == StateDisconnected },
		2*time.Second, 5*time.Millisecond)

	_, err := c.Send("api status")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStopSendsExitAndIsIdempotent(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	require.NoError(t, c.Stop())
	assert.Equal(t, StateClosed, c.State())
	assert.Contains(t, ms.received(), "exit")

	require.NoError(t, c.Stop())
	assert.Equal(t, StateClosed, c.State())

	_, err := c.Send("api status")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStopWithoutConnect(t *testing.T) {
	c := NewClient(DefaultConfig())
	assert.NoError(t, c.Stop())
	assert.Equal(t, StateClosed, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done still open after Stop")
	}
}

func TestStopFromDisconnectHandler(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	stopped := make(chan error, 1)
	c.RegisterHandle([]string{"DISCONNECT"}, HandlerFunc("stop", func(ev *Event) error {
		stopped <- c.Stop()
		return nil
	}))

	ms.push(t, disconnectNoticeFrame(""))

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a handler never returned")
	}
	assert.Equal(t, StateClosed, c.State())

	// A second Stop from outside must not wait on the first.
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Stop blocked")
	}
}

func TestStopFromEventHandlerWhileConnected(t *testing.T) {
	ms := startMockServer(t, nil)
	c := connectClient(t, ms)

	stopped := make(chan error, 1)
	c.RegisterHandle([]string{"HEARTBEAT"}, HandlerFunc("stop", func(ev *Event) error {
		stopped <- c.Stop()
		return nil
	}))

	ms.push(t, plainEventFrame("Event-Name", "HEARTBEAT"))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a handler never returned")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Contains(t, ms.received(), "exit")
}

func TestStopDuringConnectLeavesNoReader(t *testing.T) {
	ms := startMockServer(t, nil)

	for i := 0; i < 50; i++ {
		c := NewClient(ms.config())

		connected := make(chan error, 1)
		go func() { connected <- c.Connect(context.Background()) }()

		for c.State() == StateDisconnected {
			runtime.Gosched()
		}
		require.NoError(t, c.Stop())

		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: Connect did not return after Stop", i)
		}

		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: reader still running after Stop (state %s)", i, c.State())
		}
		assert.Equal(t, StateClosed, c.State())
	}
}

func TestConnectTimeout(t *testing.T) {
	cfg := DefaultConfig()
	// Non-routable; the SYN goes unanswered on most networks.
	cfg.Host = "10.255.255.1"
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.Logger = discardLogger()

	c := NewClient(cfg)
	err := c.Connect(context.Background())
	require.Error(t, err)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Skipf("network answered instead of timing out: %v", err)
	}

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, err.Error(), "50ms")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWithConnection(t *testing.T) {
	ms := startMockServer(t, nil)

	var status string
	err := WithConnection(context.Background(), ms.config(), func(c *Client) error {
		ev, err := c.Send("api status")
		if err != nil {
			return err
		}
		status = ev.BodyText()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ready", status)
	assert.Contains(t, ms.received(), "exit")
}

func TestWithConnectionReturnsCallbackError(t *testing.T) {
	ms := startMockServer(t, nil)
	errBoom := errors.New("boom")

	var client *Client
	err := WithConnection(context.Background(), ms.config(), func(c *Client) error {
		client = c
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, client.State())
}

func TestWithConnectionStopsOnPanic(t *testing.T) {
	ms := startMockServer(t, nil)

	var client *Client
	assert.Panics(t, func() {
		_ = WithConnection(context.Background(), ms.config(), func(c *Client) error {
			client = c
			panic("callback bug")
		})
	})

	require.NotNil(t, client)
	assert.Equal(t, StateClosed, client.State())
}

// TestWireFormat checks the exact bytes the client writes.
func TestWireFormat(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	wire := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, authRequestFrame())

		r := bufio.NewReader(conn)
		var sb strings.Builder
		for !strings.HasSuffix(sb.String(), "\n\n") {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			sb.WriteByte(b)
		}
		wire <- sb.String()
		io.WriteString(conn, commandReplyFrame(AuthAccepted))
	}()

	cfg := DefaultConfig()
	cfg.Port = listener.Addr().(*net.TCPAddr).Port
	cfg.Password = "secret"
	cfg.ExitTimeout = 100 * time.Millisecond
	cfg.Logger = discardLogger()

	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Stop()

	select {
	case got := <-wire:
		assert.Equal(t, "auth secret\n\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the auth command")
	}
}
