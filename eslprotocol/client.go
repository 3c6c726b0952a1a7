package eslprotocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config configures a Client.
type Config struct {
	Host     string
	Port     int
	Password string

	// ConnectTimeout bounds the TCP connect only.
	ConnectTimeout time.Duration

	// CommandTimeout bounds Send. Zero waits for the reply forever.
	CommandTimeout time.Duration

	// ExitTimeout bounds the best-effort exit command sent by Stop.
	ExitTimeout time.Duration

	// PollInterval is how often the dispatch loop re-checks for shutdown.
	PollInterval time.Duration

	// EventQueueSize bounds the dispatch queue. Zero means unbounded.
	EventQueueSize int

	// BeforeHandle and AfterHandle, when set, bracket every dispatched event.
	BeforeHandle Handler
	AfterHandle  Handler

	// Logger receives the client's log output. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration for a server on localhost.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           DefaultPort,
		Password:       DefaultPassword,
		ConnectTimeout: ConnectTimeout,
		ExitTimeout:    ExitTimeout,
		PollInterval:   PollInterval,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is an inbound event socket connection.
//
// It runs two goroutines while connected: a reader that parses frames and
// either resolves pending commands or queues events, and a dispatcher that
// hands queued events to registered handlers.
//
// Thread Safety:
// All methods are safe for concurrent use. Replies are matched to commands
// strictly by arrival order, since the protocol carries no request
// identifiers. Send serializes the write of each command with the
// registration of its reply slot, so concurrent senders each get the reply
// the server sent for their own command as long as the server answers in
// order.
type Client struct {
	cfg    Config
	logger *slog.Logger

	state   atomic.Int32
	running atomic.Bool

	mu      sync.Mutex
	conn    net.Conn
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool

	// writeMu keeps slot order equal to wire order.
	writeMu sync.Mutex
	pending pendingCommands

	stopMu sync.Mutex

	registry   *Registry
	dispatcher *Dispatcher

	authReady chan struct{}
	authOnce  sync.Once
	done      chan struct{}
}

// NewClient creates a client. Zero-valued timeouts fall back to the package
// defaults, except CommandTimeout where zero means no timeout.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = ConnectTimeout
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = ExitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = PollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "esl", "addr", cfg.Address())

	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, logger, cfg.EventQueueSize, cfg.PollInterval)
	dispatcher.Before = cfg.BeforeHandle
	dispatcher.After = cfg.AfterHandle

	return &Client{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		authReady:  make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := NewClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// WithConnection connects, runs fn, and stops the client on every exit path,
// including a panic in fn.
func WithConnection(ctx context.Context, cfg Config, fn func(c *Client) error) (err error) {
	c, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := c.Stop(); err == nil {
			err = stopErr
		}
	}()
	return fn(c)
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Address returns the server address the client dials.
func (c *Client) Address() string {
	return c.cfg.Address()
}

// IsConnected reports whether commands can be sent.
func (c *Client) IsConnected() bool {
	return c.State().CanSend()
}

// Done returns a channel that is closed when the reader stops, either
// because the server went away or because Stop was called. Stopping a client
// that never started a reader closes it too.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Registry exposes the handler registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// RegisterHandle registers h under each of names. "*", "DISCONNECT" and
// "log" select the synthetic buckets; any other name is an Event-Name or a
// CUSTOM Event-Subclass.
func (c *Client) RegisterHandle(names []string, h Handler) {
	c.registry.Register(ParseKeys(names...), h)
}

// UnregisterHandle removes h from name.
func (c *Client) UnregisterHandle(name string, h Handler) error {
	return c.registry.Unregister(ParseKey(name), h)
}

// setState moves to s unless the client is already closed.
func (c *Client) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Connect opens the socket, starts the reader and dispatcher, waits for the
// server's auth/request and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		if c.State() == StateClosed {
			return NewConnectionError("client is stopped", ErrNotConnected, nil)
		}
		return ErrAlreadyConnected
	}

	c.mu.Lock()
	used := c.conn != nil
	c.mu.Unlock()
	if used {
		// The reader's done channel only closes once.
		c.setState(StateDisconnected)
		return NewConnectionError("client cannot reconnect, create a new one", ErrNotConnected, nil)
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		c.setState(StateDisconnected)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
			return NewConnectionError(
				fmt.Sprintf("connection timed out after %s", c.cfg.ConnectTimeout), ErrConnectTimeout, err)
		}
		return NewConnectionError("failed to connect", ErrNotConnected, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return NewConnectionError("client is stopped", ErrNotConnected, nil)
	}
	c.conn = conn
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group = new(errgroup.Group)
	c.running.Store(true)
	c.setState(StateAwaitingAuth)

	fr := NewFrameReader(conn, c.logger)
	c.group.Go(func() error { return c.readLoop(fr) })
	c.group.Go(func() error { return c.dispatcher.Run(runCtx) })
	c.mu.Unlock()

	select {
	case <-c.authReady:
	case <-c.done:
	case <-ctx.Done():
		c.Stop()
		return NewConnectionError("waiting for auth request", ErrNotConnected, ctx.Err())
	}

	if c.State() != StateAwaitingAuth {
		c.Stop()
		return ErrServerClosed
	}

	if err := c.authenticate(ctx); err != nil {
		c.Stop()
		return err
	}

	if !c.state.CompareAndSwap(int32(StateAwaitingAuth), int32(StateAuthenticated)) {
		c.Stop()
		return ErrServerClosed
	}
	c.logger.Info("connected and authenticated")
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	cmd := NewAuthCommand(c.cfg.Password)
	ev, err := c.roundTrip(ctx, cmd.Format())
	if err != nil {
		return err
	}
	if ev.ReplyText() != AuthAccepted {
		return fmt.Errorf("%w: %s", ErrAuthFailed, ev.ReplyText())
	}
	return nil
}

// Send writes command and blocks until its reply arrives, or until
// Config.CommandTimeout elapses when one is set.
func (c *Client) Send(command string) (*Event, error) {
	ctx := context.Background()
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}
	return c.SendContext(ctx, command)
}

// SendContext writes command and blocks until its reply arrives or ctx is
// done. A command abandoned by ctx keeps its place in the reply queue; its
// reply is discarded when it arrives.
func (c *Client) SendContext(ctx context.Context, command string) (*Event, error) {
	if !c.State().CanSend() {
		return nil, ErrNotConnected
	}
	return c.roundTrip(ctx, command)
}

// SendCommand sends a typed command and converts a -ERR reply into a
// *CommandError.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (*Event, error) {
	text := cmd.Format()
	ev, err := c.SendContext(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := ev.Err(text); err != nil {
		return ev, err
	}
	return ev, nil
}

// API runs a blocking api command and returns its body.
func (c *Client) API(ctx context.Context, command string) (string, error) {
	ev, err := c.SendCommand(ctx, NewAPICommand(command))
	if err != nil {
		return "", err
	}
	return ev.BodyText(), nil
}

// BgAPI runs a background api command and returns its Job-UUID.
func (c *Client) BgAPI(ctx context.Context, command string) (string, error) {
	ev, err := c.SendCommand(ctx, NewBgAPICommand(command))
	if err != nil {
		return "", err
	}
	return ev.Get(HeaderJobUUID), nil
}

func (c *Client) roundTrip(ctx context.Context, command string) (*Event, error) {
	c.writeMu.Lock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.writeMu.Unlock()
		return nil, ErrNotConnected
	}

	slot := c.pending.push()
	if _, err := io.WriteString(conn, command+CommandTerminator); err != nil {
		c.pending.remove(slot)
		c.writeMu.Unlock()
		return nil, NewConnectionError("failed to send command", ErrNotConnected, err)
	}
	c.writeMu.Unlock()

	select {
	case r := <-slot:
		return r.event, r.err
	case <-c.done:
		select {
		case r := <-slot:
			return r.event, r.err
		default:
			c.pending.remove(slot)
			return nil, ErrNotConnected
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, command)
		}
		return nil, ctx.Err()
	}
}

// readLoop parses frames until the stream ends or Stop is called.
func (c *Client) readLoop(fr *FrameReader) error {
	defer close(c.done)

	for c.running.Load() {
		ev, err := fr.ReadFrame()
		if err != nil {
			c.readFailed(err)
			return nil
		}
		c.route(ev)
	}
	return nil
}

// readFailed handles the end of the stream. It is fatal to the connection:
// the state flips and every waiting command is released.
func (c *Client) readFailed(err error) {
	stopping := !c.running.Load()
	if !stopping {
		switch st := c.State(); {
		case !st.CanSend() && st != StateAwaitingAuth:
			c.logger.Debug("event socket closed", "state", st, "err", err)
		case errors.Is(err, io.EOF):
			c.logger.Error("error receiving data, is the server running?", "err", err)
		default:
			c.logger.Error("event socket read failed", "err", err)
		}
		c.setState(StateDisconnected)
	}

	if n := c.pending.failAll(NewConnectionError("connection lost", ErrNotConnected, err)); n > 0 {
		c.logger.Debug("released pending commands", "count", n)
	}
}

// route hands a frame to the pending command queue or the dispatcher.
func (c *Client) route(ev *Event) {
	switch ev.ContentType() {
	case ContentTypeAuthRequest:
		c.signalAuthReady()

	case ContentTypeCommandReply, ContentTypeAPIResponse:
		if !c.pending.resolve(ev) {
			c.logger.Warn("reply with no pending command", "content_type", ev.ContentType(), "reply", ev.ReplyText())
		}

	case ContentTypeDisconnectNotice:
		if ev.Get(HeaderContentDisposition) == DispositionLinger {
			c.logger.Debug("linger activated")
			c.setState(StateLingering)
		} else {
			c.setState(StateDisconnected)
		}
		c.dispatcher.Enqueue(ev)

	case ContentTypeRudeRejection:
		c.logger.Warn("server rejected connection", "reason", ev.BodyText())
		c.setState(StateDisconnected)
		c.signalAuthReady()

	default:
		c.dispatcher.Enqueue(ev)
	}
}

func (c *Client) signalAuthReady() {
	c.authOnce.Do(func() { close(c.authReady) })
}

// Stop shuts the client down. It sends a best-effort exit when still
// connected, stops and joins the reader and dispatcher, and closes the socket.
// It is safe to call more than once, concurrently with Connect, and from an
// event handler. Called from a handler, Stop returns once the reader has
// exited; the dispatcher exits as soon as the handler returns.
func (c *Client) Stop() error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	already := c.stopped
	c.mu.Unlock()
	if already {
		return nil
	}

	if c.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ExitTimeout)
		_, err := c.SendContext(ctx, NewExitCommand().Format())
		cancel()
		if err != nil {
			c.logger.Debug("exit command failed", "err", err)
		}
	}

	c.running.Store(false)

	// Connect checks stopped under mu before starting any task, so either
	// the tasks are visible here or they are never started.
	c.mu.Lock()
	c.stopped = true
	conn, cancel, group := c.conn, c.cancel, c.group
	c.mu.Unlock()

	c.state.Store(int32(StateClosed))

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Unblocks a reader parked in a socket read.
		conn.SetReadDeadline(time.Now())
	}

	var err error
	switch {
	case group == nil:
		// No reader was ever started and none will be now.
		close(c.done)
	case c.dispatcher.Dispatching():
		// The caller is a handler on the dispatcher goroutine; joining the
		// group here would wait on ourselves.
		c.logger.Debug("stop called from a handler, waiting for reader only")
		<-c.done
		go func() {
			if werr := group.Wait(); werr != nil {
				c.logger.Warn("dispatcher exited with error", "err", werr)
			}
		}()
	default:
		c.logger.Debug("waiting for reader and dispatcher to exit")
		err = group.Wait()
	}

	if conn != nil {
		if cerr := conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	c.pending.failAll(ErrNotConnected)
	c.logger.Info("connection closed")
	return err
}
