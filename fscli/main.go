// =============================================================================
// main.go - fscli Entry Point
// =============================================================================
//
// fscli is an interactive console for the switch's event socket. It connects
// over TCP, authenticates, and then either runs the commands given with -x
// and exits, or drops into a REPL. Subscribed events are printed as they
// arrive and can be relayed to websocket clients.
//
// Usage:
//
//	fscli                               Connect to 127.0.0.1:8021 and start the REPL
//	fscli -x "status"                   Run one api command and exit
//	fscli --events CHANNEL_CREATE,HEARTBEAT
//	                                    Subscribe and print events
//	fscli --relay :8088                 Also serve events at ws://host:8088/events
//
// =============================================================================

// GO CONCEPT: Packages
// --------------------
// The special package name "main" makes this directory an executable. It
// must contain a func main() as the entry point; the other files in the
// directory (repl.go, translate.go, ...) share the same package and can call
// each other's unexported functions freely.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hnimminh/redfs/eslprotocol"
)

const (
	version = "0.3.0"

	appName = "fscli"
)

func fullTitle() string {
	return fmt.Sprintf("%s v%s", appName, version)
}

func welcomeBanner(addr string) string {
	return fmt.Sprintf(`%s - event socket console
Connected to %s

Type '.help' for available commands.
Type '.quit' to exit.
`, fullTitle(), addr)
}

// arguments holds the parsed command-line flags. Zero values mean "not given
// on the command line", so the config file value (or the default) wins.
type arguments struct {
	host       string
	port       int
	password   string
	configPath string
	timeout    time.Duration
	execute    []string
	events     []string
	relayAddr  string
	logLevel   string
	noColor    bool

	showHelp    bool
	showVersion bool
}

// GO CONCEPT: Hand-Rolled Flag Parsing
// ------------------------------------
// The standard flag package only understands single-dash flags and stops at
// the first positional argument. A small switch over the remaining
// arguments keeps the GNU-style long options and lets a flag repeat.
func parseArguments(argv []string) (arguments, error) {
	var args arguments
	remaining := argv

	// value pops the argument that follows flag.
	value := func(flag string) (string, error) {
		if len(remaining) == 0 {
			return "", fmt.Errorf("%s requires an argument", flag)
		}
		v := remaining[0]
		remaining = remaining[1:]
		return v, nil
	}

	for len(remaining) > 0 {
		arg := remaining[0]
		remaining = remaining[1:]

		// Accept --flag=value as well as --flag value.
		if strings.HasPrefix(arg, "--") {
			if name, v, ok := strings.Cut(arg, "="); ok {
				arg = name
				remaining = append([]string{v}, remaining...)
			}
		}

		var err error
		switch arg {
		case "--host":
			args.host, err = value(arg)

		case "--port", "-p":
			var v string
			if v, err = value(arg); err == nil {
				args.port, err = strconv.Atoi(v)
				if err != nil || args.port <= 0 || args.port > 65535 {
					err = fmt.Errorf("invalid port: %s", v)
				}
			}

		case "--password":
			args.password, err = value(arg)

		case "--config":
			args.configPath, err = value(arg)

		case "--timeout":
			var v string
			if v, err = value(arg); err == nil {
				args.timeout, err = time.ParseDuration(v)
				if err != nil || args.timeout < 0 {
					err = fmt.Errorf("invalid timeout: %s", v)
				}
			}

		case "--execute", "-x":
			var v string
			if v, err = value(arg); err == nil {
				args.execute = append(args.execute, v)
			}

		case "--events":
			var v string
			if v, err = value(arg); err == nil {
				args.events = append(args.events, splitList(v)...)
			}

		case "--relay":
			args.relayAddr, err = value(arg)

		case "--log-level":
			args.logLevel, err = value(arg)

		case "--no-color":
			args.noColor = true

		case "--help", "-h":
			args.showHelp = true

		case "--version", "-v":
			args.showVersion = true

		default:
			err = fmt.Errorf("unknown argument: %s", arg)
		}

		if err != nil {
			return arguments{}, err
		}
	}

	return args, nil
}

// splitList splits a comma or space separated list.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `USAGE: fscli [options]

OPTIONS:
  --host <host>         Server address (default: 127.0.0.1)
  --port, -p <port>     Event socket port (default: 8021)
  --password <secret>   Event socket password (default: ClueCon)
  --config <path>       YAML config file (default: ~/.fscli.yaml)
  --timeout <dur>       Per-command timeout, e.g. 5s (default: none)
  --execute, -x <cmd>   Run a command and exit; may be repeated
  --events <list>       Subscribe to events and print them (comma separated)
  --relay <addr>        Serve received events over websocket at /events
  --log-level <level>   debug, info, warn or error (default: warn)
  --no-color            Disable colored output
  --help, -h            Show this help
  --version, -v         Show version

INPUT:
  Lines are sent as api commands. Prefix a line with '/' to send a raw
  event socket command (for example '/bgapi status' or '/event plain ALL').
  Lines starting with '.' are handled locally; type .help for the list.

EXAMPLES:
  fscli -x "show channels"
  fscli --host 10.0.0.5 --password secret --events CHANNEL_PARK
  fscli --events ALL --relay 127.0.0.1:8088
`)
}

func printVersion() {
	fmt.Println(fullTitle())
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// GO CONCEPT: Signal Handling
// ---------------------------
// signal.Notify delivers OS signals on a channel instead of killing the
// process. run returns when one arrives, so its deferred cleanup restores the
// terminal and closes the connection before the process exits.
func setupSignalHandler() (<-chan os.Signal, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh, func() { signal.Stop(sigCh) }
}

// runUntilSignal runs fn and returns its exit status, or 128 plus the signal
// number when a signal arrives first.
func runUntilSignal(sigCh <-chan os.Signal, fn func() int) int {
	done := make(chan int, 1)
	go func() { done <- fn() }()

	select {
	case status := <-done:
		return status
	case sig := <-sigCh:
		fmt.Println()
		if s, ok := sig.(syscall.Signal); ok {
			return 128 + int(s)
		}
		return 1
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main without os.Exit, so deferred cleanup runs.
func run(argv []string) int {
	args, err := parseArguments(argv)
	if err != nil {
		printError(err.Error())
		printUsage(os.Stderr)
		return 1
	}

	if args.showHelp {
		printUsage(os.Stdout)
		return 0
	}
	if args.showVersion {
		printVersion()
		return 0
	}

	settings, err := loadSettings(args)
	if err != nil {
		printError(err.Error())
		return 1
	}

	logger, err := newLogger(settings.LogLevel, os.Stderr)
	if err != nil {
		printError(err.Error())
		return 1
	}

	out := newPrinter(os.Stdout, os.Stderr, settings.NoColor)

	cfg := settings.clientConfig()
	cfg.Logger = logger

	var relay *Relay
	if settings.Relay != "" {
		relay = NewRelay(logger)
		addr, err := relay.Listen(settings.Relay)
		if err != nil {
			printError(fmt.Sprintf("Failed to start event relay: %v", err))
			return 1
		}
		defer relay.Close()
		fmt.Printf("Relaying events on ws://%s%s\n", addr, relayPath)
		cfg.AfterHandle = relay
	}

	ctx := context.Background()
	fmt.Printf("Connecting to %s...\n", cfg.Address())
	client, err := eslprotocol.Dial(ctx, cfg)
	if err != nil {
		printError(fmt.Sprintf("Failed to connect: %v", err))
		return 1
	}
	defer client.Stop()

	client.RegisterHandle([]string{"*", "DISCONNECT", "log"}, out.handler())

	sigCh, stopSignals := setupSignalHandler()
	defer stopSignals()

	sess := &session{
		client:  client,
		printer: out,
		timeout: settings.CommandTimeout,
	}

	// The editor is closed by run, not by the REPL goroutine, so the
	// terminal is restored even when a signal cuts the REPL short.
	if len(args.execute) == 0 {
		sess.editor = NewLineEditor(os.Stdin, os.Stdout)
		defer sess.editor.Close()
	}

	return runUntilSignal(sigCh, func() int {
		if len(settings.Events) > 0 {
			if err := sess.subscribe(settings.Events); err != nil {
				out.failure(err)
				return 1
			}
		}

		if len(args.execute) > 0 {
			return sess.executeAll(args.execute)
		}

		fmt.Print(welcomeBanner(cfg.Address()))
		fmt.Println()

		runREPL(sess)
		return 0
	})
}

// newLogger builds the text logger the client reports through.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level == "" {
		level = "warn"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.New("invalid log level: " + level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
