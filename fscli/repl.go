// =============================================================================
// repl.go - Read-Eval-Print Loop
// =============================================================================
//
// The REPL reads a line, translates it (translate.go), and either handles it
// locally or sends it over the event socket and prints the reply. Events the
// server pushes meanwhile are printed by the client's dispatcher goroutine
// through the same printer, so output lines never interleave mid-line.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hnimminh/redfs/eslprotocol"
)

// session bundles what the REPL needs to run commands.
type session struct {
	client  *eslprotocol.Client
	editor  *LineEditor
	printer *printer

	// timeout bounds each command; zero waits for the reply.
	timeout time.Duration
}

// prompt shows the connection state when it is not the usual one.
func (s *session) prompt() string {
	if st := s.client.State(); st != eslprotocol.StateAuthenticated {
		return "fscli(" + st.String() + ")> "
	}
	return "fscli> "
}

// runREPL loops until .quit, end of input, or a lost connection.
func runREPL(s *session) {
	for {
		line, err := s.editor.GetLine(s.prompt())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printer.failure(err)
			}
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		if quit := s.execute(line); quit {
			return
		}
	}
}

// execute runs one line of input. It returns true when the REPL should stop.
func (s *session) execute(line string) bool {
	tr, err := translateInput(line)
	if err != nil {
		s.printer.failure(err)
		return false
	}

	if tr.isLocal {
		return s.executeLocal(tr.local, tr.args)
	}

	ev, err := s.send(tr.command)
	if ev != nil {
		s.printer.reply(ev)
	}
	if err != nil {
		var cmdErr *eslprotocol.CommandError
		if errors.As(err, &cmdErr) {
			// Already printed as the reply.
			return false
		}
		s.printer.failure(err)
		if errors.Is(err, eslprotocol.ErrNotConnected) {
			return true
		}
	}
	return false
}

func (s *session) executeLocal(cmd localCommand, args string) bool {
	switch cmd {
	case localQuit:
		return true

	case localHelp:
		s.printer.mu.Lock()
		printHelp(s.printer.out, args)
		s.printer.mu.Unlock()

	case localEvents:
		var names []string
		if args != "" {
			names = splitList(args)
		}
		if err := s.subscribe(names); err != nil {
			s.printer.failure(err)
		}

	case localNoEvents:
		if _, err := s.send(eslprotocol.NewNoEventsCommand()); err != nil {
			s.printer.failure(err)
		} else {
			s.printer.info("Event subscriptions cancelled")
		}

	case localState:
		s.printer.info("%s (%s)", s.client.State(), s.addr())
	}
	return false
}

// executeAll runs each command once, as given with -x. The exit status is 1
// when any of them failed.
func (s *session) executeAll(lines []string) int {
	status := 0
	for _, line := range lines {
		tr, err := translateInput(line)
		if err != nil {
			s.printer.failure(err)
			status = 1
			continue
		}
		if tr.isLocal {
			s.executeLocal(tr.local, tr.args)
			continue
		}

		ev, err := s.send(tr.command)
		if ev != nil {
			s.printer.reply(ev)
		}
		if err != nil {
			status = 1
			var cmdErr *eslprotocol.CommandError
			if !errors.As(err, &cmdErr) {
				s.printer.failure(err)
			}
			if errors.Is(err, eslprotocol.ErrNotConnected) {
				return status
			}
		}
	}
	return status
}

// subscribe asks for plain events. No names subscribes to ALL.
func (s *session) subscribe(names []string) error {
	if _, err := s.send(eslprotocol.NewEventCommand(eslprotocol.EventFormatPlain, names...)); err != nil {
		return err
	}
	what := "ALL"
	if len(names) > 0 {
		what = strings.Join(names, " ")
	}
	s.printer.info("Subscribed to %s", what)
	return nil
}

// send runs cmd with the session timeout. A -ERR answer is returned together
// with its event.
func (s *session) send(cmd eslprotocol.Command) (*eslprotocol.Event, error) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.client.SendCommand(ctx, cmd)
}

func (s *session) addr() string {
	return s.client.Address()
}
