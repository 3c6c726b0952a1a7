package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/hnimminh/redfs/eslprotocol"
)

// printer writes replies and events to the terminal. Events arrive on the
// dispatcher goroutine while replies are printed by the REPL, so every write
// holds mu.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer

	ok     *color.Color
	fail   *color.Color
	title  *color.Color
	key    *color.Color
	notice *color.Color
	dim    *color.Color
}

func newPrinter(out, errOut io.Writer, noColor bool) *printer {
	p := &printer{
		out:    out,
		err:    errOut,
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed, color.Bold),
		title:  color.New(color.FgCyan, color.Bold),
		key:    color.New(color.FgBlue),
		notice: color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.ok, p.fail, p.title, p.key, p.notice, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// reply prints the answer to a command: the body of an api response, or the
// reply text of a command reply.
func (p *printer) reply(ev *eslprotocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := ev.BodyText()
	if ev.ContentType() == eslprotocol.ContentTypeCommandReply {
		text = ev.ReplyText()
		if uuid := ev.Get(eslprotocol.HeaderJobUUID); uuid != "" && !strings.Contains(text, uuid) {
			text += " Job-UUID: " + uuid
		}
	}
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, eslprotocol.ReplyErrPrefix):
		p.fail.Fprintln(p.out, text)
	case strings.HasPrefix(text, eslprotocol.ReplyOKPrefix):
		p.ok.Fprintln(p.out, text)
	default:
		fmt.Fprintln(p.out, text)
	}
}

// failure prints err on the error stream.
func (p *printer) failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail.Fprint(p.err, "Error: ")
	fmt.Fprintln(p.err, err)
}

// info prints a plain line.
func (p *printer) info(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", a...)
}

// event prints a server-pushed frame.
func (p *printer) event(ev *eslprotocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.ContentType() {
	case eslprotocol.ContentTypeLogData:
		p.dim.Fprint(p.out, ev.BodyText())
		if !strings.HasSuffix(ev.BodyText(), "\n") {
			fmt.Fprintln(p.out)
		}
		return

	case eslprotocol.ContentTypeDisconnectNotice:
		msg := "*** Disconnected by server"
		if ev.Get(eslprotocol.HeaderContentDisposition) == eslprotocol.DispositionLinger {
			msg = "*** Server is lingering, events still flow"
		}
		p.notice.Fprintln(p.out, msg)
		return
	}

	name := ev.Name()
	if name == eslprotocol.EventNameCustom && ev.Subclass() != "" {
		name += " " + ev.Subclass()
	}
	if name == "" {
		name = ev.ContentType()
	}
	p.title.Fprintf(p.out, "\n[EVENT] %s\n", name)
	for _, k := range ev.Keys() {
		p.key.Fprint(p.out, k)
		fmt.Fprintf(p.out, ": %s\n", ev.Get(k))
	}
	if len(ev.Body) > 0 {
		fmt.Fprintf(p.out, "\n%s\n", strings.TrimRight(ev.BodyText(), "\n"))
	}
}

// handler adapts the printer to the client's handler registry.
func (p *printer) handler() eslprotocol.Handler {
	return eslprotocol.HandlerFunc("printer", func(ev *eslprotocol.Event) error {
		p.event(ev)
		return nil
	})
}
