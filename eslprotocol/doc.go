// Package eslprotocol provides a Go client for the event socket protocol
// of the telephony switching server: a line-oriented, text-based control and
// event protocol carried over a single persistent TCP connection.
//
// # Protocol Overview
//
// Every message is a block of "Key: value" header lines terminated by a blank
// line. Some message types carry a body whose exact length is declared by the
// Content-Length header. Header blocks are percent-encoded.
//
//	Command:         <command text>\n\n
//	Command reply:   Content-Type: command/reply\nReply-Text: +OK ...\n\n
//	API response:    Content-Type: api/response\nContent-Length: N\n\n<N bytes>
//	Event:           Content-Type: text/event-plain\nContent-Length: N\n\n<N bytes of headers>
//
// Commands are answered strictly in the order they were sent. There is no
// request identifier on the wire, so the client matches the nth reply to the
// nth command.
//
// # Basic Usage
//
// Connect to a server and run an api command:
//
//	cfg := eslprotocol.DefaultConfig()
//	cfg.Password = "secret"
//
//	client, err := eslprotocol.Dial(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Stop()
//
//	status, err := client.API(ctx, "status")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(status)
//
// WithConnection gives the same connect-use-stop shape with cleanup on every
// exit path:
//
//	err := eslprotocol.WithConnection(ctx, cfg, func(c *eslprotocol.Client) error {
//		_, err := c.Send("api show codecs")
//		return err
//	})
//
// # Event Handling
//
// Handlers are registered by event name. "*" receives events nobody else
// claimed, "DISCONNECT" receives disconnect notices and "log" receives
// log/data frames. CUSTOM events are matched by their Event-Subclass:
//
//	park := eslprotocol.HandlerFunc("park", func(ev *eslprotocol.Event) error {
//		fmt.Println("parked", ev.Get("Unique-ID"))
//		return nil
//	})
//	client.RegisterHandle([]string{"CHANNEL_PARK"}, park)
//	client.SendCommand(ctx, eslprotocol.NewEventCommand(eslprotocol.EventFormatPlain, "CHANNEL_PARK"))
//
// Handlers run one at a time on the dispatcher goroutine, in registration
// order. An error or panic from a handler is logged and does not affect the
// connection or the other handlers.
//
// # Thread Safety
//
// The Client type is safe for concurrent use from multiple goroutines.
// Concurrent senders are safe only because the server answers in order;
// a command that times out keeps its place in the reply queue so later
// replies are not misattributed.
package eslprotocol
