package eslprotocol

import (
	"strconv"
	"strings"
)

// CommandType identifies an event socket command.
type CommandType int

const (
	CmdAuth CommandType = iota
	CmdAPI
	CmdBgAPI
	CmdEvent
	CmdNoEvents
	CmdNixEvent
	CmdFilter
	CmdFilterDelete
	CmdLog
	CmdNoLog
	CmdLinger
	CmdNoLinger
	CmdExit
	CmdRaw
)

// EventFormat is the encoding requested by an event subscription.
//
// FrameReader decodes plain events only. A json or xml subscription is sent
// as asked, but its events arrive with their payload folded into headers,
// carry no Event-Name and so only reach the wildcard handlers.
type EventFormat string

const (
	EventFormatPlain EventFormat = "plain"
	EventFormatJSON  EventFormat = "json"
	EventFormatXML   EventFormat = "xml"
)

// Command is an event socket command. Use the constructor functions
// (NewAPICommand, NewEventCommand, etc.) to create Command instances.
type Command struct {
	Type CommandType

	// Fields used by various commands (only relevant fields are populated)
	Text     string      // For api, bgapi, raw
	Password string      // For auth
	Encoding EventFormat // For event
	Events   []string    // For event, nixevent
	Header   string      // For filter, filter delete
	Value    string      // For filter, filter delete
	Level    string      // For log
	Seconds  int         // For linger
}

// NewAuthCommand creates an auth command.
func NewAuthCommand(password string) Command {
	return Command{Type: CmdAuth, Password: password}
}

// NewAPICommand creates a blocking api command.
func NewAPICommand(text string) Command {
	return Command{Type: CmdAPI, Text: text}
}

// NewBgAPICommand creates a background api command.
func NewBgAPICommand(text string) Command {
	return Command{Type: CmdBgAPI, Text: text}
}

// NewEventCommand subscribes to events. With no names it subscribes to ALL.
func NewEventCommand(format EventFormat, names ...string) Command {
	if format == "" {
		format = EventFormatPlain
	}
	return Command{Type: CmdEvent, Encoding: format, Events: names}
}

// NewNoEventsCommand cancels all event subscriptions.
func NewNoEventsCommand() Command {
	return Command{Type: CmdNoEvents}
}

// NewNixEventCommand cancels a subset of event subscriptions.
func NewNixEventCommand(names ...string) Command {
	return Command{Type: CmdNixEvent, Events: names}
}

// NewFilterCommand restricts delivered events to those with header = value.
func NewFilterCommand(header, value string) Command {
	return Command{Type: CmdFilter, Header: header, Value: value}
}

// NewFilterDeleteCommand removes a filter. An empty value removes every
// filter on header.
func NewFilterDeleteCommand(header, value string) Command {
	return Command{Type: CmdFilterDelete, Header: header, Value: value}
}

// NewLogCommand enables log/data forwarding at level.
func NewLogCommand(level string) Command {
	return Command{Type: CmdLog, Level: level}
}

// NewNoLogCommand disables log/data forwarding.
func NewNoLogCommand() Command {
	return Command{Type: CmdNoLog}
}

// NewLingerCommand asks the server to keep delivering events after the call
// ends. seconds <= 0 uses the server default.
func NewLingerCommand(seconds int) Command {
	return Command{Type: CmdLinger, Seconds: seconds}
}

// NewNoLingerCommand cancels linger mode.
func NewNoLingerCommand() Command {
	return Command{Type: CmdNoLinger}
}

// NewExitCommand asks the server to close the connection.
func NewExitCommand() Command {
	return Command{Type: CmdExit}
}

// NewRawCommand sends text as is.
func NewRawCommand(text string) Command {
	return Command{Type: CmdRaw, Text: text}
}

// Format returns the command text, without the blank-line terminator.
func (c Command) Format() string {
	switch c.Type {
	case CmdAuth:
		return "auth " + c.Password
	case CmdAPI:
		return "api " + c.Text
	case CmdBgAPI:
		return "bgapi " + c.Text
	case CmdEvent:
		events := "ALL"
		if len(c.Events) > 0 {
			events = strings.Join(c.Events, " ")
		}
		return "event " + string(c.Encoding) + " " + events
	case CmdNoEvents:
		return "noevents"
	case CmdNixEvent:
		return "nixevent " + strings.Join(c.Events, " ")
	case CmdFilter:
		return "filter " + c.Header + " " + c.Value
	case CmdFilterDelete:
		if c.Value == "" {
			return "filter delete " + c.Header
		}
		return "filter delete " + c.Header + " " + c.Value
	case CmdLog:
		if c.Level == "" {
			return "log"
		}
		return "log " + c.Level
	case CmdNoLog:
		return "nolog"
	case CmdLinger:
		if c.Seconds > 0 {
			return "linger " + strconv.Itoa(c.Seconds)
		}
		return "linger"
	case CmdNoLinger:
		return "nolinger"
	case CmdExit:
		return "exit"
	default:
		return c.Text
	}
}

// FormatLine returns the command as written to the socket.
func (c Command) FormatLine() string {
	return c.Format() + CommandTerminator
}
