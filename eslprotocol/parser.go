package eslprotocol

import (
	"strconv"
	"strings"
)

// CommandParser parses event socket command text into typed commands.
type CommandParser struct{}

// NewCommandParser creates a new command parser.
func NewCommandParser() *CommandParser {
	return &CommandParser{}
}

// Parse parses a command line into a Command. Unknown command words are
// returned as raw commands so the server can judge them.
func (p *CommandParser) Parse(line string) (Command, error) {
	commandLine := strings.TrimSpace(line)
	if commandLine == "" {
		return Command{}, newMissingArgumentError("empty command")
	}
	if strings.ContainsAny(commandLine, "\r\n") {
		return Command{}, newInvalidCommandError(commandLine)
	}

	parts := strings.SplitN(commandLine, " ", 2)
	command := strings.ToLower(parts[0])
	argsString := ""
	if len(parts) > 1 {
		argsString = strings.TrimSpace(parts[1])
	}

	switch command {
	case "auth":
		if argsString == "" {
			return Command{}, newMissingArgumentError("auth requires a password")
		}
		return NewAuthCommand(argsString), nil

	case "api":
		if argsString == "" {
			return Command{}, newMissingArgumentError("api requires a command")
		}
		return NewAPICommand(argsString), nil
	case "bgapi":
		if argsString == "" {
			return Command{}, newMissingArgumentError("bgapi requires a command")
		}
		return NewBgAPICommand(argsString), nil

	case "event", "events":
		return p.parseEvent(argsString)
	case "noevents":
		return NewNoEventsCommand(), nil
	case "nixevent":
		names := strings.Fields(argsString)
		if len(names) == 0 {
			return Command{}, newMissingArgumentError("nixevent requires at least one event name")
		}
		return NewNixEventCommand(names...), nil

	case "filter":
		return p.parseFilter(argsString)

	case "log":
		return NewLogCommand(argsString), nil
	case "nolog":
		return NewNoLogCommand(), nil

	case "linger":
		if argsString == "" {
			return NewLingerCommand(0), nil
		}
		seconds, err := strconv.Atoi(argsString)
		if err != nil || seconds <= 0 {
			return Command{}, newInvalidValueError(argsString)
		}
		return NewLingerCommand(seconds), nil
	case "nolinger":
		return NewNoLingerCommand(), nil

	case "exit":
		return NewExitCommand(), nil

	default:
		return NewRawCommand(commandLine), nil
	}
}

func (p *CommandParser) parseEvent(args string) (Command, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return NewEventCommand(EventFormatPlain), nil
	}

	switch format := EventFormat(strings.ToLower(fields[0])); format {
	case EventFormatPlain:
		fields = fields[1:]
	case EventFormatJSON, EventFormatXML:
		return Command{}, &ParseError{
			Kind:    ErrKindInvalidValue,
			Value:   fields[0],
			Message: "only plain events are decoded",
		}
	}
	return NewEventCommand(EventFormatPlain, fields...), nil
}

func (p *CommandParser) parseFilter(args string) (Command, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return Command{}, newMissingArgumentError("filter requires a header and a value")
	}

	if strings.ToLower(fields[0]) == "delete" {
		switch len(fields) {
		case 1:
			return Command{}, newMissingArgumentError("filter delete requires a header")
		case 2:
			return NewFilterDeleteCommand(fields[1], ""), nil
		default:
			return NewFilterDeleteCommand(fields[1], strings.Join(fields[2:], " ")), nil
		}
	}

	if len(fields) < 2 {
		return Command{}, newMissingArgumentError("filter requires a header and a value")
	}
	return NewFilterCommand(fields[0], strings.Join(fields[1:], " ")), nil
}
