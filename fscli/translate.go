// =============================================================================
// translate.go - REPL Input Translation
// =============================================================================
//
// Turns a line typed at the prompt into either a local action or an event
// socket command:
//
//	.help, .quit, .events ...   local dot-commands, never sent
//	/bgapi status               raw protocol command, parsed and validated
//	show channels               shorthand for "api show channels"
//
// =============================================================================

package main

import (
	"fmt"
	"strings"

	"github.com/hnimminh/redfs/eslprotocol"
)

// localCommand is a dot-command handled by the REPL itself.
type localCommand string

const (
	localHelp     localCommand = "help"
	localQuit     localCommand = "quit"
	localEvents   localCommand = "events"
	localNoEvents localCommand = "noevents"
	localState    localCommand = "state"
)

// localAliases maps every accepted dot-command spelling to its command.
var localAliases = map[string]localCommand{
	"help":     localHelp,
	"h":        localHelp,
	"quit":     localQuit,
	"exit":     localQuit,
	"q":        localQuit,
	"events":   localEvents,
	"noevents": localNoEvents,
	"state":    localState,
}

// translation is the outcome of translateInput. Exactly one of local and
// command is meaningful, selected by isLocal.
type translation struct {
	isLocal bool
	local   localCommand
	args    string

	command eslprotocol.Command
}

var commandParser = eslprotocol.NewCommandParser()

// translateInput classifies one line of REPL input. Blank input is an error
// the REPL never reports; it skips blank lines before calling this.
func translateInput(line string) (translation, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return translation{}, fmt.Errorf("empty input")
	}

	switch trimmed[0] {
	case '.':
		name, args, _ := strings.Cut(trimmed[1:], " ")
		cmd, ok := localAliases[strings.ToLower(name)]
		if !ok {
			return translation{}, fmt.Errorf("unknown command: .%s (type .help)", name)
		}
		return translation{isLocal: true, local: cmd, args: strings.TrimSpace(args)}, nil

	case '/':
		cmd, err := commandParser.Parse(trimmed[1:])
		if err != nil {
			return translation{}, err
		}
		return translation{command: cmd}, nil

	default:
		return translation{command: eslprotocol.NewAPICommand(trimmed)}, nil
	}
}
