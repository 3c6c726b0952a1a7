// =============================================================================
// help.go - REPL Help Text
// =============================================================================
//
// .help prints an overview; .help <topic> prints the entry for one
// dot-command or one common protocol command. Topics are matched case
// insensitively, with or without the leading '.' or '/'.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

const helpOverview = `Local Commands:
  .help [topic]     Show help (or help for one topic)
  .events [names]   Subscribe to events (default: ALL)
  .noevents         Cancel all event subscriptions
  .state            Show the connection state
  .quit             Close the connection and exit

Sending Commands:
  <text>            Sent as "api <text>"; the response body is printed
  /<command>        Sent as a raw event socket command, e.g.
                      /bgapi originate user/1000 &park
                      /event plain CHANNEL_CREATE CHANNEL_HANGUP
                      /filter Unique-ID <uuid>
                      /linger 30

Type .help <topic> for details, e.g. .help events or .help bgapi.
`

var helpTopics = map[string]string{
	"help": `.help [topic]
  Show the command overview, or the help entry for a single topic.`,

	"quit": `.quit (also .exit, .q)
  Send "exit" to the server, close the connection and leave the console.
  End of input (Ctrl-D) does the same.`,

	"events": `.events [name ...]
  Subscribe to plain events. Without names every event is delivered.
  Names may be separated by spaces or commas; CUSTOM events are named
  by their subclass, e.g. ".events CUSTOM sofia::register".
  Received events are printed as they arrive.`,

	"noevents": `.noevents
  Cancel every event subscription made on this connection.`,

	"state": `.state
  Show the connection state (authenticated, lingering, disconnected, ...)
  and the server address.`,

	"api": `<command>  or  /api <command>
  Run a blocking api command and print its output, e.g. "status" or
  "show channels". The console waits for the reply.`,

	"bgapi": `/bgapi <command>
  Run an api command in the background. The reply carries a Job-UUID; the
  result arrives later as a BACKGROUND_JOB event.`,

	"filter": `/filter <header> <value>
/filter delete <header> [value]
  Only deliver events whose header matches value, or remove a filter.`,

	"log": `/log [level]  and  /nolog
  Forward the server's log lines to this console, or stop forwarding.`,

	"linger": `/linger [seconds]  and  /nolinger
  Keep receiving events for a while after the server ends the session.`,
}

// printHelp writes the overview, or the entry for topic.
func printHelp(w io.Writer, topic string) {
	if topic == "" {
		fmt.Fprint(w, helpOverview)
		return
	}

	key := strings.ToLower(strings.TrimLeft(strings.TrimSpace(topic), "./"))
	if text, ok := helpTopics[key]; ok {
		fmt.Fprintln(w, text)
		return
	}
	if cmd, ok := localAliases[key]; ok {
		fmt.Fprintln(w, helpTopics[string(cmd)])
		return
	}

	fmt.Fprintf(w, "No help for '%s'. Topics: %s\n", topic, strings.Join(helpTopicNames(), ", "))
}

func helpTopicNames() []string {
	names := make([]string, 0, len(helpTopics))
	for k := range helpTopics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
