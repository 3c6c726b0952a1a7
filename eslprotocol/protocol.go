// Package eslprotocol implements the client side of the event socket
// protocol spoken by the telephony switching server on its inbound control
// port.
//
// Protocol Format:
//
//	Command (Client -> Server):  <command text>\n\n
//	Frame   (Server -> Client):  Key: value\n ... \n\n[<Content-Length bytes>]
//
// Example Session:
//
//	SRV: Content-Type: auth/request
//	CLI: auth ClueCon
//	SRV: Content-Type: command/reply
//	SRV: Reply-Text: +OK accepted
//	CLI: api status
//	SRV: Content-Type: api/response
//	SRV: Content-Length: 5
//	SRV:
//	SRV: ready
package eslprotocol

import (
	"time"
)

// Wire constants.
const (
	// EOL terminates every protocol line.
	EOL = "\n"

	// CommandTerminator follows every outbound command (blank-line terminator).
	CommandTerminator = EOL + EOL

	// HeaderDelimiter separates a header key from its value.
	HeaderDelimiter = ": "

	// AuthAccepted is the exact Reply-Text the server sends for a good password.
	AuthAccepted = "+OK accepted"

	// ReplyOKPrefix prefixes successful command replies and API bodies.
	ReplyOKPrefix = "+OK"

	// ReplyErrPrefix prefixes failed command replies and API bodies.
	ReplyErrPrefix = "-ERR"
)

// Content types understood by the frame reader.
const (
	ContentTypeAuthRequest      = "auth/request"
	ContentTypeCommandReply     = "command/reply"
	ContentTypeAPIResponse      = "api/response"
	ContentTypeDisconnectNotice = "text/disconnect-notice"
	ContentTypeRudeRejection    = "text/rude-rejection"
	ContentTypeLogData          = "log/data"
	ContentTypeEventPlain       = "text/event-plain"
)

// Header names used by the engine.
const (
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderContentDisposition = "Content-Disposition"
	HeaderReplyText          = "Reply-Text"
	HeaderEventName          = "Event-Name"
	HeaderEventSubclass      = "Event-Subclass"
	HeaderJobUUID            = "Job-UUID"
	HeaderUniqueID           = "Unique-ID"
)

const (
	// DispositionLinger is the Content-Disposition of a lingering disconnect notice.
	DispositionLinger = "linger"

	// EventNameCustom marks events that are dispatched by their Event-Subclass.
	EventNameCustom = "CUSTOM"
)

// Defaults used by DefaultConfig.
const (
	// DefaultPort is the server's inbound event socket port.
	DefaultPort = 8021

	// DefaultPassword is the server's factory event socket password.
	DefaultPassword = "ClueCon"

	// ConnectTimeout bounds the TCP connect only.
	ConnectTimeout = 5 * time.Second

	// ExitTimeout bounds the best-effort exit command sent by Stop.
	ExitTimeout = 2 * time.Second

	// PollInterval is how often the dispatch loop re-checks the run flag
	// when no events arrive.
	PollInterval = 100 * time.Millisecond

	// MaxBodyReadAttempts is the number of consecutive zero-progress reads
	// tolerated while collecting a Content-Length body.
	MaxBodyReadAttempts = 8

	// BodyReadBackoffMax caps the delay between zero-progress body reads.
	BodyReadBackoffMax = 500 * time.Millisecond

	// MaxHeaderBlockSize bounds a single header block.
	MaxHeaderBlockSize = 1 << 20

	// MaxBodySize bounds a single Content-Length body.
	MaxBodySize = 64 << 20
)
