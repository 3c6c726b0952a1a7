package eslprotocol

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the event socket client.
var (
	// ErrNotConnected indicates a send or handshake on a dead or
	// unauthenticated connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAuthFailed indicates the server rejected the password.
	ErrAuthFailed = errors.New("invalid password")

	// ErrConnectTimeout indicates the TCP connect exceeded its timeout. It
	// matches ErrNotConnected.
	ErrConnectTimeout = fmt.Errorf("%w: connect timed out", ErrNotConnected)

	// ErrServerClosed indicates the server dropped the connection before the
	// authentication handshake completed. It matches ErrNotConnected.
	ErrServerClosed = fmt.Errorf("%w: server closed connection, check event socket ACL and configuration", ErrNotConnected)

	// ErrAlreadyConnected indicates Connect was called on a live client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrShortBody indicates a Content-Length body could not be fully read.
	ErrShortBody = errors.New("short body read")

	// ErrHeaderTooLarge indicates a header block exceeded MaxHeaderBlockSize.
	ErrHeaderTooLarge = errors.New("header block too large")

	// ErrBodyTooLarge indicates a Content-Length above MaxBodySize.
	ErrBodyTooLarge = errors.New("body too large")

	// ErrTimeout indicates a command timed out waiting for its reply.
	ErrTimeout = errors.New("command timed out")

	// ErrNoHandlers indicates an unregister for a key with no handlers.
	ErrNoHandlers = errors.New("no handlers registered")
)

// ConnectionError represents a connection-related error. It matches both its
// Kind (one of the sentinels above) and its Cause with errors.Is.
type ConnectionError struct {
	Message string
	Kind    error
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString("connection failed: ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the kind and the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, kind, cause error) error {
	return &ConnectionError{Message: message, Kind: kind, Cause: cause}
}

// CommandError is returned when the server answers a command with -ERR.
type CommandError struct {
	Command string
	Reply   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Reply)
}

// HandlerError wraps a failure raised by an event handler. It is only ever
// logged by the dispatcher.
type HandlerError struct {
	Handler string
	Err     error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

// Unwrap returns the handler's error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ParseError represents an error that occurred while parsing command text.
type ParseError struct {
	Kind    ParseErrorKind
	Value   string // The invalid value that caused the error
	Message string // Additional context
}

// ParseErrorKind categorizes parsing errors.
type ParseErrorKind int

const (
	// ErrKindInvalidCommand indicates malformed command text.
	ErrKindInvalidCommand ParseErrorKind = iota
	// ErrKindInvalidValue indicates an invalid numeric value.
	ErrKindInvalidValue
	// ErrKindMissingArgument indicates a required argument was not provided.
	ErrKindMissingArgument
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrKindInvalidCommand:
		return fmt.Sprintf("invalid command '%s'", e.Value)
	case ErrKindInvalidValue:
		if e.Message != "" {
			return fmt.Sprintf("invalid value '%s': %s", e.Value, e.Message)
		}
		return fmt.Sprintf("invalid value '%s'", e.Value)
	case ErrKindMissingArgument:
		return e.Message
	default:
		return fmt.Sprintf("parse error: %s", e.Value)
	}
}

func newInvalidCommandError(cmd string) error {
	return &ParseError{Kind: ErrKindInvalidCommand, Value: cmd}
}

func newInvalidValueError(val string) error {
	return &ParseError{Kind: ErrKindInvalidValue, Value: val}
}

func newMissingArgumentError(msg string) error {
	return &ParseError{Kind: ErrKindMissingArgument, Message: msg}
}
