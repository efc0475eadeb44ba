// Package protocol implements the line oriented state machines of the
// submission protocol (DMTP) and the mailbox access protocol (DMAP).
//
// The engines do no I/O. The caller reads one request line, hands it to
// Process and writes the returned Reply.
package protocol

import "strings"

// Protocol identifiers sent in the greeting.
const (
	DMTPVersion = "DMTP2.0"
	DMAPVersion = "DMAP2.0"
)

// Responses shared by both engines.
const (
	respOK            = "ok"
	respBye           = "ok bye"
	respProtocolError = "error protocol error"
)

// Reply is the outcome of processing one request line.
type Reply struct {
	// Lines are written to the peer in order. A Reply without lines and
	// with Close set ends the connection silently.
	Lines []string

	// Close tells the caller to close the connection after writing Lines.
	Close bool
}

func reply(lines ...string) Reply {
	return Reply{Lines: lines}
}

func closing(lines ...string) Reply {
	return Reply{Lines: lines, Close: true}
}

func protocolError() Reply {
	return closing(respProtocolError)
}

// IsError reports whether a response line signals a failure.
func IsError(line string) bool {
	return strings.HasPrefix(line, "error")
}

// splitCommand splits a request line into its lower cased verb and the
// remaining argument text.
func splitCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(verb), arg
}

// IsProtocolError reports whether a response line is the terminal protocol
// error after which the peer closes the connection.
func IsProtocolError(line string) bool {
	return line == respProtocolError
}

// Engine is a protocol state machine driven one request line at a time.
type Engine interface {
	Greeting() string
	Process(line string) Reply
}
