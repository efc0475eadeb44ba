package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shineum/dmail/internal/auth"
	"github.com/shineum/dmail/internal/mail"
)

// Access engine states.
const (
	dmapWaiting = iota
	dmapLogin
	dmapSecure
	dmapCommands
)

// NoDataNotice answers mailbox commands issued before a successful login.
const NoDataNotice = "no data available for this user"

// Credentials verifies user logins.
type Credentials interface {
	Verify(user, password string) error
}

// Mailbox is the message collection of one user.
type Mailbox interface {
	List() []mail.Summary
	Get(id int) (*mail.Message, bool)
	Delete(id int) bool
}

// Mailboxes returns the mailbox of a user, creating it on first use.
type Mailboxes interface {
	Mailbox(user string) Mailbox
}

// MailboxesFunc adapts a function to the Mailboxes interface.
type MailboxesFunc func(user string) Mailbox

// Mailbox calls f(user).
func (f MailboxesFunc) Mailbox(user string) Mailbox {
	return f(user)
}

// Access is the access protocol engine of one connection.
type Access struct {
	state    int
	serverID string
	creds    Credentials
	boxes    Mailboxes

	secure bool
	user   string
	box    Mailbox
}

// NewAccess returns an engine for a mailbox server identified by serverID.
// The id is sent in response to "startsecure" so the client can look up the
// server's public key.
func NewAccess(serverID string, creds Credentials, boxes Mailboxes) *Access {
	return &Access{serverID: serverID, creds: creds, boxes: boxes}
}

// Greeting returns the line sent when a connection is accepted.
func (a *Access) Greeting() string {
	a.state = dmapLogin
	return respOK + " " + DMAPVersion
}

// SecurePending reports whether "startsecure" was accepted and the handshake
// has not yet been acknowledged by the client.
func (a *Access) SecurePending() bool {
	return a.state == dmapSecure
}

// User returns the logged in user, or the empty string.
func (a *Access) User() string {
	return a.user
}

// Process handles one request line.
func (a *Access) Process(line string) Reply {
	if strings.EqualFold(line, "quit") {
		a.reset()
		return closing(respBye)
	}

	switch a.state {
	case dmapSecure:
		// Final client acknowledgement of the handshake. Anything else
		// aborts without a response.
		if line == respOK {
			a.state = dmapLogin
			return Reply{}
		}
		a.reset()
		a.state = dmapWaiting
		return Reply{Close: true}
	case dmapLogin:
		return a.processLogin(line)
	case dmapCommands:
		return a.processCommand(line)
	default:
		return protocolError()
	}
}

func (a *Access) processLogin(line string) Reply {
	verb, arg := splitCommand(line)
	switch verb {
	case "startsecure":
		if a.secure || arg != "" {
			return protocolError()
		}
		a.secure = true
		a.state = dmapSecure
		return reply(respOK + " " + a.serverID)

	case "login":
		parts := strings.Fields(arg)
		if len(parts) != 2 {
			return protocolError()
		}
		name, password := parts[0], parts[1]
		if err := a.creds.Verify(name, password); err != nil {
			if errors.Is(err, auth.ErrUnknownUser) {
				return reply("error user not found")
			}
			return reply("error wrong password")
		}
		a.user = name
		a.box = a.boxes.Mailbox(name)
		a.state = dmapCommands
		return reply(respOK)

	case "list", "show", "delete", "logout":
		return reply(NoDataNotice)

	default:
		return protocolError()
	}
}

func (a *Access) processCommand(line string) Reply {
	verb, _ := splitCommand(line)
	var args []string
	if fields := strings.Fields(line); len(fields) > 1 {
		args = fields[1:]
	}

	switch verb {
	case "list":
		if len(args) != 0 {
			return reply("error to many parameter")
		}
		var lines []string
		for _, s := range a.box.List() {
			lines = append(lines, fmt.Sprintf("%d %s %s", s.ID, s.From, s.Subject))
		}
		return reply(append(lines, respOK)...)

	case "show":
		id, errReply, ok := messageID(args)
		if !ok {
			return errReply
		}
		msg, found := a.box.Get(id)
		if !found {
			return reply("error unknown message id")
		}
		return reply(
			"from "+msg.From,
			"to "+msg.Recipients(),
			"subject "+msg.Subject,
			"data "+msg.Data,
			"hash "+msg.Hash,
			respOK,
		)

	case "delete":
		id, errReply, ok := messageID(args)
		if !ok {
			return errReply
		}
		if !a.box.Delete(id) {
			return reply("error unknown message id")
		}
		return reply(respOK)

	case "logout":
		a.reset()
		return reply(respOK)

	default:
		return protocolError()
	}
}

// reset drops the logged in user and the secure flag and returns to the
// login state.
func (a *Access) reset() {
	a.user = ""
	a.box = nil
	a.secure = false
	a.state = dmapLogin
}

func messageID(args []string) (int, Reply, bool) {
	switch {
	case len(args) == 0:
		return 0, reply("error no message id given"), false
	case len(args) > 1:
		return 0, reply("error to many parameter"), false
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, reply("error unknown message id"), false
	}
	return id, Reply{}, true
}
