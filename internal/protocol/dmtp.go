package protocol

import (
	"fmt"
	"strings"

	"github.com/shineum/dmail/internal/mail"
)

// Submission engine states.
const (
	dmtpWaiting = iota
	dmtpBegin
	dmtpEmail
	dmtpSent
)

// UnknownRecipientPrefix starts the response to a "to" line naming local
// users that do not exist.
const UnknownRecipientPrefix = "error unknown recipient "

// UserSet tells whether a local user exists.
type UserSet interface {
	Exists(user string) bool
}

// Submission is the submission protocol engine. A Submission accepts at most
// one message; after a successful "send" only "quit" is valid.
type Submission struct {
	state int
	msg   mail.Message

	// Set for the validating variant used by mailbox servers.
	domain string
	users  UserSet
}

// NewSubmission returns an engine that accepts mail for any domain.
func NewSubmission() *Submission {
	return &Submission{}
}

// NewValidatingSubmission returns an engine for a mailbox server owning
// domain. Recipients in domain must be known to users.
func NewValidatingSubmission(domain string, users UserSet) *Submission {
	return &Submission{domain: domain, users: users}
}

// Greeting returns the line sent when a connection is accepted.
func (s *Submission) Greeting() string {
	s.state = dmtpBegin
	return respOK + " " + DMTPVersion
}

// Message returns the accepted message, or nil while "send" has not succeeded.
func (s *Submission) Message() *mail.Message {
	if s.state != dmtpSent {
		return nil
	}
	return s.msg.Clone()
}

// Process handles one request line.
func (s *Submission) Process(line string) Reply {
	if strings.EqualFold(line, "quit") {
		return closing(respBye)
	}

	switch s.state {
	case dmtpBegin:
		if strings.EqualFold(line, "begin") {
			s.state = dmtpEmail
			return reply(respOK)
		}
		return protocolError()
	case dmtpEmail:
		return s.processEmail(line)
	default:
		return protocolError()
	}
}

func (s *Submission) processEmail(line string) Reply {
	verb, arg := splitCommand(line)
	arg = strings.TrimSpace(arg)

	switch verb {
	case "from":
		if arg == "" {
			return reply("error no sender")
		}
		if !mail.ValidAddress(arg) {
			return reply("error invalid sender")
		}
		s.msg.From = arg
		return reply(respOK)

	case "to":
		return s.processTo(arg)

	case "subject":
		if arg == "" {
			return reply("error no subject")
		}
		s.msg.Subject = arg
		return reply(respOK)

	case "data":
		if arg == "" {
			return reply("error no content")
		}
		s.msg.Data = arg
		return reply(respOK)

	case "hash":
		if arg == "" {
			return reply("error no hash value")
		}
		s.msg.Hash = arg
		return reply(respOK)

	case "send":
		if arg != "" {
			return protocolError()
		}
		return s.processSend()

	default:
		return protocolError()
	}
}

// processTo replaces the recipient list. The list never merges with an
// earlier "to" line; a rejected line leaves it empty, except for unknown
// local users on a mailbox server, where the known recipients stay deliverable.
func (s *Submission) processTo(arg string) Reply {
	s.msg.To = nil
	if arg == "" {
		return reply("error no recipients")
	}

	rcpts := mail.ParseAddressList(arg)
	if len(rcpts) == 0 {
		return reply("error no recipients")
	}

	if s.users == nil {
		s.msg.To = rcpts
		return reply(fmt.Sprintf("%s %d", respOK, len(rcpts)))
	}

	var unknown []string
	local := 0
	for _, rcpt := range rcpts {
		user, domain, _ := mail.SplitAddress(rcpt)
		if !strings.EqualFold(domain, s.domain) {
			continue
		}
		local++
		if !s.users.Exists(user) {
			unknown = append(unknown, user)
		}
	}
	if local == 0 {
		return reply("error no recipients")
	}

	s.msg.To = rcpts
	if len(unknown) > 0 {
		return reply(UnknownRecipientPrefix + strings.Join(unknown, " "))
	}
	return reply(fmt.Sprintf("%s %d", respOK, len(rcpts)))
}

func (s *Submission) processSend() Reply {
	switch {
	case s.msg.Subject == "":
		return reply("error no subject")
	case s.msg.From == "":
		return reply("error no sender")
	case s.msg.Data == "":
		return reply("error no content")
	case len(s.msg.To) == 0:
		return reply("error no recipients")
	}
	s.state = dmtpSent
	return reply(respOK)
}

// ParseUnknownRecipients returns the user names of an unknown recipient
// response, or nil if line is a different response.
func ParseUnknownRecipients(line string) []string {
	rest, ok := strings.CutPrefix(line, UnknownRecipientPrefix)
	if !ok {
		return nil
	}
	return strings.Fields(rest)
}
