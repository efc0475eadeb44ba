package server

import (
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/shineum/dmail/internal/protocol"
	"github.com/shineum/dmail/internal/secure"
)

// Session drives a protocol engine over one connection: it sends the
// greeting, then reads one request line at a time and writes the engine's
// reply, until the engine closes the session or the peer goes away.
type Session struct {
	Conn   *secure.Conn
	Engine protocol.Engine
	Log    *slog.Logger

	// BeforeReply, if set, runs after a request was processed and before
	// its reply is written. An error ends the session without a reply.
	BeforeReply func(r protocol.Reply) error

	// AfterReply, if set, runs after a reply was written. An error ends
	// the session.
	AfterReply func(r protocol.Reply) error
}

// Run runs the session. It returns nil when the session ended normally or
// the peer disconnected.
func (s *Session) Run() error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	if err := s.Conn.WriteLine(s.Engine.Greeting()); err != nil {
		return err
	}

	for {
		line, err := s.Conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}

		r := s.Engine.Process(line)
		if s.BeforeReply != nil {
			if err := s.BeforeReply(r); err != nil {
				return err
			}
		}
		if len(r.Lines) > 0 {
			if err := s.Conn.WriteLines(r.Lines...); err != nil {
				return err
			}
		}
		if s.AfterReply != nil {
			if err := s.AfterReply(r); err != nil {
				return err
			}
		}
		if r.Close {
			log.Debug("session closed by protocol", "last", firstLine(r))
			return nil
		}
	}
}

func firstLine(r protocol.Reply) string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[0]
}
