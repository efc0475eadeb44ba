package protocol

import (
	"reflect"
	"testing"
)

type userSet map[string]bool

func (u userSet) Exists(user string) bool { return u[user] }

// run feeds lines to the engine and returns the first line of each reply.
func run(t *testing.T, s *Submission, lines ...string) []string {
	t.Helper()
	var got []string
	for _, line := range lines {
		r := s.Process(line)
		if len(r.Lines) != 1 {
			t.Fatalf("Process(%q): got %d lines, want 1", line, len(r.Lines))
		}
		got = append(got, r.Lines[0])
	}
	return got
}

func TestSubmission_Greeting(t *testing.T) {
	t.Parallel()

	s := NewSubmission()
	if got := s.Greeting(); got != "ok DMTP2.0" {
		t.Errorf("Greeting: got %q, want %q", got, "ok DMTP2.0")
	}
}

func TestSubmission_WellFormed(t *testing.T) {
	t.Parallel()

	s := NewSubmission()
	s.Greeting()
	got := run(t, s,
		"begin",
		"from trillian@earth.planet",
		"to arthur@earth.planet,zaphod@univer.ze",
		"subject hello there",
		"data some text",
		"hash aGFzaA==",
		"send",
	)
	want := []string{"ok", "ok", "ok 2", "ok", "ok", "ok", "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("responses: got %v, want %v", got, want)
	}

	msg := s.Message()
	if msg == nil {
		t.Fatal("Message is nil after send")
	}
	if msg.From != "trillian@earth.planet" {
		t.Errorf("From: got %q", msg.From)
	}
	if want := []string{"arthur@earth.planet", "zaphod@univer.ze"}; !reflect.DeepEqual(msg.To, want) {
		t.Errorf("To: got %v, want %v", msg.To, want)
	}
	if msg.Subject != "hello there" || msg.Data != "some text" || msg.Hash != "aGFzaA==" {
		t.Errorf("message fields: got %+v", msg)
	}
}

func TestSubmission_SendMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"nothing set", nil, "error no subject"},
		{"no sender", []string{"subject s"}, "error no sender"},
		{"no content", []string{"subject s", "from a@earth.planet"}, "error no content"},
		{"no recipients", []string{"subject s", "from a@earth.planet", "data d"}, "error no recipients"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSubmission()
			s.Greeting()
			run(t, s, append([]string{"begin"}, tt.lines...)...)
			r := s.Process("send")
			if r.Lines[0] != tt.want {
				t.Errorf("send: got %q, want %q", r.Lines[0], tt.want)
			}
			if r.Close {
				t.Error("missing field must not close the connection")
			}
			if s.Message() != nil {
				t.Error("Message must be nil after rejected send")
			}
		})
	}
}

func TestSubmission_ToReplaces(t *testing.T) {
	t.Parallel()

	s := NewSubmission()
	s.Greeting()
	run(t, s, "begin", "from x@earth.planet", "to a@earth.planet", "to b@earth.planet", "subject s", "data d", "send")

	msg := s.Message()
	if want := []string{"b@earth.planet"}; !reflect.DeepEqual(msg.To, want) {
		t.Errorf("To: got %v, want %v", msg.To, want)
	}
}

func TestSubmission_FieldErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"from not-an-address", "error invalid sender"},
		{"from ", "error no sender"},
		{"to ", "error no recipients"},
		{"to nobody", "error no recipients"},
		{"subject", "error no subject"},
		{"data", "error no content"},
		{"hash", "error no hash value"},
	}

	for _, tt := range tests {
		s := NewSubmission()
		s.Greeting()
		s.Process("begin")
		r := s.Process(tt.line)
		if len(r.Lines) != 1 || r.Lines[0] != tt.want {
			t.Errorf("Process(%q): got %v, want %q", tt.line, r.Lines, tt.want)
		}
		if r.Close {
			t.Errorf("Process(%q): validation error closed the connection", tt.line)
		}
	}
}

func TestSubmission_ProtocolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
	}{
		{"command before begin", []string{"from a@earth.planet"}},
		{"unknown command", []string{"begin", "helo"}},
		{"command after send", []string{"begin", "from a@earth.planet", "to b@earth.planet", "subject s", "data d", "send", "subject again"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSubmission()
			s.Greeting()
			var r Reply
			for _, line := range tt.lines {
				r = s.Process(line)
			}
			if !r.Close || len(r.Lines) != 1 || r.Lines[0] != "error protocol error" {
				t.Errorf("last reply: got %+v, want closing protocol error", r)
			}
		})
	}
}

func TestSubmission_QuitAnyState(t *testing.T) {
	t.Parallel()

	for _, prefix := range [][]string{nil, {"begin"}, {"begin", "from a@earth.planet"}} {
		s := NewSubmission()
		s.Greeting()
		for _, line := range prefix {
			s.Process(line)
		}
		r := s.Process("QUIT")
		if !r.Close || r.Lines[0] != "ok bye" {
			t.Errorf("quit after %v: got %+v", prefix, r)
		}
	}
}

func TestValidatingSubmission_UnknownRecipients(t *testing.T) {
	t.Parallel()

	s := NewValidatingSubmission("earth.planet", userSet{"trillian": true})
	s.Greeting()
	s.Process("begin")

	r := s.Process("to trillian@earth.planet,ford@earth.planet,marvin@earth.planet,zaphod@univer.ze")
	if r.Lines[0] != "error unknown recipient ford marvin" {
		t.Fatalf("to: got %q", r.Lines[0])
	}
	if r.Close {
		t.Error("unknown recipient must not close the connection")
	}
	if got := ParseUnknownRecipients(r.Lines[0]); !reflect.DeepEqual(got, []string{"ford", "marvin"}) {
		t.Errorf("ParseUnknownRecipients: got %v", got)
	}
}

func TestValidatingSubmission_KnownRecipients(t *testing.T) {
	t.Parallel()

	s := NewValidatingSubmission("earth.planet", userSet{"trillian": true, "arthur": true})
	s.Greeting()
	got := run(t, s,
		"begin",
		"from zaphod@univer.ze",
		"to trillian@earth.planet, arthur@earth.planet, zaphod@univer.ze",
		"subject s",
		"data d",
		"send",
	)
	want := []string{"ok", "ok", "ok 3", "ok", "ok", "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("responses: got %v, want %v", got, want)
	}
}

func TestValidatingSubmission_NoLocalRecipient(t *testing.T) {
	t.Parallel()

	s := NewValidatingSubmission("earth.planet", userSet{"trillian": true})
	s.Greeting()
	s.Process("begin")
	r := s.Process("to zaphod@univer.ze")
	if r.Lines[0] != "error no recipients" {
		t.Errorf("to: got %q, want %q", r.Lines[0], "error no recipients")
	}
}
