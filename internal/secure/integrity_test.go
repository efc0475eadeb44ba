package secure

import (
	"bytes"
	"errors"
	"testing"

	"github.com/shineum/dmail/internal/mail"
)

func testMessage() *mail.Message {
	return &mail.Message{
		From:    "trillian@earth.planet",
		To:      []string{"arthur@earth.planet", "ford@betelgeuse.star"},
		Subject: "hello",
		Data:    "don't panic",
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	s := NewSigner(bytes.Repeat([]byte{42}, 32))
	msg := testMessage()
	hash, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	msg.Hash = hash

	ok, err := s.Verify(msg)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected signed message to verify")
	}

	// Signing the same content twice gives the same code.
	again, err := s.Sign(testMessage())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if again != hash {
		t.Errorf("Sign not deterministic: %q != %q", again, hash)
	}
}

func TestSigner_DetectsTampering(t *testing.T) {
	t.Parallel()

	s := NewSigner(bytes.Repeat([]byte{42}, 32))
	hash, err := s.Sign(testMessage())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tamper := map[string]func(m *mail.Message){
		"from":    func(m *mail.Message) { m.From = "zaphod@earth.planet" },
		"to":      func(m *mail.Message) { m.To = m.To[:1] },
		"subject": func(m *mail.Message) { m.Subject = "goodbye" },
		"data":    func(m *mail.Message) { m.Data = "panic" },
		"hash":    func(m *mail.Message) { m.Hash = "bm90IGEgaGFzaA==" },
		"garbage": func(m *mail.Message) { m.Hash = "%%%" },
	}
	for name, fn := range tamper {
		fn := fn
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			msg := testMessage()
			msg.Hash = hash
			fn(msg)
			ok, err := s.Verify(msg)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if ok {
				t.Error("tampered message verified")
			}
		})
	}
}

func TestSigner_DifferentKey(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	hash, err := NewSigner(bytes.Repeat([]byte{1}, 32)).Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	msg.Hash = hash

	ok, err := NewSigner(bytes.Repeat([]byte{2}, 32)).Verify(msg)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("message verified under a different key")
	}
}

func TestSigner_NoHash(t *testing.T) {
	t.Parallel()

	_, err := NewSigner([]byte("secret")).Verify(testMessage())
	if !errors.Is(err, ErrNoHash) {
		t.Errorf("got %v, want ErrNoHash", err)
	}
}
