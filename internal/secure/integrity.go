package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/shineum/dmail/internal/mail"
)

var ErrNoHash = errors.New("message carries no hash")

// Signer computes and checks the integrity code of messages with a long
// lived shared key. The key is kept in an encrypted enclave and only opened
// for the duration of one computation.
type Signer struct {
	key *memguard.Enclave
}

// NewSigner creates a Signer. The key slice is wiped.
func NewSigner(key []byte) *Signer {
	return &Signer{key: memguard.NewEnclave(key)}
}

func (s *Signer) mac(msg *mail.Message) ([]byte, error) {
	key, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening integrity key: %w", err)
	}
	defer key.Destroy()

	h := hmac.New(sha256.New, key.Bytes())
	h.Write(msg.SigningInput())
	return h.Sum(nil), nil
}

// Sign returns the base64 encoded integrity code of msg.
func (s *Signer) Sign(msg *mail.Message) (string, error) {
	sum, err := s.mac(msg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

// Verify recomputes the integrity code of msg and compares it with msg.Hash
// in constant time. A malformed hash is reported as a mismatch.
func (s *Signer) Verify(msg *mail.Message) (bool, error) {
	if msg.Hash == "" {
		return false, ErrNoHash
	}
	got, err := base64.StdEncoding.DecodeString(msg.Hash)
	if err != nil {
		return false, nil
	}
	want, err := s.mac(msg)
	if err != nil {
		return false, err
	}
	return hmac.Equal(got, want), nil
}
