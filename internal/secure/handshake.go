package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHandshake         = errors.New("secure handshake failed")
	ErrChallengeMismatch = errors.New("secure handshake: challenge mismatch")
)

const (
	challengeSize  = 32
	sessionKeySize = 32
	ivSize         = 16
)

// Decrypter opens the handshake message sent by a client. It is implemented
// by the server's private key.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// KeyRing returns the public key of a mailbox server by its id.
type KeyRing interface {
	PublicKey(serverID string) (*rsa.PublicKey, error)
}

// ServerHandshake runs the server side after "startsecure" was answered with
// "ok <server-id>". It reads the client's key message, installs the session
// cipher on c and echoes the challenge under it. The caller must then read
// the client's final "ok" through c.
func ServerHandshake(c *Conn, key Decrypter) error {
	line, err := c.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: reading key message: %w", ErrHandshake, err)
	}

	ct, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return fmt.Errorf("%w: decoding key message: %w", ErrHandshake, err)
	}
	pt, err := key.Decrypt(ct)
	if err != nil {
		return fmt.Errorf("%w: decrypting key message: %w", ErrHandshake, err)
	}

	parts := strings.Split(string(pt), " ")
	if len(parts) != 4 || parts[0] != "ok" {
		return fmt.Errorf("%w: malformed key message", ErrHandshake)
	}
	fields := make([][]byte, 3)
	for i, p := range parts[1:] {
		if fields[i], err = base64.StdEncoding.DecodeString(p); err != nil {
			return fmt.Errorf("%w: decoding key message field: %w", ErrHandshake, err)
		}
	}
	challenge, sessionKey, iv := fields[0], fields[1], fields[2]

	if err := c.Secure(sessionKey, iv, RoleServer); err != nil {
		return err
	}
	if err := c.WriteLine("ok " + base64.StdEncoding.EncodeToString(challenge)); err != nil {
		return fmt.Errorf("%w: writing challenge: %w", ErrHandshake, err)
	}
	return nil
}

// StartSecure runs the complete client side: it sends "startsecure", looks
// up the server's public key by the returned id and performs ClientHandshake.
func StartSecure(c *Conn, ring KeyRing) error {
	if err := c.WriteLine("startsecure"); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	resp, err := c.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: reading server id: %w", ErrHandshake, err)
	}
	serverID, ok := strings.CutPrefix(resp, "ok ")
	if !ok || serverID == "" {
		return fmt.Errorf("%w: unexpected response %q", ErrHandshake, resp)
	}

	pub, err := ring.PublicKey(serverID)
	if err != nil {
		return fmt.Errorf("%w: public key for %s: %w", ErrHandshake, serverID, err)
	}
	return ClientHandshake(c, pub)
}

// ClientHandshake sends a fresh challenge, session key and iv encrypted to
// pub, switches c to the session cipher and checks the echoed challenge.
// On ErrChallengeMismatch the caller must close the connection.
func ClientHandshake(c *Conn, pub *rsa.PublicKey) error {
	challenge, err := random(challengeSize)
	if err != nil {
		return err
	}
	sessionKey, err := random(sessionKeySize)
	if err != nil {
		return err
	}
	iv, err := random(ivSize)
	if err != nil {
		return err
	}

	enc := base64.StdEncoding
	msg := "ok " + enc.EncodeToString(challenge) + " " + enc.EncodeToString(sessionKey) + " " + enc.EncodeToString(iv)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(msg), nil)
	if err != nil {
		return fmt.Errorf("%w: encrypting key message: %w", ErrHandshake, err)
	}
	if err := c.WriteLine(enc.EncodeToString(ct)); err != nil {
		return fmt.Errorf("%w: writing key message: %w", ErrHandshake, err)
	}

	if err := c.Secure(sessionKey, iv, RoleClient); err != nil {
		return err
	}

	resp, err := c.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: reading challenge: %w", ErrHandshake, err)
	}
	echoed, ok := strings.CutPrefix(resp, "ok ")
	if !ok {
		return ErrChallengeMismatch
	}
	got, err := enc.DecodeString(echoed)
	if err != nil || subtle.ConstantTimeCompare(got, challenge) != 1 {
		return ErrChallengeMismatch
	}

	if err := c.WriteLine("ok"); err != nil {
		return fmt.Errorf("%w: writing acknowledgement: %w", ErrHandshake, err)
	}
	return nil
}

func random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return buf, nil
}
