// Package secure implements the line transport of the access protocol, the
// handshake that turns it into an encrypted channel, and the integrity code
// carried with every submitted message.
package secure

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Role selects which derived key a side sends with.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Labels for the per-direction key derivation.
var (
	labelClientToServer = []byte("dmail client to server")
	labelServerToClient = []byte("dmail server to client")
)

// Conn is a newline delimited line transport. Once Secure is called, every
// line is encrypted and base64 encoded on write, and decoded and decrypted on
// read. Conn is not safe for concurrent use.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer

	enc cipher.Stream
	dec cipher.Stream
}

// NewConn wraps rw in a plain line transport.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

// Secured reports whether lines are encrypted.
func (c *Conn) Secured() bool {
	return c.enc != nil
}

// Secure installs the session cipher for both directions. Every later line
// in both directions is encrypted.
func (c *Conn) Secure(key, iv []byte, role Role) error {
	if len(iv) != aes.BlockSize {
		return fmt.Errorf("%w: iv must be %d bytes, got %d", ErrHandshake, aes.BlockSize, len(iv))
	}

	c2s, err := newStream(key, iv, labelClientToServer)
	if err != nil {
		return err
	}
	s2c, err := newStream(key, iv, labelServerToClient)
	if err != nil {
		return err
	}

	if role == RoleClient {
		c.enc, c.dec = c2s, s2c
	} else {
		c.enc, c.dec = s2c, c2s
	}
	return nil
}

// newStream derives a direction key from the session key and returns an
// AES-256-CTR keystream for it.
func newStream(key, iv, label []byte) (cipher.Stream, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty session key", ErrHandshake)
	}
	dk := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, iv, label), dk); err != nil {
		return nil, fmt.Errorf("deriving direction key: %w", err)
	}
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewCTR(block, iv), nil
}

// ReadLine reads the next line without its line terminator.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if c.dec == nil {
		return line, nil
	}

	buf, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return "", fmt.Errorf("decoding secure frame: %w", err)
	}
	c.dec.XORKeyStream(buf, buf)
	return string(buf), nil
}

// WriteLine writes one line and flushes it.
func (c *Conn) WriteLine(line string) error {
	return c.WriteLines(line)
}

// WriteLines writes each line as its own frame and flushes once.
func (c *Conn) WriteLines(lines ...string) error {
	for _, line := range lines {
		if c.enc != nil {
			buf := []byte(line)
			c.enc.XORKeyStream(buf, buf)
			line = base64.StdEncoding.EncodeToString(buf)
		}
		if _, err := c.w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return c.w.Flush()
}
