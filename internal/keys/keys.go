// Package keys generates and loads the key material of mailbox servers and
// message clients: RSA key pairs addressed by server id, and the shared
// integrity key.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// rsaBits is the size of generated server keys.
const rsaBits = 2048

// secretSize is the size of a generated integrity key.
const secretSize = 32

var ErrUnknownServer = errors.New("no public key for server")

// PrivateKeyPath returns the file holding the private key of server id.
func PrivateKeyPath(dir, id string) string {
	return filepath.Join(dir, id+".pem")
}

// PublicKeyPath returns the file holding the public key of server id.
func PublicKeyPath(dir, id string) string {
	return filepath.Join(dir, id+"_pub.pem")
}

// GenerateKeyPair creates an RSA key pair for server id and writes it to dir
// as PEM. The private key file is only readable by the owner.
func GenerateKeyPair(dir, id string) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}

	der := x509.MarshalPKCS1PrivateKey(key)
	buf := memguard.NewBufferFromBytes(der)
	defer buf.Destroy()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := writePEM(PrivateKeyPath(dir, id), "RSA PRIVATE KEY", buf.Bytes(), 0o600); err != nil {
		return err
	}
	return SavePublicKey(dir, id, &key.PublicKey)
}

// SavePublicKey writes pub to dir as the public key of server id, where a
// Ring reading dir finds it.
func SavePublicKey(dir, id string, pub *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	return writePEM(PublicKeyPath(dir, id), "PUBLIC KEY", der, 0o644)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// PrivateKey is an RSA private key held in an encrypted enclave. It is only
// decoded while a handshake message is decrypted.
type PrivateKey struct {
	der *memguard.Enclave
}

// NewPrivateKey moves key into an enclave.
func NewPrivateKey(key *rsa.PrivateKey) *PrivateKey {
	return &PrivateKey{der: memguard.NewEnclave(x509.MarshalPKCS1PrivateKey(key))}
}

// LoadPrivateKey reads a PEM encoded PKCS#1 RSA private key.
func LoadPrivateKey(path string) (*PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("private key file not found: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	defer memguard.WipeBytes(data)

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("no RSA private key in %s", path)
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &PrivateKey{der: memguard.NewEnclave(block.Bytes)}, nil
}

// Decrypt opens an RSA-OAEP (SHA-256) ciphertext.
func (k *PrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	buf, err := k.der.Open()
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer buf.Destroy()

	key, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return rsa.DecryptOAEP(sha256.New(), nil, key, ciphertext, nil)
}

// LoadPublicKey reads a PEM encoded PKIX RSA public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key in %s is not an RSA key", path)
	}
	return rsaPub, nil
}

// Ring resolves server ids to public keys, reading <dir>/<id>_pub.pem on
// first use. Keys can also be added directly.
type Ring struct {
	dir string

	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

// NewRing creates a Ring reading from dir. dir may be empty for a ring that
// only holds added keys.
func NewRing(dir string) *Ring {
	return &Ring{dir: dir, keys: make(map[string]*rsa.PublicKey)}
}

// PublicKey returns the public key of server id.
func (r *Ring) PublicKey(id string) (*rsa.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pub, ok := r.keys[id]; ok {
		return pub, nil
	}
	if r.dir == "" || strings.ContainsAny(id, `/\`) || id == ".." {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	pub, err := LoadPublicKey(PublicKeyPath(r.dir, id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownServer, id, err)
	}
	r.keys[id] = pub
	return pub, nil
}

// GenerateSecret writes a random base64 encoded integrity key to path.
func GenerateSecret(path string) error {
	buf := memguard.NewBufferRandom(secretSize)
	defer buf.Destroy()

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write integrity key: %w", err)
	}
	return nil
}

// LoadSecret reads an integrity key file. Base64 content is decoded, any
// other content is used as is.
func LoadSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read integrity key: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if key, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(key) > 0 {
		memguard.WipeBytes(data)
		return key, nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("integrity key file %s is empty", path)
	}
	return []byte(trimmed), nil
}
