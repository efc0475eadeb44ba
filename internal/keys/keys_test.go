package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := GenerateKeyPair(dir, "mailbox-earth-planet"); err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	info, err := os.Stat(PrivateKeyPath(dir, "mailbox-earth-planet"))
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key permissions: got %o, want 600", perm)
	}

	priv, err := LoadPrivateKey(PrivateKeyPath(dir, "mailbox-earth-planet"))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	pub, err := LoadPublicKey(PublicKeyPath(dir, "mailbox-earth-planet"))
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if pub.N.BitLen() != rsaBits {
		t.Errorf("key size: got %d, want %d", pub.N.BitLen(), rsaBits)
	}

	// The loaded pair must match.
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte("ok abc"), nil)
	if err != nil {
		t.Fatalf("EncryptOAEP: %v", err)
	}
	pt, err := priv.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "ok abc" {
		t.Errorf("Decrypt: got %q", pt)
	}
}

func TestLoadPrivateKey_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := LoadPrivateKey(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(bad, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrivateKey(bad); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestRing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := GenerateKeyPair(dir, "mailbox-a"); err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	ring := NewRing(dir)

	pub, err := ring.PublicKey("mailbox-a")
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	again, err := ring.PublicKey("mailbox-a")
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if pub != again {
		t.Error("expected cached key on second lookup")
	}

	for _, id := range []string{"mailbox-b", "../mailbox-a", ".."} {
		if _, err := ring.PublicKey(id); !errors.Is(err, ErrUnknownServer) {
			t.Errorf("PublicKey(%q): got %v, want ErrUnknownServer", id, err)
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	// A failed lookup is not cached, so a key saved later is found.
	if err := SavePublicKey(dir, "mailbox-b", &key.PublicKey); err != nil {
		t.Fatalf("SavePublicKey: %v", err)
	}
	if got, err := ring.PublicKey("mailbox-b"); err != nil || got.N.Cmp(key.N) != 0 {
		t.Errorf("PublicKey after SavePublicKey: got %v, %v", got, err)
	}
}

func TestSecret(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "hmac.key")
	if err := GenerateSecret(path); err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	key, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if len(key) != secretSize {
		t.Errorf("key length: got %d, want %d", len(key), secretSize)
	}

	raw := filepath.Join(dir, "raw.key")
	if err := os.WriteFile(raw, []byte("correct horse battery staple!\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	key, err = LoadSecret(raw)
	if err != nil {
		t.Fatalf("LoadSecret raw: %v", err)
	}
	if string(key) != "correct horse battery staple!" {
		t.Errorf("raw key: got %q", key)
	}

	empty := filepath.Join(dir, "empty.key")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSecret(empty); err == nil {
		t.Error("expected error for empty key file")
	}
}
