// Package auth holds the user registry of a mailbox domain.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownUser   = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
)

// Registry maps the local users of a mailbox domain to their credential. It is
// loaded once and read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	credentials map[string]string
}

// usersFile is the YAML layout of a users file.
type usersFile struct {
	Users map[string]string `yaml:"users"`
}

// NewRegistry creates a Registry from a user to credential map. A credential
// is either a plain password or a bcrypt hash.
func NewRegistry(credentials map[string]string) *Registry {
	c := make(map[string]string, len(credentials))
	for user, cred := range credentials {
		c[user] = cred
	}
	return &Registry{credentials: c}
}

// LoadRegistry reads a YAML users file of the form:
//
//	users:
//	  trillian: "12345"
//	  zaphod: "$2a$10$..."
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	return NewRegistry(f.Users), nil
}

// Exists reports whether user is a local user of the domain.
func (r *Registry) Exists(user string) bool {
	_, ok := r.credentials[user]
	return ok
}

// Verify checks password for user. It returns ErrUnknownUser or
// ErrWrongPassword on failure.
func (r *Registry) Verify(user, password string) error {
	cred, ok := r.credentials[user]
	if !ok {
		return ErrUnknownUser
	}

	if isBcrypt(cred) {
		if err := bcrypt.CompareHashAndPassword([]byte(cred), []byte(password)); err != nil {
			return ErrWrongPassword
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(cred), []byte(password)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

// Users returns the sorted user names.
func (r *Registry) Users() []string {
	users := make([]string, 0, len(r.credentials))
	for user := range r.credentials {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

func isBcrypt(cred string) bool {
	return strings.HasPrefix(cred, "$2a$") || strings.HasPrefix(cred, "$2b$") || strings.HasPrefix(cred, "$2y$")
}
