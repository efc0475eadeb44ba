package directory

import (
	"context"
	"errors"
	"testing"
)

// failingRemote fails every call, standing in for an unreachable node.
type failingRemote struct{}

var errUnreachable = errors.New("connection refused")

func (failingRemote) Ref() string { return "unreachable" }
func (failingRemote) RegisterNameserver(context.Context, string, Remote) error {
	return errUnreachable
}
func (failingRemote) RegisterMailboxServer(context.Context, string, string) error {
	return errUnreachable
}
func (failingRemote) GetNameserver(context.Context, string) (Remote, error) {
	return nil, errUnreachable
}
func (failingRemote) Lookup(context.Context, string) (string, error) {
	return "", errUnreachable
}

func TestResolve(t *testing.T) {
	t.Parallel()

	root, planet, _ := tree(t)
	ctx := context.Background()
	if err := root.RegisterMailboxServer(ctx, "mars.planet", "127.0.0.1:16502"); err != nil {
		t.Fatal(err)
	}
	if err := root.RegisterMailboxServer(ctx, "ze.earth.planet", "127.0.0.1:16503"); err != nil {
		t.Fatal(err)
	}
	if err := planet.RegisterNameserver(ctx, "dead", failingRemote{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		domain string
		want   string
		err    error
	}{
		{"mars.planet", "127.0.0.1:16502", nil},
		{"MARS.planet", "127.0.0.1:16502", nil},
		{"ze.earth.planet", "127.0.0.1:16503", nil},
		{"venus.planet", "", ErrNotFound},
		{"earth.planet", "", ErrNotFound},
		{"earth.star", "", ErrNotFound},
		{"x.dead.planet", "", errUnreachable},
		{"planet", "", ErrNotFound},
		{"", "", ErrInvalidDomain},
	}
	for _, tt := range tests {
		got, err := Resolve(ctx, root, tt.domain)
		if tt.err == nil {
			if err != nil || got != tt.want {
				t.Errorf("Resolve(%q): got %q, %v; want %q", tt.domain, got, err, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrUnresolvable) || !errors.Is(err, tt.err) {
			t.Errorf("Resolve(%q): got %v, want ErrUnresolvable wrapping %v", tt.domain, err, tt.err)
		}
	}
}

func TestResolve_NoRoot(t *testing.T) {
	t.Parallel()

	if _, err := Resolve(context.Background(), nil, "earth.planet"); !errors.Is(err, ErrUnresolvable) {
		t.Errorf("got %v, want ErrUnresolvable", err)
	}
}
