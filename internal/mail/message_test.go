package mail

import (
	"reflect"
	"testing"
)

func TestValidAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"trillian@earth.planet", true},
		{"zaphod.b@univer.ze", true},
		{"a@b.c.d", true},
		{"noatsign", false},
		{"@earth.planet", false},
		{"trillian@planet", false},
		{"trillian@earth.planet extra", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%q): got %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestParseAddressList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []string
	}{
		{"a@earth.planet", []string{"a@earth.planet"}},
		{"a@earth.planet,b@univer.ze", []string{"a@earth.planet", "b@univer.ze"}},
		{"a@earth.planet, b@univer.ze  c@earth.planet", []string{"a@earth.planet", "b@univer.ze", "c@earth.planet"}},
		{"garbage, x@y", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := ParseAddressList(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseAddressList(%q): got %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMessage_Domains(t *testing.T) {
	t.Parallel()

	msg := &Message{To: []string{"a@earth.planet", "b@univer.ze", "c@Earth.Planet"}}
	got := msg.Domains()
	want := []string{"earth.planet", "univer.ze"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Domains: got %v, want %v", got, want)
	}
}

func TestMessage_SigningInput(t *testing.T) {
	t.Parallel()

	msg := &Message{
		From:    "a@earth.planet",
		To:      []string{"b@univer.ze", "c@univer.ze"},
		Subject: "hello",
		Data:    "body text",
	}
	want := "a@earth.planet\nb@univer.ze,c@univer.ze\nhello\nbody text"
	if got := string(msg.SigningInput()); got != want {
		t.Errorf("SigningInput: got %q, want %q", got, want)
	}
}

func TestMessage_Clone(t *testing.T) {
	t.Parallel()

	msg := &Message{From: "a@earth.planet", To: []string{"b@univer.ze"}}
	c := msg.Clone()
	c.To[0] = "changed@univer.ze"
	if msg.To[0] != "b@univer.ze" {
		t.Errorf("clone shares recipient slice: %v", msg.To)
	}
}
