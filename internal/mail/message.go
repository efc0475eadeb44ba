// Package mail defines the message model shared by the transfer, mailbox and
// client components.
package mail

import (
	"regexp"
	"strings"
)

// Message is a mail as carried by the submission protocol. Every field fits on
// one protocol line.
type Message struct {
	From    string
	To      []string
	Subject string
	Data    string

	// Hash is the base64 encoded integrity code computed by the submitting
	// client. It is carried verbatim and may be empty.
	Hash string
}

// Summary is one entry of a mailbox listing.
type Summary struct {
	ID      int
	From    string
	Subject string
}

// Clone returns a deep copy so a delivered message can be handed to several
// owners without sharing the recipient slice.
func (m *Message) Clone() *Message {
	c := *m
	c.To = append([]string(nil), m.To...)
	return &c
}

// Recipients returns the recipient list as written on a "to" line.
func (m *Message) Recipients() string {
	return strings.Join(m.To, ",")
}

// SigningInput returns the text the integrity code is computed over:
// sender, recipients, subject and data joined by newlines.
func (m *Message) SigningInput() []byte {
	return []byte(strings.Join([]string{m.From, m.Recipients(), m.Subject, m.Data}, "\n"))
}

var (
	addressRegExp     = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`)
	addressListRegExp = regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)
)

// ValidAddress reports whether s is exactly one local@domain address.
func ValidAddress(s string) bool {
	return addressRegExp.MatchString(s)
}

// ParseAddressList extracts all addresses from a comma and/or whitespace
// separated list, in order of appearance.
func ParseAddressList(s string) []string {
	var addrs []string
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if m := addressListRegExp.FindString(field); m != "" && m == field {
			addrs = append(addrs, m)
		}
	}
	return addrs
}

// SplitAddress returns the local part and domain of addr. ok is false when
// addr has no "@".
func SplitAddress(addr string) (local, domain string, ok bool) {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}

// Domain returns the part of addr after the "@", or the empty string.
func Domain(addr string) string {
	_, domain, _ := SplitAddress(addr)
	return domain
}

// Domains returns the distinct recipient domains of m in order of first
// appearance. Domains compare case-insensitively.
func (m *Message) Domains() []string {
	seen := make(map[string]bool)
	var domains []string
	for _, rcpt := range m.To {
		d := strings.ToLower(Domain(rcpt))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	return domains
}
