// Package store keeps the messages of a mailbox server in memory, one
// mailbox per user.
package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shineum/dmail/internal/mail"
)

// Store holds the mailboxes of all users of one mailbox server. The store
// lock only guards the user map; each mailbox has its own lock.
type Store struct {
	mu    sync.RWMutex
	boxes map[string]*Mailbox
}

// New creates an empty Store.
func New() *Store {
	return &Store{boxes: make(map[string]*Mailbox)}
}

// Mailbox returns the mailbox of user, creating it on first use.
func (s *Store) Mailbox(user string) *Mailbox {
	s.mu.RLock()
	mb, ok := s.boxes[user]
	s.mu.RUnlock()
	if ok {
		return mb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.boxes[user]; ok {
		return mb
	}
	mb = &Mailbox{messages: make(map[int]*mail.Message)}
	s.boxes[user] = mb
	return mb
}

// Mailbox is the message collection of a single user. Message ids start at 1
// and are never reused, also not after a delete.
type Mailbox struct {
	lastID atomic.Int64

	mu       sync.RWMutex
	messages map[int]*mail.Message
}

// Add stores msg and returns its new id.
func (mb *Mailbox) Add(msg *mail.Message) int {
	id := int(mb.lastID.Add(1))
	mb.mu.Lock()
	mb.messages[id] = msg
	mb.mu.Unlock()
	return id
}

// List returns a summary per message, ordered by id.
func (mb *Mailbox) List() []mail.Summary {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	list := make([]mail.Summary, 0, len(mb.messages))
	for id, msg := range mb.messages {
		list = append(list, mail.Summary{ID: id, From: msg.From, Subject: msg.Subject})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Get returns the message with the given id.
func (mb *Mailbox) Get(id int) (*mail.Message, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	msg, ok := mb.messages[id]
	return msg, ok
}

// Delete removes the message with the given id and reports whether it existed.
func (mb *Mailbox) Delete(id int) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.messages[id]; !ok {
		return false
	}
	delete(mb.messages, id)
	return true
}

// Len returns the number of stored messages.
func (mb *Mailbox) Len() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.messages)
}
