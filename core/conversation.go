package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one completed utterance in the conversation. Entries are immutable
// once appended; Audio is only populated by the request-response pipeline,
// which synthesizes whole replies.
type Entry struct {
	ID    string
	Role  Role
	Text  string
	Audio []byte
	Index int
}

// conversation is the append-only entry list. Only the downlink goroutine
// appends during a live session, so appends need no coordination beyond the
// snapshot lock.
type conversation struct {
	mu      sync.RWMutex
	entries []Entry
}

func (c *conversation) append(role Role, text string, audio []byte) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		ID:    uuid.NewString(),
		Role:  role,
		Text:  text,
		Audio: audio,
		Index: len(c.entries),
	}
	c.entries = append(c.entries, entry)
	return entry
}

// snapshot returns a deep, point-in-time copy so observers can hold on to it
// while the session keeps appending.
func (c *conversation) snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.entries))
	if err := copier.Copy(&entries, &c.entries); err != nil {
		// Copy of a plain slice of value structs cannot fail in practice;
		// fall back to a shallow copy rather than losing the transcript.
		entries = append(entries[:0], c.entries...)
	}
	return entries
}

func (c *conversation) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
