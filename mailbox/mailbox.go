// Package mailbox reads and writes the message stores driven by the batch
// processor. Two on-disk formats are supported, maildir and mbox, plus an
// in-memory store for single messages piped in on stdin.
package mailbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/gradekeeper/gradekeeper/helpers"
)

// Message is one stored message.
type Message struct {
	// Key identifies the message within its store. Maildir keys are paths
	// relative to the maildir root; mbox and in-memory stores use content
	// digests.
	Key string
	Raw []byte
	// Time is the delivery time from the first Received header, or zero
	// when the message carries no usable date.
	Time time.Time
}

// A Mailbox holds messages awaiting processing or already processed.
type Mailbox interface {
	// Messages returns every message in the store.
	Messages() ([]*Message, error)
	// Add appends a message to the store.
	Add(msg *Message) error
	// Remove deletes a message previously returned by Messages.
	Remove(msg *Message) error
}

// Formats accepted by Open.
const (
	FormatMaildir = "maildir"
	FormatMbox    = "mbox"
)

// Open opens a message store of the given format at path, creating it if
// necessary.
func Open(format, path string) (Mailbox, error) {
	switch format {
	case FormatMaildir:
		return NewMaildir(path)
	case FormatMbox:
		return NewMbox(path), nil
	default:
		return nil, fmt.Errorf("unknown mailbox format %q", format)
	}
}

// Sort orders messages by delivery time, oldest first, with the key as a
// tiebreaker so processing order is deterministic.
func Sort(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Time.Equal(msgs[j].Time) {
			return msgs[i].Key < msgs[j].Key
		}
		return msgs[i].Time.Before(msgs[j].Time)
	})
}

// newMessage builds a Message, stamping the delivery time from the raw
// headers.
func newMessage(key string, raw []byte) *Message {
	msg := &Message{Key: key, Raw: raw}
	if entity, err := helpers.ReadEntity(raw); err == nil {
		msg.Time = helpers.MessageTime(entity)
	}
	return msg
}

// Memory is an in-memory Mailbox, used for stdin input and in tests.
type Memory struct {
	msgs []*Message
}

// NewMemory builds an in-memory store holding the given raw messages.
func NewMemory(raws ...[]byte) *Memory {
	m := &Memory{}
	for _, raw := range raws {
		m.msgs = append(m.msgs, newMessage(helpers.HashContent(raw), raw))
	}
	return m
}

func (m *Memory) Messages() ([]*Message, error) {
	out := make([]*Message, len(m.msgs))
	copy(out, m.msgs)
	return out, nil
}

func (m *Memory) Add(msg *Message) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *Memory) Remove(msg *Message) error {
	for i, have := range m.msgs {
		if have.Key == msg.Key {
			m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s not in store", msg.Key)
}
