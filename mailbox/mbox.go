package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/gradekeeper/gradekeeper/helpers"
)

// Mbox is a single-file mbox store. A missing file reads as an empty store
// and is created on first Add.
type Mbox struct {
	path string
}

func NewMbox(path string) *Mbox {
	return &Mbox{path: path}
}

// Messages reads the whole mbox. Keys are content digests, so removal stays
// stable while other messages come and go.
func (m *Mbox) Messages() ([]*Message, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []*Message
	r := mbox.NewReader(f)
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading mbox %s: %w", m.path, err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, newMessage(helpers.HashContent(raw), raw))
	}
}

// Add appends the message to the mbox file.
func (m *Mbox) Add(msg *Message) error {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := mbox.NewWriter(f)
	from := "MAILER-DAEMON"
	if entity, err := helpers.ReadEntity(msg.Raw); err == nil {
		if addr, ok := helpers.ReturnPath(entity); ok {
			from = addr
		}
	}
	date := msg.Time
	if date.IsZero() {
		date = time.Now()
	}
	mw, err := w.CreateMessage(from, date)
	if err != nil {
		return err
	}
	if _, err := mw.Write(msg.Raw); err != nil {
		return err
	}
	return w.Close()
}

// Remove rewrites the mbox without the first message matching msg's digest.
func (m *Mbox) Remove(msg *Message) error {
	msgs, err := m.Messages()
	if err != nil {
		return err
	}

	removed := false
	var buf bytes.Buffer
	w := mbox.NewWriter(&buf)
	for _, have := range msgs {
		if !removed && have.Key == msg.Key {
			removed = true
			continue
		}
		date := have.Time
		if date.IsZero() {
			date = time.Now()
		}
		from := "MAILER-DAEMON"
		if entity, err := helpers.ReadEntity(have.Raw); err == nil {
			if addr, ok := helpers.ReturnPath(entity); ok {
				from = addr
			}
		}
		mw, err := w.CreateMessage(from, date)
		if err != nil {
			return err
		}
		if _, err := mw.Write(have.Raw); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("message %s not in %s", msg.Key, m.path)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
