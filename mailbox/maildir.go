package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Maildir is a standard three-directory maildir store. Messages land in new/
// until a reader moves them; Deliver can stamp the seen flag to file a
// message directly into cur/.
type Maildir struct {
	path string
}

var deliveryCounter uint64

// NewMaildir opens the maildir at path, creating cur/, new/ and tmp/ as
// needed.
func NewMaildir(path string) (*Maildir, error) {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Maildir{path: path}, nil
}

// IsMaildir reports whether path looks like a maildir root.
func IsMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if _, err := os.Stat(filepath.Join(path, sub)); os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// Messages scans cur/ and new/. tmp/ holds incomplete deliveries and is
// never read. Dot-files are metadata, not messages.
func (d *Maildir) Messages() ([]*Message, error) {
	var msgs []*Message
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(d.path, sub))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(d.path, sub, name))
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, newMessage(filepath.Join(sub, name), raw))
		}
	}
	return msgs, nil
}

// Add files the message into new/.
func (d *Maildir) Add(msg *Message) error {
	_, err := d.Deliver(msg.Raw, false)
	return err
}

// Deliver writes a message through tmp/ and renames it into place: cur/
// with the seen flag set, new/ otherwise. Returns the maildir key.
func (d *Maildir) Deliver(raw []byte, seen bool) (key string, err error) {
	name := uniqueName()
	tmpPath := filepath.Join(d.path, "tmp", name)
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return "", err
	}

	sub := "new"
	if seen {
		sub = "cur"
		name += ":2,S"
	}
	key = filepath.Join(sub, name)
	if err := os.Rename(tmpPath, filepath.Join(d.path, key)); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return key, nil
}

// Remove deletes the message file for a key returned by Messages or Deliver.
func (d *Maildir) Remove(msg *Message) error {
	return os.Remove(filepath.Join(d.path, msg.Key))
}

// uniqueName builds a maildir filename: time, process and sequence for
// uniqueness, host for provenance.
func uniqueName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	host = strings.NewReplacer("/", "\\057", ":", "\\072").Replace(host)
	seq := atomic.AddUint64(&deliveryCounter, 1)
	return fmt.Sprintf("%d.%d_%d.%s", time.Now().Unix(), os.Getpid(), seq, host)
}
