// Package compose builds the robot's outgoing messages: addressed, dated,
// optionally signed and encrypted, with the triggering message attached
// where the conversation calls for it.
package compose

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"time"
	"unicode/utf8"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/emersion/go-message"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/pgpmail"
)

// Composer builds outgoing messages on behalf of the course robot.
type Composer struct {
	Robot *course.Person
	// Keyring holds the participants' keys; nil disables signing and
	// encryption altogether.
	Keyring *pgpmail.Keyring
	Log     *slog.Logger
}

// Options describe one outgoing message.
type Options struct {
	To      []*course.Person
	Cc      []*course.Person
	Subject string
	// InReplyTo threads the reply under the original message.
	InReplyTo string
	// Texts are additional text/plain parts after the body.
	Texts []string
	// Messages are attached as message/rfc822 parts, in order.
	Messages [][]byte
	// Original, when set, is attached to the reply as the final
	// message/rfc822 part.
	Original []byte
}

// Salutation wraps a body the way the robot talks: addressed to the
// recipient, signed off with the sender's alias.
func Salutation(recipient, body, sender string) string {
	return fmt.Sprintf("%s,\n\n%s\n\nYours,\n%s\n", recipient, body, sender)
}

// Compose builds the complete wire-format message and the envelope
// recipient list.
func (c *Composer) Compose(opts Options, body string) (raw []byte, recipients []string, err error) {
	attached := opts.Messages
	if opts.Original != nil {
		attached = append(append([][]byte{}, attached...), opts.Original)
	}
	content, err := c.content(body, opts.Texts, attached)
	if err != nil {
		return nil, nil, err
	}
	content, err = c.protect(content, append(opts.To, opts.Cc...))
	if err != nil {
		return nil, nil, err
	}

	header := content.Header.Copy()
	header.Set("From", formatPerson(c.Robot))
	header.Set("To", formatPeople(opts.To))
	if len(opts.Cc) > 0 {
		header.Set("Cc", formatPeople(opts.Cc))
	}
	header.SetText("Subject", opts.Subject)
	header.Set("Date", time.Now().Format(time.RFC1123Z))
	header.Set("Message-ID", c.newMessageID())
	header.Set("Auto-Submitted", "auto-replied")
	if opts.InReplyTo != "" {
		header.Set("In-Reply-To", opts.InReplyTo)
		header.Set("References", opts.InReplyTo)
	}
	header.Set("MIME-Version", "1.0")

	full, err := message.New(header, content.Body)
	if err != nil {
		return nil, nil, err
	}
	raw, err = helpers.EntityBytes(full)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range append(opts.To, opts.Cc...) {
		recipients = append(recipients, p.PrimaryEmail())
	}
	return raw, recipients, nil
}

// content builds the unprotected payload: a plain text part, wrapped in
// multipart/mixed when extra text parts or message/rfc822 attachments are
// given.
func (c *Composer) content(body string, texts []string, attached [][]byte) (*message.Entity, error) {
	var textHeader message.Header
	textHeader.SetContentType("text/plain", map[string]string{"charset": guessCharset(body)})

	if len(texts) == 0 && len(attached) == 0 {
		return message.New(textHeader, bytes.NewReader([]byte(body)))
	}

	var buf bytes.Buffer
	var mixedHeader message.Header
	mixedHeader.SetContentType("multipart/mixed", map[string]string{"boundary": newBoundary()})
	w, err := message.CreateWriter(&buf, mixedHeader)
	if err != nil {
		return nil, err
	}

	if err := writeTextPart(w, textHeader, body); err != nil {
		return nil, err
	}
	for _, text := range texts {
		var header message.Header
		header.SetContentType("text/plain", map[string]string{"charset": guessCharset(text)})
		if err := writeTextPart(w, header, text); err != nil {
			return nil, err
		}
	}
	for _, raw := range attached {
		var header message.Header
		header.SetContentType("message/rfc822", nil)
		header.Set("Content-Disposition", "inline")
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(raw); err != nil {
			return nil, err
		}
		if err := part.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return helpers.ReadEntity(buf.Bytes())
}

func writeTextPart(w *message.Writer, header message.Header, text string) error {
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write([]byte(text)); err != nil {
		return err
	}
	return part.Close()
}

// protect applies the outgoing protection policy: sign whenever the robot
// has a usable private key, and additionally encrypt when every recipient
// has a key on the ring. The robot's own key always joins the encryption
// set so it can read its sent mail.
func (c *Composer) protect(content *message.Entity, targets []*course.Person) (*message.Entity, error) {
	signer := c.signer()
	keys, encryptable := c.encryptionKeys(targets)

	switch {
	case encryptable:
		if signer != nil {
			keys = append(keys, signer)
		}
		c.Log.Debug("encrypting response", "recipients", len(targets), "signed", signer != nil)
		return pgpmail.Encrypt(content, keys, signer)
	case signer != nil:
		c.Log.Debug("signing response")
		return pgpmail.Sign(content, signer)
	default:
		return content, nil
	}
}

// signer returns the robot's private key, or nil when the robot cannot
// sign.
func (c *Composer) signer() *openpgp.Entity {
	if c.Keyring == nil || c.Robot == nil || c.Robot.PGPKey == "" {
		return nil
	}
	signer, err := c.Keyring.SignerFor(c.Robot.PGPKey)
	if err != nil {
		c.Log.Warn("robot key unusable, sending unsigned", "key", c.Robot.PGPKey, "error", err)
		return nil
	}
	return signer
}

// encryptionKeys collects one key per target. Encryption is all or nothing;
// a single keyless recipient disables it.
func (c *Composer) encryptionKeys(targets []*course.Person) ([]*openpgp.Entity, bool) {
	if c.Keyring == nil || len(targets) == 0 {
		return nil, false
	}
	var keys []*openpgp.Entity
	for _, p := range targets {
		if p.PGPKey == "" {
			return nil, false
		}
		key, ok := c.Keyring.KeyFor(p.PGPKey)
		if !ok {
			c.Log.Warn("configured key missing from keyring", "person", p.Name, "key", p.PGPKey)
			return nil, false
		}
		keys = append(keys, key)
	}
	return keys, true
}

func (c *Composer) newMessageID() string {
	_, domain := helpers.SplitEmailAddress(c.Robot.PrimaryEmail())
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("<%d.gradekeeper@%s>", time.Now().UnixNano(), domain)
}

func formatPerson(p *course.Person) string {
	addr := netmail.Address{Name: p.Alias(), Address: p.PrimaryEmail()}
	return addr.String()
}

func formatPeople(people []*course.Person) string {
	var buf bytes.Buffer
	for i, p := range people {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(formatPerson(p))
	}
	return buf.String()
}

// guessCharset labels pure ASCII bodies as us-ascii, everything else as
// utf-8.
func guessCharset(s string) string {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return "utf-8"
		}
	}
	return "us-ascii"
}

func newBoundary() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
