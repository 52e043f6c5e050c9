// Package helpers contains small message-parsing utilities shared by the
// classifier, the handlers and the composer.
package helpers

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"lukechampine.com/blake3"
)

// ReadEntity parses a raw RFC 822 message. Unknown charsets are tolerated;
// the body is then exposed undecoded.
func ReadEntity(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("invalid RFC822 message: %w", err)
	}
	return entity, nil
}

// EntityBytes serializes an entity back to wire format.
func EntityBytes(entity *message.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := entity.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// walkLeaves visits every non-multipart part of the message, depth first.
// The visitor may return io.EOF to stop the walk early.
func walkLeaves(entity *message.Entity, visit func(*message.Entity) error) error {
	mediaType, _, _ := entity.Header.ContentType()
	if !strings.HasPrefix(mediaType, "multipart/") {
		return visit(entity)
	}
	mr := entity.MultipartReader()
	if mr == nil {
		return fmt.Errorf("nil multipart reader for %s", mediaType)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading multipart: %w", err)
		}
		if err := walkLeaves(part, visit); err != nil {
			return err
		}
	}
}

// PlainTextBody extracts the first text/plain part of a raw message. When the
// message carries only HTML, the first text/html part is converted to text
// instead. Returns ok=false when the message has no textual part at all.
func PlainTextBody(raw []byte) (body string, ok bool, err error) {
	entity, err := ReadEntity(raw)
	if err != nil {
		return "", false, err
	}
	var plaintext, html *string
	err = walkLeaves(entity, func(part *message.Entity) error {
		mediaType, _, _ := part.Header.ContentType()
		if mediaType == "" {
			mediaType = "text/plain"
		}
		switch mediaType {
		case "text/plain":
			if plaintext == nil {
				content, err := io.ReadAll(part.Body)
				if err != nil {
					return err
				}
				s := string(content)
				plaintext = &s
				return io.EOF
			}
		case "text/html":
			if html == nil {
				content, err := io.ReadAll(part.Body)
				if err != nil {
					return err
				}
				s := string(content)
				html = &s
			}
		}
		return nil
	})
	if err != nil && err != io.EOF {
		return "", false, err
	}
	if plaintext == nil && html != nil {
		converted := html2text.HTML2Text(*html)
		plaintext = &converted
	}
	if plaintext == nil {
		return "", false, nil
	}
	return SanitizeUTF8(*plaintext), true, nil
}

// Attachment is a decoded non-body part of a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// Attachments extracts every part of a raw message that carries a filename,
// with transfer encoding already undone.
func Attachments(raw []byte) ([]Attachment, error) {
	entity, err := ReadEntity(raw)
	if err != nil {
		return nil, err
	}
	var attachments []Attachment
	err = walkLeaves(entity, func(part *message.Entity) error {
		filename := partFilename(part)
		if filename == "" {
			return nil
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return err
		}
		attachments = append(attachments, Attachment{
			Filename: filename,
			Data:     data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

func partFilename(part *message.Entity) string {
	_, dparams, _ := part.Header.ContentDisposition()
	if name := dparams["filename"]; name != "" {
		return name
	}
	_, cparams, _ := part.Header.ContentType()
	return cparams["name"]
}

// MessageID returns the Message-ID header without angle brackets, or ""
// when the header is missing or malformed.
func MessageID(entity *message.Entity) string {
	header := gomail.Header{Header: entity.Header}
	id, err := header.MessageID()
	if err != nil {
		return StripAngles(entity.Header.Get("Message-Id"))
	}
	return id
}

// HashContent returns a stable hex digest of message content, used to
// deduplicate resubmitted attachments.
func HashContent(content []byte) string {
	hash := blake3.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// MessageTime returns the delivery time of a message: the date stamped on its
// first (most recent) Received header. Messages without a usable Received
// header fall back to the Date header. Returns the zero time when neither
// parses.
func MessageTime(entity *message.Entity) time.Time {
	received := entity.Header.Get("Received")
	if idx := strings.LastIndex(received, ";"); idx >= 0 {
		if t, err := mail.ParseDate(strings.TrimSpace(received[idx+1:])); err == nil {
			return t
		}
	}
	header := gomail.Header{Header: entity.Header}
	if t, err := header.Date(); err == nil {
		return t
	}
	return time.Time{}
}
