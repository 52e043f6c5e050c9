package helpers

import (
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// Subject returns the decoded Subject header. ok is false when the header is
// absent; an empty subject and a missing one are handled differently by the
// classifier.
func Subject(entity *message.Entity) (subject string, ok bool) {
	if !entity.Header.Has("Subject") {
		return "", false
	}
	header := gomail.Header{Header: entity.Header}
	subject, err := header.Subject()
	if err != nil {
		// Keep the raw value when RFC 2047 decoding fails.
		subject = entity.Header.Get("Subject")
	}
	return subject, true
}

// FoldSubject canonicalizes a subject for tag matching: lowercased, with
// hash characters stripped so "[Phys101 #submit]" and "[phys101 submit]"
// compare equal.
func FoldSubject(subject string) string {
	subject = strings.ToLower(subject)
	subject = strings.ReplaceAll(subject, "#", "")
	return strings.TrimSpace(subject)
}
