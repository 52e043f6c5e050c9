// Package mailpipe drives incoming mail through classification, handler
// dispatch and response synthesis: the batch counterpart to a procmail
// delivery rule.
package mailpipe

import (
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/handler"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/pgpmail"
)

var tagRegexp = regexp.MustCompile(`^.*\[([^\]]*)\].*$`)

// Classifier turns a delivered message into an attributed, authenticated,
// routed unit of work. Stages run in a fixed order and the first failing
// stage wins; every error is enriched with whatever earlier stages learned.
type Classifier struct {
	Course  *course.Course
	Keyring *pgpmail.Keyring
	// TrustTransport accepts unsigned mail from keyed senders on the
	// strength of the email infrastructure alone. Wrong or broken
	// signatures stay fatal.
	TrustTransport bool
	Log            *slog.Logger
}

// Classified is one message ready for handler dispatch.
type Classified struct {
	// Original is the message as delivered.
	Original []byte
	// Raw is the working body: decrypted and header-merged for protected
	// mail, Original otherwise.
	Raw []byte

	Person        *course.Person
	Subject       string // folded
	Target        string
	Authenticated bool
	Time          time.Time
}

// Classify runs the full pipeline on one raw message.
func (c *Classifier) Classify(raw []byte) (*Classified, error) {
	entity, err := helpers.ReadEntity(raw)
	if err != nil {
		return nil, err
	}

	var (
		person  *course.Person
		subject string
		target  string
	)
	enrich := func(err error) error {
		var invalid handler.InvalidMessage
		if errors.As(err, &invalid) {
			invalid.Context().Enrich(c.Course, raw, person, subject, target)
		}
		return err
	}

	person, err = c.resolveSender(entity)
	if err != nil {
		return nil, enrich(err)
	}

	working := raw
	authenticated := false
	if person.PGPKey != "" {
		working, authenticated, err = c.verify(raw, entity, person)
		if err != nil {
			return nil, enrich(err)
		}
	}

	rawSubject, ok := helpers.Subject(entity)
	if !ok {
		return nil, enrich(&Subjectless{MessageID: helpers.MessageID(entity)})
	}
	subject = helpers.FoldSubject(rawSubject)

	target, err = extractTarget(subject)
	if err != nil {
		return nil, enrich(err)
	}

	return &Classified{
		Original:      raw,
		Raw:           working,
		Person:        person,
		Subject:       subject,
		Target:        target,
		Authenticated: authenticated,
		Time:          helpers.MessageTime(entity),
	}, nil
}

// resolveSender attributes the message to a person by its Return-Path. When
// the envelope identity is an admin relaying someone else's mail, a single
// registered From address re-attributes the message to its author.
func (c *Classifier) resolveSender(entity *message.Entity) (*course.Person, error) {
	addr, ok := helpers.ReturnPath(entity)
	if !ok {
		return nil, &NoReturnPath{}
	}
	people := c.Course.FindPeople(course.Filter{Email: addr})
	switch len(people) {
	case 0:
		return nil, &UnregisteredAddress{
			MessageContext: handler.MessageContext{Person: course.Synthetic(addr)},
			Address:        addr,
		}
	case 1:
	default:
		return nil, &AmbiguousAddress{Address: addr, People: people}
	}
	person := people[0]

	if person.IsAdmin() {
		if author := c.fromPerson(entity); author != nil {
			c.Log.Debug("re-attributed relayed message",
				"return_path", person.Name, "from", author.Name)
			return author, nil
		}
	}
	return person, nil
}

// fromPerson resolves the single registered From author, or nil when From
// is missing, multi-valued, unregistered or ambiguous. Failures here are
// silent; the envelope identity stands.
func (c *Classifier) fromPerson(entity *message.Entity) *course.Person {
	addrs, err := entityFrom(entity)
	if err != nil || len(addrs) != 1 {
		return nil
	}
	people := c.Course.FindPeople(course.Filter{Email: addrs[0]})
	if len(people) != 1 {
		c.Log.Debug("From address did not resolve to one person",
			"from", addrs[0], "matches", len(people))
		return nil
	}
	return people[0]
}

// verify authenticates a message from a sender with a key on file. The
// returned raw is the decrypted payload with the envelope headers carried
// over, so handlers see routing headers and the verified body together.
func (c *Classifier) verify(raw []byte, entity *message.Entity, person *course.Person) (verified []byte, authenticated bool, err error) {
	var v *pgpmail.Verification
	var verr error
	if c.Keyring != nil {
		v, verr = c.Keyring.Verify(raw)
	}
	if verr != nil || v == nil || !v.Signed {
		if c.TrustTransport {
			// Infrastructure trust replaces cryptographic trust here;
			// responses may leak to intervening mail systems.
			c.Log.Warn("accepting unsigned message on transport trust",
				"person", person.Name, "error", verr)
			return raw, true, nil
		}
		return nil, false, &handler.UnsignedMessage{}
	}
	if v.SignatureError != nil {
		// The signer entity is nil on any validation failure; the issuer
		// key id still tells us whose signature it claimed to be.
		if issuer, ok := c.Keyring.EntityByID(v.IssuerKeyID); ok && pgpmail.KeyMatches(issuer, person.PGPKey) {
			return nil, false, &handler.UnverifiedSignature{
				Fingerprint: fmt.Sprintf("%X", issuer.PrimaryKey.Fingerprint),
			}
		}
		var fingerprint string
		if v.IssuerKeyID != 0 {
			fingerprint = fmt.Sprintf("%016X", v.IssuerKeyID)
		}
		return nil, false, &handler.WrongSignature{Fingerprint: fingerprint}
	}
	if v.Signer == nil || !pgpmail.KeyMatches(v.Signer, person.PGPKey) {
		return nil, false, &handler.WrongSignature{Fingerprint: v.SignerFingerprint()}
	}

	merged, err := mergeHeaders(entity, v.Entity)
	if err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

// mergeHeaders copies the envelope headers onto the verified payload.
// Content-Type, MIME-Version and Content-Disposition must describe the
// payload, so those stay.
func mergeHeaders(envelope, payload *message.Entity) ([]byte, error) {
	header := payload.Header.Copy()
	fields := envelope.Header.Fields()
	for fields.Next() {
		switch strings.ToLower(fields.Key()) {
		case "content-type", "mime-version", "content-disposition",
			"content-transfer-encoding":
			continue
		}
		if header.Has(fields.Key()) {
			continue
		}
		header.Set(fields.Key(), fields.Value())
	}
	body, err := helpers.EntityBytes(payload)
	if err != nil {
		return nil, err
	}
	inner, err := helpers.ReadEntity(body)
	if err != nil {
		return nil, err
	}
	full, err := message.New(header, inner.Body)
	if err != nil {
		return nil, err
	}
	return helpers.EntityBytes(full)
}

// extractTarget pulls the routing key out of a folded subject: the
// bracketed tag, minus any course qualifier before the last colon.
func extractTarget(subject string) (string, error) {
	match := tagRegexp.FindStringSubmatch(subject)
	if match == nil {
		return "", &InvalidSubject{
			MessageContext: handler.MessageContext{Subject: subject},
			Reason:         "no tag",
		}
	}
	tag := match[1]
	if tag == "" {
		return "", &InvalidSubject{
			MessageContext: handler.MessageContext{Subject: subject},
			Reason:         "empty tag",
		}
	}
	if idx := strings.LastIndex(tag, ":"); idx >= 0 {
		tag = tag[idx+1:]
	}
	return tag, nil
}

func entityFrom(entity *message.Entity) ([]string, error) {
	header := entity.Header.Get("From")
	if header == "" {
		return nil, nil
	}
	list, err := netmail.ParseAddressList(header)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(list))
	for i, a := range list {
		addrs[i] = a.Address
	}
	return addrs, nil
}
