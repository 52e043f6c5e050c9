package mailpipe

import (
	"fmt"
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/handler"
)

// Classifier-stage members of the invalid-message family. Handler-stage
// members live in the handler package; responses for the whole set are
// synthesized in respond.go.

// NoReturnPath reports a message with no usable envelope sender. Never
// answered: replying to a forged envelope would make the robot a reflection
// vector.
type NoReturnPath struct {
	handler.MessageContext
}

func (e *NoReturnPath) Error() string { return "no Return-Path" }

// UnregisteredAddress reports a sender not on the roster.
type UnregisteredAddress struct {
	handler.MessageContext
	Address string
}

func (e *UnregisteredAddress) Error() string {
	return fmt.Sprintf("unregistered address %s", e.Address)
}

// AmbiguousAddress reports a sender address configured for several people.
// A roster fault, not a sender fault; logged, never answered.
type AmbiguousAddress struct {
	handler.MessageContext
	Address string
	People  []*course.Person
}

func (e *AmbiguousAddress) Error() string {
	names := make([]string, len(e.People))
	for i, p := range e.People {
		names[i] = p.Name
	}
	return fmt.Sprintf("ambiguous address %s (%s)", e.Address, strings.Join(names, ", "))
}

// Subjectless reports a message without a Subject header.
type Subjectless struct {
	handler.MessageContext
	MessageID string
}

func (e *Subjectless) Error() string { return "no subject" }

// InvalidSubject reports a subject without a usable routing tag. Reason is
// "no tag" or "empty tag"; the two cases are distinct to the sender.
type InvalidSubject struct {
	handler.MessageContext
	Reason string
}

func (e *InvalidSubject) Error() string {
	return fmt.Sprintf("%s in %q", e.Reason, e.Subject)
}

// InvalidHandler reports a routing target with no registered handler.
type InvalidHandler struct {
	handler.MessageContext
	Handlers []string // registered targets, sorted
}

func (e *InvalidHandler) Error() string {
	return fmt.Sprintf("no handler for %q", e.Target)
}
