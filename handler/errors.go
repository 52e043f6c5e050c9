package handler

import (
	"fmt"
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
)

// MessageContext carries whatever the pipeline knew about a message at the
// point processing failed, so the response stage can address and explain the
// failure without re-deriving anything. Fields are filled as the stages
// succeed; Enrich never overwrites a value an error was created with.
type MessageContext struct {
	Course   *course.Course
	Original []byte
	Person   *course.Person
	Subject  string
	Target   string
}

// Context lets every error embedding MessageContext satisfy InvalidMessage.
func (c *MessageContext) Context() *MessageContext { return c }

// Enrich fills unset context fields from the pipeline state.
func (c *MessageContext) Enrich(crs *course.Course, original []byte, person *course.Person, subject, target string) {
	if c.Course == nil {
		c.Course = crs
	}
	if c.Original == nil {
		c.Original = original
	}
	if c.Person == nil {
		c.Person = person
	}
	if c.Subject == "" {
		c.Subject = subject
	}
	if c.Target == "" {
		c.Target = target
	}
}

// InvalidMessage is the closed family of answerable message faults. The
// batch driver converts them to response emails in continue mode; anything
// else aborts the batch. Response synthesis switches exhaustively over the
// concrete types, so a new variant must be added there as well.
type InvalidMessage interface {
	error
	Context() *MessageContext
}

// UnsignedMessage reports a message that needed a valid signature and had
// none. InformationRequest marks refusals of grade queries and mutations,
// which get a longer explanation than a dropped submission.
type UnsignedMessage struct {
	MessageContext
	InformationRequest bool
}

func (e *UnsignedMessage) Error() string { return "unsigned message" }

// WrongSignature reports a structurally valid signature made by a key other
/// than the one on file for the sender. Never downgraded: an unexpected key
// is evidence of impersonation, not of a user without PGP.
type WrongSignature struct {
	MessageContext
	Fingerprint string // signing key, "" when the key is not on the ring
}

func (e *WrongSignature) Error() string {
	if e.Fingerprint == "" {
		return "message signed by an unknown key"
	}
	return fmt.Sprintf("message signed by unexpected key %s", e.Fingerprint)
}

// UnverifiedSignature reports a signature by the expected key that failed
// validation.
type UnverifiedSignature struct {
	MessageContext
	Fingerprint string
}

func (e *UnverifiedSignature) Error() string { return "unverified signature" }

// PermissionViolation reports an authenticated sender without the group
// membership an operation requires.
type PermissionViolation struct {
	MessageContext
	AllowedGroups []string
}

func (e *PermissionViolation) Error() string { return "action not permitted" }

// InvalidStudentSubject reports a subject that matched no student or more
// than one.
type InvalidStudentSubject struct {
	MessageContext
	Students []*course.Person // every match; empty when none
}

func (e *InvalidStudentSubject) Error() string {
	if len(e.Students) == 0 {
		return fmt.Sprintf("no student found in %q", e.Subject)
	}
	names := make([]string, len(e.Students))
	for i, s := range e.Students {
		names[i] = s.Name
	}
	return fmt.Sprintf("subject matches multiple students: %s", strings.Join(names, ", "))
}

// InvalidAssignmentSubject reports a subject that matched no assignment or
// more than one.
type InvalidAssignmentSubject struct {
	MessageContext
	Assignments []*course.Assignment
}

func (e *InvalidAssignmentSubject) Error() string {
	if len(e.Assignments) == 0 {
		return fmt.Sprintf("no assignment found in %q", e.Subject)
	}
	names := make([]string, len(e.Assignments))
	for i, a := range e.Assignments {
		names[i] = a.Name
	}
	return fmt.Sprintf("subject matches multiple assignments: %s", strings.Join(names, ", "))
}

// InvalidSubmission reports a submission for an assignment not accepting
// email submissions.
type InvalidSubmission struct {
	MessageContext
	Assignment *course.Assignment
}

func (e *InvalidSubmission) Error() string {
	return fmt.Sprintf("received invalid %s submission", e.Assignment.Name)
}

// MissingGrade reports a grade-assignment message without a parseable grade
// payload.
type MissingGrade struct {
	MessageContext
}

func (e *MissingGrade) Error() string { return "missing grade" }
