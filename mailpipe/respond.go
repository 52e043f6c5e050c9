package mailpipe

import (
	"fmt"
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/handler"
	"github.com/gradekeeper/gradekeeper/helpers"
)

// response is a synthesized answer to an invalid message, before salutation
// wrapping and protection.
type response struct {
	to      *course.Person
	subject string
	text    string
}

// synthesize maps each member of the invalid-message family to a response.
// A nil response with a nil error means the condition is deliberately not
// answered. This switch is the one place that knows the whole family; a new
// variant must get a case here.
func synthesize(err handler.InvalidMessage) (*response, error) {
	ctx := err.Context()
	switch e := err.(type) {
	case *NoReturnPath:
		return nil, nil
	case *AmbiguousAddress:
		return nil, nil

	case *UnregisteredAddress:
		return &response{
			to:      ctx.Person,
			subject: fmt.Sprintf("unregistered address %s", e.Address),
			text: fmt.Sprintf(
				"Your email address is not registered with gradekeeper for\n"+
					"%s.  If you feel it should be, contact your professor\n"+
					"or TA.", courseName(ctx)),
		}, nil

	case *handler.UnsignedMessage:
		if e.InformationRequest {
			var hint string
			if ctx.Person != nil && ctx.Person.PGPKey != "" {
				hint = fmt.Sprintf(
					"Please resubmit your request in an OpenPGP-signed email\n"+
						"using your PGP key %s.", ctx.Person.PGPKey)
			} else {
				hint = "We don't even have a PGP key on file for you.  Please talk\n" +
					"to your professor or TA about getting one set up."
			}
			return &response{
				to:      ctx.Person,
				subject: "must request information in a signed email",
				text: fmt.Sprintf(
					"We got an email from you with the following subject:\n"+
						"  %q\n"+
						"but we cannot provide the information unless we know it\n"+
						"really was you who asked for it.\n\n%s", ctx.Subject, hint),
			}, nil
		}
		return &response{
			to:      ctx.Person,
			subject: withMessageID("unsigned message", ctx),
			text:    "We received an email message from you without a valid\nPGP signature.",
		}, nil

	case *handler.WrongSignature:
		return &response{
			to:      ctx.Person,
			subject: withMessageID("wrong signature on", ctx),
			text: "We received an email message from you, but its signature\n" +
				"was not made by the key we have on file for you.  Contact\n" +
				"your professor or TA if your key has changed.",
		}, nil

	case *handler.UnverifiedSignature:
		return &response{
			to:      ctx.Person,
			subject: withMessageID("unverified signature on", ctx),
			text:    "We received an email message from you whose PGP signature\ncould not be verified.",
		}, nil

	case *Subjectless:
		return &response{
			to:      ctx.Person,
			subject: withMessageID("no subject in", ctx),
			text:    "We received an email message from you without a subject.",
		}, nil

	case *InvalidSubject:
		return &response{
			to:      ctx.Person,
			subject: e.Error(),
			text:    "We received an email message from you with an invalid\nsubject.",
		}, nil

	case *InvalidHandler:
		hint := "In fact, there are no available handlers for this\ncourse!"
		if len(e.Handlers) > 0 {
			hint = fmt.Sprintf("Perhaps you meant to use one of the following:\n  %s",
				strings.Join(e.Handlers, "\n  "))
		}
		return &response{
			to:      ctx.Person,
			subject: e.Error(),
			text: fmt.Sprintf(
				"We got an email from you with the following subject:\n"+
					"  %q\n"+
					"which does not match any handler name for\n"+
					"%s.\n%s", ctx.Subject, courseName(ctx), hint),
		}, nil

	case *handler.PermissionViolation:
		return &response{
			to:      ctx.Person,
			subject: "action not permitted",
			text: fmt.Sprintf(
				"We got an email from you requesting an action limited to\n"+
					"members of the following groups:\n  * %s",
				strings.Join(e.AllowedGroups, "\n  * ")),
		}, nil

	case *handler.InvalidStudentSubject:
		if len(e.Students) > 1 {
			names := make([]string, len(e.Students))
			for i, s := range e.Students {
				names[i] = s.Name
			}
			return &response{
				to:      ctx.Person,
				subject: "subject matches multiple students",
				text: fmt.Sprintf(
					"We got an email from you with the following subject:\n"+
						"  %q\n"+
						"but it matches several students:\n  * %s",
					ctx.Subject, strings.Join(names, "\n  * ")),
			}, nil
		}
		return &response{
			to:      ctx.Person,
			subject: e.Error(),
			text: fmt.Sprintf(
				"We got an email from you with the following subject:\n"+
					"  %q\n"+
					"which does not name a student registered for\n"+
					"%s.  Remember to use the student's full name.",
				ctx.Subject, courseName(ctx)),
		}, nil

	case *handler.InvalidAssignmentSubject:
		if len(e.Assignments) > 1 {
			names := make([]string, len(e.Assignments))
			for i, a := range e.Assignments {
				names[i] = a.Name
			}
			return &response{
				to:      ctx.Person,
				subject: "subject matches multiple assignments",
				text: fmt.Sprintf(
					"We got an email from you with the following subject:\n"+
						"  %q\n"+
						"but it matches several assignments:\n  * %s",
					ctx.Subject, strings.Join(names, "\n  * ")),
			}, nil
		}
		return &response{
			to:      ctx.Person,
			subject: e.Error(),
			text: fmt.Sprintf(
				"We got an email from you with the following subject:\n"+
					"  %q\n"+
					"which does not match any submittable assignment name\n"+
					"for %s.\n%s", ctx.Subject, courseName(ctx), assignmentHint(ctx)),
		}, nil

	case *handler.InvalidSubmission:
		return &response{
			to:      ctx.Person,
			subject: fmt.Sprintf("received invalid %s submission", e.Assignment.Name),
			text: fmt.Sprintf(
				"We received your submission for %s, but you are not\n"+
					"allowed to submit that assignment via email.", e.Assignment.Name),
		}, nil

	case *handler.MissingGrade:
		return &response{
			to:      ctx.Person,
			subject: withMessageID("missing grade in", ctx),
			text: "We received your grade-assignment email, but could not find\n" +
				"a point value on the first line of its text.",
		}, nil

	default:
		return nil, fmt.Errorf("no response mapping for %T", err)
	}
}

func courseName(ctx *handler.MessageContext) string {
	if ctx.Course == nil {
		return "this course"
	}
	return ctx.Course.Name
}

// withMessageID appends the original Message-ID to a subject prefix when one
// is available.
func withMessageID(prefix string, ctx *handler.MessageContext) string {
	if ctx.Original == nil {
		return prefix
	}
	entity, err := helpers.ReadEntity(ctx.Original)
	if err != nil {
		return prefix
	}
	id := helpers.MessageID(entity)
	if id == "" {
		return prefix
	}
	return fmt.Sprintf("%s <%s>", prefix, id)
}

func assignmentHint(ctx *handler.MessageContext) string {
	if ctx.Course != nil {
		for _, a := range ctx.Course.Assignments {
			if a.Submittable {
				return fmt.Sprintf(
					"Remember to use the full name for the assignment in the\n"+
						"subject.  For example:\n  %s submission", a.Name)
			}
		}
	}
	return "In fact, there are no submittable assignments for\nthis course!"
}
