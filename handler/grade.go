package handler

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/storage"
)

// Grade assigns a grade by email. Only authenticated admins may do this.
// The first text part of the message is the payload: point value on the
// first line, the remainder a free-text comment. An existing grade keeps
// its late and notified flags; points and comment are overwritten.
func Grade(p *Params) (*Reply, error) {
	if !p.Authenticated && !p.TrustTransport {
		return nil, &UnsignedMessage{InformationRequest: true}
	}
	if !p.Person.IsAdmin() {
		return nil, &PermissionViolation{AllowedGroups: course.AdminGroups}
	}

	student, err := SubjectStudent(p.Course, p.Subject)
	if err != nil {
		return nil, err
	}
	assignment, err := SubjectAssignment(p.Course, p.Subject)
	if err != nil {
		return nil, err
	}

	body, ok, err := helpers.PlainTextBody(p.Raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingGrade{}
	}
	parsed, err := storage.ParseGrade(strings.NewReader(body), assignment, student)
	if err != nil {
		p.Log.Warn("unparseable grade payload",
			"student", student.Name, "assignment", assignment.Name, "error", err)
		return nil, &MissingGrade{}
	}

	grade := parsed
	old, err := storage.LoadGrade(p.Basedir, assignment, student)
	switch {
	case err == nil:
		old.Points = parsed.Points
		old.Comment = parsed.Comment
		grade = old
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	p.Log.Info("set grade",
		"student", student.Name, "assignment", assignment.Name, "points", grade.Points)
	if !p.DryRun {
		if err := storage.SaveGrade(p.Basedir, grade); err != nil {
			return nil, err
		}
	}
	return &Reply{
		Subject:  fmt.Sprintf("Set %s grade on %s to %g", student.Name, assignment.Name, grade.Points),
		Text:     fmt.Sprintf("Set comment to:\n\n%s\n", grade.Comment),
		Complete: true,
	}, nil
}
