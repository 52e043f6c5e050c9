package report

import (
	"fmt"
	"log/slog"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/storage"
)

// Email is a composed notification, not yet protected or sent. Grades lists
// the grades the recipient is being told about; after a successful send they
// are marked notified.
type Email struct {
	To      *course.Person
	Cc      []*course.Person
	Subject string
	Body    string
	Grades  []*course.Grade
}

// AssignmentEmails composes one notification per ungraded-notification
// student for a single assignment. A non-nil student restricts the batch to
// that student. Already-notified grades are skipped.
func AssignmentEmails(crs *course.Course, assignment *course.Assignment, student *course.Person, cc []*course.Person) ([]*Email, error) {
	students := crs.People
	if student != nil {
		students = []*course.Person{student}
	}
	var emails []*Email
	for _, s := range students {
		g := crs.Grade(s, assignment)
		if g == nil || g.Notified {
			continue
		}
		body, err := AssignmentBody(crs.Robot, g)
		if err != nil {
			return nil, err
		}
		emails = append(emails, &Email{
			To:      s,
			Cc:      cc,
			Subject: fmt.Sprintf("Your %s grade", assignment.Name),
			Body:    body,
			Grades:  []*course.Grade{g},
		})
	}
	return emails, nil
}

// StudentEmails composes one full-summary notification per student with
// grades on file. With old=false, students whose grades were all already
// notified are skipped; old=true resends everything.
func StudentEmails(crs *course.Course, student *course.Person, cc []*course.Person, old bool) ([]*Email, error) {
	students := crs.People
	if student != nil {
		students = []*course.Person{student}
	}
	var emails []*Email
	for _, s := range students {
		grades := crs.StudentGrades(s)
		if !old {
			var fresh []*course.Grade
			for _, g := range grades {
				if !g.Notified {
					fresh = append(fresh, g)
				}
			}
			grades = fresh
		}
		if len(grades) == 0 {
			continue
		}
		body, err := StudentBody(crs.Robot, grades)
		if err != nil {
			return nil, err
		}
		emails = append(emails, &Email{
			To:      s,
			Cc:      cc,
			Subject: "Your grade",
			Body:    body,
			Grades:  grades,
		})
	}
	return emails, nil
}

// CourseEmail composes the whole-course table for one professor or TA.
func CourseEmail(crs *course.Course, target *course.Person, cc []*course.Person) (*Email, error) {
	body, err := CourseBody(crs.Robot, crs, target.Alias())
	if err != nil {
		return nil, err
	}
	return &Email{
		To:      target,
		Cc:      cc,
		Subject: fmt.Sprintf("All grades for %s", crs.Name),
		Body:    body,
	}, nil
}

// MarkNotified records that the grades carried by a sent email have been
// communicated, so later notification batches skip them.
func MarkNotified(basedir string, email *Email, log *slog.Logger) error {
	for _, g := range email.Grades {
		if err := storage.SetNotified(basedir, g); err != nil {
			return err
		}
		log.Debug("marked notified",
			"student", g.Student.Name, "assignment", g.Assignment.Name)
	}
	return nil
}
