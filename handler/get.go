package handler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/mailbox"
	"github.com/gradekeeper/gradekeeper/report"
	"github.com/gradekeeper/gradekeeper/storage"
)

// Get answers grade queries. Students get their own grades; admins may
// query the whole course, one student's grades, or one student's stored
// submissions for specific assignments, all selected by name substrings in
// the subject.
func Get(p *Params) (*Reply, error) {
	if !p.Authenticated && !p.TrustTransport {
		return nil, &UnsignedMessage{InformationRequest: true}
	}
	switch {
	case p.Person.IsAdmin():
		return adminReply(p)
	case p.Person.InGroup(course.GroupStudents):
		return studentReply(p, p.Person)
	default:
		return nil, fmt.Errorf("no grade access for groups %v of %s",
			p.Person.Groups, p.Person.Name)
	}
}

func adminReply(p *Params) (*Reply, error) {
	students := matchStudents(p.Course, p.Subject)
	switch len(students) {
	case 0:
		return &Reply{
			Subject:  fmt.Sprintf("All grades for %s", p.Course.Name),
			Text:     report.Tabulate(p.Course, true),
			Complete: true,
		}, nil
	case 1:
		assignments := matchAssignments(p.Course, p.Subject)
		if len(assignments) == 0 {
			return studentReply(p, students[0])
		}
		return submissionsReply(p, students[0], assignments)
	default:
		return nil, &InvalidStudentSubject{Students: students}
	}
}

// studentReply summarizes one student's grades. An empty record is a
// friendly reply, not an error.
func studentReply(p *Params, student *course.Person) (*Reply, error) {
	grades := p.Course.StudentGrades(student)
	if len(grades) == 0 {
		text := "We don't have any of your grades on file for this course."
		if student != p.Person {
			text = fmt.Sprintf("We don't have any grades for %s on file for this course.", student.Name)
		}
		return &Reply{
			Subject: fmt.Sprintf("no grades for %s", student.Alias()),
			Text:    text,
		}, nil
	}
	body, err := report.StudentBody(p.Course.Robot, grades)
	if err != nil {
		return nil, err
	}
	subject := "Your grade"
	if student != p.Person {
		subject = fmt.Sprintf("%s grades for %s", p.Course.Name, student.Name)
	}
	return &Reply{Subject: subject, Text: body, Complete: true}, nil
}

// submissionsReply collects a student's stored submission messages and
// grades for the named assignments.
func submissionsReply(p *Params, student *course.Person, assignments []*course.Assignment) (*Reply, error) {
	subject := fmt.Sprintf("%s assignment submissions for %s", p.Course.Name, student.Name)

	names := make([]string, len(assignments))
	for i, a := range assignments {
		names[i] = a.Name
	}
	reply := &Reply{
		Subject:  subject,
		Text:     fmt.Sprintf("%s:\n  * %s\n", subject, strings.Join(names, "\n  * ")),
		Complete: true,
	}

	for _, a := range assignments {
		if g := p.Course.Grade(student, a); g != nil {
			reply.Texts = append(reply.Texts,
				fmt.Sprintf("%s grade: %g\n\n%s\n", a.Name, g.Points, g.Comment))
		}
		dir := filepath.Join(storage.AssignmentPath(p.Basedir, a, student), storage.MailDirName)
		if !mailbox.IsMaildir(dir) {
			continue
		}
		md, err := mailbox.NewMaildir(dir)
		if err != nil {
			return nil, err
		}
		msgs, err := md.Messages()
		if err != nil {
			return nil, err
		}
		mailbox.Sort(msgs)
		for _, m := range msgs {
			reply.Messages = append(reply.Messages, m.Raw)
		}
	}
	return reply, nil
}
