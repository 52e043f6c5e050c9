package handler

import (
	"strings"

	"github.com/gradekeeper/gradekeeper/course"
)

// matchStudents returns every person whose name appears, case folded, as a
// substring of the folded subject.
func matchStudents(crs *course.Course, subject string) []*course.Person {
	var matched []*course.Person
	for _, p := range crs.People {
		if strings.Contains(subject, strings.ToLower(p.Name)) {
			matched = append(matched, p)
		}
	}
	return matched
}

// matchAssignments returns every assignment whose name appears, case folded,
// as a substring of the folded subject.
func matchAssignments(crs *course.Course, subject string) []*course.Assignment {
	var matched []*course.Assignment
	for _, a := range crs.Assignments {
		if strings.Contains(subject, strings.ToLower(a.Name)) {
			matched = append(matched, a)
		}
	}
	return matched
}

// SubjectStudent resolves the single student named by the subject.
func SubjectStudent(crs *course.Course, subject string) (*course.Person, error) {
	students := matchStudents(crs, subject)
	if len(students) != 1 {
		return nil, &InvalidStudentSubject{
			MessageContext: MessageContext{Subject: subject},
			Students:       students,
		}
	}
	return students[0], nil
}

// SubjectAssignment resolves the single assignment named by the subject.
func SubjectAssignment(crs *course.Course, subject string) (*course.Assignment, error) {
	assignments := matchAssignments(crs, subject)
	if len(assignments) != 1 {
		return nil, &InvalidAssignmentSubject{
			MessageContext: MessageContext{Subject: subject},
			Assignments:    assignments,
		}
	}
	return assignments[0], nil
}
