package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gradekeeper/gradekeeper/course"
)

func fixtureCourse() *course.Course {
	robot := &course.Person{
		Name:    "Robot101",
		Emails:  []string{"phys101@tower.edu"},
		Aliases: []string{"phys-101 robot"},
		Groups:  []string{course.GroupRobot},
	}
	bilbo := &course.Person{
		Name:    "Bilbo Baggins",
		Emails:  []string{"bb@shire.org"},
		Aliases: []string{"Billy"},
		Groups:  []string{course.GroupStudents},
	}
	frodo := &course.Person{
		Name:   "Frodo Baggins",
		Emails: []string{"fb@shire.org"},
		Groups: []string{course.GroupStudents},
	}
	a1 := &course.Assignment{
		Name: "Assignment 1", Points: 10, Weight: 0.5,
		Due: time.Date(2011, 10, 8, 0, 0, 0, 0, time.UTC), Submittable: true,
	}
	exam := &course.Assignment{
		Name: "Exam 1", Points: 3, Weight: 0.5,
		Due: time.Date(2011, 11, 8, 0, 0, 0, 0, time.UTC),
	}
	crs := &course.Course{
		Name:        "Physics 101",
		Assignments: []*course.Assignment{a1, exam},
		People:      []*course.Person{bilbo, frodo, robot},
		Robot:       robot,
		Grades: []*course.Grade{
			{Student: bilbo, Assignment: a1, Points: 5, Comment: "Good work."},
			{Student: bilbo, Assignment: exam, Points: 1},
			{Student: frodo, Assignment: a1, Points: 9},
			{Student: frodo, Assignment: exam, Points: 3, Notified: true},
		},
	}
	crs.Sort()
	return crs
}

func TestAssignmentBody(t *testing.T) {
	crs := fixtureCourse()
	g := crs.Grades[0]
	body, err := AssignmentBody(crs.Robot, g)
	require.NoError(t, err)
	require.Equal(t,
		"Billy,\n\nYou got 5 out of 10 available points on Assignment 1.\n\nGood work.\n\nYours,\nphys-101 robot\n",
		body)
}

func TestAssignmentBodyWithoutComment(t *testing.T) {
	crs := fixtureCourse()
	g := crs.Grade(crs.People[0], crs.Assignments[1]) // Bilbo, Exam 1
	require.NotNil(t, g)
	body, err := AssignmentBody(crs.Robot, g)
	require.NoError(t, err)
	require.Equal(t,
		"Billy,\n\nYou got 1 out of 3 available points on Exam 1.\n\nYours,\nphys-101 robot\n",
		body)
}

func TestStudentBody(t *testing.T) {
	crs := fixtureCourse()
	bilbo := crs.People[0]
	body, err := StudentBody(crs.Robot, crs.StudentGrades(bilbo))
	require.NoError(t, err)
	require.Contains(t, body, "Billy,\n\nGrades:\n")
	require.Contains(t, body, "  * Assignment 1:\t5 out of 10 available points.\n")
	require.Contains(t, body, "  * Exam 1:\t1 out of 3 available points.\n")
	require.Contains(t, body, "Comments:\n\nAssignment 1\n\nGood work.\n")
	require.True(t, strings.HasSuffix(body, "Yours,\nphys-101 robot\n"))
}

func TestTabulate(t *testing.T) {
	crs := fixtureCourse()
	table := Tabulate(crs, false)
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Student\tAssignment 1\tExam 1\tTotal", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "Bilbo Baggins\t5\t1\t0.416"))
	require.True(t, strings.HasPrefix(lines[2], "Frodo Baggins\t9\t3\t0.95"))
}

func TestTabulateStatistics(t *testing.T) {
	crs := fixtureCourse()
	table := Tabulate(crs, true)
	require.Contains(t, table, "--\n")
	require.Contains(t, table, "Mean\t7.00\t2.00\t")
	require.Contains(t, table, "Std. Dev.\t")
}

func TestTabulateNoTotalWhenAssignmentUngraded(t *testing.T) {
	crs := fixtureCourse()
	// Drop every Exam 1 grade so only one of two assignments is active.
	var kept []*course.Grade
	for _, g := range crs.Grades {
		if g.Assignment.Name != "Exam 1" {
			kept = append(kept, g)
		}
	}
	crs.Grades = kept
	table := Tabulate(crs, false)
	require.NotContains(t, table, "Total")
	require.Contains(t, table, "Student\tAssignment 1\n")
}

func TestStudentEmailsSkipNotified(t *testing.T) {
	crs := fixtureCourse()
	emails, err := StudentEmails(crs, nil, nil, false)
	require.NoError(t, err)
	// Frodo's exam grade is already notified, the homework one is not.
	var recipients []string
	for _, e := range emails {
		recipients = append(recipients, e.To.Name)
	}
	require.Equal(t, []string{"Bilbo Baggins", "Frodo Baggins"}, recipients)
	for _, e := range emails {
		if e.To.Name == "Frodo Baggins" {
			require.Len(t, e.Grades, 1)
			require.Equal(t, "Assignment 1", e.Grades[0].Assignment.Name)
		}
	}
}

func TestAssignmentEmails(t *testing.T) {
	crs := fixtureCourse()
	exam := crs.Assignments[1]
	emails, err := AssignmentEmails(crs, exam, nil, nil)
	require.NoError(t, err)
	require.Len(t, emails, 1, "Frodo was already notified")
	require.Equal(t, "Bilbo Baggins", emails[0].To.Name)
	require.Equal(t, "Your Exam 1 grade", emails[0].Subject)
}

func TestCourseEmail(t *testing.T) {
	crs := fixtureCourse()
	prof := &course.Person{Name: "Gandalf", Emails: []string{"g@tower.edu"},
		Groups: []string{course.GroupProfessors}}
	email, err := CourseEmail(crs, prof, nil)
	require.NoError(t, err)
	require.Equal(t, "All grades for Physics 101", email.Subject)
	require.Contains(t, email.Body, "Gandalf,\n\nHere are the (tab delimited) course grades to date:\n")
	require.Contains(t, email.Body, "  * Assignment 1:\t10\t0.5\n")
}
