package handler

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/storage"
)

const submissionMessage = "Return-Path: <bb@greyhavens.net>\r\n" +
	"Received: from smtp.home.net (smtp.home.net [10.0.0.1]) by smtp.mail.uu.edu" +
	" (Postfix) with ESMTP id 5BA225C83EF for <phys101@tower.edu>;" +
	" Sun, 09 Oct 2011 15:50:46 -0400\r\n" +
	"Message-ID: <123.456@home.net>\r\n" +
	"From: Billy B <bb@greyhavens.net>\r\n" +
	"To: phys101 <phys101@tower.edu>\r\n" +
	"Subject: [submit] assignment 1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"The answer is 42.\r\n"

const gradeMessage = "Return-Path: <eye@tower.edu>\r\n" +
	"Message-ID: <grade.1@tower.edu>\r\n" +
	"From: Sauron <eye@tower.edu>\r\n" +
	"To: phys101 <phys101@tower.edu>\r\n" +
	"Subject: [grade] Bilbo Baggins, Assignment 1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"9\r\n" +
	"\r\n" +
	"Units!\r\n"

func testCourse() *course.Course {
	robot := &course.Person{
		Name:    "Robot101",
		Emails:  []string{"phys101@tower.edu"},
		Aliases: []string{"phys-101 robot"},
		Groups:  []string{course.GroupRobot},
	}
	bilbo := &course.Person{
		Name:    "Bilbo Baggins",
		Emails:  []string{"bb@greyhavens.net"},
		Aliases: []string{"Billy"},
		Groups:  []string{course.GroupStudents},
	}
	frodo := &course.Person{
		Name:   "Frodo Baggins",
		Emails: []string{"fb@shire.org"},
		Groups: []string{course.GroupStudents},
	}
	sauron := &course.Person{
		Name:   "Sauron",
		Emails: []string{"eye@tower.edu"},
		Groups: []string{course.GroupProfessors},
	}
	a1 := &course.Assignment{
		Name: "Assignment 1", Points: 10, Weight: 0.5,
		Due:         time.Date(2011, 10, 8, 0, 0, 0, 0, time.UTC),
		Submittable: true,
	}
	attendance := &course.Assignment{
		Name: "Attendance 1", Points: 1, Weight: 0.5,
		Due: time.Date(2011, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	crs := &course.Course{
		Name:        "Physics 101",
		Assignments: []*course.Assignment{a1, attendance},
		People:      []*course.Person{robot, bilbo, frodo, sauron},
		Robot:       robot,
	}
	crs.Sort()
	return crs
}

func person(t *testing.T, crs *course.Course, email string) *course.Person {
	t.Helper()
	p, err := crs.Person(course.Filter{Email: email})
	require.NoError(t, err)
	return p
}

func newParams(t *testing.T, crs *course.Course, raw, subject string, sender string) *Params {
	t.Helper()
	return &Params{
		Basedir:       t.TempDir(),
		Course:        crs,
		Raw:           []byte(raw),
		Original:      []byte(raw),
		Person:        person(t, crs, sender),
		Subject:       subject,
		Authenticated: true,
		Time:          time.Date(2011, 10, 9, 19, 50, 46, 0, time.UTC),
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func maildirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "cur"))
	require.NoError(t, err)
	return len(entries)
}

func TestSubmitFilesMessage(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")

	reply, err := Submit(p)
	require.NoError(t, err)
	require.Equal(t, "received Assignment 1 submission", reply.Subject)
	require.Contains(t, reply.Text, "We received your submission for Assignment 1 on ")
	require.False(t, reply.Complete)

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	mdir := filepath.Join(storage.AssignmentPath(p.Basedir, a, p.Person), storage.MailDirName)
	require.Equal(t, 1, maildirEntries(t, mdir))
}

func TestSubmitIdempotent(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")

	_, err := Submit(p)
	require.NoError(t, err)
	_, err = Submit(p)
	require.NoError(t, err)

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	mdir := filepath.Join(storage.AssignmentPath(p.Basedir, a, p.Person), storage.MailDirName)
	require.Equal(t, 1, maildirEntries(t, mdir), "same Message-ID must not be filed twice")
}

func TestSubmitUnknownAssignment(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[submit] bogus thing", "bb@greyhavens.net")

	_, err := Submit(p)
	var invalid *InvalidAssignmentSubject
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, invalid.Assignments)
}

func TestSubmitNotSubmittable(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[submit] attendance 1", "bb@greyhavens.net")

	_, err := Submit(p)
	var invalid *InvalidSubmission
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "Attendance 1", invalid.Assignment.Name)
}

func TestSubmitLateMarking(t *testing.T) {
	crs := testCourse()
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		maxLate time.Duration
		late    bool
	}{
		{name: "no grace", maxLate: 0, late: true},
		{name: "generous grace", maxLate: 72 * time.Hour, late: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")
			p.MaxLate = tc.maxLate
			_, err := Submit(p)
			require.NoError(t, err)

			marker := filepath.Join(storage.AssignmentPath(p.Basedir, a, p.Person), "late")
			_, statErr := os.Stat(marker)
			if tc.late {
				require.NoError(t, statErr)
			} else {
				require.True(t, os.IsNotExist(statErr))
			}
		})
	}
}

func TestSubmitLateMarkerSurvivesReplay(t *testing.T) {
	crs := testCourse()
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)

	p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")
	_, err = Submit(p)
	require.NoError(t, err)

	marker := filepath.Join(storage.AssignmentPath(p.Basedir, a, p.Person), "late")
	_, err = os.Stat(marker)
	require.NoError(t, err)

	// A replay, even with a large grace period, must not clear the marker.
	p.MaxLate = 72 * time.Hour
	_, err = Submit(p)
	require.NoError(t, err)
	_, err = os.Stat(marker)
	require.NoError(t, err)
}

func TestSubmitExtractsAttachments(t *testing.T) {
	raw := "Return-Path: <bb@greyhavens.net>\r\n" +
		"Message-ID: <att.1@home.net>\r\n" +
		"Subject: [submit] assignment 1\r\n" +
		"Content-Type: multipart/mixed; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attached.\r\n" +
		"--frontier\r\n" +
		"Content-Type: application/octet-stream; name=\"solution.txt\"\r\n" +
		"Content-Disposition: attachment; filename=\"solution.txt\"\r\n" +
		"\r\n" +
		"hello world\r\n" +
		"--frontier--\r\n"

	crs := testCourse()
	p := newParams(t, crs, raw, "[submit] assignment 1", "bb@greyhavens.net")
	_, err := Submit(p)
	require.NoError(t, err)

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	target := filepath.Join(storage.AssignmentPath(p.Basedir, a, p.Person), "solution.txt")
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(content), "hello world")

	// Replaying must not produce solution.txt.1.
	_, err = Submit(p)
	require.NoError(t, err)
	_, err = os.Stat(target + ".1")
	require.True(t, os.IsNotExist(err))
}

func TestSubmitDryRun(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")
	p.DryRun = true

	reply, err := Submit(p)
	require.NoError(t, err)
	require.NotNil(t, reply)

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	_, err = os.Stat(storage.AssignmentPath(p.Basedir, a, p.Person))
	require.True(t, os.IsNotExist(err), "dry run must not touch the store")
}

func TestGradeRoundTrip(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, gradeMessage, "[grade] bilbo baggins, assignment 1", "eye@tower.edu")

	reply, err := Grade(p)
	require.NoError(t, err)
	require.Equal(t, "Set Bilbo Baggins grade on Assignment 1 to 9", reply.Subject)
	require.Equal(t, "Set comment to:\n\nUnits!\n", reply.Text)
	require.True(t, reply.Complete)

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	student := person(t, crs, "bb@greyhavens.net")
	g, err := storage.LoadGrade(p.Basedir, a, student)
	require.NoError(t, err)
	require.Equal(t, 9.0, g.Points)
	require.Equal(t, "Units!", g.Comment)
}

func TestGradeMergePreservesLate(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, gradeMessage, "[grade] bilbo baggins, assignment 1", "eye@tower.edu")

	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	student := person(t, crs, "bb@greyhavens.net")
	require.NoError(t, storage.SaveGrade(p.Basedir, &course.Grade{
		Student: student, Assignment: a, Points: 2, Comment: "old",
	}))
	require.NoError(t, storage.SetLate(p.Basedir, a, student))

	_, err = Grade(p)
	require.NoError(t, err)

	g, err := storage.LoadGrade(p.Basedir, a, student)
	require.NoError(t, err)
	require.Equal(t, 9.0, g.Points)
	require.Equal(t, "Units!", g.Comment)
	require.True(t, g.Late, "merge must keep the late flag")
}

func TestGradeRequiresAuthentication(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, gradeMessage, "[grade] bilbo baggins, assignment 1", "eye@tower.edu")
	p.Authenticated = false

	_, err := Grade(p)
	var unsigned *UnsignedMessage
	require.ErrorAs(t, err, &unsigned)
	require.True(t, unsigned.InformationRequest)
}

func TestGradeRequiresAdmin(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, gradeMessage, "[grade] bilbo baggins, assignment 1", "bb@greyhavens.net")

	_, err := Grade(p)
	var violation *PermissionViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, course.AdminGroups, violation.AllowedGroups)
}

func TestGradeMissingPayload(t *testing.T) {
	raw := strings.Replace(gradeMessage, "9\r\n\r\nUnits!\r\n", "\r\n", 1)
	crs := testCourse()
	p := newParams(t, crs, raw, "[grade] bilbo baggins, assignment 1", "eye@tower.edu")

	_, err := Grade(p)
	var missing *MissingGrade
	require.ErrorAs(t, err, &missing)
}

func TestGetStudentOwnGrades(t *testing.T) {
	crs := testCourse()
	student := person(t, crs, "bb@greyhavens.net")
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	crs.Grades = []*course.Grade{
		{Student: student, Assignment: a, Points: 5, Comment: "Good work."},
	}

	p := newParams(t, crs, submissionMessage, "[get]", "bb@greyhavens.net")
	reply, err := Get(p)
	require.NoError(t, err)
	require.Equal(t, "Your grade", reply.Subject)
	require.True(t, reply.Complete)
	require.Contains(t, reply.Text, "Assignment 1:\t5 out of 10 available points.")
}

func TestGetStudentWithoutGrades(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[get]", "bb@greyhavens.net")

	reply, err := Get(p)
	require.NoError(t, err)
	require.Equal(t, "no grades for Billy", reply.Subject)
	require.Equal(t, "We don't have any of your grades on file for this course.", reply.Text)
	require.False(t, reply.Complete)
}

func TestGetAdminTabulation(t *testing.T) {
	crs := testCourse()
	student := person(t, crs, "bb@greyhavens.net")
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	crs.Grades = []*course.Grade{
		{Student: student, Assignment: a, Points: 5},
	}

	p := newParams(t, crs, submissionMessage, "[get]", "eye@tower.edu")
	reply, err := Get(p)
	require.NoError(t, err)
	require.Equal(t, "All grades for Physics 101", reply.Subject)
	require.Contains(t, reply.Text, "Student\tAssignment 1")
	require.Contains(t, reply.Text, "Bilbo Baggins\t5")
}

func TestGetAdminSingleStudent(t *testing.T) {
	crs := testCourse()
	student := person(t, crs, "bb@greyhavens.net")
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	crs.Grades = []*course.Grade{
		{Student: student, Assignment: a, Points: 5},
	}

	p := newParams(t, crs, submissionMessage, "[get] bilbo baggins", "eye@tower.edu")
	reply, err := Get(p)
	require.NoError(t, err)
	require.Equal(t, "Physics 101 grades for Bilbo Baggins", reply.Subject)
	require.Contains(t, reply.Text, "5 out of 10 available points.")
}

func TestGetAmbiguousStudentSubject(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage,
		"[get] bilbo baggins and frodo baggins", "eye@tower.edu")

	_, err := Get(p)
	var invalid *InvalidStudentSubject
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Students, 2)
	require.Contains(t, err.Error(), "Bilbo Baggins")
	require.Contains(t, err.Error(), "Frodo Baggins")
}

func TestGetAdminSubmissions(t *testing.T) {
	crs := testCourse()
	student := person(t, crs, "bb@greyhavens.net")
	a, err := crs.Assignment("Assignment 1")
	require.NoError(t, err)
	crs.Grades = []*course.Grade{
		{Student: student, Assignment: a, Points: 5, Comment: "Good work."},
	}

	// File a submission first, then ask for it back.
	p := newParams(t, crs, submissionMessage, "[submit] assignment 1", "bb@greyhavens.net")
	_, err = Submit(p)
	require.NoError(t, err)

	q := newParams(t, crs, submissionMessage, "[get] bilbo baggins, assignment 1", "eye@tower.edu")
	q.Basedir = p.Basedir
	reply, err := Get(q)
	require.NoError(t, err)
	require.Equal(t, "Physics 101 assignment submissions for Bilbo Baggins", reply.Subject)
	require.Contains(t, reply.Text, "  * Assignment 1")
	require.Equal(t, []string{"Assignment 1 grade: 5\n\nGood work.\n"}, reply.Texts)
	require.Len(t, reply.Messages, 1)
	require.Contains(t, string(reply.Messages[0]), "The answer is 42.")
}

func TestGetRequiresAuthentication(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[get]", "bb@greyhavens.net")
	p.Authenticated = false

	_, err := Get(p)
	var unsigned *UnsignedMessage
	require.ErrorAs(t, err, &unsigned)
	require.True(t, unsigned.InformationRequest)
}

func TestGetAcceptsTransportTrust(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, submissionMessage, "[get]", "bb@greyhavens.net")
	p.Authenticated = false
	p.TrustTransport = true

	reply, err := Get(p)
	require.NoError(t, err)
	require.Equal(t, "no grades for Billy", reply.Subject)
}

func TestGradeAcceptsTransportTrust(t *testing.T) {
	crs := testCourse()
	p := newParams(t, crs, gradeMessage, "[grade] bilbo baggins, assignment 1", "eye@tower.edu")
	p.Authenticated = false
	p.TrustTransport = true

	reply, err := Grade(p)
	require.NoError(t, err)
	require.Equal(t, "Set Bilbo Baggins grade on Assignment 1 to 9", reply.Subject)
}

func TestRegistryKeys(t *testing.T) {
	require.Equal(t, []string{"get", "grade", "submit"}, DefaultRegistry().Keys())
}

func TestSubjectAssignmentAmbiguous(t *testing.T) {
	crs := testCourse()
	_, err := SubjectAssignment(crs, "[submit] assignment 1 attendance 1")
	var invalid *InvalidAssignmentSubject
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Assignments, 2)
}
