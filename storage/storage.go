// Package storage persists grades on the filesystem.
//
// Layout, per course basedir:
//
//	{person-dir}/{assignment-dir}/grade     first line points, rest comment
//	{person-dir}/{assignment-dir}/mail/     maildir of submission copies
//	{person-dir}/{assignment-dir}/late      marker, presence = late
//	{person-dir}/{assignment-dir}/notified  marker, newer than grade = notified
//
// Directory names are display names with spaces replaced by underscores and
// quote/period characters stripped.
package storage

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gradekeeper/gradekeeper/config"
	"github.com/gradekeeper/gradekeeper/course"
)

const (
	gradeFile    = "grade"
	lateMarker   = "late"
	notifiedFile = "notified"

	// MailDirName is the per-assignment maildir of submission copies.
	MailDirName = "mail"
)

// Overridable in tests that need deterministic marker timestamps.
var nowFunc = time.Now

// FilesystemName converts a display name to a directory name.
func FilesystemName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	for _, drop := range []string{".", "'", `"`} {
		name = strings.ReplaceAll(name, drop, "")
	}
	return name
}

// AssignmentPath returns the directory holding one student's data for one
// assignment.
func AssignmentPath(basedir string, a *course.Assignment, p *course.Person) string {
	return filepath.Join(basedir, FilesystemName(p.Name), FilesystemName(a.Name))
}

// ParseGrade reads a grade payload: first line is the point value, the rest
// is a free-text comment.
func ParseGrade(r io.Reader, a *course.Assignment, p *course.Person) (*course.Grade, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	points, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return nil, fmt.Errorf("malformed points for %s, %s: %w", a.Name, p.Name, err)
	}
	rest, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	return &course.Grade{
		Student:    p,
		Assignment: a,
		Points:     points,
		Comment:    strings.TrimSpace(string(rest)),
	}, nil
}

// LoadGrade reads the persisted grade for (student, assignment), including
// the late and notified flags. Returns os.ErrNotExist (wrapped) when no grade
// is on file.
func LoadGrade(basedir string, a *course.Assignment, p *course.Person) (*course.Grade, error) {
	path := AssignmentPath(basedir, a, p)
	gpath := filepath.Join(path, gradeFile)
	f, err := os.Open(gpath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := ParseGrade(f, a, p)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(path, lateMarker)); err == nil {
		g.Late = true
	}
	npath := filepath.Join(path, notifiedFile)
	if nstat, err := os.Stat(npath); err == nil {
		gstat, err := os.Stat(gpath)
		if err == nil && nstat.ModTime().After(gstat.ModTime()) {
			g.Notified = true
		}
	}
	return g, nil
}

// SaveGrade writes the grade file, creating directories as needed. Marker
// files are untouched; use SetLate and SetNotified for those.
func SaveGrade(basedir string, g *course.Grade) error {
	path := AssignmentPath(basedir, g.Assignment, g.Student)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%g\n", g.Points)
	if g.Comment != "" {
		b.WriteString(g.Comment)
		b.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(path, gradeFile), []byte(b.String()), 0o644)
}

// SetLate touches the late marker for (student, assignment). Re-touching an
// existing marker is harmless.
func SetLate(basedir string, a *course.Assignment, p *course.Person) error {
	path := AssignmentPath(basedir, a, p)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return touch(filepath.Join(path, lateMarker))
}

// SetNotified touches the notified marker for a grade, recording that the
// student has been sent the current grade value.
func SetNotified(basedir string, g *course.Grade) error {
	path := AssignmentPath(basedir, g.Assignment, g.Student)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return touch(filepath.Join(path, notifiedFile))
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := nowFunc()
	return os.Chtimes(path, now, now)
}

// LoadGrades scans the course tree for persisted grades.
func LoadGrades(basedir string, crs *course.Course, log *slog.Logger) ([]*course.Grade, error) {
	var grades []*course.Grade
	for _, a := range crs.Assignments {
		for _, p := range crs.People {
			g, err := LoadGrade(basedir, a, p)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			log.Debug("loaded grade", "student", p.Name, "assignment", a.Name, "points", g.Points)
			grades = append(grades, g)
		}
	}
	return grades, nil
}

// LoadCourse loads the course configuration and all persisted grades from a
// course basedir.
func LoadCourse(basedir string, log *slog.Logger) (*course.Course, *config.Config, error) {
	cfg, err := config.LoadDir(basedir)
	if err != nil {
		return nil, nil, err
	}
	crs, err := cfg.BuildCourse()
	if err != nil {
		return nil, nil, err
	}
	grades, err := LoadGrades(basedir, crs, log)
	if err != nil {
		return nil, nil, err
	}
	crs.Grades = grades
	crs.Sort()
	log.Debug("loaded course", "name", crs.Name,
		"people", len(crs.People), "assignments", len(crs.Assignments),
		"grades", len(crs.Grades))
	return crs, cfg, nil
}

// Initialize stubs out the directory tree for every (person, assignment)
// pair.
func Initialize(basedir string, crs *course.Course, dryRun bool, log *slog.Logger) error {
	for _, p := range crs.People {
		for _, a := range crs.Assignments {
			path := AssignmentPath(basedir, a, p)
			if _, err := os.Stat(path); err == nil {
				continue
			}
			log.Debug("creating", "path", path)
			if dryRun {
				continue
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		}
	}
	return nil
}
