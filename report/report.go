// Package report renders grade information for people: the tab-delimited
// course table and the notification email bodies sent by the email
// subcommands and the grade query handler.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gonum.org/v1/gonum/stat"

	"github.com/gradekeeper/gradekeeper/course"
)

var assignmentTemplate = template.Must(template.New("assignment").Parse(
	`{{.Student}},

You got {{.Points}} out of {{.Available}} available points on {{.Assignment}}.
{{if .Comment}}
{{.Comment}}
{{end}}
Yours,
{{.Author}}
`))

var studentTemplate = template.Must(template.New("student").Parse(
	`{{.Student}},

Grades:
{{range .Grades}}  * {{.Assignment}}:{{"\t"}}{{.Points}} out of {{.Available}} available points.
{{end}}
Comments:
{{range .Grades}}{{if .Comment}}
{{.Assignment}}

{{.Comment}}
{{end}}{{end}}
Yours,
{{.Author}}
`))

var courseTemplate = template.Must(template.New("course").Parse(
	`{{.Target}},

Here are the (tab delimited) course grades to date:

{{.Table}}
The available points (and weights) for each assignment are:
{{range .Assignments}}  * {{.Name}}:{{"\t"}}{{.Points}}{{"\t"}}{{.Weight}}
{{end}}
Yours,
{{.Author}}
`))

type gradeRow struct {
	Assignment string
	Points     string
	Available  int
	Comment    string
}

func points(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// AssignmentBody renders the notification body for a single grade.
func AssignmentBody(author *course.Person, g *course.Grade) (string, error) {
	var buf strings.Builder
	err := assignmentTemplate.Execute(&buf, map[string]interface{}{
		"Student":    g.Student.Alias(),
		"Points":     points(g.Points),
		"Available":  g.Assignment.Points,
		"Assignment": g.Assignment.Name,
		"Comment":    g.Comment,
		"Author":     author.Alias(),
	})
	return buf.String(), err
}

// StudentBody renders a student's full grade summary. The grades must all
// belong to the same student.
func StudentBody(author *course.Person, grades []*course.Grade) (string, error) {
	sorted := make([]*course.Grade, len(grades))
	copy(sorted, grades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	rows := make([]gradeRow, len(sorted))
	for i, g := range sorted {
		rows[i] = gradeRow{
			Assignment: g.Assignment.Name,
			Points:     points(g.Points),
			Available:  g.Assignment.Points,
			Comment:    g.Comment,
		}
	}
	var buf strings.Builder
	err := studentTemplate.Execute(&buf, map[string]interface{}{
		"Student": sorted[0].Student.Alias(),
		"Grades":  rows,
		"Author":  author.Alias(),
	})
	return buf.String(), err
}

// CourseBody renders the whole-course summary sent to professors.
func CourseBody(author *course.Person, crs *course.Course, target string) (string, error) {
	var buf strings.Builder
	err := courseTemplate.Execute(&buf, map[string]interface{}{
		"Target":      target,
		"Table":       Tabulate(crs, true),
		"Assignments": crs.ActiveAssignments(),
		"Author":      author.Alias(),
	})
	return buf.String(), err
}

// Tabulate renders the course grades as a tab-delimited table, one row per
// graded student. A Total column appears only when every assignment has at
// least one grade on file, so partial-course tables are not misread as
// course totals. With statistics, Mean and Std. Dev. rows follow a "--"
// separator.
func Tabulate(crs *course.Course, statistics bool) string {
	assignments := crs.ActiveAssignments()
	students := gradedStudents(crs)
	withTotal := len(assignments) == len(crs.Assignments) && len(assignments) > 0

	var buf strings.Builder
	buf.WriteString("Student")
	for _, a := range assignments {
		buf.WriteString("\t")
		buf.WriteString(a.Name)
	}
	if withTotal {
		buf.WriteString("\tTotal")
	}
	buf.WriteString("\n")

	for _, s := range students {
		buf.WriteString(s.Name)
		for _, a := range assignments {
			buf.WriteString("\t")
			if g := crs.Grade(s, a); g != nil {
				buf.WriteString(points(g.Points))
			} else {
				buf.WriteString("-")
			}
		}
		if withTotal {
			fmt.Fprintf(&buf, "\t%s", points(crs.Total(s)))
		}
		buf.WriteString("\n")
	}

	if statistics {
		buf.WriteString("--\n")
		writeStatRow(&buf, "Mean", crs, assignments, students, withTotal, stat.Mean)
		writeStatRow(&buf, "Std. Dev.", crs, assignments, students, withTotal, stat.StdDev)
	}
	return buf.String()
}

func writeStatRow(buf *strings.Builder, label string, crs *course.Course,
	assignments []*course.Assignment, students []*course.Person,
	withTotal bool, f func([]float64, []float64) float64) {
	buf.WriteString(label)
	for _, a := range assignments {
		var xs []float64
		for _, g := range crs.Grades {
			if g.Assignment == a {
				xs = append(xs, g.Points)
			}
		}
		fmt.Fprintf(buf, "\t%.2f", f(xs, nil))
	}
	if withTotal {
		var totals []float64
		for _, s := range students {
			totals = append(totals, crs.Total(s))
		}
		fmt.Fprintf(buf, "\t%.2f", f(totals, nil))
	}
	buf.WriteString("\n")
}

func gradedStudents(crs *course.Course) []*course.Person {
	seen := make(map[*course.Person]bool)
	var students []*course.Person
	for _, g := range crs.Grades {
		if !seen[g.Student] {
			seen[g.Student] = true
			students = append(students, g.Student)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students
}
