// Package course holds the in-memory roster and grading state for a single
// course: people, assignments, grades, and the robot identity that signs
// automated mail. Everything is loaded fresh per invocation; there is no
// long-running state.
package course

import (
	"fmt"
	"sort"
	"strings"
)

// Course is a fully loaded course. The slices are kept sorted: assignments by
// due date, people by name, grades by student then assignment.
type Course struct {
	Name        string
	Assignments []*Assignment
	People      []*Person
	Grades      []*Grade
	Robot       *Person // sending identity for all automated mail
}

// Sort restores the canonical ordering after construction or mutation.
func (c *Course) Sort() {
	sort.Slice(c.Assignments, func(i, j int) bool {
		return c.Assignments[i].Before(c.Assignments[j])
	})
	sort.Slice(c.People, func(i, j int) bool {
		return c.People[i].Name < c.People[j].Name
	})
	sort.Slice(c.Grades, func(i, j int) bool {
		return c.Grades[i].Before(c.Grades[j])
	})
}

// Assignment returns the assignment with the given exact name.
func (c *Course) Assignment(name string) (*Assignment, error) {
	for _, a := range c.Assignments {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no such assignment: %q", name)
}

// Filter selects people by any combination of criteria. Zero values match
// everyone.
type Filter struct {
	Name  string // matches Name or any alias, exact
	Email string // matches any configured address, exact
	Group string
}

// FindPeople returns every person matching the filter, in roster order.
func (c *Course) FindPeople(f Filter) []*Person {
	var matched []*Person
	for _, p := range c.People {
		if f.Name != "" && !matchesName(p, f.Name) {
			continue
		}
		if f.Email != "" && !p.HasEmail(f.Email) {
			continue
		}
		if f.Group != "" && !p.InGroup(f.Group) {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}

func matchesName(p *Person, name string) bool {
	if p.Name == name {
		return true
	}
	for _, a := range p.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Person returns the unique person matching the filter, or an error when the
// match is missing or ambiguous.
func (c *Course) Person(f Filter) (*Person, error) {
	people := c.FindPeople(f)
	switch len(people) {
	case 0:
		return nil, fmt.Errorf("no person matches %+v", f)
	case 1:
		return people[0], nil
	default:
		names := make([]string, len(people))
		for i, p := range people {
			names[i] = p.Name
		}
		return nil, fmt.Errorf("%d people match %+v: %s",
			len(people), f, strings.Join(names, ", "))
	}
}

// Grade returns the grade for (student, assignment), or nil when none is on
// file.
func (c *Course) Grade(student *Person, assignment *Assignment) *Grade {
	for _, g := range c.Grades {
		if g.Student == student && g.Assignment == assignment {
			return g
		}
	}
	return nil
}

// StudentGrades returns all grades on file for one student, in course order.
func (c *Course) StudentGrades(student *Person) []*Grade {
	var grades []*Grade
	for _, g := range c.Grades {
		if g.Student == student {
			grades = append(grades, g)
		}
	}
	return grades
}

// Total computes the student's weighted course total. Assignments with no
// grade on file contribute zero.
func (c *Course) Total(student *Person) float64 {
	var total float64
	for _, a := range c.Assignments {
		g := c.Grade(student, a)
		if g == nil {
			continue
		}
		total += g.Points / float64(a.Points) * a.Weight
	}
	return total
}

// ActiveAssignments returns the assignments that have at least one grade on
// file, in assignment order.
func (c *Course) ActiveAssignments() []*Assignment {
	seen := make(map[*Assignment]bool)
	for _, g := range c.Grades {
		seen[g.Assignment] = true
	}
	var active []*Assignment
	for _, a := range c.Assignments {
		if seen[a] {
			active = append(active, a)
		}
	}
	return active
}

// ActiveGroups returns the sorted set of groups with at least one member.
func (c *Course) ActiveGroups() []string {
	seen := make(map[string]bool)
	for _, p := range c.People {
		for _, g := range p.Groups {
			seen[g] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
