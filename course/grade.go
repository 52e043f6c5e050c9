package course

// Grade records a student's score on one assignment.
//
// Late and Notified are derived from filesystem markers when the course is
// loaded: a "late" marker file sets Late, and a "notified" marker newer than
// the grade file sets Notified.
type Grade struct {
	Student    *Person
	Assignment *Assignment
	Points     float64
	Comment    string
	Late       bool
	Notified   bool
}

// Before orders grades by student name, breaking ties by assignment order.
func (g *Grade) Before(other *Grade) bool {
	if g.Student.Name != other.Student.Name {
		return g.Student.Name < other.Student.Name
	}
	return g.Assignment.Before(other.Assignment)
}
