package course

import "time"

// Assignment is a gradeable unit of course work.
type Assignment struct {
	Name        string
	Points      int
	Weight      float64 // contribution to the course total, usually summing to 1
	Due         time.Time
	Submittable bool // may students submit this assignment by email
}

// Before orders assignments by due date, breaking ties by name.
func (a *Assignment) Before(other *Assignment) bool {
	if !a.Due.Equal(other.Due) {
		return a.Due.Before(other.Due)
	}
	return a.Name < other.Name
}
