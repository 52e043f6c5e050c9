package course

// Group names with special meaning for access control.
const (
	GroupStudents   = "students"
	GroupAssistants = "assistants"
	GroupProfessors = "professors"
	GroupRobot      = "robot"
)

// AdminGroups lists the groups whose members may act on other people's data
// (whole-course tabulations, arbitrary grade queries, grade assignment).
var AdminGroups = []string{GroupProfessors, GroupAssistants}

// Person is a course participant. The email list uniquely identifies a person
// within a correctly configured course; duplicate emails across people are a
// configuration error surfaced during message classification, not here.
type Person struct {
	Name    string
	Emails  []string // first entry is the primary address
	PGPKey  string   // key id, short or 0x-prefixed; empty = no key on file
	Aliases []string // first entry used for direct address
	Groups  []string
}

// Alias returns the name to use when addressing the person directly.
func (p *Person) Alias() string {
	if len(p.Aliases) > 0 {
		return p.Aliases[0]
	}
	return p.Name
}

// PrimaryEmail returns the first configured address, or "" when none exist.
func (p *Person) PrimaryEmail() string {
	if len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0]
}

// InGroup reports whether the person belongs to the named group.
func (p *Person) InGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the person belongs to any of AdminGroups.
func (p *Person) IsAdmin() bool {
	for _, g := range AdminGroups {
		if p.InGroup(g) {
			return true
		}
	}
	return false
}

// HasEmail reports whether addr is one of the person's addresses.
func (p *Person) HasEmail(addr string) bool {
	for _, e := range p.Emails {
		if e == addr {
			return true
		}
	}
	return false
}

// Synthetic builds a placeholder Person for an unregistered address, used
// only to address a response. It carries no name, key, or groups.
func Synthetic(addr string) *Person {
	return &Person{
		Name:    addr,
		Emails:  []string{addr},
		Aliases: []string{addr},
	}
}
