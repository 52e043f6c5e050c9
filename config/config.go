// Package config loads the per-course TOML configuration file.
//
// A course directory contains a course.toml describing the course itself
// ([course]), one [assignment."<name>"] table per assignment, one
// [person."<name>"] table per participant, and optional [smtp], [pgp], and
// [logging] tables for the tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gradekeeper/gradekeeper/course"
)

// CourseFile is the configuration file name expected inside a course basedir.
const CourseFile = "course.toml"

// Config is the top-level structure of course.toml.
type Config struct {
	Course      CourseConfig                `toml:"course"`
	Assignments map[string]AssignmentConfig `toml:"assignment"`
	People      map[string]PersonConfig     `toml:"person"`
	SMTP        *SMTPConfig                 `toml:"smtp"`
	PGP         *PGPConfig                  `toml:"pgp"`
	Logging     LoggingConfig               `toml:"logging"`
}

// CourseConfig is the [course] table. Group membership is declared here, by
// person name; the same name may appear in several groups.
type CourseConfig struct {
	Name       string   `toml:"name"`
	Robot      string   `toml:"robot"` // person name of the automated sender
	Professors []string `toml:"professors"`
	Assistants []string `toml:"assistants"`
	Students   []string `toml:"students"`
}

// AssignmentConfig is an [assignment."<name>"] table.
type AssignmentConfig struct {
	Points int `toml:"points"`
	// Weight accepts a number or a fractional string like "0.1/2".
	Weight interface{} `toml:"weight"`
	// Due is a W3C-DTF date/time ("2011-10-04T00:00-04:00").
	Due         string `toml:"due"`
	Submittable bool   `toml:"submittable"`
}

// GetWeight parses the weight value, supporting "a/b" fractions.
func (a *AssignmentConfig) GetWeight() (float64, error) {
	switch w := a.Weight.(type) {
	case nil:
		return 0, nil
	case float64:
		return w, nil
	case int64:
		return float64(w), nil
	case string:
		return parseFraction(w)
	default:
		return 0, fmt.Errorf("weight must be a number or \"a/b\" string, got %T", w)
	}
}

func parseFraction(s string) (float64, error) {
	terms := strings.Split(s, "/")
	switch len(terms) {
	case 1:
		return strconv.ParseFloat(strings.TrimSpace(terms[0]), 64)
	case 2:
		num, err := strconv.ParseFloat(strings.TrimSpace(terms[0]), 64)
		if err != nil {
			return 0, err
		}
		den, err := strconv.ParseFloat(strings.TrimSpace(terms[1]), 64)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, fmt.Errorf("zero denominator in weight %q", s)
		}
		return num / den, nil
	default:
		return 0, fmt.Errorf("malformed weight %q", s)
	}
}

// GetDue parses the due date.
func (a *AssignmentConfig) GetDue() (time.Time, error) {
	return ParseDate(a.Due)
}

// PersonConfig is a [person."<name>"] table.
type PersonConfig struct {
	Nickname string   `toml:"nickname"`
	Emails   []string `toml:"emails"`
	PGPKey   string   `toml:"pgp_key"`
}

// SMTPConfig is the [smtp] table, used for outgoing mail submission.
type SMTPConfig struct {
	Host     string `toml:"host"` // host:port
	StartTLS bool   `toml:"starttls"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// PGPConfig is the [pgp] table.
type PGPConfig struct {
	// Keyring is an armored keyring file holding the participants' public
	// keys and the robot's private key, relative to the course basedir
	// unless absolute.
	Keyring string `toml:"keyring"`
}

// LoggingConfig is the [logging] table.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys in %s: %s",
			path, strings.Join(keys, ", "))
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDir reads the course configuration from basedir/course.toml.
func LoadDir(basedir string) (*Config, error) {
	return Load(filepath.Join(basedir, CourseFile))
}

func (c *Config) validate() error {
	if c.Course.Name == "" {
		return fmt.Errorf("course.name is required")
	}
	if c.Course.Robot == "" {
		return fmt.Errorf("course.robot is required")
	}
	if _, ok := c.People[c.Course.Robot]; !ok {
		return fmt.Errorf("robot %q has no [person] table", c.Course.Robot)
	}
	for name, ac := range c.Assignments {
		if ac.Points <= 0 {
			return fmt.Errorf("assignment %q: points must be positive", name)
		}
	}
	for group, names := range c.groups() {
		for _, name := range names {
			if _, ok := c.People[name]; !ok {
				return fmt.Errorf("%s member %q has no [person] table", group, name)
			}
		}
	}
	for name := range c.People {
		if name != c.Course.Robot && len(c.groupsOf(name)) == 0 {
			return fmt.Errorf("person %q belongs to no group", name)
		}
	}
	return nil
}

func (c *Config) groups() map[string][]string {
	return map[string][]string{
		course.GroupProfessors: c.Course.Professors,
		course.GroupAssistants: c.Course.Assistants,
		course.GroupStudents:   c.Course.Students,
	}
}

func (c *Config) groupsOf(name string) []string {
	var groups []string
	// Stable group order: professors, assistants, students.
	for _, group := range []string{course.GroupProfessors, course.GroupAssistants, course.GroupStudents} {
		for _, member := range c.groups()[group] {
			if member == name {
				groups = append(groups, group)
				break
			}
		}
	}
	if name == c.Course.Robot {
		groups = append(groups, course.GroupRobot)
	}
	return groups
}

// BuildCourse assembles the in-memory course from the configuration. Grades
// are not loaded here; see the store package.
func (c *Config) BuildCourse() (*course.Course, error) {
	crs := &course.Course{Name: c.Course.Name}

	for name, ac := range c.Assignments {
		weight, err := ac.GetWeight()
		if err != nil {
			return nil, fmt.Errorf("assignment %q: %w", name, err)
		}
		due, err := ac.GetDue()
		if err != nil {
			return nil, fmt.Errorf("assignment %q: %w", name, err)
		}
		crs.Assignments = append(crs.Assignments, &course.Assignment{
			Name:        name,
			Points:      ac.Points,
			Weight:      weight,
			Due:         due,
			Submittable: ac.Submittable,
		})
	}

	for name, pc := range c.People {
		groups := c.groupsOf(name)
		if len(groups) == 0 {
			continue
		}
		p := &course.Person{
			Name:   name,
			Emails: append([]string(nil), pc.Emails...),
			PGPKey: pc.PGPKey,
			Groups: groups,
		}
		if pc.Nickname != "" {
			p.Aliases = []string{pc.Nickname}
		}
		crs.People = append(crs.People, p)
		if name == c.Course.Robot {
			crs.Robot = p
		}
	}
	if crs.Robot == nil {
		return nil, fmt.Errorf("robot %q not loaded", c.Course.Robot)
	}

	crs.Sort()
	return crs, nil
}

// KeyringPath resolves the configured keyring location against basedir.
// Returns "" when no keyring is configured.
func (c *Config) KeyringPath(basedir string) string {
	if c.PGP == nil || c.PGP.Keyring == "" {
		return ""
	}
	if filepath.IsAbs(c.PGP.Keyring) {
		return c.PGP.Keyring
	}
	return filepath.Join(basedir, c.PGP.Keyring)
}

// Exists reports whether basedir contains a course configuration file.
func Exists(basedir string) bool {
	_, err := os.Stat(filepath.Join(basedir, CourseFile))
	return err == nil
}
