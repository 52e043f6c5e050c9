// Package handler implements the operations reachable by email: assignment
// submission, grade queries and grade assignment. Handlers are pure with
// respect to mail flow; they read and write the grade store and return a
// Reply (or a typed error) for the pipeline to deliver.
package handler

import (
	"log/slog"
	"sort"
	"time"

	"github.com/gradekeeper/gradekeeper/course"
)

// Params is everything a handler may need for one classified message.
type Params struct {
	Basedir string
	Course  *course.Course

	// Raw is the working message: the decrypted, header-merged body for
	// signed mail, the delivered bytes otherwise.
	Raw []byte
	// Original is the message exactly as delivered, for attachments.
	Original []byte

	Person        *course.Person
	Subject       string // RFC 2047 decoded, case folded, '#' stripped
	Authenticated bool
	// TrustTransport waives the signature requirement on operations that
	// normally demand one, trusting the email infrastructure instead.
	TrustTransport bool

	// Time is the delivery timestamp from the newest Received header,
	// zero when none parsed.
	Time    time.Time
	MaxLate time.Duration

	DryRun bool
	Log    *slog.Logger
}

// Reply is a handler's answer to the sender. Non-complete replies are
// wrapped with the salutation template and carry the original message as an
// attachment; complete replies are delivered with their text untouched.
type Reply struct {
	Subject string
	Text    string
	// Texts are additional text parts after Text.
	Texts []string
	// Messages are attached as message/rfc822 parts.
	Messages [][]byte
	Complete bool
}

// Func processes one message for one person.
type Func func(*Params) (*Reply, error)

// Registry maps routing targets to handlers.
type Registry map[string]Func

// DefaultRegistry returns the standard handler set.
func DefaultRegistry() Registry {
	return Registry{
		"get":    Get,
		"grade":  Grade,
		"submit": Submit,
	}
}

// Lookup returns the handler for a routing target.
func (r Registry) Lookup(target string) (Func, bool) {
	fn, ok := r[target]
	return fn, ok
}

// Keys returns the registered routing targets, sorted.
func (r Registry) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
