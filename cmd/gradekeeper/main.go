package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gradekeeper/gradekeeper/compose"
	"github.com/gradekeeper/gradekeeper/config"
	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/handler"
	"github.com/gradekeeper/gradekeeper/logger"
	"github.com/gradekeeper/gradekeeper/mailbox"
	"github.com/gradekeeper/gradekeeper/mailpipe"
	"github.com/gradekeeper/gradekeeper/pgpmail"
	"github.com/gradekeeper/gradekeeper/report"
	"github.com/gradekeeper/gradekeeper/storage"
	"github.com/gradekeeper/gradekeeper/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "mailpipe":
		handleMailpipe()
	case "tabulate":
		handleTabulate()
	case "email":
		handleEmail()
	case "todo":
		handleTodo()
	case "initialize":
		handleInitialize()
	case "check-smtp":
		handleCheckSMTP()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Gradekeeper

Usage:
  gradekeeper <command> [options]

Commands:
  mailpipe    Process a mailbox of incoming course email
  tabulate    Print the course grade table
  email       Send grade notification emails
  todo        List grading work that is missing or out of date
  initialize  Create the grade directory tree for every person and assignment
  check-smtp  Connect and authenticate against the configured smarthost
  help        Show this help message

Examples:
  gradekeeper mailpipe --basedir ~/courses/phys101 --mailbox maildir --input ~/mail/phys101 --output ~/mail/phys101-processed --respond
  gradekeeper tabulate --basedir ~/courses/phys101 --statistics
  gradekeeper email --basedir ~/courses/phys101 assignment "Assignment 1"
  gradekeeper todo --basedir ~/courses/phys101

Use 'gradekeeper <command> --help' for more information about a command.
`)
}

// loadCourse reads course.toml, configures logging from it, and loads the
// course with all persisted grades.
func loadCourse(basedir string) (*course.Course, *config.Config, *slog.Logger) {
	cfg, err := config.LoadDir(basedir)
	if err != nil {
		log.Fatalf("Failed to load course configuration: %v", err)
	}
	logg, err := logger.NewStderr(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	crs, cfg, err := storage.LoadCourse(basedir, logg)
	if err != nil {
		log.Fatalf("Failed to load course: %v", err)
	}
	return crs, cfg, logg
}

// loadKeyring opens the configured keyring, or returns nil when the course
// has none.
func loadKeyring(cfg *config.Config, basedir string, logg *slog.Logger) *pgpmail.Keyring {
	path := cfg.KeyringPath(basedir)
	if path == "" {
		logg.Debug("no keyring configured, signatures disabled")
		return nil
	}
	keyring, err := pgpmail.Load(path)
	if err != nil {
		log.Fatalf("Failed to load keyring: %v", err)
	}
	return keyring
}

func handleMailpipe() {
	fs := flag.NewFlagSet("mailpipe", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")
	format := fs.String("mailbox", "", "Mailbox format: maildir or mbox (default: read one message from stdin)")
	input := fs.String("input", "", "Input mailbox path (required with --mailbox)")
	output := fs.String("output", "", "Mailbox receiving processed messages")
	maxLate := fs.Duration("max-late", 0, "Grace period before a submission counts as late")
	respond := fs.Bool("respond", false, "Send response emails")
	trust := fs.Bool("trust-email-infrastructure", false, "Accept unsigned email from senders with a key on file")
	continueAfter := fs.Bool("continue-after-invalid-message", false, "Answer invalid messages and keep going instead of aborting")
	dryRun := fs.Bool("dry-run", false, "Do not write to the grade tree or send mail")
	debugTarget := fs.String("debug-target", "", "Redirect every response to this address")

	fs.Usage = func() {
		fmt.Printf(`Process a mailbox of incoming course email

Each message is attributed to a course participant by its Return-Path,
checked against the participant's PGP key when one is on file, and routed
by its bracketed subject tag to the get, grade, or submit handler.

Usage:
  gradekeeper mailpipe [options]

Options:
  --basedir string                  Course directory containing course.toml (default: .)
  --mailbox string                  Mailbox format: maildir or mbox (default: read one message from stdin)
  --input string                    Input mailbox path (required with --mailbox)
  --output string                   Mailbox receiving processed messages
  --max-late duration               Grace period before a submission counts as late (e.g. 72h)
  --respond                         Send response emails
  --trust-email-infrastructure      Accept unsigned email from senders with a key on file
  --continue-after-invalid-message  Answer invalid messages and keep going instead of aborting
  --dry-run                         Do not write to the grade tree or send mail
  --debug-target string             Redirect every response to this address

Examples:
  gradekeeper mailpipe --basedir ~/courses/phys101 --mailbox maildir --input ~/mail/phys101 --output ~/mail/phys101-processed --respond --continue-after-invalid-message
  gradekeeper mailpipe --basedir ~/courses/phys101 --respond --dry-run < message.eml
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	crs, cfg, logg := loadCourse(*basedir)
	keyring := loadKeyring(cfg, *basedir, logg)

	var inbox, outbox mailbox.Mailbox
	if *format == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read message from stdin: %v", err)
		}
		inbox = mailbox.NewMemory(raw)
	} else {
		if *input == "" {
			fmt.Printf("Error: --input is required with --mailbox\n\n")
			fs.Usage()
			os.Exit(1)
		}
		var err error
		inbox, err = mailbox.Open(*format, *input)
		if err != nil {
			log.Fatalf("Failed to open input mailbox: %v", err)
		}
		if *output != "" {
			outbox, err = mailbox.Open(*format, *output)
			if err != nil {
				log.Fatalf("Failed to open output mailbox: %v", err)
			}
		}
	}

	var responder *transport.Responder
	if *respond {
		var sender transport.Sender
		if !*dryRun {
			if cfg.SMTP == nil {
				log.Fatalf("An [smtp] configuration table is required to respond")
			}
			sender = transport.NewSMTPSender(cfg.SMTP, logg)
		}
		responder = &transport.Responder{
			Sender:      sender,
			From:        crs.Robot.PrimaryEmail(),
			DryRun:      *dryRun,
			DebugTarget: *debugTarget,
			Out:         os.Stdout,
			Log:         logg,
		}
	}

	pipe := &mailpipe.Pipe{
		Basedir: *basedir,
		Course:  crs,
		Classifier: &mailpipe.Classifier{
			Course:         crs,
			Keyring:        keyring,
			TrustTransport: *trust,
			Log:            logg,
		},
		Handlers:             handler.DefaultRegistry(),
		Composer:             &compose.Composer{Robot: crs.Robot, Keyring: keyring, Log: logg},
		Responder:            responder,
		MaxLate:              *maxLate,
		ContinueAfterInvalid: *continueAfter,
		DryRun:               *dryRun,
		Log:                  logg,
	}
	if err := pipe.Run(inbox, outbox); err != nil {
		log.Fatalf("Mailbox processing failed: %v", err)
	}
}

func handleTabulate() {
	fs := flag.NewFlagSet("tabulate", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")
	statistics := fs.Bool("statistics", false, "Append mean and standard deviation rows")

	fs.Usage = func() {
		fmt.Printf(`Print the course grade table

Writes the tab-delimited grade table for every graded student to standard
output.

Usage:
  gradekeeper tabulate [options]

Options:
  --basedir string  Course directory containing course.toml (default: .)
  --statistics      Append mean and standard deviation rows
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	crs, _, _ := loadCourse(*basedir)
	fmt.Print(report.Tabulate(crs, *statistics))
}

func handleEmail() {
	fs := flag.NewFlagSet("email", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")
	student := fs.String("student", "", "Restrict the batch to one student, by name or nickname")
	ccNames := fs.String("cc", "", "Comma-separated names to carbon-copy on every email")
	old := fs.Bool("old", false, "Resend grades that were already notified")
	dryRun := fs.Bool("dry-run", false, "Print emails instead of sending, and do not mark grades notified")
	debugTarget := fs.String("debug-target", "", "Redirect every email to this address")

	fs.Usage = func() {
		fmt.Printf(`Send grade notification emails

Usage:
  gradekeeper email [options] assignment <name>
  gradekeeper email [options] student
  gradekeeper email [options] course <recipient>

The assignment form emails each student their grade on one assignment, the
student form emails each student a summary of all their grades, and the
course form emails the whole-course table to one professor or TA. Grades
already notified are skipped unless --old is given.

Options:
  --basedir string       Course directory containing course.toml (default: .)
  --student string       Restrict the batch to one student, by name or nickname
  --cc string            Comma-separated names to carbon-copy on every email
  --old                  Resend grades that were already notified
  --dry-run              Print emails instead of sending, and do not mark grades notified
  --debug-target string  Redirect every email to this address

Examples:
  gradekeeper email --basedir ~/courses/phys101 assignment "Assignment 1"
  gradekeeper email --basedir ~/courses/phys101 --student "Bilbo Baggins" student
  gradekeeper email --basedir ~/courses/phys101 course "Sauron"
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fmt.Printf("Error: an email kind is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	crs, cfg, logg := loadCourse(*basedir)
	keyring := loadKeyring(cfg, *basedir, logg)

	var only *course.Person
	if *student != "" {
		p, err := crs.Person(course.Filter{Name: *student})
		if err != nil {
			log.Fatalf("Unknown student: %v", err)
		}
		only = p
	}
	cc := resolveNames(crs, *ccNames)

	var emails []*report.Email
	var err error
	switch kind := fs.Arg(0); kind {
	case "assignment":
		if fs.NArg() < 2 {
			log.Fatalf("The assignment form needs an assignment name")
		}
		assignment, aerr := crs.Assignment(fs.Arg(1))
		if aerr != nil {
			log.Fatalf("Unknown assignment: %v", aerr)
		}
		emails, err = report.AssignmentEmails(crs, assignment, only, cc)
	case "student":
		emails, err = report.StudentEmails(crs, only, cc, *old)
	case "course":
		if fs.NArg() < 2 {
			log.Fatalf("The course form needs a recipient name")
		}
		target, perr := crs.Person(course.Filter{Name: fs.Arg(1)})
		if perr != nil {
			log.Fatalf("Unknown recipient: %v", perr)
		}
		var email *report.Email
		email, err = report.CourseEmail(crs, target, cc)
		if email != nil {
			emails = []*report.Email{email}
		}
	default:
		fmt.Printf("Unknown email kind: %s\n\n", kind)
		fs.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to compose emails: %v", err)
	}

	var sender transport.Sender
	if !*dryRun {
		if cfg.SMTP == nil {
			log.Fatalf("An [smtp] configuration table is required to send email")
		}
		sender = transport.NewSMTPSender(cfg.SMTP, logg)
	}
	responder := &transport.Responder{
		Sender:      sender,
		From:        crs.Robot.PrimaryEmail(),
		DryRun:      *dryRun,
		DebugTarget: *debugTarget,
		Out:         os.Stdout,
		Log:         logg,
	}
	composer := &compose.Composer{Robot: crs.Robot, Keyring: keyring, Log: logg}

	for _, email := range emails {
		raw, recipients, cerr := composer.Compose(compose.Options{
			To:      []*course.Person{email.To},
			Cc:      email.Cc,
			Subject: email.Subject,
		}, email.Body)
		if cerr != nil {
			log.Fatalf("Failed to compose email for %s: %v", email.To.Name, cerr)
		}
		if serr := responder.Respond(recipients, raw); serr != nil {
			log.Fatalf("Failed to send email to %s: %v", email.To.Name, serr)
		}
		if !*dryRun {
			if nerr := report.MarkNotified(*basedir, email, logg); nerr != nil {
				log.Fatalf("Failed to mark grades notified for %s: %v", email.To.Name, nerr)
			}
		}
	}
	fmt.Printf("Sent %d email(s)\n", len(emails))
}

// resolveNames turns a comma-separated name list into people, failing on any
// unknown name.
func resolveNames(crs *course.Course, names string) []*course.Person {
	var people []*course.Person
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := crs.Person(course.Filter{Name: name})
		if err != nil {
			log.Fatalf("Unknown person %q: %v", name, err)
		}
		people = append(people, p)
	}
	return people
}

func handleTodo() {
	fs := flag.NewFlagSet("todo", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")
	source := fs.String("source", storage.MailDirName, "Source file or directory name to look for")
	target := fs.String("target", "grade", "Sibling target that must be newer than the source")

	fs.Usage = func() {
		fmt.Printf(`List grading work that is missing or out of date

Walks the grade tree and prints every source whose sibling target is
missing or older. With the defaults this lists submissions that still need
grading.

Usage:
  gradekeeper todo [options]

Options:
  --basedir string  Course directory containing course.toml (default: .)
  --source string   Source file or directory name to look for (default: mail)
  --target string   Sibling target that must be newer than the source (default: grade)
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	stale, err := storage.Todo(*basedir, *source, *target)
	if err != nil {
		log.Fatalf("Failed to scan for work: %v", err)
	}
	for _, path := range stale {
		fmt.Println(path)
	}
}

func handleInitialize() {
	fs := flag.NewFlagSet("initialize", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")
	dryRun := fs.Bool("dry-run", false, "Log what would be created without touching the filesystem")

	fs.Usage = func() {
		fmt.Printf(`Create the grade directory tree

Creates one directory per (person, assignment) pair under the course
basedir. Existing directories are left alone.

Usage:
  gradekeeper initialize [options]

Options:
  --basedir string  Course directory containing course.toml (default: .)
  --dry-run         Log what would be created without touching the filesystem
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	crs, _, logg := loadCourse(*basedir)
	if err := storage.Initialize(*basedir, crs, *dryRun, logg); err != nil {
		log.Fatalf("Failed to initialize course tree: %v", err)
	}
}

func handleCheckSMTP() {
	fs := flag.NewFlagSet("check-smtp", flag.ExitOnError)

	basedir := fs.String("basedir", ".", "Course directory containing course.toml")

	fs.Usage = func() {
		fmt.Printf(`Connect and authenticate against the configured smarthost

Usage:
  gradekeeper check-smtp [options]

Options:
  --basedir string  Course directory containing course.toml (default: .)
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, err := config.LoadDir(*basedir)
	if err != nil {
		log.Fatalf("Failed to load course configuration: %v", err)
	}
	if cfg.SMTP == nil {
		log.Fatalf("No [smtp] configuration table in course.toml")
	}
	logg, err := logger.NewStderr(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	if err := transport.NewSMTPSender(cfg.SMTP, logg).Check(); err != nil {
		log.Fatalf("SMTP check failed: %v", err)
	}
	fmt.Println("SMTP configuration OK")
}
