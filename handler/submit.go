package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/mailbox"
	"github.com/gradekeeper/gradekeeper/storage"
)

// Submit accepts an assignment submission: the message is filed in the
// student's per-assignment maildir, attachments are extracted next to it,
// and the submission is marked late when it arrived after due plus the
// grace period. Replaying the same Message-ID is harmless.
func Submit(p *Params) (*Reply, error) {
	assignment, err := SubjectAssignment(p.Course, p.Subject)
	if err != nil {
		return nil, err
	}
	if !assignment.Submittable {
		return nil, &InvalidSubmission{Assignment: assignment}
	}

	if err := saveSubmission(p, assignment); err != nil {
		return nil, err
	}
	if err := extractAttachments(p, assignment); err != nil {
		return nil, err
	}
	if err := checkLate(p, assignment); err != nil {
		return nil, err
	}

	timeText := "at an unknown time"
	if !p.Time.IsZero() {
		timeText = fmt.Sprintf("on %s", p.Time.UTC().Format(time.RFC1123Z))
	}
	return &Reply{
		Subject: fmt.Sprintf("received %s submission", assignment.Name),
		Text:    fmt.Sprintf("We received your submission for %s %s.", assignment.Name, timeText),
	}, nil
}

// saveSubmission files the message in the student's assignment maildir,
// skipping the write when a copy with the same Message-ID is already there.
func saveSubmission(p *Params, assignment *course.Assignment) error {
	if p.DryRun {
		p.Log.Info("dry run, not saving submission",
			"student", p.Person.Name, "assignment", assignment.Name)
		return nil
	}
	dir := filepath.Join(storage.AssignmentPath(p.Basedir, assignment, p.Person), storage.MailDirName)
	md, err := mailbox.NewMaildir(dir)
	if err != nil {
		return fmt.Errorf("failed to open submission maildir: %w", err)
	}

	entity, err := helpers.ReadEntity(p.Raw)
	if err != nil {
		return err
	}
	if id := helpers.MessageID(entity); id != "" {
		existing, err := md.Messages()
		if err != nil {
			return err
		}
		for _, m := range existing {
			other, err := helpers.ReadEntity(m.Raw)
			if err != nil {
				continue
			}
			if helpers.MessageID(other) == id {
				p.Log.Debug("submission already filed", "message_id", id, "maildir", dir)
				return nil
			}
		}
	}

	key, err := md.Deliver(p.Raw, true)
	if err != nil {
		return err
	}
	p.Log.Info("saved submission",
		"student", p.Person.Name, "assignment", assignment.Name, "key", key)
	return nil
}

// extractAttachments writes every named attachment into the assignment
// directory. A file that already holds identical content is left alone;
// different content under a taken name gets a numbered suffix.
func extractAttachments(p *Params, assignment *course.Assignment) error {
	attachments, err := helpers.Attachments(p.Raw)
	if err != nil {
		return err
	}
	dir := storage.AssignmentPath(p.Basedir, assignment, p.Person)
	for _, att := range attachments {
		name := filepath.Base(att.Filename)
		if name == "." || name == string(filepath.Separator) {
			continue
		}
		target := filepath.Join(dir, name)
		for count := 1; ; count++ {
			existing, err := os.ReadFile(target)
			if os.IsNotExist(err) {
				break
			}
			if err != nil {
				return err
			}
			if helpers.HashContent(existing) == helpers.HashContent(att.Data) {
				p.Log.Debug("attachment already extracted", "file", target)
				target = ""
				break
			}
			target = filepath.Join(dir, fmt.Sprintf("%s.%d", name, count))
		}
		if target == "" {
			continue
		}
		if p.DryRun {
			p.Log.Info("dry run, not extracting attachment", "file", target)
			continue
		}
		if err := os.WriteFile(target, att.Data, 0o644); err != nil {
			return fmt.Errorf("failed to extract attachment: %w", err)
		}
		p.Log.Info("extracted attachment", "file", target)
	}
	return nil
}

// checkLate marks the submission late when its delivery time is after due
// plus the grace period. A message without a parseable delivery time is
// never marked late. An existing marker is never cleared.
func checkLate(p *Params, assignment *course.Assignment) error {
	if p.Time.IsZero() || assignment.Due.IsZero() {
		return nil
	}
	deadline := assignment.Due.Add(p.MaxLate)
	if !p.Time.After(deadline) {
		return nil
	}
	p.Log.Warn("late submission",
		"student", p.Person.Name,
		"assignment", assignment.Name,
		"late_by", p.Time.Sub(assignment.Due).String())
	if p.DryRun {
		return nil
	}
	return storage.SetLate(p.Basedir, assignment, p.Person)
}
