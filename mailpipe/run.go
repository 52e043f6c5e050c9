package mailpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gradekeeper/gradekeeper/compose"
	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/handler"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/mailbox"
	"github.com/gradekeeper/gradekeeper/transport"
)

// Pipe is one batch run over a mailbox of delivered messages.
type Pipe struct {
	Basedir    string
	Course     *course.Course
	Classifier *Classifier
	Handlers   handler.Registry
	Composer   *compose.Composer
	// Responder delivers synthesized replies; nil disables responses
	// entirely.
	Responder *transport.Responder
	MaxLate   time.Duration
	// ContinueAfterInvalid converts invalid-message faults into response
	// emails and moves on. Without it the first fault aborts the batch.
	// Unexpected errors abort either way.
	ContinueAfterInvalid bool
	DryRun               bool
	Log                  *slog.Logger
}

// Run processes every message in input, oldest delivery first. Each message
// moves to output before it is examined, so a fault is answered once instead
// of on every batch run.
func (p *Pipe) Run(input, output mailbox.Mailbox) error {
	msgs, err := input.Messages()
	if err != nil {
		return fmt.Errorf("failed to read input mailbox: %w", err)
	}
	mailbox.Sort(msgs)
	p.Log.Info("processing mailbox", "messages", len(msgs))

	for _, msg := range msgs {
		if err := p.processMessage(input, output, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipe) processMessage(input, output mailbox.Mailbox, msg *mailbox.Message) error {
	if output != nil && !p.DryRun {
		if err := output.Add(msg); err != nil {
			return fmt.Errorf("failed to move message to output: %w", err)
		}
		if err := input.Remove(msg); err != nil {
			return fmt.Errorf("failed to remove message from input: %w", err)
		}
	}

	cls, err := p.Classifier.Classify(msg.Raw)
	if err != nil {
		return p.handleInvalid(err)
	}
	p.Log.Debug("classified message",
		"person", cls.Person.Name, "target", cls.Target, "key", msg.Key)

	reply, err := p.dispatch(cls)
	if err != nil {
		return p.handleInvalid(err)
	}
	if reply != nil {
		return p.deliverReply(cls, reply)
	}
	return nil
}

func (p *Pipe) dispatch(cls *Classified) (*handler.Reply, error) {
	fn, ok := p.Handlers.Lookup(cls.Target)
	if !ok {
		err := &InvalidHandler{Handlers: p.Handlers.Keys()}
		err.Enrich(p.Course, cls.Original, cls.Person, cls.Subject, cls.Target)
		return nil, err
	}
	reply, err := fn(&handler.Params{
		Basedir:        p.Basedir,
		Course:         p.Course,
		Raw:            cls.Raw,
		Original:       cls.Original,
		Person:         cls.Person,
		Subject:        cls.Subject,
		Authenticated:  cls.Authenticated,
		TrustTransport: p.Classifier.TrustTransport,
		Time:           cls.Time,
		MaxLate:        p.MaxLate,
		DryRun:         p.DryRun,
		Log:            p.Log,
	})
	if err != nil {
		var invalid handler.InvalidMessage
		if errors.As(err, &invalid) {
			invalid.Context().Enrich(p.Course, cls.Original, cls.Person, cls.Subject, cls.Target)
		}
		return nil, err
	}
	return reply, nil
}

// handleInvalid decides a failed message's fate: answer and continue, or
// abort the batch.
func (p *Pipe) handleInvalid(err error) error {
	var invalid handler.InvalidMessage
	if !errors.As(err, &invalid) {
		return err
	}
	if !p.ContinueAfterInvalid {
		return err
	}
	p.Log.Warn("invalid message", "error", invalid.Error())
	return p.respondError(invalid)
}

func (p *Pipe) respondError(invalid handler.InvalidMessage) error {
	resp, err := synthesize(invalid)
	if err != nil {
		return err
	}
	if resp == nil {
		p.Log.Info("not answering", "error", invalid.Error())
		return nil
	}
	if p.Responder == nil {
		return nil
	}
	if resp.to == nil {
		p.Log.Warn("no target for response", "error", invalid.Error())
		return nil
	}
	ctx := invalid.Context()
	body := compose.Salutation(resp.to.Alias(), resp.text, p.Course.Robot.Alias())
	raw, recipients, err := p.Composer.Compose(compose.Options{
		To:        []*course.Person{resp.to},
		Subject:   resp.subject,
		InReplyTo: inReplyTo(ctx.Original),
		Original:  ctx.Original,
	}, body)
	if err != nil {
		return fmt.Errorf("failed to compose response: %w", err)
	}
	return p.Responder.Respond(recipients, raw)
}

func (p *Pipe) deliverReply(cls *Classified, reply *handler.Reply) error {
	if p.Responder == nil {
		return nil
	}
	opts := compose.Options{
		To:        []*course.Person{cls.Person},
		Subject:   reply.Subject,
		InReplyTo: inReplyTo(cls.Original),
		Texts:     reply.Texts,
		Messages:  reply.Messages,
	}
	body := reply.Text
	if !reply.Complete {
		body = compose.Salutation(cls.Person.Alias(), reply.Text, p.Course.Robot.Alias())
		opts.Original = cls.Original
	}
	raw, recipients, err := p.Composer.Compose(opts, body)
	if err != nil {
		return fmt.Errorf("failed to compose reply: %w", err)
	}
	return p.Responder.Respond(recipients, raw)
}

func inReplyTo(original []byte) string {
	if original == nil {
		return ""
	}
	entity, err := helpers.ReadEntity(original)
	if err != nil {
		return ""
	}
	if id := helpers.MessageID(entity); id != "" {
		return fmt.Sprintf("<%s>", id)
	}
	return ""
}
