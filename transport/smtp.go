// Package transport submits outgoing mail over SMTP and decides whether a
// reply is actually sent, dumped for inspection, or redirected to a debug
// recipient.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/gradekeeper/gradekeeper/config"
)

// SendError wraps a submission error with information about whether it is
// permanent. Permanent errors (5xx SMTP codes) should not be retried;
// temporary errors (4xx codes, network errors) can be.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsPermanentError reports whether err is a permanent submission failure.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	// Network and connection errors are temporary.
	return false
}

// A Sender submits a fully formed message to a set of envelope recipients.
type Sender interface {
	Sendmail(from string, recipients []string, raw []byte) error
}

// SMTPSender submits messages through a configured smarthost.
type SMTPSender struct {
	Host     string // host:port
	StartTLS bool
	Username string
	Password string
	Log      *slog.Logger
}

// NewSMTPSender builds a sender from the [smtp] config table.
func NewSMTPSender(cfg *config.SMTPConfig, log *slog.Logger) *SMTPSender {
	return &SMTPSender{
		Host:     cfg.Host,
		StartTLS: cfg.StartTLS,
		Username: cfg.Username,
		Password: cfg.Password,
		Log:      log,
	}
}

func (s *SMTPSender) dial() (*smtp.Client, error) {
	if s.Host == "" {
		return nil, &SendError{Err: fmt.Errorf("SMTP host not configured"), Permanent: true}
	}
	if s.StartTLS {
		tlsConfig := &tls.Config{
			MinVersion:    tls.VersionTLS12,
			Renegotiation: tls.RenegotiateNever,
		}
		c, err := smtp.DialStartTLS(s.Host, tlsConfig)
		if err != nil {
			return nil, &SendError{Err: fmt.Errorf("failed to connect with STARTTLS: %w", err)}
		}
		return c, nil
	}
	c, err := smtp.Dial(s.Host)
	if err != nil {
		return nil, &SendError{Err: fmt.Errorf("failed to connect: %w", err)}
	}
	return c, nil
}

// Sendmail submits raw to every recipient in one transaction.
func (s *SMTPSender) Sendmail(from string, recipients []string, raw []byte) error {
	c, err := s.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if s.Username != "" {
		auth := sasl.NewPlainClient("", s.Username, s.Password)
		if err := c.Auth(auth); err != nil {
			return &SendError{Err: fmt.Errorf("authentication failed: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return &SendError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return &SendError{Err: fmt.Errorf("failed to set recipient %s: %w", rcpt, err), Permanent: IsPermanentError(err)}
		}
	}

	wc, err := c.Data()
	if err != nil {
		return &SendError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		return &SendError{Err: fmt.Errorf("failed to write message: %w", err)}
	}
	if err := wc.Close(); err != nil {
		return &SendError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	// The message is already accepted at this point; a failed QUIT is not
	// a delivery failure.
	if err := c.Quit(); err != nil {
		s.Log.Warn("failed to send QUIT", "host", s.Host, "error", err)
	}
	s.Log.Info("message submitted", "host", s.Host, "from", from, "recipients", recipients)
	return nil
}

// Check connects to the smarthost and authenticates without sending
// anything, verifying the configuration.
func (s *SMTPSender) Check() error {
	c, err := s.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if s.Username != "" {
		auth := sasl.NewPlainClient("", s.Username, s.Password)
		if err := c.Auth(auth); err != nil {
			return &SendError{Err: fmt.Errorf("authentication failed: %w", err), Permanent: IsPermanentError(err)}
		}
	}
	if err := c.Noop(); err != nil {
		return &SendError{Err: err}
	}
	return c.Quit()
}
