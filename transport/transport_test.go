package transport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	from       string
	recipients []string
	raw        []byte
	calls      int
	err        error
}

func (s *recordingSender) Sendmail(from string, recipients []string, raw []byte) error {
	s.calls++
	s.from = from
	s.recipients = recipients
	s.raw = raw
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "nil", err: nil, permanent: false},
		{name: "wrapped permanent", err: &SendError{Err: errors.New("x"), Permanent: true}, permanent: true},
		{name: "wrapped temporary", err: &SendError{Err: errors.New("x")}, permanent: false},
		{name: "smtp 5xx", err: &smtp.SMTPError{Code: 550, Message: "no such user"}, permanent: true},
		{name: "smtp 4xx", err: &smtp.SMTPError{Code: 421, Message: "try later"}, permanent: false},
		{name: "network", err: errors.New("connection refused"), permanent: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.permanent, IsPermanentError(tc.err))
		})
	}
}

func TestResponderSends(t *testing.T) {
	sender := &recordingSender{}
	r := &Responder{
		Sender: sender,
		From:   "phys101@tower.edu",
		Log:    discardLogger(),
	}
	require.NoError(t, r.Respond([]string{"bb@shire.org"}, []byte("raw message")))
	require.Equal(t, 1, sender.calls)
	require.Equal(t, "phys101@tower.edu", sender.from)
	require.Equal(t, []string{"bb@shire.org"}, sender.recipients)
	require.Equal(t, "raw message", string(sender.raw))
}

func TestResponderDryRun(t *testing.T) {
	sender := &recordingSender{}
	var out bytes.Buffer
	r := &Responder{
		Sender: sender,
		From:   "phys101@tower.edu",
		DryRun: true,
		Out:    &out,
		Log:    discardLogger(),
	}
	require.NoError(t, r.Respond([]string{"bb@shire.org"}, []byte("raw message")))
	require.Zero(t, sender.calls, "dry run must not submit")
	require.Contains(t, out.String(), "raw message")
}

func TestResponderDebugTarget(t *testing.T) {
	sender := &recordingSender{}
	r := &Responder{
		Sender:      sender,
		From:        "phys101@tower.edu",
		DebugTarget: "admin@tower.edu",
		Log:         discardLogger(),
	}
	require.NoError(t, r.Respond([]string{"bb@shire.org", "eye@tower.edu"}, []byte("x")))
	require.Equal(t, []string{"admin@tower.edu"}, sender.recipients)
}
