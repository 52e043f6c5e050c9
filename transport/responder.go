package transport

import (
	"fmt"
	"io"
	"log/slog"
)

// Responder routes finished replies. In dry-run mode nothing leaves the
// machine; replies are dumped to Out instead. A debug target, when set,
// overrides the real recipients so a whole mailbox can be replayed against
// a test address.
type Responder struct {
	Sender      Sender
	From        string // envelope sender, the robot's primary address
	DryRun      bool
	DebugTarget string
	Out         io.Writer
	Log         *slog.Logger
}

// Respond delivers one reply to its recipients.
func (r *Responder) Respond(recipients []string, raw []byte) error {
	if r.DebugTarget != "" {
		r.Log.Debug("redirecting response", "original", recipients, "debug_target", r.DebugTarget)
		recipients = []string{r.DebugTarget}
	}
	if r.DryRun {
		r.Log.Info("dry run, not sending", "recipients", recipients)
		if r.Out != nil {
			fmt.Fprintf(r.Out, "%s\n", raw)
		}
		return nil
	}
	return r.Sender.Sendmail(r.From, recipients, raw)
}
