/*
Package dispatch runs a send job: it renders one message per recipient,
previews or delivers it, and keeps the success and failure tally.
*/
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/oarkflow/clubmail/internal/message"
	"github.com/oarkflow/clubmail/internal/recipient"
	"github.com/oarkflow/clubmail/internal/tmpl"
	"github.com/oarkflow/clubmail/internal/transport"
)

// PreviewLength is the number of body characters shown in test mode.
const PreviewLength = 300

// progressEvery controls how often a progress line is printed.
const progressEvery = 10

var (
	// ErrConnect is returned when the transport session cannot be opened.
	ErrConnect = errors.New("connection failed")

	// ErrTemplate is returned when the body template cannot be resolved.
	ErrTemplate = errors.New("template unavailable")
)

// Throttle paces real sends.
type Throttle interface {
	Wait(ctx context.Context) error
	Record()
}

// Job describes one run.
type Job struct {
	// Subject is an inline template.
	Subject string

	// Body is a template file path or an inline template.
	Body string

	// Test previews messages without connecting or sending.
	Test bool

	// Attachments are file paths added to every message.
	Attachments []string

	// Limit caps the number of recipients; negative means all remaining.
	Limit int

	// Skip is the number of leading recipients to pass over.
	Skip int
}

// Summary is the outcome of a run.
type Summary struct {
	Succeeded int
	Failed    int
	Processed int
}

// Options contains the collaborators of a Dispatcher.
type Options struct {
	// From is the sender address.
	From string

	// Dialer opens the transport session. Unused in test mode.
	Dialer transport.Dialer

	// Throttle paces real sends. Nil disables pacing.
	Throttle Throttle

	// Logger receives the run log. Nil discards it.
	Logger *log.Logger

	// Out receives console output. Nil means stdout.
	Out io.Writer
}

// Dispatcher executes send jobs.
type Dispatcher struct {
	from     string
	dialer   transport.Dialer
	throttle Throttle
	logger   *log.Logger
	out      io.Writer
	renderer *tmpl.Renderer
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		from:     opts.From,
		dialer:   opts.Dialer,
		throttle: opts.Throttle,
		logger:   opts.Logger,
		out:      opts.Out,
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard)
	}
	if d.out == nil {
		d.out = os.Stdout
	}
	d.renderer = tmpl.NewRenderer(d.logger, d.printf)
	return d
}

// Window returns recipients[skip:skip+limit], clamped to the slice. A
// negative limit selects everything after skip.
func Window(recipients []recipient.Record, skip, limit int) []recipient.Record {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(recipients) {
		return nil
	}
	end := len(recipients)
	if limit >= 0 && skip+limit < end {
		end = skip + limit
	}
	return recipients[skip:end]
}

// Run processes job against recipients. Per-recipient failures are counted
// and never stop the run; connection and template failures abort it with
// ErrConnect or ErrTemplate. The session, once opened, is always closed and
// the summary always reported.
func (d *Dispatcher) Run(ctx context.Context, recipients []recipient.Record, job Job) (summary Summary, err error) {
	if len(recipients) == 0 {
		d.printf("No recipients to email\n")
		d.logger.Info("No recipients to email")
		return summary, nil
	}

	var sess transport.Session
	if !job.Test {
		if d.dialer == nil {
			return summary, fmt.Errorf("%w: no transport configured", ErrConnect)
		}
		sess, err = d.dialer.Open(ctx)
		if err != nil {
			label := strings.ToUpper(d.dialer.Name()) + " connection error"
			d.logger.Error(label, "err", err)
			d.printf("%s: %v\n", label, err)
			return summary, fmt.Errorf("%w: %w", ErrConnect, err)
		}
		d.logger.Info("Connected", "transport", d.dialer.Name())
	}

	batch := Window(recipients, job.Skip, job.Limit)

	subject := tmpl.New(job.Subject)
	body, err := tmpl.Resolve(job.Body)
	if err != nil {
		d.logger.Error("Error loading template file", "err", err)
		d.printf("Error loading template file: %v\n", err)
		if sess != nil {
			d.closeSession(sess)
		}
		return summary, fmt.Errorf("%w: %w", ErrTemplate, err)
	}

	defer func() {
		if sess != nil {
			d.closeSession(sess)
		}
		d.printf("\nEmail sending completed: %d successful, %d failed\n", summary.Succeeded, summary.Failed)
		d.logger.Info(fmt.Sprintf("Session completed: %d successful, %d failed", summary.Succeeded, summary.Failed))
	}()

	total := len(batch)
	for i, rec := range batch {
		idx := i + 1
		if ctx.Err() != nil {
			d.logger.Warn("Run interrupted", "processed", summary.Processed, "remaining", total-i)
			return summary, ctx.Err()
		}

		if err := d.deliver(ctx, sess, rec, subject, body, job, idx, total); err != nil {
			if ctx.Err() != nil {
				d.logger.Warn("Run interrupted", "processed", summary.Processed, "remaining", total-i)
				return summary, ctx.Err()
			}
			summary.Failed++
			addr := addressOf(rec)
			d.logger.Error(fmt.Sprintf("Error sending email to %s", addr), "err", err)
			d.printf("Error sending to %s: %v\n", addr, err)
		} else {
			summary.Succeeded++
		}
		summary.Processed++

		if idx%progressEvery == 0 || idx == total {
			d.printf("Progress: %d/%d emails processed\n", idx, total)
		}
	}

	return summary, nil
}

// deliver renders, builds and previews or sends the message for one record.
func (d *Dispatcher) deliver(ctx context.Context, sess transport.Session, rec recipient.Record, subject, body *tmpl.Template, job Job, idx, total int) error {
	subj := subject.SafeExecute(rec)
	content, err := d.renderer.Render(body, rec)
	if err != nil {
		return err
	}

	msg, err := message.Build(d.from, rec, subj, content, job.Attachments, d.logger)
	if err != nil {
		return err
	}

	if job.Test {
		d.printf("\nTEST MODE - Would send to: %s\n", msg.To)
		d.printf("Subject: %s\n", subj)
		d.printf("Content preview (first %d chars):\n%s...\n\n", PreviewLength, preview(content))
		return nil
	}

	if d.throttle != nil {
		if err := d.throttle.Wait(ctx); err != nil {
			return err
		}
	}

	if err := sess.Send(ctx, msg); err != nil {
		return err
	}
	if d.throttle != nil {
		d.throttle.Record()
	}

	d.logger.Info(fmt.Sprintf("Sent email to %s", msg.To))
	d.printf("Sent email %d/%d to %s\n", idx, total, msg.To)
	return nil
}

func (d *Dispatcher) closeSession(sess transport.Session) {
	if err := sess.Close(); err != nil {
		d.logger.Warn("Error closing session", "err", err)
	}
}

func (d *Dispatcher) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

func addressOf(rec recipient.Record) string {
	if addr, ok := rec.Email(); ok {
		return addr
	}
	return "unknown"
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLength {
		return s
	}
	return string(runes[:PreviewLength])
}
