package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/clubmail/internal/message"
	"github.com/oarkflow/clubmail/internal/recipient"
	"github.com/oarkflow/clubmail/internal/transport"
)

type fakeDialer struct {
	openErr error
	opened  int
	session *fakeSession
}

func (d *fakeDialer) Name() string { return "smtp" }

func (d *fakeDialer) Open(context.Context) (transport.Session, error) {
	d.opened++
	if d.openErr != nil {
		return nil, d.openErr
	}
	if d.session == nil {
		d.session = &fakeSession{}
	}
	return d.session, nil
}

type fakeSession struct {
	sent   []*message.Message
	failOn map[string]error
	closed int
}

func (s *fakeSession) Send(_ context.Context, msg *message.Message) error {
	if err := s.failOn[msg.To]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type countingThrottle struct {
	waits   int
	records int
}

func (t *countingThrottle) Wait(context.Context) error {
	t.waits++
	return nil
}

func (t *countingThrottle) Record() { t.records++ }

func members(n int) []recipient.Record {
	out := make([]recipient.Record, n)
	for i := range out {
		out[i] = recipient.NewRecord(
			"email", fmt.Sprintf("m%d@x.com", i),
			"name", fmt.Sprintf("M%d", i),
		)
	}
	return out
}

func newDispatcher(dialer transport.Dialer, th Throttle) (*Dispatcher, *bytes.Buffer, *bytes.Buffer) {
	var out, logBuf bytes.Buffer
	d := New(Options{
		From:     "club@example.org",
		Dialer:   dialer,
		Throttle: th,
		Logger:   log.New(&logBuf),
		Out:      &out,
	})
	return d, &out, &logBuf
}

func TestRun_TestModePreviews(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	th := &countingThrottle{}
	d, out, _ := newDispatcher(dialer, th)

	recipients := []recipient.Record{
		recipient.NewRecord("email", "a@x.com", "name", "A"),
		recipient.NewRecord("email", "b@x.com", "name", "B"),
	}

	summary, err := d.Run(context.Background(), recipients, Job{
		Subject: "Hi $name",
		Body:    "Hello $name!",
		Test:    true,
		Limit:   -1,
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Succeeded: 2, Failed: 0, Processed: 2}, summary)
	assert.Zero(t, dialer.opened, "test mode makes no network call")
	assert.Zero(t, th.waits, "test mode is not throttled")

	console := out.String()
	assert.Contains(t, console, "TEST MODE - Would send to: a@x.com\nSubject: Hi A\n")
	assert.Contains(t, console, "Hello A!...")
	assert.Contains(t, console, "TEST MODE - Would send to: b@x.com\nSubject: Hi B\n")
	assert.Contains(t, console, "Hello B!...")
	assert.Contains(t, console, "Progress: 2/2 emails processed")
	assert.Contains(t, console, "Email sending completed: 2 successful, 0 failed")
}

func TestRun_NoRecipients(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	d, out, _ := newDispatcher(dialer, nil)

	summary, err := d.Run(context.Background(), nil, Job{Subject: "s", Body: "b", Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Zero(t, dialer.opened)
	assert.Contains(t, out.String(), "No recipients to email")
}

func TestRun_SkipAndLimit(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	th := &countingThrottle{}
	d, _, _ := newDispatcher(dialer, th)

	summary, err := d.Run(context.Background(), members(3), Job{Subject: "s", Body: "b", Skip: 1, Limit: 1})
	require.NoError(t, err)

	require.Len(t, dialer.session.sent, 1)
	assert.Equal(t, "m1@x.com", dialer.session.sent[0].To)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, th.waits)
	assert.Equal(t, 1, th.records)
	assert.Equal(t, 1, dialer.session.closed)
}

func TestRun_TestModeCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, skip, limit, want int
	}{
		{n: 5, skip: 0, limit: -1, want: 5},
		{n: 5, skip: 2, limit: -1, want: 3},
		{n: 5, skip: 2, limit: 2, want: 2},
		{n: 5, skip: 4, limit: 10, want: 1},
		{n: 5, skip: 5, limit: 3, want: 0},
		{n: 5, skip: 9, limit: 3, want: 0},
		{n: 5, skip: 0, limit: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n%d_skip%d_limit%d", tt.n, tt.skip, tt.limit), func(t *testing.T) {
			t.Parallel()
			d, out, _ := newDispatcher(nil, nil)
			summary, err := d.Run(context.Background(), members(tt.n), Job{
				Subject: "s", Body: "b", Test: true, Skip: tt.skip, Limit: tt.limit,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, summary.Succeeded)
			assert.Equal(t, tt.want, strings.Count(out.String(), "TEST MODE - Would send to"))
		})
	}
}

func TestRun_FailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{session: &fakeSession{
		failOn: map[string]error{"m1@x.com": errors.New("550 mailbox unavailable")},
	}}
	d, out, logBuf := newDispatcher(dialer, &countingThrottle{})

	summary, err := d.Run(context.Background(), members(3), Job{Subject: "s", Body: "b", Limit: -1})
	require.NoError(t, err)

	assert.Equal(t, Summary{Succeeded: 2, Failed: 1, Processed: 3}, summary)
	require.Len(t, dialer.session.sent, 2)
	assert.Equal(t, "m2@x.com", dialer.session.sent[1].To)
	assert.Contains(t, out.String(), "Error sending to m1@x.com: 550 mailbox unavailable")
	assert.Contains(t, logBuf.String(), "Error sending email to m1@x.com")
	assert.Equal(t, 1, dialer.session.closed)
}

func TestRun_MissingAddressCountsAsFailure(t *testing.T) {
	t.Parallel()

	d, out, _ := newDispatcher(nil, nil)
	recipients := []recipient.Record{
		recipient.NewRecord("name", "NoMail"),
		recipient.NewRecord("email", "b@x.com", "name", "B"),
	}

	summary, err := d.Run(context.Background(), recipients, Job{Subject: "s", Body: "b", Test: true, Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Contains(t, out.String(), "Error sending to unknown")
}

func TestRun_MissingFieldIsTolerated(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	d, out, _ := newDispatcher(dialer, nil)
	recipients := []recipient.Record{recipient.NewRecord("email", "a@x.com")}

	summary, err := d.Run(context.Background(), recipients, Job{Subject: "Hi $name", Body: "Dear $name, from $club", Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	require.Len(t, dialer.session.sent, 1)
	assert.Equal(t, "Hi $name", dialer.session.sent[0].Subject)
	assert.Equal(t, "Dear $name, from $club", dialer.session.sent[0].HTML)
	assert.Contains(t, out.String(), "Warning: Missing field in recipient data")
}

func TestRun_ConnectionError(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{openErr: errors.New("dial tcp: refused")}
	d, out, _ := newDispatcher(dialer, nil)

	summary, err := d.Run(context.Background(), members(2), Job{Subject: "s", Body: "b", Limit: -1})
	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, Summary{}, summary)
	assert.Contains(t, out.String(), "SMTP connection error: dial tcp: refused")
	assert.NotContains(t, out.String(), "Email sending completed")
}

func TestRun_TemplateFileError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := filepath.Join(dir, "body.html")
	require.NoError(t, os.WriteFile(body, []byte("x"), 0o000))
	if _, err := os.ReadFile(body); err == nil {
		t.Skip("file permissions are not enforced for this user")
	}

	dialer := &fakeDialer{}
	d, _, _ := newDispatcher(dialer, nil)

	_, err := d.Run(context.Background(), members(2), Job{Subject: "s", Body: body, Limit: -1})
	require.ErrorIs(t, err, ErrTemplate)
	assert.Empty(t, dialer.session.sent)
	assert.Equal(t, 1, dialer.session.closed, "session is closed when the template cannot be loaded")
}

func TestRun_BodyFromFile(t *testing.T) {
	t.Parallel()

	body := filepath.Join(t.TempDir(), "body.html")
	require.NoError(t, os.WriteFile(body, []byte("<p>Hello $name</p>"), 0644))

	dialer := &fakeDialer{}
	d, _, _ := newDispatcher(dialer, nil)

	_, err := d.Run(context.Background(), members(2), Job{Subject: "s", Body: body, Limit: -1})
	require.NoError(t, err)
	require.Len(t, dialer.session.sent, 2)
	assert.Equal(t, "<p>Hello M1</p>", dialer.session.sent[1].HTML)
}

func TestRun_ProgressEveryTen(t *testing.T) {
	t.Parallel()

	d, out, _ := newDispatcher(nil, nil)
	_, err := d.Run(context.Background(), members(23), Job{Subject: "s", Body: "b", Test: true, Limit: -1})
	require.NoError(t, err)

	console := out.String()
	assert.Contains(t, console, "Progress: 10/23")
	assert.Contains(t, console, "Progress: 20/23")
	assert.Contains(t, console, "Progress: 23/23")
	assert.Equal(t, 3, strings.Count(console, "Progress:"))
}

func TestRun_CancelledStillCloses(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	d, out, _ := newDispatcher(dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, members(3), Job{Subject: "s", Body: "b", Limit: -1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, dialer.session.closed)
	assert.Contains(t, out.String(), "Email sending completed: 0 successful, 0 failed")
}

type cancellingThrottle struct {
	cancel context.CancelFunc
	after  int
	waits  int
}

func (t *cancellingThrottle) Wait(ctx context.Context) error {
	t.waits++
	if t.waits > t.after {
		t.cancel()
		return ctx.Err()
	}
	return nil
}

func (t *cancellingThrottle) Record() {}

func TestRun_InterruptedDuringPauseIsNotAFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{}
	d, out, logBuf := newDispatcher(dialer, &cancellingThrottle{cancel: cancel, after: 1})

	summary, err := d.Run(ctx, members(3), Job{Subject: "s", Body: "b", Limit: -1})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, Summary{Succeeded: 1, Failed: 0, Processed: 1}, summary)
	require.Len(t, dialer.session.sent, 1)
	assert.Equal(t, 1, dialer.session.closed)
	assert.Contains(t, out.String(), "Email sending completed: 1 successful, 0 failed")
	assert.NotContains(t, out.String(), "Error sending to")
	assert.NotContains(t, logBuf.String(), "Error sending email to")
}

func TestPreview_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", PreviewLength+50)
	assert.Equal(t, PreviewLength, len([]rune(preview(long))))
	assert.Equal(t, "short", preview("short"))
}

func TestWindow(t *testing.T) {
	t.Parallel()

	all := members(3)
	assert.Len(t, Window(all, 0, -1), 3)
	assert.Len(t, Window(all, -2, 2), 2)
	got := Window(all, 1, 1)
	require.Len(t, got, 1)
	addr, _ := got[0].Email()
	assert.Equal(t, "m1@x.com", addr)
	assert.Nil(t, Window(all, 3, 1))
}
