package smtp

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/clubmail/internal/message"
)

type delivery struct {
	from string
	to   []string
	data []byte
}

type recordingBackend struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (b *recordingBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &recordingSession{backend: b}, nil
}

func (b *recordingBackend) all() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.deliveries...)
}

type recordingSession struct {
	backend *recordingBackend
	current delivery
}

func (s *recordingSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.current.from = from
	return nil
}

func (s *recordingSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.current.to = append(s.current.to, to)
	return nil
}

func (s *recordingSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.data = data
	s.backend.mu.Lock()
	s.backend.deliveries = append(s.backend.deliveries, s.current)
	s.backend.mu.Unlock()
	s.current = delivery{}
	return nil
}

func (s *recordingSession) Reset() {
	s.current = delivery{}
}

func (s *recordingSession) Logout() error {
	return nil
}

func startServer(t *testing.T) (string, *recordingBackend) {
	t.Helper()

	be := &recordingBackend{}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	return l.Addr().String(), be
}

func TestSession_SendsMessages(t *testing.T) {
	t.Parallel()

	addr, be := startServer(t)
	d := New(Config{Addr: addr, Security: None})
	assert.Equal(t, "smtp", d.Name())

	sess, err := d.Open(context.Background())
	require.NoError(t, err)

	for _, to := range []string{"a@x.com", "b@x.com"} {
		msg := &message.Message{From: "club@example.org", To: to, Subject: "Hi", HTML: "<p>Hello</p>"}
		require.NoError(t, sess.Send(context.Background(), msg))
	}
	require.NoError(t, sess.Close())

	got := be.all()
	require.Len(t, got, 2)
	assert.Equal(t, "club@example.org", got[0].from)
	assert.Equal(t, []string{"a@x.com"}, got[0].to)
	assert.Equal(t, []string{"b@x.com"}, got[1].to)
	assert.Contains(t, string(got[1].data), "Subject: Hi")
}

func TestOpen_AuthUnsupported(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t)
	d := New(Config{Addr: addr, Security: None, Username: "club", Password: "secret"})

	_, err := d.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestOpen_StartTLSUnsupported(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t)
	_, err := New(Config{Addr: addr}).Open(context.Background())
	assert.Error(t, err)
}

func TestOpen_ConnectionRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = New(Config{Addr: addr, Security: None}).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestOpen_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Addr: "127.0.0.1:25"}).Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
