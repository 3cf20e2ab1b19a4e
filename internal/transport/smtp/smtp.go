// Package smtp implements a transport that relays messages through an SMTP
// submission server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/oarkflow/clubmail/internal/message"
	"github.com/oarkflow/clubmail/internal/transport"
)

// Security modes
const (
	StartTLS = "starttls"
	TLS      = "tls"
	None     = "none"
)

// Config holds the relay connection settings.
type Config struct {
	Addr      string
	Security  string
	Username  string
	Password  string
	TLSConfig *tls.Config
}

// Dialer opens SMTP sessions.
type Dialer struct {
	cfg Config
}

// New creates an SMTP dialer.
func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Name returns the transport name.
func (d *Dialer) Name() string {
	return "smtp"
}

// Open connects to the relay, upgrades the connection as configured and
// authenticates with AUTH PLAIN when a password is set.
func (d *Dialer) Open(ctx context.Context) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig := d.cfg.TLSConfig
	if tlsConfig == nil {
		host, _, err := net.SplitHostPort(d.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", d.cfg.Addr, err)
		}
		tlsConfig = &tls.Config{ServerName: host}
	}

	var (
		client *gosmtp.Client
		err    error
	)
	switch d.cfg.Security {
	case TLS:
		client, err = gosmtp.DialTLS(d.cfg.Addr, tlsConfig)
	case None:
		client, err = gosmtp.Dial(d.cfg.Addr)
	default:
		client, err = gosmtp.DialStartTLS(d.cfg.Addr, tlsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.cfg.Addr, err)
	}

	if d.cfg.Password != "" {
		auth := sasl.NewPlainClient("", d.cfg.Username, d.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	return &session{client: client}, nil
}

type session struct {
	client *gosmtp.Client
}

// Send transmits one message on the open connection.
func (s *session) Send(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := s.client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close sends QUIT and closes the connection.
func (s *session) Close() error {
	quitErr := s.client.Quit()
	closeErr := s.client.Close()
	if quitErr != nil {
		return errors.Join(quitErr, closeErr)
	}
	return nil
}
