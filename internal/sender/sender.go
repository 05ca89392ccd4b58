package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/secrets"
)

// ErrAuthFailed wraps server rejections of the account's credentials. The
// pipeline treats it as a hard failure against the account's health.
var ErrAuthFailed = errors.New("authentication failed")

// Config tunes the outbound SMTP sessions.
type Config struct {
	// HelloDomain is the domain announced in EHLO.
	HelloDomain string `toml:"hello_domain" json:"hello_domain"`
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `toml:"dial_timeout" json:"dial_timeout"`
	// SessionTimeout bounds the whole SMTP session.
	SessionTimeout time.Duration `toml:"session_timeout" json:"session_timeout"`
	// RequireTLS refuses to authenticate over plaintext connections.
	RequireTLS bool `toml:"require_tls" json:"require_tls"`
}

// DefaultConfig returns the standard sender tuning.
func DefaultConfig() Config {
	return Config{
		HelloDomain:    "localhost",
		DialTimeout:    10 * time.Second,
		SessionTimeout: 60 * time.Second,
		RequireTLS:     true,
	}
}

// Message is an outbound email: envelope plus raw RFC 5322 content.
type Message struct {
	From string
	To   string
	Data []byte
}

// Sender delivers messages through provider SMTP accounts. Credentials are
// decrypted per session and never retained or logged.
type Sender struct {
	config Config
	box    *secrets.Box
	logger *slog.Logger

	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New creates a sender. The box decrypts account credentials at send time.
func New(config Config, box *secrets.Box) *Sender {
	s := &Sender{
		config: config,
		box:    box,
		logger: slog.Default().With("component", "sender"),
	}
	s.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: config.DialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return s
}

// Send delivers one message through the given account. Errors are classified
// so the caller can tell permanent rejections from transient failures.
func (s *Sender) Send(ctx context.Context, acct account.Account, msg Message) error {
	client, err := s.session(ctx, acct)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	from := msg.From
	if from == "" {
		from = acct.Username
	}

	if err := client.Mail(from); err != nil {
		return outcome.ClassifySMTP("mail", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return outcome.ClassifySMTP("rcpt", err)
	}

	wc, err := client.Data()
	if err != nil {
		return outcome.ClassifySMTP("data", err)
	}
	if _, err := wc.Write(msg.Data); err != nil {
		_ = wc.Close()
		return &outcome.TransientNetworkError{Op: "data-write", Err: err}
	}
	if err := wc.Close(); err != nil {
		return outcome.ClassifySMTP("data-close", err)
	}

	_ = client.Quit()

	s.logger.Info("Message delivered",
		"event_type", "message_delivered",
		"account_id", acct.ID,
		"host", acct.Host)

	return nil
}

// Verify opens an authenticated session without sending anything, proving
// the account's credentials before it enters rotation.
func (s *Sender) Verify(ctx context.Context, acct account.Account) error {
	client, err := s.session(ctx, acct)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	_ = client.Quit()

	s.logger.Info("Account verified",
		"event_type", "account_verified",
		"account_id", acct.ID,
		"host", acct.Host)

	return nil
}

// session dials the account's server and walks the handshake through AUTH.
func (s *Sender) session(ctx context.Context, acct account.Account) (*smtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SessionTimeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", acct.Host, acct.Port)
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return nil, &outcome.TransientNetworkError{Op: "connect", Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, acct.Host)
	if err != nil {
		_ = conn.Close()
		return nil, outcome.ClassifySMTP("greeting", err)
	}

	if err := client.Hello(s.config.HelloDomain); err != nil {
		_ = client.Close()
		return nil, outcome.ClassifySMTP("ehlo", err)
	}

	secured := false
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: acct.Host}); err != nil {
			_ = client.Close()
			return nil, &outcome.TransientNetworkError{Op: "starttls", Err: err}
		}
		secured = true
	}
	if s.config.RequireTLS && !secured {
		_ = client.Close()
		return nil, &outcome.ConfigurationError{
			Reason: fmt.Sprintf("server %s does not offer STARTTLS and plaintext auth is disabled", acct.Host),
		}
	}

	password, err := s.box.Open(acct.Credentials)
	if err != nil {
		_ = client.Close()
		return nil, &outcome.ConfigurationError{
			Reason: fmt.Sprintf("cannot decrypt credentials for account %s", acct.ID),
		}
	}

	auth := smtp.PlainAuth("", acct.Username, password, acct.Host)
	if err := client.Auth(auth); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, outcome.ClassifySMTP("auth", err))
	}

	return client, nil
}
