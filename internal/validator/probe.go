package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/sendrotor/sendrotor/internal/outcome"
)

// Prober tests whether a mail exchanger accepts a recipient. A nil return
// means the recipient was accepted through RCPT TO; the probe never sends
// message content.
type Prober interface {
	Probe(ctx context.Context, mxHost, recipient string) error
}

// ProbeConfig tunes the SMTP handshake probe.
type ProbeConfig struct {
	// HelloDomain is the domain announced in EHLO.
	HelloDomain string `toml:"hello_domain" json:"hello_domain"`
	// MailFrom is the envelope sender used for probes. An empty string sends
	// a null reverse-path, which most servers accept for verification.
	MailFrom string `toml:"mail_from" json:"mail_from"`
	// Timeout bounds the whole handshake.
	Timeout time.Duration `toml:"timeout" json:"timeout"`
	// Port is the SMTP port to probe, normally 25.
	Port int `toml:"port" json:"port"`
}

// DefaultProbeConfig returns the standard probe tuning.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		HelloDomain: "localhost",
		Timeout:     15 * time.Second,
		Port:        25,
	}
}

// smtpProber runs the handshake against real mail exchangers.
type smtpProber struct {
	config ProbeConfig
	dial   func(ctx context.Context, addr string) (net.Conn, error)
}

// NewProber creates an SMTP handshake prober.
func NewProber(config ProbeConfig) Prober {
	p := &smtpProber{config: config}
	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: config.Timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return p
}

// Probe connects to the exchanger and walks the handshake through RCPT TO,
// then resets and quits. Errors are classified so callers can separate
// permanent rejections from transient trouble.
func (p *smtpProber) Probe(ctx context.Context, mxHost, recipient string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", mxHost, p.config.Port)
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return &outcome.TransientNetworkError{Op: "connect", Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		_ = conn.Close()
		return outcome.ClassifySMTP("greeting", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Hello(p.config.HelloDomain); err != nil {
		return outcome.ClassifySMTP("ehlo", err)
	}

	// opportunistic TLS; a handshake failure falls back to plaintext
	if ok, _ := client.Extension("STARTTLS"); ok {
		_ = client.StartTLS(&tls.Config{ServerName: mxHost})
	}

	if err := client.Mail(p.config.MailFrom); err != nil {
		return outcome.ClassifySMTP("mail", err)
	}

	if err := client.Rcpt(recipient); err != nil {
		return outcome.ClassifySMTP("rcpt", err)
	}

	// recipient accepted; back out without sending content
	_ = client.Reset()
	_ = client.Quit()
	return nil
}
