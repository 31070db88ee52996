package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
)

// SMTP delivers messages over an SMTP submission server. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
type SMTP struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	now     func() time.Time

	// tlsConfig is overridable for tests against a local server.
	tlsConfig *tls.Config
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg config.SMTPConfig, timeout time.Duration) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = config.DefaultSMTPPort
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTP{
		cfg:       cfg,
		timeout:   timeout,
		now:       time.Now,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}
}

func (s *SMTP) Name() string { return "smtp" }

// Send performs one SMTP transaction. Permanent (5xx) replies are marked so
// the retry policy gives up immediately.
func (s *SMTP) Send(ctx context.Context, msg *domain.EmailMessage) error {
	data, messageID, err := buildMIME(msg, senderDomain(msg.FromEmail), s.now())
	if err != nil {
		return retry.Permanent(err)
	}
	if err := s.transact(ctx, msg.FromEmail, msg.To, data); err != nil {
		return classify(err)
	}
	log.Printf("[SMTP] sent campaign=%s recipient=%s id=%s", msg.CampaignID, msg.RecipientID, messageID)
	return nil
}

func (s *SMTP) transact(ctx context.Context, from, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.timeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: s.tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer c.Close()

	if s.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if s.cfg.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(&plainAuth{user: s.cfg.User, pass: s.cfg.Password}); err != nil {
				return fmt.Errorf("AUTH: %w", err)
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

// classify marks 5xx replies as permanent.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return retry.Permanent(err)
	}
	return err
}

// plainAuth implements PLAIN without net/smtp's TLS requirement, for
// relays on private networks that do not offer STARTTLS.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next([]byte, bool) ([]byte, error) {
	return nil, nil
}
