// Package email sends order notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/notify"
)

// Config describes the SMTP relay and the envelope.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Enabled reports whether enough is configured to send mail.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

var _ notify.Channel = (*Sender)(nil)

// Sender is a notify.Channel delivering plain-text email.
type Sender struct {
	cfg  Config
	addr string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// New creates a Sender. PLAIN auth is used when a username is set.
func New(cfg Config) *Sender {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	s := &Sender{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *Sender) Name() string { return "email" }

// Send delivers the summary. smtp.SendMail has no context support, so the
// call is abandoned (not aborted) when ctx ends first.
func (s *Sender) Send(ctx context.Context, sum notify.Summary) error {
	msg := s.message(sum)

	errc := make(chan error, 1)
	go func() {
		errc <- s.send(s.addr, s.auth, s.cfg.From, s.cfg.To, msg)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, "send mail")
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "send mail")
	}
}

func (s *Sender) message(sum notify.Summary) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	header("From", s.cfg.From)
	header("To", strings.Join(s.cfg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", sum.Subject()))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(sum.PlainText(), "\n", "\r\n"))
	return b.Bytes()
}
