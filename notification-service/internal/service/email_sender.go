package service

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"taskloop/pkg/config"

	"go.uber.org/zap"
)

const defaultSendTimeout = 30 * time.Second

// EmailSender delivers a single email. Implementations must be safe for
// concurrent use: the delivery worker sends from many goroutines.
type EmailSender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay. Every send runs under
// a deadline covering dial and the whole SMTP dialogue, so a black-holed
// relay fails the attempt instead of hanging a delivery goroutine.
type SMTPSender struct {
	addr    string
	host    string
	from    string
	auth    smtp.Auth
	timeout time.Duration
	logger  *zap.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, timeout time.Duration, logger *zap.Logger) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &SMTPSender{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:    cfg.Host,
		from:    cfg.From,
		auth:    auth,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	if err := s.send(to, []byte(msg)); err != nil {
		s.logger.Error("SMTP send failed",
			zap.String("to", to),
			zap.String("smtp_addr", s.addr),
			zap.Error(err),
		)
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (s *SMTPSender) send(to string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", s.addr, s.timeout)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
