// Package delivery sends rendered notifications to their recipients.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"digestflow/internal/domain"
)

type Message struct {
	FromName   string
	Recipients []string
	Subject    string
	Text       string
	HTML       string
}

// Sender makes one delivery attempt. It never retries; a failed job is picked
// up again by a later dispatch pass.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string // used when the message has none
	Timeout     time.Duration
}

type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)}
}

func (s *SMTPSender) buildMessage(msg Message) (*gomail.Message, error) {
	if len(msg.Recipients) == 0 {
		return nil, errors.Wrap(domain.ErrDelivery, "no recipients")
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = s.cfg.FromName
	}

	m := gomail.NewMessage()
	if fromName != "" {
		m.SetAddressHeader("From", s.cfg.FromAddress, fromName)
	} else {
		m.SetHeader("From", s.cfg.FromAddress)
	}
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if strings.TrimSpace(msg.HTML) != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m, nil
}

// Send dials, sends and closes. The call returns when ctx is done or the
// configured timeout elapses even if the SMTP exchange is still in flight.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(domain.ErrDelivery, err.Error())
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(domain.ErrDelivery, fmt.Sprintf("smtp send: %v", ctx.Err()))
	}
}

// LogSender only logs. Used when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Info().
		Strs("recipients", msg.Recipients).
		Str("subject", msg.Subject).
		Int("text_bytes", len(msg.Text)).
		Int("html_bytes", len(msg.HTML)).
		Msg("delivery (log only)")
	return nil
}
