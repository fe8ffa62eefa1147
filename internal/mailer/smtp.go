package mailer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/wneessen/go-mail"
)

const headerJobID mail.Header = "X-Queue-Job-ID"

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg dto.SendEmailPayload, jobID uint) error
}

// SMTPSender dials the configured server for every message.
type SMTPSender struct {
	cfg config.SMTP
}

func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg dto.SendEmailPayload, jobID uint) error {
	m, err := buildMessage(s.cfg.From, msg, jobID)
	if err != nil {
		return err
	}

	c, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("email send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	return opts
}

func buildMessage(from string, msg dto.SendEmailPayload, jobID uint) (*mail.Msg, error) {
	// CR/LF in the subject would start a new header.
	subject := strings.NewReplacer("\r", "", "\n", "").Replace(msg.Subject)

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("email send: set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("email send: set to: %w", err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("email send: set cc: %w", err)
		}
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("email send: set reply-to: %w", err)
		}
	}
	m.Subject(subject)
	m.SetGenHeader(headerJobID, strconv.FormatUint(uint64(jobID), 10))

	contentType := mail.TypeTextPlain
	if msg.HTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)
	return m, nil
}
