// Package mailer sends transactional email (team invitations).
package mailer

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// New returns an SMTP mailer when a host is configured, otherwise one that
// only logs what it would have sent.
func New(cfg SMTPConfig, logger *zap.Logger) Mailer {
	if cfg.Host == "" {
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{cfg: cfg}
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func (m *SMTPMailer) options() []gomail.Option {
	opts := []gomail.Option{gomail.WithPort(m.cfg.Port)}
	if m.cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

func (m *SMTPMailer) Send(ctx context.Context, mail Mail) error {
	msg, err := compose(m.cfg.From, mail)
	if err != nil {
		return err
	}
	client, err := gomail.NewClient(m.cfg.Host, m.options()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", mail.To, err)
	}
	return nil
}

// compose builds the message. Addresses are parsed and the subject is
// flattened to one line; go-mail encodes non-ASCII header text.
func compose(from string, mail Mail) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(mail.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(singleLine(mail.Subject))
	msg.SetBodyString(gomail.TypeTextPlain, mail.Body)
	return msg, nil
}

// singleLine replaces control characters so a value cannot start a new
// header line.
func singleLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == '\r' || r == '\n' || r == '\t' || r == '\v' || r == '\f'
	}), " ")
}

// LogMailer is used in development.
type LogMailer struct {
	logger *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, mail Mail) error {
	m.logger.Info("mail not sent, no SMTP host configured",
		zap.String("to", mail.To),
		zap.String("subject", singleLine(mail.Subject)),
		zap.String("body", mail.Body),
	)
	return nil
}
