// Package mailer sends feedback email over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"harkness_helper/internal/domain/provider"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	from   string
	dialer sender
	logger *logrus.Entry
}

// New returns nil when host is empty.
func New(host string, port int, user, password, from string, logger *logrus.Entry) *Mailer {
	if host == "" {
		return nil
	}
	if from == "" {
		from = user
	}
	return &Mailer{
		from:   from,
		dialer: gomail.NewDialer(host, port, user, password),
		logger: logger.WithField("component", "mailer"),
	}
}

func (m *Mailer) Send(ctx context.Context, msg provider.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("recipient is empty")
	}
	if err := m.dialer.DialAndSend(m.build(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	m.logger.WithField("to", msg.To).Debug("Mail sent")
	return nil
}

func (m *Mailer) build(msg provider.Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		gm.SetHeader("Reply-To", msg.ReplyTo)
	}
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)
	return gm
}
