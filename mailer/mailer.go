// Package mailer notifies sellers by e-mail after their listing goes live.
package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/treelistings/publication-service/app/config"
)

type Mailer struct {
	cfg config.SMTPConfig
}

func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) SendListingPublished(toEmail, listingTitle string) error {
	if toEmail == "" {
		return fmt.Errorf("recipient e-mail is empty")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.Sender)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", "Your listing is live")
	msg.SetBody("text/plain", "Your listing '"+listingTitle+"' has been published and is now visible to buyers.")

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send listing published mail: %w", err)
	}
	return nil
}
