// Package email provides an SMTP-based notifier for checkpoint escalation.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/Strob0t/harrier/internal/port/notifier"
)

// Name is the registry identifier for this channel.
const Name = "email"

func init() {
	notifier.Register(Name, func(config map[string]string) (notifier.Notifier, error) {
		port, _ := strconv.Atoi(config["smtp_port"])
		return NewNotifier(SMTPConfig{
			Host:     config["smtp_host"],
			Port:     port,
			From:     config["smtp_from"],
			Password: config["smtp_password"],
			To:       config["to"],
		}), nil
	})
}

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       string
}

// Notifier sends email notifications via SMTP. It is wired only in
// non-stationary mode: when a human is at the desk the terminal and
// webhook channels are enough.
type Notifier struct {
	cfg SMTPConfig
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) Name() string { return Name }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		ActionLinks:    true,
	}
}

func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || n.cfg.To == "" {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	body := n.buildHTML(notification)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, n.cfg.To, notification.Title, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, []byte(msg))
}

func (n *Notifier) buildHTML(notification notifier.Notification) string {
	html := fmt.Sprintf("<h2>%s</h2><p>%s</p>", notification.Title, notification.Message)
	if notification.TaskID != "" {
		html += fmt.Sprintf("<p><b>Task:</b> %s</p>", notification.TaskID)
	}
	if notification.ApproveURL != "" {
		html += fmt.Sprintf(
			`<p><a href="%s">Approve</a> &nbsp; <a href="%s">Reject</a></p>`,
			notification.ApproveURL, notification.RejectURL)
	}
	return html
}
