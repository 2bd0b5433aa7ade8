// Package notify sends operator emails about application outcomes over
// plain SMTP. Notifications are strictly best-effort: a send failure is
// logged and swallowed so it can never fail a job application.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"helferbot/internal/config"
	"helferbot/internal/logging"
	"helferbot/pkg/utils"
)

// Mailer sends operator notifications. The zero value is unusable;
// construct with NewMailer.
type Mailer struct {
	cfg    *config.Config
	logger logging.Logger
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logging.GetGlobalLogger(),
	}
}

// Enabled reports whether notifications are configured at all.
func (m *Mailer) Enabled() bool {
	return m.cfg.Notify.Enabled
}

// SendSuccess notifies the operator that applications were submitted.
func (m *Mailer) SendSuccess(jobKeys []string, elapsed time.Duration) {
	subject := fmt.Sprintf("Umzugshelfer: %d Bewerbung(en) abgeschickt", len(jobKeys))
	body := fmt.Sprintf(
		"Erfolgreich beworben (%s):\n\n%s\n",
		utils.FormatDuration(elapsed),
		bulletList(jobKeys),
	)
	m.send(subject, body)
}

// SendError notifies the operator that a job could not be applied to.
func (m *Mailer) SendError(err error, jobKeys []string) {
	subject := "Umzugshelfer: Bewerbung fehlgeschlagen"
	body := fmt.Sprintf("Fehler:\n\n%v\n\nBetroffene Jobs:\n\n%s\n", err, bulletList(jobKeys))
	m.send(subject, body)
}

// SendTest sends a probe message so the operator can verify the SMTP
// settings without waiting for a real job.
func (m *Mailer) SendTest() error {
	return m.deliver("Umzugshelfer: Testbenachrichtigung",
		"SMTP-Konfiguration funktioniert.\n")
}

// send is the fire-and-log wrapper around deliver.
func (m *Mailer) send(subject, body string) {
	if !m.cfg.Notify.Enabled {
		return
	}
	if err := m.deliver(subject, body); err != nil {
		m.logger.Error("Failed to send notification email", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
		return
	}
	m.logger.Info("Notification email sent", map[string]interface{}{
		"subject": subject,
		"to":      m.cfg.Notify.To,
	})
}

func (m *Mailer) deliver(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Notify.SMTPHost, m.cfg.Notify.SMTPPort)
	auth := smtp.PlainAuth("", m.cfg.Notify.From, m.cfg.Notify.Password, m.cfg.Notify.SMTPHost)

	msg := strings.Join([]string{
		"From: " + m.cfg.Notify.From,
		"To: " + m.cfg.Notify.To,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, m.cfg.Notify.From, []string{m.cfg.Notify.To}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", addr, err)
	}
	return nil
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (keine)"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
