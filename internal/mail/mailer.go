package mail

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"text/template"

	gomail "gopkg.in/mail.v2"

	"github.com/aerarium-app/aerarium/web"
)

// Message describes one transactional email. Template names the template
// pair under web/templates/emails (without extension); both the plain text
// and the HTML variant are rendered with Context.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Context  map[string]any `json:"context"`
}

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer renders message templates and delivers them over SMTP.
type Mailer struct {
	cfg    Config
	text   *template.Template
	html   *htmltemplate.Template
	logger *slog.Logger
}

// NewMailer parses the embedded mail templates and returns a Mailer.
func NewMailer(cfg Config, logger *slog.Logger) (*Mailer, error) {
	text, err := template.ParseFS(web.Templates, "templates/emails/*.txt")
	if err != nil {
		return nil, fmt.Errorf("mail: parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(web.Templates, "templates/emails/*.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parse html templates: %w", err)
	}
	return &Mailer{cfg: cfg, text: text, html: html, logger: logger}, nil
}

// Render produces the plain text and HTML bodies for a message.
func (m *Mailer) Render(msg Message) (text, html string, err error) {
	var tbuf, hbuf bytes.Buffer
	if err := m.text.ExecuteTemplate(&tbuf, "emails/"+msg.Template+".txt", msg.Context); err != nil {
		return "", "", fmt.Errorf("mail: render %s text: %w", msg.Template, err)
	}
	if err := m.html.ExecuteTemplate(&hbuf, "emails/"+msg.Template+".html", msg.Context); err != nil {
		return "", "", fmt.Errorf("mail: render %s html: %w", msg.Template, err)
	}
	return tbuf.String(), hbuf.String(), nil
}

// Send renders the message and delivers it. With no SMTP host configured
// the message is logged and dropped, which keeps development setups and
// tests working without a mail server.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	text, html, err := m.Render(msg)
	if err != nil {
		return err
	}
	if m.cfg.Host == "" {
		m.logger.Info("mail delivery skipped, no smtp host",
			slog.String("to", msg.To), slog.String("subject", msg.Subject))
		return nil
	}

	out := gomail.NewMessage()
	out.SetHeader("From", m.cfg.From)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", text)
	out.AddAlternative("text/html", html)

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := dialer.DialAndSend(out); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}
