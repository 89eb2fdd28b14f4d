package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

//go:embed templates/new_show.html
var templateFS embed.FS

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer emails subscribers when a show appears on TDF.
type Mailer struct {
	cfg  SMTPConfig
	tmpl *template.Template
	send func(*email.Email) error
	now  func() time.Time
}

// NewMailer parses the email template, from templatePath when set and the
// embedded default otherwise.
func NewMailer(cfg SMTPConfig, templatePath string) (*Mailer, error) {
	var (
		tmpl *template.Template
		err  error
	)
	if templatePath != "" {
		tmpl, err = template.ParseFiles(templatePath)
	} else {
		tmpl, err = template.ParseFS(templateFS, "templates/new_show.html")
	}
	if err != nil {
		return nil, fmt.Errorf("notifier: parse template: %w", err)
	}

	m := &Mailer{cfg: cfg, tmpl: tmpl, now: time.Now}
	m.send = m.sendSMTP
	return m, nil
}

// NotifyNewShow sends one email about title to every recipient in Bcc.
func (m *Mailer) NotifyNewShow(ctx context.Context, venue collector.Venue, title string, tl processor.Timeline, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.Compose(venue, title, tl, recipients)
	if err != nil {
		return err
	}
	if err := m.send(msg); err != nil {
		return fmt.Errorf("notifier: send %q: %w", title, err)
	}
	zap.S().Infof("notifier: sent %q to %d %s subscribers", title, len(recipients), venue)
	return nil
}

// Compose builds the message without sending it.
func (m *Mailer) Compose(venue collector.Venue, title string, tl processor.Timeline, recipients []string) (*email.Email, error) {
	body, err := m.RenderBody(venue, title, Subtitle(title, tl, m.now()))
	if err != nil {
		return nil, err
	}

	msg := email.NewEmail()
	msg.From = m.cfg.From
	msg.To = []string{m.cfg.From}
	msg.Bcc = recipients
	msg.Subject = Subject(title)
	msg.HTML = []byte(body)
	return msg, nil
}

func Subject(title string) string {
	return fmt.Sprintf("%s is Now Available on TDF", title)
}

// Subtitle describes the show's previous run on TDF, if any.
func Subtitle(title string, tl processor.Timeline, now time.Time) string {
	switch {
	case !tl.Seen():
		return fmt.Sprintf("This is the first time %s is available on TDF.", title)
	case !tl.Left():
		return fmt.Sprintf("%s was last available on TDF on %s.", title, formatDate(tl.LastSeen))
	default:
		return fmt.Sprintf("The last time %s was on TDF, it stayed on TDF for %s. It ultimately left TDF on %s, %s ago.",
			title, processor.HumanizeDuration(tl.Stayed()), formatDate(tl.LeftAt), processor.HumanizeDuration(tl.Absent(now)))
	}
}

// RenderBody fills the HTML template.
func (m *Mailer) RenderBody(venue collector.Venue, title, subtitle string) (string, error) {
	finder := collector.DefaultTDFURLs[venue]
	if finder == "" {
		finder = collector.DefaultTDFURLs[collector.Broadway]
	}

	var buf bytes.Buffer
	err := m.tmpl.Execute(&buf, map[string]string{
		"ShowTitle":  title,
		"Subtitle":   subtitle,
		"FinderURL":  finder,
		"VenueLabel": venueLabel(venue),
	})
	if err != nil {
		return "", fmt.Errorf("notifier: render body: %w", err)
	}
	return buf.String(), nil
}

func (m *Mailer) sendSMTP(msg *email.Email) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	// 465 is implicit TLS; anything else negotiates STARTTLS
	if m.cfg.Port == 465 {
		return msg.SendWithTLS(addr, auth, &tls.Config{ServerName: m.cfg.Host})
	}
	return msg.Send(addr, auth)
}

func formatDate(t time.Time) string {
	return t.In(collector.Eastern).Format("January 2, 2006")
}

func venueLabel(v collector.Venue) string {
	switch v {
	case collector.Broadway:
		return "Broadway"
	case collector.OffBroadway:
		return "Off-Broadway"
	case collector.OffOffBroadway:
		return "Off-Off-Broadway"
	default:
		return strings.ReplaceAll(string(v), "_", " ")
	}
}
