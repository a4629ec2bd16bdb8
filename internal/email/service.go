// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-commonwealth"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ThreadActivityData holds data for activity notification emails
type ThreadActivityData struct {
	AppName string
	Title   string
	Preview template.HTML
	URL     string
}

// SendThreadActivity notifies a subscriber about new activity on a thread
// they follow.
func (s *Service) SendThreadActivity(to, title, previewHTML, url string) error {
	data := ThreadActivityData{
		AppName: "Commonwealth",
		Title:   title,
		Preview: template.HTML(previewHTML),
		URL:     url,
	}

	subject := fmt.Sprintf("New activity on %q", title)
	html, err := renderTemplate(threadActivityEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render activity template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDigest sends a list of recent threads to one recipient.
func (s *Service) SendDigest(to, communityName string, items []DigestItem) error {
	data := DigestData{
		AppName:       "Commonwealth",
		CommunityName: communityName,
		Items:         items,
	}

	subject := fmt.Sprintf("What's new in %s", communityName)
	html, err := renderTemplate(digestEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render digest template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// DigestItem is one thread entry in a digest email
type DigestItem struct {
	Title  string
	Author string
	URL    string
}

// DigestData holds data for digest emails
type DigestData struct {
	AppName       string
	CommunityName string
	Items         []DigestItem
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const threadActivityEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New activity on {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #342e41; padding-bottom: 10px; margin-bottom: 20px; }
        .preview { background: #f7f7f7; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .button { display: inline-block; padding: 12px 24px; background: #342e41; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Title}}</h2>

    <div class="preview">{{.Preview}}</div>

    <p>
        <a href="{{.URL}}" class="button">View Thread</a>
    </p>

    <div class="footer">
        <p>You're receiving this because you're subscribed to this thread. Unsubscribe from the thread page.</p>
    </div>
</body>
</html>`

const digestEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>What's new in {{.CommunityName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #342e41; padding-bottom: 10px; margin-bottom: 20px; }
        .item { padding: 10px 0; border-bottom: 1px solid #eee; }
        .author { font-size: 12px; color: #666; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Recent threads in {{.CommunityName}}</h2>

    {{range .Items}}
    <div class="item">
        <a href="{{.URL}}">{{.Title}}</a>
        <div class="author">by {{.Author}}</div>
    </div>
    {{end}}

    <div class="footer">
        <p>You're receiving this digest because you're a member of {{.CommunityName}}.</p>
    </div>
</body>
</html>`
