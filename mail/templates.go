package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Template names.
const (
	TemplatePasswordReset     = "password_reset"
	TemplateEmailVerification = "email_verification"
	TemplateWelcome           = "welcome"
	TemplatePasswordChanged   = "password_changed"
	TemplateAccountLocked     = "account_locked"
	TemplateTwoFactorEnabled  = "two_factor_enabled"
	TemplateTwoFactorDisabled = "two_factor_disabled"
)

var subjects = map[string]string{
	TemplatePasswordReset:     "Reset your %s password",
	TemplateEmailVerification: "Verify your email for %s",
	TemplateWelcome:           "Welcome to %s",
	TemplatePasswordChanged:   "Your %s password was changed",
	TemplateAccountLocked:     "Your %s account was locked",
	TemplateTwoFactorEnabled:  "Two-factor authentication enabled on %s",
	TemplateTwoFactorDisabled: "Two-factor authentication disabled on %s",
}

// Data is the template input. Link is the action URL when the template
// has one.
type Data struct {
	AppName     string
	Name        string
	Username    string
	Link        string
	ExpiresIn   string
	LockedUntil string
	IPAddress   string
	Year        int
}

// Templates renders the built-in messages.
type Templates struct {
	appName string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// NewTemplates parses the embedded templates.
func NewTemplates(appName string) (*Templates, error) {
	h, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parse html templates: %w", err)
	}
	t, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("mail: parse text templates: %w", err)
	}
	return &Templates{appName: appName, html: h, text: t}, nil
}

// Render builds the message for name addressed to to.
func (t *Templates) Render(name, to string, d Data) (Message, error) {
	subject, ok := subjects[name]
	if !ok {
		return Message{}, fmt.Errorf("mail: unknown template %q", name)
	}
	d.AppName = t.appName
	if d.Year == 0 {
		d.Year = time.Now().Year()
	}

	var html, text bytes.Buffer
	if err := t.html.ExecuteTemplate(&html, name+".html", d); err != nil {
		return Message{}, fmt.Errorf("mail: render %s: %w", name, err)
	}
	if err := t.text.ExecuteTemplate(&text, name+".txt", d); err != nil {
		return Message{}, fmt.Errorf("mail: render %s: %w", name, err)
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf(subject, t.appName),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
