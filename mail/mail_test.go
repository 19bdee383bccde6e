package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSMTPSenderBuildsMultipartMessage(t *testing.T) {
	d := &fakeDialer{}
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25, From: "panel@example.com", FromName: "Panel"})
	s.dialer = d

	err := s.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hi", HTML: "<p>Hello <b>Alice</b></p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(d.sent))
	}
	m := d.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("To = %v", got)
	}
	if got := m.GetHeader("From"); len(got) != 1 || !strings.Contains(got[0], "panel@example.com") {
		t.Fatalf("From = %v", got)
	}
}

func TestSMTPSenderWrapsFailures(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25, Username: "u@example.com"})
	s.dialer = &fakeDialer{err: errors.New("connection refused")}

	if err := s.Send(context.Background(), Message{To: "a@example.com"}); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, Message{To: "a@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<style>p{color:red}</style><p>Hello</p>\n<p>  world </p>")
	if got != "Hello world" {
		t.Fatalf("StripHTML = %q", got)
	}
}

func TestTemplatesRender(t *testing.T) {
	tpl, err := NewTemplates("Panel")
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}

	msg, err := tpl.Render(TemplatePasswordReset, "alice@example.com", Data{
		Name:      "Alice",
		Link:      "https://panel.example.com/reset-password?token=abc",
		ExpiresIn: "1 hour",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Reset your Panel password" {
		t.Fatalf("subject %q", msg.Subject)
	}
	for _, body := range []string{msg.HTML, msg.Text} {
		if !strings.Contains(body, "https://panel.example.com/reset-password?token=abc") || !strings.Contains(body, "1 hour") {
			t.Fatalf("body missing link or expiry:\n%s", body)
		}
	}

	for name := range subjects {
		if _, err := tpl.Render(name, "a@example.com", Data{Name: "A"}); err != nil {
			t.Fatalf("Render(%s): %v", name, err)
		}
	}
	if _, err := tpl.Render("nope", "a@example.com", Data{}); err == nil {
		t.Fatal("expected unknown template error")
	}
}

func TestTemplatesEscapeHTML(t *testing.T) {
	tpl, _ := NewTemplates("Panel")
	msg, err := tpl.Render(TemplateWelcome, "a@example.com", Data{Name: "<script>x</script>", Username: "a"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatal("name not escaped in html body")
	}
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	_ = o.Send(context.Background(), Message{To: "A@example.com"})
	_ = o.Send(context.Background(), Message{To: "b@example.com"})

	if len(o.To("a@example.com")) != 1 || len(o.Messages()) != 2 {
		t.Fatalf("unexpected outbox %+v", o.Messages())
	}
	o.Reset()
	if len(o.Messages()) != 0 {
		t.Fatal("Reset did not clear")
	}
}
