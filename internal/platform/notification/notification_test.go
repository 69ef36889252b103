package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	_, _, err := eng.Render("nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	for _, id := range []string{TemplateAppointmentReminder, TemplateFollowUpReminder, TemplateReminderEmail} {
		if _, _, err := eng.Render(id, nil); err != nil {
			t.Errorf("built-in template %q: %v", id, err)
		}
	}
}

func TestTemplateEngine_AppointmentReminder(t *testing.T) {
	eng := NewTemplateEngine()
	subject, body, err := eng.Render(TemplateAppointmentReminder, map[string]string{
		"date":      "2026-03-01",
		"time":      "09:30",
		"lead_time": "1 hour",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Appointment Reminder" {
		t.Errorf("subject = %q", subject)
	}
	want := "You have an appointment on 2026-03-01 at 09:30, 1 hour from now."
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestTemplateEngine_RenderMissingKey(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render(TemplateAppointmentReminder, map[string]string{"date": "2026-03-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{time}}") {
		t.Errorf("expected unreplaced placeholder to remain, got %q", body)
	}
}

// ---------------------------------------------------------------------------
// SMTP sender tests
// ---------------------------------------------------------------------------

type fakeDialer struct {
	mu    sync.Mutex
	sent  []*gomail.Message
	err   error
	delay time.Duration
}

func (d *fakeDialer) DialAndSend(msgs ...*gomail.Message) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msgs...)
	return d.err
}

func newTestSender(d *fakeDialer) *SMTPSender {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 2525, From: "clinic@example.com"}, NewTemplateEngine(), zerolog.Nop())
	s.dialer = d
	return s
}

func TestSMTPSender_SendReminder(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSender(d)

	if err := s.SendReminder(context.Background(), "patient@example.com", "2026-03-01 09:30", "24 hours"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(d.sent))
	}
	m := d.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "patient@example.com" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("From"); len(got) != 1 || got[0] != "clinic@example.com" {
		t.Errorf("From = %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "Reminder: your appointment in 24 hours" {
		t.Errorf("Subject = %v", got)
	}
}

func TestSMTPSender_EmptyRecipient(t *testing.T) {
	d := &fakeDialer{}
	if err := newTestSender(d).SendReminder(context.Background(), "", "x", "y"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
	if len(d.sent) != 0 {
		t.Errorf("expected no message sent, got %d", len(d.sent))
	}
}

func TestSMTPSender_DialError(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	if err := newTestSender(d).SendReminder(context.Background(), "p@example.com", "x", "y"); err == nil {
		t.Fatal("expected dial error to propagate")
	}
}

func TestSMTPSender_ContextTimeout(t *testing.T) {
	d := &fakeDialer{delay: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := newTestSender(d).SendReminder(ctx, "p@example.com", "x", "y")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Errorf("SendReminder did not return promptly after ctx deadline")
	}
}

// ---------------------------------------------------------------------------
// Mock and no-op sender tests
// ---------------------------------------------------------------------------

func TestMockEmailSender_RecordsCalls(t *testing.T) {
	m := &MockEmailSender{}
	_ = m.SendReminder(context.Background(), "a@example.com", "t1", "1 hour")
	_ = m.SendReminder(context.Background(), "b@example.com", "t2", "24 hours")

	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].To != "b@example.com" || calls[1].LeadTimeText != "24 hours" {
		t.Errorf("unexpected call: %+v", calls[1])
	}
}

func TestNoopSender(t *testing.T) {
	var s EmailSender = NewNoopSender(zerolog.Nop())
	if err := s.SendReminder(context.Background(), "a@example.com", "t", "l"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
