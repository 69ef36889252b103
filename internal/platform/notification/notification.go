// Package notification renders reminder text and delivers reminder email.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Template IDs registered by NewTemplateEngine.
const (
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateFollowUpReminder    = "follow-up-reminder"
	TemplateReminderEmail       = "appointment-reminder-email"
)

// EmailSender delivers a reminder email. Implementations must honour ctx.
type EmailSender interface {
	SendReminder(ctx context.Context, to, scheduledTimeText, leadTimeText string) error
}

// ---------------------------------------------------------------------------
// Template engine
// ---------------------------------------------------------------------------

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Name    string
	Subject string
	Body    string
}

// TemplateEngine holds templates by id and renders them.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateAppointmentReminder,
			Name:    "Appointment Reminder",
			Subject: "Appointment Reminder",
			Body:    "You have an appointment on {{date}} at {{time}}, {{lead_time}} from now.",
		},
		{
			ID:      TemplateFollowUpReminder,
			Name:    "Follow-up Reminder",
			Subject: "Follow-up Reminder",
			Body:    "Your follow-up visit is on {{date}} at {{time}}, {{lead_time}} from now.",
		},
		{
			ID:      TemplateReminderEmail,
			Name:    "Appointment Reminder Email",
			Subject: "Reminder: your appointment in {{lead_time}}",
			Body:    "Hello,\n\nThis is a reminder that your appointment is scheduled for {{scheduled_time}}, {{lead_time}} from now.\n\nIf you can no longer attend, please cancel so the slot can be offered to another patient.\n",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// SMTP sender
// ---------------------------------------------------------------------------

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// dialer is the subset of *gomail.Dialer used by SMTPSender.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends reminder email through an SMTP relay.
type SMTPSender struct {
	from      string
	dialer    dialer
	templates *TemplateEngine
	logger    zerolog.Logger
}

// NewSMTPSender builds a sender for cfg.
func NewSMTPSender(cfg SMTPConfig, templates *TemplateEngine, logger zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		from:      cfg.From,
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		templates: templates,
		logger:    logger.With().Str("component", "smtp").Logger(),
	}
}

// SendReminder renders the reminder email and sends it. gomail has no
// context support, so the send runs in a goroutine and SendReminder returns
// ctx.Err() if ctx ends first; the abandoned send finishes in the background.
func (s *SMTPSender) SendReminder(ctx context.Context, to, scheduledTimeText, leadTimeText string) error {
	if to == "" {
		return fmt.Errorf("recipient address is required")
	}
	subject, body, err := s.templates.Render(TemplateReminderEmail, map[string]string{
		"scheduled_time": scheduledTimeText,
		"lead_time":      leadTimeText,
	})
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send reminder to %s: %w", to, err)
		}
		s.logger.Debug().Str("to", to).Msg("reminder email sent")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send reminder to %s: %w", to, ctx.Err())
	}
}

// NoopSender logs reminders instead of sending them. Used when SMTP is not configured.
type NoopSender struct {
	logger zerolog.Logger
}

func NewNoopSender(logger zerolog.Logger) *NoopSender {
	return &NoopSender{logger: logger.With().Str("component", "smtp-noop").Logger()}
}

func (n *NoopSender) SendReminder(_ context.Context, to, scheduledTimeText, leadTimeText string) error {
	n.logger.Info().Str("to", to).Str("scheduled_time", scheduledTimeText).Str("lead_time", leadTimeText).Msg("smtp disabled, reminder email not sent")
	return nil
}

// ---------------------------------------------------------------------------
// Mock sender
// ---------------------------------------------------------------------------

// EmailCall records a single MockEmailSender invocation.
type EmailCall struct {
	To                string
	ScheduledTimeText string
	LeadTimeText      string
}

// MockEmailSender records calls and optionally fails. Safe for concurrent use.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Err   error
}

func (m *MockEmailSender) SendReminder(_ context.Context, to, scheduledTimeText, leadTimeText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, ScheduledTimeText: scheduledTimeText, LeadTimeText: leadTimeText})
	return m.Err
}

// Calls returns a copy of the recorded calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
