// Package notification renders appointment messages from templates and hands
// them to a Publisher (RabbitMQ in production, the log in development).
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Status values of a Notification.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound message. Recipient is the client id; the
// downstream consumer resolves contact details from the CRM.
type Notification struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Publisher delivers a rendered notification to its transport.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var (
	ErrUnknownTemplate     = errors.New("unknown notification template")
	ErrNotificationMissing = errors.New("notification not found")
)

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Built-in template ids. Confirmed and cancelled refine a status change; the
// others share their name with a scheduling event type.
const (
	TemplateBooked      = "appointment.booked"
	TemplateConfirmed   = "appointment.confirmed"
	TemplateCancelled   = "appointment.cancelled"
	TemplateStatus      = "appointment.status_changed"
	TemplateRescheduled = "appointment.rescheduled"
	TemplateReminder    = "appointment.reminder"
)

var builtInTemplates = []Template{
	{TemplateBooked, "Solicitud de cita recibida",
		"Hemos recibido su solicitud de cita para el {{date}} a las {{time}}. Le avisaremos cuando sea confirmada."},
	{TemplateConfirmed, "Cita confirmada",
		"Su cita del {{date}} a las {{time}} ha sido confirmada."},
	{TemplateCancelled, "Cita cancelada",
		"Su cita del {{date}} a las {{time}} ha sido cancelada. {{reason}}"},
	{TemplateStatus, "Actualización de su cita",
		"El estado de su cita del {{date}} a las {{time}} es ahora: {{status}}."},
	{TemplateRescheduled, "Cita reprogramada",
		"Su cita ha sido reprogramada para el {{date}} a las {{time}}."},
	{TemplateReminder, "Recordatorio de cita",
		"Le recordamos su cita del {{date}} a las {{time}}."},
}

// TemplateEngine holds templates by id. Safe for concurrent use.
type TemplateEngine struct {
	mu   sync.RWMutex
	byID map[string]Template
}

// NewTemplateEngine returns an engine preloaded with the Spanish appointment
// templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{byID: make(map[string]Template, len(builtInTemplates))}
	for _, t := range builtInTemplates {
		e.byID[t.ID] = t
	}
	return e
}

// RegisterTemplate adds t or replaces the template with the same id.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	e.byID[t.ID] = t
	e.mu.Unlock()
}

// Render fills the placeholders of templateID in a single pass, so values
// that themselves contain "{{...}}" are never expanded. Unknown placeholders
// are kept.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.byID[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), strings.TrimSpace(r.Replace(t.Body)), nil
}

// ---------------------------------------------------------------------------
// Notification Manager
// ---------------------------------------------------------------------------

// NotificationManager renders, publishes and keeps a bounded in-memory history
// of notifications for the admin endpoints.
type NotificationManager struct {
	publisher  Publisher
	templates  *TemplateEngine
	maxHistory int
	now        func() time.Time

	mu            sync.RWMutex
	notifications map[string]*Notification
	order         []string
}

func NewNotificationManager(pub Publisher, tpl *TemplateEngine, maxHistory int) *NotificationManager {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &NotificationManager{
		publisher:     pub,
		templates:     tpl,
		maxHistory:    maxHistory,
		now:           time.Now,
		notifications: make(map[string]*Notification),
	}
}

// Send publishes n and records the outcome.
func (m *NotificationManager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = m.now().UTC()
	n.Status = StatusPending
	m.remember(n)
	return m.deliver(ctx, n)
}

// SendFromTemplate renders templateID with data and sends the result.
func (m *NotificationManager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string, metadata map[string]string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Type:         templateID,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Metadata:     metadata,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Retry republishes a failed notification.
func (m *NotificationManager) Retry(ctx context.Context, id string) error {
	n, err := m.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	status := n.Status
	m.mu.RUnlock()
	if status != StatusFailed {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, status)
	}
	return m.deliver(ctx, n)
}

func (m *NotificationManager) deliver(ctx context.Context, n *Notification) error {
	err := m.publisher.Publish(ctx, n)

	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return err
	}
	n.Status = StatusSent
	n.Error = ""
	sentAt := m.now().UTC()
	n.SentAt = &sentAt
	return nil
}

func (m *NotificationManager) remember(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	m.notifications[n.ID] = n
	for len(m.order) > m.maxHistory {
		delete(m.notifications, m.order[0])
		m.order = m.order[1:]
	}
}

// GetNotification returns the recorded notification.
func (m *NotificationManager) GetNotification(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotificationMissing, id)
	}
	return n, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest first.
func (m *NotificationManager) ListByRecipient(_ context.Context, recipient string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		if n := m.notifications[m.order[i]]; n.Recipient == recipient {
			result = append(result, n)
		}
	}
	return result
}

// Stats counts recorded notifications per status.
func (m *NotificationManager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// Failed returns the ids of failed notifications, oldest first.
func (m *NotificationManager) Failed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, id := range m.order {
		if m.notifications[id].Status == StatusFailed {
			ids = append(ids, id)
		}
	}
	return ids
}
