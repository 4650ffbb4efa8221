package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/domain/scheduling"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/db"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/notification"
)

type fakeQueue struct {
	accept bool
	reqs   []notification.Request
}

func (q *fakeQueue) Enqueue(req notification.Request) bool {
	if !q.accept {
		return false
	}
	q.reqs = append(q.reqs, req)
	return true
}

func TestTemplateFor(t *testing.T) {
	tests := []struct {
		typ    scheduling.EventType
		status scheduling.AppointmentStatus
		want   string
	}{
		{scheduling.EventBooked, scheduling.StatusPending, notification.TemplateBooked},
		{scheduling.EventRescheduled, scheduling.StatusConfirmed, notification.TemplateRescheduled},
		{scheduling.EventReminder, scheduling.StatusConfirmed, notification.TemplateReminder},
		{scheduling.EventStatus, scheduling.StatusConfirmed, notification.TemplateConfirmed},
		{scheduling.EventStatus, scheduling.StatusCancelled, notification.TemplateCancelled},
		{scheduling.EventStatus, scheduling.StatusCompleted, notification.TemplateStatus},
		{scheduling.EventStatus, scheduling.StatusNoShow, notification.TemplateStatus},
	}
	for _, tt := range tests {
		got := templateFor(scheduling.Event{Type: tt.typ, Status: tt.status})
		if got != tt.want {
			t.Errorf("templateFor(%s, %s) = %s, want %s", tt.typ, tt.status, got, tt.want)
		}
	}
}

func TestEventNotifier_RendersInClinicZone(t *testing.T) {
	q := &fakeQueue{accept: true}
	loc := time.FixedZone("UTC-6", -6*60*60)
	n := newEventNotifier(q, loc, zerolog.Nop())

	evt := scheduling.Event{
		Type:          scheduling.EventStatus,
		AppointmentID: uuid.New(),
		ClientID:      uuid.New(),
		DentistID:     uuid.New(),
		Status:        scheduling.StatusCancelled,
		Start:         time.Date(2025, time.March, 4, 2, 30, 0, 0, time.UTC),
		Reason:        "viaje",
	}
	ctx := context.WithValue(context.Background(), db.ClinicIDKey, "norte")
	n.Notify(ctx, evt)

	if len(q.reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(q.reqs))
	}
	req := q.reqs[0]
	if req.TemplateID != notification.TemplateCancelled {
		t.Errorf("expected cancelled template, got %s", req.TemplateID)
	}
	if req.Recipient != evt.ClientID.String() {
		t.Errorf("expected client as recipient, got %s", req.Recipient)
	}
	if req.Data["date"] != "03/03/2025" || req.Data["time"] != "20:30" {
		t.Errorf("expected local Monday 20:30, got %s %s", req.Data["date"], req.Data["time"])
	}
	if req.Data["reason"] != "viaje" {
		t.Errorf("expected reason, got %q", req.Data["reason"])
	}
	if req.Metadata["clinic_id"] != "norte" || req.Metadata["appointment_id"] != evt.AppointmentID.String() {
		t.Errorf("unexpected metadata %v", req.Metadata)
	}
}

func TestEventNotifier_FullQueueDoesNotBlock(t *testing.T) {
	q := &fakeQueue{accept: false}
	n := newEventNotifier(q, time.UTC, zerolog.Nop())
	n.Notify(context.Background(), scheduling.Event{Type: scheduling.EventBooked})
	if len(q.reqs) != 0 {
		t.Error("expected nothing queued")
	}
}

func TestPrintAvailability(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	start := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	av := &scheduling.Availability{
		DentistID:   uuid.New(),
		Date:        "2025-03-03",
		SlotMinutes: 30,
		Slots: []scheduling.Slot{
			scheduling.Slot(scheduling.IntervalFrom(start, 30)),
			scheduling.Slot(scheduling.IntervalFrom(start.Add(time.Hour), 30)),
		},
	}
	printAvailability(cmd, av, time.UTC)
	out := buf.String()
	if !strings.Contains(out, "09:00 - 09:30") || !strings.Contains(out, "10:00 - 10:30") {
		t.Errorf("unexpected output:\n%s", out)
	}

	buf.Reset()
	printAvailability(cmd, &scheduling.Availability{Reason: scheduling.ReasonNotWorkingDay}, time.UTC)
	if !strings.Contains(buf.String(), "not_working_day") {
		t.Errorf("expected reason in output, got %s", buf.String())
	}
}

func TestCommands(t *testing.T) {
	for _, cmd := range []*cobra.Command{serveCmd(), migrateCmd(), clinicCmd(), availabilityCmd()} {
		if cmd.Use == "" || cmd.Short == "" {
			t.Errorf("command %q is missing usage text", cmd.Use)
		}
	}
	names := map[string]bool{}
	for _, sub := range migrateCmd().Commands() {
		names[sub.Name()] = true
	}
	if !names["up"] || !names["status"] {
		t.Errorf("expected migrate up and status, got %v", names)
	}
	if availabilityCmd().Flags().Lookup("dentist") == nil {
		t.Error("expected --dentist flag")
	}
}
