package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/domain/scheduling"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/db"
	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/notification"
)

type enqueuer interface {
	Enqueue(req notification.Request) bool
}

// eventNotifier turns committed scheduling events into templated
// notifications for the patient. Dates are rendered in the clinic zone.
type eventNotifier struct {
	queue  enqueuer
	loc    *time.Location
	logger zerolog.Logger
}

func newEventNotifier(queue enqueuer, loc *time.Location, logger zerolog.Logger) *eventNotifier {
	return &eventNotifier{queue: queue, loc: loc, logger: logger}
}

func (n *eventNotifier) Notify(ctx context.Context, evt scheduling.Event) {
	req := notification.Request{
		TemplateID: templateFor(evt),
		Recipient:  evt.ClientID.String(),
		Data: map[string]string{
			"date":   evt.Start.In(n.loc).Format("02/01/2006"),
			"time":   evt.Start.In(n.loc).Format("15:04"),
			"status": string(evt.Status),
			"reason": evt.Reason,
		},
		Metadata: map[string]string{
			"event":          string(evt.Type),
			"appointment_id": evt.AppointmentID.String(),
			"dentist_id":     evt.DentistID.String(),
		},
	}
	if clinic := db.ClinicFromContext(ctx); clinic != "" {
		req.Metadata["clinic_id"] = clinic
	}
	if !n.queue.Enqueue(req) {
		n.logger.Warn().
			Str("event", string(evt.Type)).
			Str("appointment_id", evt.AppointmentID.String()).
			Msg("appointment notification dropped")
	}
}

func templateFor(evt scheduling.Event) string {
	switch evt.Type {
	case scheduling.EventBooked:
		return notification.TemplateBooked
	case scheduling.EventRescheduled:
		return notification.TemplateRescheduled
	case scheduling.EventReminder:
		return notification.TemplateReminder
	}
	switch evt.Status {
	case scheduling.StatusConfirmed:
		return notification.TemplateConfirmed
	case scheduling.StatusCancelled:
		return notification.TemplateCancelled
	default:
		return notification.TemplateStatus
	}
}
