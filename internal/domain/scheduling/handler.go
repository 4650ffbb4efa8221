package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/auth"
	"github.com/Daniel250817/CRM-CLINICO-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Every authenticated role; clients are narrowed to their own records below.
	all := api.Group("", auth.RequireRole(auth.AllRoles...))
	all.GET("/dentists/:id/availability", h.GetAvailability)
	all.GET("/dentists/:id/working-hours", h.GetWorkingHours)
	all.POST("/appointments", h.CreateAppointment)
	all.GET("/appointments", h.ListAppointments)
	all.GET("/appointments/:id", h.GetAppointment)
	all.POST("/appointments/:id/status", h.UpdateStatus)

	staff := api.Group("", auth.RequireRole(auth.StaffRoles...))
	staff.GET("/dentists/:id/appointments", h.ListDentistAppointments)
	staff.POST("/appointments/:id/reschedule", h.RescheduleAppointment)

	managers := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	managers.PUT("/dentists/:id/working-hours", h.SetWorkingHours)
}

// -- Request bodies --

type statusRequest struct {
	Status AppointmentStatus `json:"status" validate:"required"`
	Reason string            `json:"reason,omitempty" validate:"max=500"`
}

type rescheduleRequest struct {
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"gte=0,lte=480"`
}

// -- Availability & working hours --

func (h *Handler) GetAvailability(c echo.Context) error {
	dentistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dentist id")
	}
	raw := c.QueryParam("date")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required")
	}
	date, err := ParseDate(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
	}
	var serviceID uuid.UUID
	if v := c.QueryParam("service_id"); v != "" {
		if serviceID, err = uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid service_id")
		}
	}

	av, err := h.svc.QueryAvailability(c.Request().Context(), dentistID, date, serviceID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, av)
}

func (h *Handler) GetWorkingHours(c echo.Context) error {
	dentistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dentist id")
	}
	d, err := h.svc.GetWorkingHours(c.Request().Context(), dentistID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SetWorkingHours(c echo.Context) error {
	dentistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dentist id")
	}
	var schedule WeekdaySchedule
	if err := c.Bind(&schedule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.SetWorkingHours(c.Request().Context(), dentistID, schedule)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDentistAppointments(c echo.Context) error {
	dentistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dentist id")
	}
	from, err := time.Parse(time.RFC3339, c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be an RFC 3339 instant")
	}
	to, err := time.Parse(time.RFC3339, c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be an RFC 3339 instant")
	}
	items, err := h.svc.ListDentistAppointments(c.Request().Context(), dentistID, from, to)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Appointments --

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if auth.IsClientOnly(ctx) {
		self, err := callerClientID(c)
		if err != nil {
			return err
		}
		if req.ClientID == uuid.Nil {
			req.ClientID = self
		}
		if req.ClientID != self {
			return echo.NewHTTPError(http.StatusForbidden, "clients can only book for themselves")
		}
	}
	if req.ClientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id is required")
	}

	a, err := h.svc.RequestBooking(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)

	var clientID uuid.UUID
	if v := c.QueryParam("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
		}
		clientID = id
	}
	if auth.IsClientOnly(c.Request().Context()) {
		self, err := callerClientID(c)
		if err != nil {
			return err
		}
		if clientID != uuid.Nil && clientID != self {
			return echo.NewHTTPError(http.StatusForbidden, "clients can only list their own appointments")
		}
		clientID = self
	}
	if clientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id is required")
	}

	items, total, err := h.svc.ListClientAppointments(c.Request().Context(), clientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if auth.IsClientOnly(ctx) && req.Status != StatusCancelled {
		return echo.NewHTTPError(http.StatusForbidden, "clients can only cancel appointments")
	}
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}

	updated, err := h.svc.Transition(ctx, a.ID, req.Status, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.Start, req.DurationMinutes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- helpers --

// ownedAppointment loads :id and hides other clients' appointments from
// client-only callers as not found.
func (h *Handler) ownedAppointment(c echo.Context) (*Appointment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if auth.IsClientOnly(ctx) {
		self, err := callerClientID(c)
		if err != nil {
			return nil, err
		}
		if a.ClientID != self {
			return nil, echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
	}
	return a, nil
}

func callerClientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.ClientIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "token is not bound to a client")
	}
	return id, nil
}

// httpError maps scheduling errors to HTTP responses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfHours), errors.Is(err, ErrDentistUnavailable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrScheduleConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
