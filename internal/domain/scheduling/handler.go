package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mclinic/mclinic/internal/domain/profile"
	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment, auth.RequireRole(auth.RoleDoctor))
	api.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)
}

type statusRequest struct {
	Status string `json:"status"`
}

// ListAppointments lists the caller's own appointments.
func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	f := AppointmentFilter{Status: c.QueryParam("status")}
	userID := auth.UserIDFromContext(ctx)
	if auth.RoleFromContext(ctx) == auth.RoleDoctor {
		f.DoctorID = userID
		f.PatientID = c.QueryParam("patientID")
	} else {
		f.PatientID = userID
		f.DoctorID = c.QueryParam("doctorID")
	}

	items, err := h.svc.ListAppointments(ctx, f)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !a.HasParticipant(auth.UserIDFromContext(ctx)) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.DoctorID = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateAppointment(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.UpdateAppointmentStatus(ctx, id, auth.UserIDFromContext(ctx), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNoAppointments):
		return echo.NewHTTPError(http.StatusNotFound, ErrNoAppointments.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, profile.ErrProfileNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "participant not found")
	case errors.Is(err, ErrInvalidAppointment):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotAllowed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
