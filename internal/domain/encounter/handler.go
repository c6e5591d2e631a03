package encounter

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/event"
	"github.com/ertriage/ertriage/internal/platform/auth"
	"github.com/ertriage/ertriage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	staff.POST("/encounters", h.CreateEncounter)
	staff.GET("/encounters", h.ListBoard)
	staff.GET("/encounters/:id", h.GetEncounter)
	staff.PATCH("/encounters/:id/status", h.UpdateStatus)
	staff.POST("/encounters/:id/triage", h.RecordTriage)
	staff.GET("/encounters/:id/triage", h.ListAssessments)
	staff.GET("/encounters/:id/events", h.ListEvents)
	staff.GET("/encounters/:id/location", h.LastLocation)

	// Patients report their own position; staff read it above.
	api.POST("/encounters/:id/location", h.RecordLocation)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.CreateEncounter(c.Request().Context(), actor.HospitalID, in, eventActor(actor))
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.GetEncounter(c.Request().Context(), id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListBoard(c echo.Context) error {
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())

	var filter ListFilter
	if s := c.QueryParam("status"); s != "" {
		status := Status(s)
		filter.Status = &status
	}

	encs, total, err := h.svc.ListBoard(c.Request().Context(), actor.HospitalID, filter, pg.Limit, pg.Offset)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.UpdateStatus(c.Request().Context(), id, actor.HospitalID, body.Status, eventActor(actor))
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) RecordTriage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in TriageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	assessment, err := h.svc.RecordTriage(c.Request().Context(), id, actor.HospitalID, in, eventActor(actor))
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, assessment)
}

func (h *Handler) ListAssessments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	assessments, err := h.svc.ListAssessments(c.Request().Context(), id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, assessments)
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())
	events, total, err := h.svc.ListEvents(c.Request().Context(), id, actor.HospitalID, pg.Limit, pg.Offset)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordLocation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	ping, err := h.svc.RecordLocation(c.Request().Context(), id, actor.HospitalID, body.Latitude, body.Longitude)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, ping)
}

func (h *Handler) LastLocation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	ping, err := h.svc.LastLocation(c.Request().Context(), id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ping)
}

// eventActor converts the authenticated principal into the outbox actor shape.
func eventActor(a auth.Actor) event.Actor {
	return event.Actor{StaffUserID: a.UserID, PatientID: a.PatientID}
}
