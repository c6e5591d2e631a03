package message

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

// RegisterRoutes wires the thread endpoints. Patients and staff both post
// and read; role checks are deliberately absent here because the hospital
// scope on every lookup is the real boundary.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/encounters/:id/messages", h.CreateMessage)
	api.GET("/encounters/:id/messages", h.ListThread)
	api.GET("/encounters/:id/messages/unread-count", h.UnreadCount)
	api.POST("/messages/:id/read", h.MarkRead)
}

func (h *Handler) CreateMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	msg, err := h.svc.CreateMessage(c.Request().Context(), id, actor.HospitalID, in,
		event.Actor{StaffUserID: actor.UserID, PatientID: actor.PatientID})
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ListThread(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())
	msgs, total, err := h.svc.ListThread(c.Request().Context(), id, actor.HospitalID, pg.Limit, pg.Offset)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	count, err := h.svc.UnreadCount(c.Request().Context(), id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": count})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	msg, err := h.svc.MarkRead(c.Request().Context(), id, actor.HospitalID,
		event.Actor{StaffUserID: actor.UserID, PatientID: actor.PatientID})
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, msg)
}
