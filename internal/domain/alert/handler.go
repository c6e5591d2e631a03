package alert

import (
	"context"
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
	staff.POST("/alerts", h.CreateAlert)
	staff.GET("/alerts", h.ListUnacknowledged)
	staff.GET("/alerts/:id", h.GetAlert)
	staff.POST("/alerts/:id/acknowledge", h.Acknowledge)
	staff.POST("/alerts/:id/resolve", h.Resolve)
	staff.GET("/encounters/:id/alerts", h.ListByEncounter)
}

func (h *Handler) CreateAlert(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	a, err := h.svc.Create(c.Request().Context(), actor.HospitalID, in,
		event.Actor{StaffUserID: actor.UserID, PatientID: actor.PatientID})
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	a, err := h.svc.GetAlert(c.Request().Context(), id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListUnacknowledged(c echo.Context) error {
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())
	alerts, total, err := h.svc.ListUnacknowledged(c.Request().Context(), actor.HospitalID, pg.Limit, pg.Offset)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(alerts, total, pg.Limit, pg.Offset))
}

// ListByEncounter returns the encounter's alerts. With ?merged=true the
// response also carries derived alerts computed from the current snapshot.
func (h *Handler) ListByEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	ctx := c.Request().Context()

	if c.QueryParam("merged") == "true" {
		merged, err := h.svc.ListMerged(ctx, id, actor.HospitalID)
		if err != nil {
			return derrors.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, merged)
	}

	alerts, err := h.svc.ListByEncounter(ctx, id, actor.HospitalID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	return h.transition(c, h.svc.Acknowledge)
}

func (h *Handler) Resolve(c echo.Context) error {
	return h.transition(c, h.svc.Resolve)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id, hospitalID, userID uuid.UUID) (*Alert, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if actor.UserID == nil {
		return echo.NewHTTPError(http.StatusForbidden, "staff access required")
	}
	a, err := fn(c.Request().Context(), id, actor.HospitalID, *actor.UserID)
	if err != nil {
		return derrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
