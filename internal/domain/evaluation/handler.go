package evaluation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
	"github.com/ehr/abstractor/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleAbstractor, auth.RoleReviewer))
	g.POST("/metrics/:id/evaluate", h.Evaluate)
	g.POST("/metrics/:id/followups/state", h.FollowupState)
}

func (h *Handler) Evaluate(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return metricconfig.LookupError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) FollowupState(c echo.Context) error {
	var body struct {
		Answers followup.Values `json:"answers"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.FollowupState(c.Request().Context(), c.Param("id"), body.Answers)
	if err != nil {
		return metricconfig.LookupError(err)
	}
	return c.JSON(http.StatusOK, st)
}
