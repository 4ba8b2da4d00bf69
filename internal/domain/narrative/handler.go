package narrative

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/domain/evaluation"
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
	g.POST("/metrics/:id/narrative", h.Generate)
}

type generateRequest struct {
	evaluation.Request
	Kind string `json:"kind"`
}

func (h *Handler) Generate(c echo.Context) error {
	if !h.svc.Enabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrDisabled.Error())
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Generate(c.Request().Context(), c.Param("id"), req.Kind, req.Request)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, out)
	case errors.Is(err, metricconfig.ErrNotFound):
		return metricconfig.LookupError(err)
	case errors.Is(err, ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
