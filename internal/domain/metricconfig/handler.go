package metricconfig

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/platform/auth"
)

type Handler struct {
	agg  *Aggregator
	repo Repository
}

// NewHandler serves the data API from agg. repo may be nil, in which case
// the import endpoint is not registered.
func NewHandler(agg *Aggregator, repo Repository) *Handler {
	return &Handler{agg: agg, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAbstractor, auth.RoleReviewer))
	read.GET("/specialties", h.ListSpecialties)
	read.GET("/metrics", h.ListMetrics)
	read.GET("/metrics/:id/complete", h.GetComplete)
	read.GET("/followups", h.ListFollowups)
	read.GET("/signals", h.ListSignalGroups)

	if h.repo != nil {
		write := api.Group("", auth.RequireRole(auth.RoleAdmin))
		write.PUT("/metrics/:id/complete", h.PutComplete)
	}
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	list, err := h.agg.Source().ListSpecialties(c.Request().Context())
	if err != nil {
		return LookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"specialties": list})
}

func (h *Handler) ListMetrics(c echo.Context) error {
	metrics, err := h.agg.Source().ListMetrics(c.Request().Context(), c.QueryParam("specialty"), c.QueryParam("domain"))
	if err != nil {
		return LookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metrics": metrics})
}

func (h *Handler) GetComplete(c echo.Context) error {
	cfg, err := h.agg.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return LookupError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ListFollowups(c echo.Context) error {
	id := c.QueryParam("metricId")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "metricId is required")
	}
	list, err := h.agg.Source().ListFollowups(c.Request().Context(), id)
	if err != nil {
		return LookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"followups": list})
}

func (h *Handler) ListSignalGroups(c echo.Context) error {
	id := c.QueryParam("metricId")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "metricId is required")
	}
	groups, err := h.agg.Source().ListSignalGroups(c.Request().Context(), id)
	if err != nil {
		return LookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"signalGroups": groups})
}

// PutComplete replaces a metric configuration. The body is validated the
// same way as a file bundle before anything is written.
func (h *Handler) PutComplete(c echo.Context) error {
	var cfg CompleteConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cfg.Metric.MetricID == "" {
		cfg.Metric.MetricID = c.Param("id")
	}
	if cfg.Metric.MetricID != c.Param("id") {
		return echo.NewHTTPError(http.StatusBadRequest, "metricId does not match path")
	}
	if _, err := NewFileSource(Bundle{Metrics: []CompleteConfig{cfg}}); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := h.repo.Save(c.Request().Context(), &cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

// LookupError maps a configuration fetch failure to an HTTP error.
func LookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
