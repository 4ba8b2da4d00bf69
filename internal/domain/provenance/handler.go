package provenance

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/platform/auth"
)

const defaultLimit = 100

type Handler struct {
	log *Log
}

func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/provenance", auth.RequireRole(auth.RoleReviewer))
	g.GET("/events", h.ListEvents)
}

func (h *Handler) ListEvents(c echo.Context) error {
	limit := defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	var events []Entry
	if id := c.QueryParam("reportId"); id != "" {
		events = h.log.ForReport(id, limit)
	} else {
		events = h.log.Recent(limit)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}
