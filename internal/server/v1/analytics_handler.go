package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/analytics"
	"github.com/nulzo/uniapi/pkg/api"
)

type AnalyticsHandler struct {
	service analytics.Service
}

func NewAnalyticsHandler(service analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// GET /api/usage?days=7
func (h *AnalyticsHandler) GetUsage(c *gin.Context) {
	days, ok := queryInt(c, "days", 7)
	if !ok {
		return
	}

	stats, err := h.service.GetUsageOverview(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to load usage statistics", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": stats})
}

// GET /api/usage/recent?limit=50
func (h *AnalyticsHandler) GetRecent(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}

	logs, err := h.service.GetRecent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to load request logs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": logs})
}

// queryInt reads an integer query parameter, attaching a 400 when it is
// present but malformed.
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		_ = c.Error(api.BadRequestError("Query parameter '"+name+"' must be an integer", api.WithParam(name)))
		return 0, false
	}
	return n, true
}
