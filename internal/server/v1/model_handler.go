package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/gateway"
)

type ModelHandler struct {
	service gateway.Service
}

func NewModelHandler(service gateway.Service) *ModelHandler {
	return &ModelHandler{service: service}
}

// ListModels returns every model name a request can be routed with.
//
// GET /v1/models
func (h *ModelHandler) ListModels(c *gin.Context) {
	list, err := h.service.ListModels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, list)
}
