package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/server/validator"
	"github.com/nulzo/uniapi/pkg/api"
)

// ProviderCatalog is the admin view of the provider configuration.
type ProviderCatalog interface {
	List(ctx context.Context) ([]domain.ProviderEntry, error)
	Get(ctx context.Context, id string) (*domain.ProviderEntry, error)
	Create(ctx context.Context, entry domain.ProviderEntry) (*domain.ProviderEntry, error)
	Update(ctx context.Context, id string, entry domain.ProviderEntry) (*domain.ProviderEntry, error)
	Delete(ctx context.Context, id string) error
}

type ProviderHandler struct {
	catalog ProviderCatalog
}

func NewProviderHandler(catalog ProviderCatalog) *ProviderHandler {
	return &ProviderHandler{catalog: catalog}
}

// List returns every entry with masked keys.
//
// GET /api/providers
func (h *ProviderHandler) List(c *gin.Context) {
	entries, err := h.catalog.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, api.NewProviderList(entries))
}

// Get returns one entry.
//
// GET /api/providers/:id
func (h *ProviderHandler) Get(c *gin.Context) {
	entry, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, api.NewProviderResponse(*entry))
}

// Create adds an entry.
//
// POST /api/providers
func (h *ProviderHandler) Create(c *gin.Context) {
	var req api.ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.BindError(err))
		return
	}

	entry, err := h.catalog.Create(c.Request.Context(), req.Entry())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, api.NewProviderResponse(*entry))
}

// Update replaces an entry, keeping its id and creation time.
//
// PUT /api/providers/:id
func (h *ProviderHandler) Update(c *gin.Context) {
	var req api.ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.BindError(err))
		return
	}

	entry, err := h.catalog.Update(c.Request.Context(), c.Param("id"), req.Entry())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, api.NewProviderResponse(*entry))
}

// Delete removes an entry.
//
// DELETE /api/providers/:id
func (h *ProviderHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
