package api

import (
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
)

// ProviderRequest is the body of POST /api/providers and PUT /api/providers/:id.
type ProviderRequest struct {
	APIKey          string            `json:"api_key" form:"api_key" binding:"required"`
	BaseURL         string            `json:"base_url" form:"base_url" binding:"required,url"`
	Vendor          string            `json:"vendor" form:"vendor" binding:"omitempty,max=64"`
	SupportedModels []string          `json:"supported_models" form:"supported_models" binding:"omitempty,dive,required,max=256"`
	ModelMapping    map[string]string `json:"model_mapping" binding:"omitempty,dive,keys,required,endkeys,required"`
}

// Entry converts the request into an unsaved ProviderEntry.
func (r ProviderRequest) Entry() domain.ProviderEntry {
	return domain.ProviderEntry{
		APIKey:          r.APIKey,
		BaseURL:         r.BaseURL,
		Vendor:          r.Vendor,
		SupportedModels: r.SupportedModels,
		ModelMapping:    r.ModelMapping,
	}
}

// ProviderResponse is a ProviderEntry with its key masked.
type ProviderResponse struct {
	ID              string            `json:"id"`
	APIKey          string            `json:"api_key"`
	BaseURL         string            `json:"base_url"`
	Vendor          string            `json:"vendor"`
	SupportedModels []string          `json:"supported_models"`
	ModelMapping    map[string]string `json:"model_mapping"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func NewProviderResponse(p domain.ProviderEntry) ProviderResponse {
	mapping := p.ModelMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	return ProviderResponse{
		ID:              p.ID,
		APIKey:          p.MaskedKey(),
		BaseURL:         p.BaseURL,
		Vendor:          p.Vendor,
		SupportedModels: p.SupportedModels,
		ModelMapping:    mapping,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type ProviderList struct {
	Object string             `json:"object"`
	Data   []ProviderResponse `json:"data"`
}

func NewProviderList(entries []domain.ProviderEntry) ProviderList {
	data := make([]ProviderResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, NewProviderResponse(e))
	}
	return ProviderList{Object: "list", Data: data}
}
