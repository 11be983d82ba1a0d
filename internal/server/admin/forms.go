package admin

import (
	"strings"

	"github.com/nulzo/uniapi/internal/core/domain"
)

// providerForm is the add-provider form of the admin page. Lists are
// entered as text: models separated by commas or newlines, mappings one
// "alias=target" pair per line or comma.
type providerForm struct {
	APIKey          string `form:"api_key" binding:"required"`
	BaseURL         string `form:"base_url" binding:"required,url"`
	Vendor          string `form:"vendor" binding:"omitempty,max=64"`
	SupportedModels string `form:"supported_models"`
	ModelMapping    string `form:"model_mapping"`
}

func (f providerForm) Entry() (domain.ProviderEntry, domain.ValidationErrors) {
	mapping, bad := parseMapping(f.ModelMapping)
	entry := domain.ProviderEntry{
		APIKey:          f.APIKey,
		BaseURL:         f.BaseURL,
		Vendor:          f.Vendor,
		SupportedModels: splitList(f.SupportedModels),
		ModelMapping:    mapping,
	}
	if bad != "" {
		return entry, domain.ValidationErrors{"model_mapping": "expected alias=target, got " + bad}
	}
	return entry, nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseMapping returns the parsed pairs and the first malformed item, if any.
func parseMapping(s string) (map[string]string, string) {
	mapping := make(map[string]string)
	for _, item := range splitList(s) {
		alias, target, ok := strings.Cut(item, "=")
		alias, target = strings.TrimSpace(alias), strings.TrimSpace(target)
		if !ok || alias == "" || target == "" {
			return mapping, item
		}
		mapping[alias] = target
	}
	return mapping, ""
}
