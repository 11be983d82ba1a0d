package domain

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

// ProviderEntry is one upstream credential set: where to send a request,
// which key to use, and which model names it can serve.
type ProviderEntry struct {
	ID              string            `json:"id"`
	APIKey          string            `json:"api_key"`
	BaseURL         string            `json:"base_url"`
	Vendor          string            `json:"vendor,omitempty"`
	SupportedModels []string          `json:"supported_models"`
	ModelMapping    map[string]string `json:"model_mapping,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// SeedEntry is the configuration file form of a ProviderEntry.
type SeedEntry struct {
	ID              string            `mapstructure:"id"`
	APIKey          string            `mapstructure:"api_key"`
	BaseURL         string            `mapstructure:"base_url"`
	Vendor          string            `mapstructure:"vendor"`
	SupportedModels []string          `mapstructure:"supported_models"`
	ModelMapping    map[string]string `mapstructure:"model_mapping"`
}

// Entry converts a seed into an unsaved ProviderEntry.
func (s SeedEntry) Entry() ProviderEntry {
	return ProviderEntry{
		ID:              s.ID,
		APIKey:          s.APIKey,
		BaseURL:         s.BaseURL,
		Vendor:          s.Vendor,
		SupportedModels: slices.Clone(s.SupportedModels),
		ModelMapping:    cloneMapping(s.ModelMapping),
	}
}

// ValidationErrors maps a field name to what is wrong with it.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v[k]))
	}
	return "invalid provider entry: " + strings.Join(parts, "; ")
}

// Normalize trims input, collapses duplicate model names, fills the
// supported set from mapping targets when it is empty, and defaults the
// vendor to the base URL host.
func (p *ProviderEntry) Normalize() {
	p.APIKey = strings.TrimSpace(p.APIKey)
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	p.Vendor = strings.TrimSpace(p.Vendor)

	mapping := make(map[string]string, len(p.ModelMapping))
	for alias, target := range p.ModelMapping {
		alias, target = strings.TrimSpace(alias), strings.TrimSpace(target)
		if alias == "" && target == "" {
			continue
		}
		mapping[alias] = target
	}
	p.ModelMapping = mapping

	models := p.SupportedModels
	if len(models) == 0 {
		for _, target := range mapping {
			models = append(models, target)
		}
		sort.Strings(models)
	}
	p.SupportedModels = uniqueModels(models)

	if p.Vendor == "" {
		if u, err := url.Parse(strings.TrimSuffix(p.BaseURL, "#")); err == nil {
			p.Vendor = u.Hostname()
		}
	}
}

// Validate reports every problem with the entry. Call Normalize first.
func (p *ProviderEntry) Validate() error {
	errs := ValidationErrors{}

	if p.APIKey == "" {
		errs["api_key"] = "api_key is a required field"
	}

	if p.BaseURL == "" {
		errs["base_url"] = "base_url is a required field"
	} else if u, err := url.Parse(strings.TrimSuffix(p.BaseURL, "#")); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs["base_url"] = "base_url must be an absolute http(s) URL"
	}

	if len(p.SupportedModels) == 0 {
		errs["supported_models"] = "at least one supported model or model mapping is required"
	}
	for _, m := range p.SupportedModels {
		if m == "" {
			errs["supported_models"] = "model names must not be blank"
			break
		}
	}

	for alias, target := range p.ModelMapping {
		if alias == "" || target == "" {
			errs["model_mapping"] = "mapping entries need both a name and a target"
			break
		}
		if !p.Supports(target) {
			errs["model_mapping"] = fmt.Sprintf("target %q of %q is not a supported model", target, alias)
			break
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ResolveModel returns the upstream model name for a requested name.
func (p *ProviderEntry) ResolveModel(requested string) string {
	if target, ok := p.ModelMapping[requested]; ok {
		return target
	}
	return requested
}

// Supports reports whether the resolved name is in the supported set.
func (p *ProviderEntry) Supports(model string) bool {
	return slices.Contains(p.SupportedModels, model)
}

// MaskedKey hides everything but the last four characters of the API key.
func (p *ProviderEntry) MaskedKey() string {
	return MaskKey(p.APIKey)
}

// Clone returns a deep copy so snapshots never share slices or maps.
func (p ProviderEntry) Clone() ProviderEntry {
	p.SupportedModels = slices.Clone(p.SupportedModels)
	p.ModelMapping = cloneMapping(p.ModelMapping)
	return p
}

func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "**" + key[len(key)-4:]
}

func uniqueModels(models []string) []string {
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func cloneMapping(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
