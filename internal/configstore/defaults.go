package configstore

import (
	"github.com/nexuswebs/omni-crm-bridge-sub000/config"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

// Defaults holds the default object of every known config type. Loaded
// configs are merged over these, so unset fields fall back sensibly.
type Defaults map[string]map[string]interface{}

// For returns a copy of the defaults for configType.
func (d Defaults) For(configType string) (map[string]interface{}, bool) {
	def, ok := d[configType]
	if !ok {
		return nil, false
	}
	return Merge(def), true
}

// Types lists the registered config types.
func (d Defaults) Types() []string {
	types := make([]string, 0, len(d))
	for t := range d {
		types = append(types, t)
	}
	return types
}

// NewDefaults builds the default objects, using the process configuration
// for the values that have build-time fallbacks.
func NewDefaults(cfg *config.Config) Defaults {
	return Defaults{
		models.ConfigTypeEvolutionAPI: {
			"api_url":       cfg.EvolutionAPIURL,
			"api_key":       "",
			"instance_name": "",
			"webhook_url":   "https://" + cfg.AppDomain + "/webhooks/evolution",
			"connected":     false,
			"status":        "unknown",
		},
		models.ConfigTypeN8n: {
			"api_url":     cfg.N8nAPIURL,
			"api_key":     "",
			"webhook_url": "",
			"connected":   false,
			"status":      "unknown",
		},
		models.ConfigTypePix: {
			"enabled":       false,
			"pix_key":       "",
			"pix_key_type":  "random",
			"merchant_name": "",
			"merchant_city": "",
			"connected":     false,
			"status":        "unknown",
		},
		models.ConfigTypeStripe: {
			"enabled":         false,
			"publishable_key": "",
			"secret_key":      "",
			"webhook_secret":  "",
			"connected":       false,
			"status":          "unknown",
		},
		models.ConfigTypeMercadoPago: {
			"enabled":      false,
			"public_key":   "",
			"access_token": "",
			"connected":    false,
			"status":       "unknown",
		},
		models.ConfigTypeS3Storage: {
			"enabled":    false,
			"bucket":     "",
			"region":     "us-east-1",
			"endpoint":   "",
			"access_key": "",
			"secret_key": "",
			"path_style": false,
			"public_url": "",
			"connected":  false,
			"status":     "unknown",
		},
		models.ConfigTypeSystem: {
			"company_name": "",
			"timezone":     "America/Sao_Paulo",
			"language":     "pt-BR",
			"currency":     "BRL",
			"domain":       cfg.AppDomain,
		},
	}
}

// Merge overlays each map onto the previous one, field by field, and returns
// a fresh map. Later layers win; nested values are replaced, not merged.
func Merge(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// String reads a string field, treating missing and non-string values as "".
func String(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// Bool reads a boolean field, treating missing and non-bool values as false.
func Bool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}
