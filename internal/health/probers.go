package health

import (
	"context"
	"time"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/evolution"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/n8n"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/payments"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

// EvolutionProber lists the gateway's instances.
func EvolutionProber(timeout time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, cfg map[string]interface{}) error {
		c, err := evolution.NewClient(configstore.String(cfg, "api_url"), configstore.String(cfg, "api_key"), timeout)
		if err != nil {
			return err
		}
		_, err = c.FetchInstances(ctx)
		return err
	})
}

// N8nProber lists workflows, with the client's legacy-path fallback.
func N8nProber(timeout time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, cfg map[string]interface{}) error {
		c, err := n8n.NewClient(configstore.String(cfg, "api_url"), configstore.String(cfg, "api_key"), timeout)
		if err != nil {
			return err
		}
		_, err = c.ListWorkflows(ctx)
		return err
	})
}

// StripeProber reads the balance with the secret key. baseURL may be empty.
func StripeProber(baseURL string, timeout time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, cfg map[string]interface{}) error {
		c, err := payments.NewStripeClient(baseURL, configstore.String(cfg, "secret_key"), timeout)
		if err != nil {
			return err
		}
		return c.Probe(ctx)
	})
}

// MercadoPagoProber fetches the token owner. baseURL may be empty.
func MercadoPagoProber(baseURL string, timeout time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, cfg map[string]interface{}) error {
		c, err := payments.NewMercadoPagoClient(baseURL, configstore.String(cfg, "access_token"), timeout)
		if err != nil {
			return err
		}
		return c.Probe(ctx)
	})
}

// PixProber validates the key locally.
func PixProber() Prober {
	return ProberFunc(func(_ context.Context, cfg map[string]interface{}) error {
		return payments.ValidatePixKey(configstore.String(cfg, "pix_key_type"), configstore.String(cfg, "pix_key"))
	})
}

// RegisterDefaults registers the probers of every remote integration except
// object storage, which the storage package registers itself.
func RegisterDefaults(r *Reconciler, timeout time.Duration) {
	r.Register(models.ConfigTypeEvolutionAPI, []string{"api_key", "api_url"}, EvolutionProber(timeout))
	r.Register(models.ConfigTypeN8n, []string{"api_key", "api_url"}, N8nProber(timeout))
	r.Register(models.ConfigTypeStripe, []string{"secret_key"}, StripeProber("", timeout))
	r.Register(models.ConfigTypeMercadoPago, []string{"access_token"}, MercadoPagoProber("", timeout))
	r.Register(models.ConfigTypePix, []string{"pix_key"}, PixProber())
}
