package payments

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

// Default API endpoints.
const (
	StripeBaseURL      = "https://api.stripe.com"
	MercadoPagoBaseURL = "https://api.mercadopago.com"
)

// StripeClient probes a Stripe secret key.
type StripeClient struct {
	httpClient *resty.Client
}

// NewStripeClient creates a Stripe client. baseURL may be empty.
func NewStripeClient(baseURL, secretKey string, timeout time.Duration) (*StripeClient, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("Stripe secretKey cannot be empty")
	}
	if baseURL == "" {
		baseURL = StripeBaseURL
	}
	return &StripeClient{
		httpClient: httputil.NewRestyClient(baseURL, timeout).SetAuthToken(secretKey),
	}, nil
}

// Probe reads the account balance, the cheapest authenticated call Stripe offers.
func (c *StripeClient) Probe(ctx context.Context) error {
	const path = "/v1/balance"
	resp, err := c.httpClient.R().SetContext(ctx).Get(path)
	if err != nil {
		log.Error().Err(err).Str("url", path).Msg("Stripe API: Probe request failed")
		return fmt.Errorf("Stripe API Probe request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Msg("Stripe API: Probe returned an error")
		return httputil.NewAPIError("Stripe", "Probe", resp)
	}
	return nil
}

// MercadoPagoClient probes a Mercado Pago access token.
type MercadoPagoClient struct {
	httpClient *resty.Client
}

// NewMercadoPagoClient creates a Mercado Pago client. baseURL may be empty.
func NewMercadoPagoClient(baseURL, accessToken string, timeout time.Duration) (*MercadoPagoClient, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("Mercado Pago accessToken cannot be empty")
	}
	if baseURL == "" {
		baseURL = MercadoPagoBaseURL
	}
	return &MercadoPagoClient{
		httpClient: httputil.NewRestyClient(baseURL, timeout).SetAuthToken(accessToken),
	}, nil
}

// Probe fetches the account that owns the token.
func (c *MercadoPagoClient) Probe(ctx context.Context) error {
	const path = "/users/me"
	resp, err := c.httpClient.R().SetContext(ctx).Get(path)
	if err != nil {
		log.Error().Err(err).Str("url", path).Msg("Mercado Pago API: Probe request failed")
		return fmt.Errorf("Mercado Pago API Probe request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Msg("Mercado Pago API: Probe returned an error")
		return httputil.NewAPIError("Mercado Pago", "Probe", resp)
	}
	return nil
}

// PIX key types.
const (
	PixKeyCPF    = "cpf"
	PixKeyCNPJ   = "cnpj"
	PixKeyEmail  = "email"
	PixKeyPhone  = "phone"
	PixKeyRandom = "random"
)

var (
	pixEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	pixPhone = regexp.MustCompile(`^\+55\d{10,11}$`)
	digits   = regexp.MustCompile(`^\d+$`)
)

// ValidatePixKey checks the format of a PIX key. PIX has no API to probe, so
// this local check is what "test connection" means for it.
func ValidatePixKey(keyType, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("pix key cannot be empty")
	}

	switch keyType {
	case PixKeyCPF:
		if len(key) != 11 || !digits.MatchString(key) {
			return fmt.Errorf("cpf pix key must have 11 digits")
		}
	case PixKeyCNPJ:
		if len(key) != 14 || !digits.MatchString(key) {
			return fmt.Errorf("cnpj pix key must have 14 digits")
		}
	case PixKeyEmail:
		if len(key) > 77 || !pixEmail.MatchString(key) {
			return fmt.Errorf("email pix key is not a valid address")
		}
	case PixKeyPhone:
		if !pixPhone.MatchString(key) {
			return fmt.Errorf("phone pix key must look like +55DDDNUMBER")
		}
	case PixKeyRandom:
		if _, err := uuid.Parse(key); err != nil {
			return fmt.Errorf("random pix key must be a UUID: %w", err)
		}
	default:
		return fmt.Errorf("unknown pix key type %q", keyType)
	}
	return nil
}
