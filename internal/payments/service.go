package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	gateways "github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/payments"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

// Payment statuses.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// ErrGatewayDisabled is returned when the chosen gateway is not enabled in
// the user's configuration.
var ErrGatewayDisabled = errors.New("payment gateway is not enabled")

var gatewayTypes = map[string]bool{
	models.ConfigTypePix:         true,
	models.ConfigTypeStripe:      true,
	models.ConfigTypeMercadoPago: true,
}

// ConfigStore loads a user's merged config.
type ConfigStore interface {
	Load(ctx context.Context, userID, configType string) (map[string]interface{}, error)
}

// Service records charges made through the configured payment gateways.
type Service struct {
	db      *gorm.DB
	configs ConfigStore
}

// NewService creates a Service.
func NewService(conn *gorm.DB, configs ConfigStore) *Service {
	return &Service{db: conn, configs: configs}
}

// Input describes a new charge. Amount is in cents. Currency defaults to the
// user's system currency.
type Input struct {
	Gateway     string  `json:"gateway"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	CustomerID  *string `json:"customer_id,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Create records a pending charge on an enabled gateway.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*models.Payment, error) {
	if !gatewayTypes[in.Gateway] {
		return nil, &health.ValidationError{Field: "gateway", Message: "must be pix, stripe or mercado_pago"}
	}
	if in.Amount <= 0 {
		return nil, &health.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	cfg, err := s.configs.Load(ctx, userID, in.Gateway)
	if err != nil {
		return nil, err
	}
	if !configstore.Bool(cfg, "enabled") {
		return nil, fmt.Errorf("%w: %s", ErrGatewayDisabled, in.Gateway)
	}
	if in.Gateway == models.ConfigTypePix {
		if err := gateways.ValidatePixKey(configstore.String(cfg, "pix_key_type"), configstore.String(cfg, "pix_key")); err != nil {
			return nil, &health.ValidationError{Field: "pix_key", Message: err.Error()}
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		system, err := s.configs.Load(ctx, userID, models.ConfigTypeSystem)
		if err != nil {
			return nil, err
		}
		currency = configstore.String(system, "currency")
	}
	if len(currency) != 3 {
		return nil, &health.ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}

	p := &models.Payment{
		UserID:      userID,
		CustomerID:  in.CustomerID,
		Gateway:     in.Gateway,
		Amount:      in.Amount,
		Currency:    currency,
		Status:      StatusPending,
		Description: in.Description,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	log.Info().Str("userID", userID).Str("paymentID", p.ID).Str("gateway", p.Gateway).Int64("amount", p.Amount).Msg("Payment recorded")
	return p, nil
}

// List returns the user's payments, newest first, optionally for one gateway.
func (s *Service) List(ctx context.Context, userID, gateway string, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if gateway != "" {
		q = q.Where("gateway = ?", gateway)
	}
	var out []models.Payment
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
