package instances

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/evolution"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/pairing"
)

// Message directions and statuses.
const (
	DirectionOutbound = "outbound"

	MessageSent   = "sent"
	MessageFailed = "failed"
)

var (
	ErrNotFound     = errors.New("instance not found")
	ErrDuplicate    = errors.New("instance already exists")
	ErrNotConnected = errors.New("instance is not connected")
)

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
	clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// ConfigStore is the part of the config accessor the service needs.
type ConfigStore interface {
	Load(ctx context.Context, userID, configType string) (map[string]interface{}, error)
	Update(ctx context.Context, userID, configType string, patch map[string]interface{}) (map[string]interface{}, error)
}

// QRStore persists pairing QR images and returns where they can be fetched.
type QRStore interface {
	StoreQRCode(ctx context.Context, userID, instance, payload string) (string, error)
}

// Deliverer posts an event to a webhook.
type Deliverer interface {
	Deliver(url string, ev events.Event) (string, error)
}

// Deps wires a Service.
type Deps struct {
	DB        *gorm.DB
	Configs   ConfigStore
	Pairing   *pairing.Manager
	QRStore   QRStore
	Delivery  Deliverer
	Publisher events.Publisher
	Timeout   time.Duration
}

// Service manages a user's WhatsApp instances on the Evolution gateway and
// mirrors them locally.
type Service struct {
	db        *gorm.DB
	configs   ConfigStore
	pairing   *pairing.Manager
	qr        QRStore
	delivery  Deliverer
	publisher events.Publisher
	timeout   time.Duration
	now       func() time.Time

	// locks serialises state changes per instance between API calls and
	// pairing sessions finishing in the background.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a Service. QRStore, Delivery and Publisher are optional.
func NewService(d Deps) (*Service, error) {
	if d.DB == nil || d.Configs == nil || d.Pairing == nil {
		return nil, fmt.Errorf("instances service requires a database, a config store and a pairing manager")
	}
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	return &Service{
		db:        d.DB,
		configs:   d.Configs,
		pairing:   d.Pairing,
		qr:        d.QRStore,
		delivery:  d.Delivery,
		publisher: d.Publisher,
		timeout:   d.Timeout,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// lock takes the state lock of one instance and returns its release.
func (s *Service) lock(userID, name string) func() {
	key := pairing.Key(userID, name)
	s.locksMu.Lock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// recordHealth writes status into the user's evolution_api config, so the
// integration status always follows the linked instance.
func (s *Service) recordHealth(ctx context.Context, inst *models.WhatsAppInstance, status health.Status) error {
	patch := status.Patch()
	patch["instance_name"] = inst.Name
	if _, err := s.configs.Update(ctx, inst.UserID, models.ConfigTypeEvolutionAPI, patch); err != nil {
		return fmt.Errorf("failed to record %s health: %w", inst.Name, err)
	}
	return nil
}

// gateway builds a client from the user's current evolution_api config.
// A missing key or URL is reported before any request is made.
func (s *Service) gateway(ctx context.Context, userID string) (*evolution.Client, error) {
	cfg, err := s.configs.Load(ctx, userID, models.ConfigTypeEvolutionAPI)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(configstore.String(cfg, "api_key"))
	if apiKey == "" {
		return nil, &health.ValidationError{Field: "api_key", Message: "is required"}
	}
	apiURL := strings.TrimSpace(configstore.String(cfg, "api_url"))
	if apiURL == "" {
		return nil, &health.ValidationError{Field: "api_url", Message: "is required"}
	}
	return evolution.NewClient(apiURL, apiKey, s.timeout)
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Name       string `json:"name"`
	Number     string `json:"number,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Create registers a new instance on the gateway and stores it disconnected.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*models.WhatsAppInstance, error) {
	name := strings.TrimSpace(req.Name)
	if !namePattern.MatchString(name) {
		return nil, &health.ValidationError{Field: "name", Message: "must be 1-128 letters, digits, '.', '_' or '-'"}
	}
	if _, err := s.Get(ctx, userID, name); err == nil {
		return nil, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}

	create := evolution.CreateInstanceRequest{
		InstanceName: name,
		Number:       evolution.NormalizeNumber(req.Number),
		QRCode:       true,
	}
	if req.WebhookURL != "" {
		create.Webhook = &evolution.WebhookSetting{Enabled: true, URL: req.WebhookURL}
	}
	if _, err := gw.CreateInstance(ctx, create); err != nil {
		return nil, err
	}

	inst := &models.WhatsAppInstance{
		UserID:      userID,
		Name:        name,
		Status:      StatusDisconnected,
		PhoneNumber: create.Number,
		WebhookURL:  req.WebhookURL,
	}
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to store instance: %w", err)
	}
	log.Info().Str("userID", userID).Str("instance", name).Msg("Instance created")
	return inst, nil
}

// List returns the user's instances, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]models.WhatsAppInstance, error) {
	var out []models.WhatsAppInstance
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// Get returns one instance by name.
func (s *Service) Get(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	var inst models.WhatsAppInstance
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND name = ?", userID, name).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Remote lists what the gateway knows, which may include instances created
// outside this service.
func (s *Service) Remote(ctx context.Context, userID string) ([]evolution.InstanceInfo, error) {
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}
	return gw.FetchInstances(ctx)
}

func (s *Service) save(ctx context.Context, inst *models.WhatsAppInstance) error {
	if err := s.db.WithContext(ctx).Save(inst).Error; err != nil {
		return fmt.Errorf("failed to save instance %s: %w", inst.Name, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, inst *models.WhatsAppInstance, payload map[string]interface{}) {
	ev := events.New(eventType, inst.UserID, inst.Name, payload)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("instance", inst.Name).Str("eventType", eventType).Msg("Failed to publish instance event")
	}
}

// setStatus moves inst to status, saves it and announces the change.
func (s *Service) setStatus(ctx context.Context, inst *models.WhatsAppInstance, status, lastError string) error {
	from := inst.Status
	inst.Status = status
	inst.LastError = lastError
	if status != StatusQRReady {
		inst.QRCode = ""
		inst.QRCodeURL = ""
	}
	if err := s.save(ctx, inst); err != nil {
		return err
	}
	if from != status {
		s.publish(ctx, events.TypeInstanceStatusChanged, inst, map[string]interface{}{
			"from":       from,
			"to":         status,
			"last_error": lastError,
		})
	}
	return nil
}

// collapse drops inst to disconnected after err and returns err.
func (s *Service) collapse(ctx context.Context, inst *models.WhatsAppInstance, err error) error {
	log.Warn().Err(err).Str("userID", inst.UserID).Str("instance", inst.Name).Msg("Instance dropped to disconnected")
	persistCtx := context.WithoutCancel(ctx)
	if inst.Status == StatusConnected {
		if healthErr := s.recordHealth(persistCtx, inst, health.Failed(s.now(), err)); healthErr != nil {
			log.Error().Err(healthErr).Str("instance", inst.Name).Msg("Failed to record instance health")
		}
	}
	next, _ := Transition(inst.Status, EventFail)
	if saveErr := s.setStatus(persistCtx, inst, next, err.Error()); saveErr != nil {
		log.Error().Err(saveErr).Str("instance", inst.Name).Msg("Failed to record instance failure")
	}
	return err
}

// Connect starts pairing: it fetches the QR code, stores it and polls the
// gateway until the phone links or the pairing window closes.
func (s *Service) Connect(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	defer s.lock(userID, name)()

	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if inst.Status == StatusConnected {
		return inst, nil
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}

	if inst.Status == StatusDisconnected {
		next, _ := Transition(inst.Status, EventConnect)
		if err := s.setStatus(ctx, inst, next, ""); err != nil {
			return nil, err
		}
	}

	qr, err := gw.Connect(ctx, name)
	if err != nil {
		return nil, s.collapse(ctx, inst, err)
	}
	if qr.Empty() {
		// The gateway sends no QR for an instance that is already linked.
		if err := s.markConnected(ctx, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}

	if err := s.recordQR(ctx, inst, qr); err != nil {
		return nil, err
	}

	key := pairing.Key(userID, name)
	s.pairing.Start(key, gw, name, func(res pairing.Result) {
		s.finishPairing(userID, name, key, res)
	})
	return inst, nil
}

func (s *Service) recordQR(ctx context.Context, inst *models.WhatsAppInstance, qr *evolution.QRCode) error {
	next, err := Transition(inst.Status, EventQR)
	if err != nil {
		return err
	}
	payload := qr.Base64
	if payload == "" {
		payload = qr.Code
	}

	url := ""
	if s.qr != nil && payload != "" {
		if url, err = s.qr.StoreQRCode(ctx, inst.UserID, inst.Name, payload); err != nil {
			log.Warn().Err(err).Str("instance", inst.Name).Msg("Failed to store QR code image")
			url = ""
		}
	}

	inst.QRCode = payload
	inst.QRCodeURL = url
	if err := s.setStatus(ctx, inst, next, ""); err != nil {
		return err
	}
	s.publish(ctx, events.TypeInstanceQRCode, inst, map[string]interface{}{
		"qr_code_url":  url,
		"pairing_code": qr.PairingCode,
	})
	return nil
}

// markConnected records a linked device and mirrors it into the user's
// evolution_api config. A disconnected instance the gateway reports as open
// passes through connecting without a separate save.
func (s *Service) markConnected(ctx context.Context, inst *models.WhatsAppInstance) error {
	state := inst.Status
	if state == StatusDisconnected {
		state, _ = Transition(state, EventConnect)
	}
	next, err := Transition(state, EventOpen)
	if err != nil {
		return err
	}
	if err := s.recordHealth(ctx, inst, health.Succeeded(s.now())); err != nil {
		return err
	}
	if err := s.setStatus(ctx, inst, next, ""); err != nil {
		return err
	}
	s.notify(ctx, inst)
	return nil
}

// notify delivers the connection to the instance webhook, or else the
// user's n8n webhook.
func (s *Service) notify(ctx context.Context, inst *models.WhatsAppInstance) {
	if s.delivery == nil {
		return
	}
	url := inst.WebhookURL
	if url == "" {
		cfg, err := s.configs.Load(ctx, inst.UserID, models.ConfigTypeN8n)
		if err != nil {
			log.Warn().Err(err).Str("userID", inst.UserID).Msg("Could not load n8n config for webhook delivery")
			return
		}
		url = configstore.String(cfg, "webhook_url")
	}
	if url == "" {
		return
	}
	ev := events.New(events.TypeInstanceStatusChanged, inst.UserID, inst.Name, map[string]interface{}{
		"status":       inst.Status,
		"phone_number": inst.PhoneNumber,
	})
	if _, err := s.delivery.Deliver(url, ev); err != nil {
		log.Warn().Err(err).Str("instance", inst.Name).Msg("Failed to queue webhook delivery")
	}
}

func (s *Service) finishPairing(userID, name, key string, res pairing.Result) {
	// A cancelled session that was replaced by a newer one leaves the
	// instance to its successor.
	if res.Outcome == pairing.OutcomeCancelled && s.pairing.Active(key) {
		return
	}

	defer s.lock(userID, name)()

	ctx := context.Background()
	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("Pairing finished for unknown instance")
		return
	}

	switch res.Outcome {
	case pairing.OutcomeConnected:
		if inst.Status == StatusConnected {
			// Already settled by a state refresh.
			return
		}
		if err := s.markConnected(ctx, inst); err != nil {
			_ = s.collapse(ctx, inst, err)
		}
	case pairing.OutcomeTimedOut:
		_ = s.collapse(ctx, inst, fmt.Errorf("pairing timed out after %d polls", res.Polls))
	case pairing.OutcomeCancelled:
		if inst.Status == StatusConnecting || inst.Status == StatusQRReady {
			if err := s.setStatus(ctx, inst, StatusDisconnected, "pairing cancelled"); err != nil {
				log.Error().Err(err).Str("instance", name).Msg("Failed to record cancelled pairing")
			}
		}
	}
}

// QRCode fetches a fresh QR code for an instance that is pairing.
func (s *Service) QRCode(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusConnecting && inst.Status != StatusQRReady {
		return inst, nil
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}
	qr, err := gw.QRCode(ctx, name)
	if err != nil {
		return nil, err
	}
	if qr.Empty() {
		return inst, nil
	}
	if err := s.recordQR(ctx, inst, qr); err != nil {
		return nil, err
	}
	return inst, nil
}

// RefreshState aligns the stored status with the gateway's view.
func (s *Service) RefreshState(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	defer s.lock(userID, name)()

	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := gw.ConnectionState(ctx, name)
	if err != nil {
		return nil, s.collapse(ctx, inst, err)
	}

	switch state {
	case evolution.StateOpen:
		// The gateway has settled; a pairing poll still running would only
		// repeat this.
		_ = s.pairing.Stop(pairing.Key(userID, name))
		if inst.Status != StatusConnected {
			if err := s.markConnected(ctx, inst); err != nil {
				return nil, err
			}
		}
	case evolution.StateClose:
		_ = s.pairing.Stop(pairing.Key(userID, name))
		if inst.Status != StatusDisconnected {
			if err := s.setStatus(ctx, inst, StatusDisconnected, ""); err != nil {
				return nil, err
			}
		}
	case evolution.StateConnecting:
		if inst.Status == StatusDisconnected || inst.Status == StatusConnected {
			if err := s.setStatus(ctx, inst, StatusConnecting, ""); err != nil {
				return nil, err
			}
		}
	}
	return inst, nil
}

// Logout unlinks the device and stops any pairing in progress.
func (s *Service) Logout(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	defer s.lock(userID, name)()

	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	next, err := Transition(inst.Status, EventLogout)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}
	_ = s.pairing.Stop(pairing.Key(userID, name))

	if err := gw.Logout(ctx, name); err != nil {
		return nil, err
	}
	if err := s.recordHealth(ctx, inst, health.Failed(s.now(), fmt.Errorf("instance %s logged out", name))); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, inst, next, ""); err != nil {
		return nil, err
	}
	return inst, nil
}

// Restart restarts the instance on the gateway and refreshes its state.
func (s *Service) Restart(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	if _, err := s.Get(ctx, userID, name); err != nil {
		return nil, err
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := gw.Restart(ctx, name); err != nil {
		return nil, err
	}
	return s.RefreshState(ctx, userID, name)
}

// Delete removes the instance from the gateway and locally. Messages are kept.
func (s *Service) Delete(ctx context.Context, userID, name string) error {
	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return err
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return err
	}
	_ = s.pairing.Stop(pairing.Key(userID, name))

	if err := gw.DeleteInstance(ctx, name); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(inst).Error; err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	log.Info().Str("userID", userID).Str("instance", name).Msg("Instance deleted")
	return nil
}

// CancelPairing stops waiting for the device to link.
func (s *Service) CancelPairing(ctx context.Context, userID, name string) (*models.WhatsAppInstance, error) {
	defer s.lock(userID, name)()

	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if err := s.pairing.Stop(pairing.Key(userID, name)); err != nil {
		return nil, err
	}
	if next, err := Transition(inst.Status, EventLogout); err == nil {
		if err := s.setStatus(ctx, inst, next, "pairing cancelled"); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// SendRequest is the input of SendText.
type SendRequest struct {
	Number     string  `json:"number"`
	Text       string  `json:"text"`
	CustomerID *string `json:"customer_id,omitempty"`
}

// SendText sends a message and records it, whether it went out or not.
func (s *Service) SendText(ctx context.Context, userID, name string, req SendRequest) (*models.Message, error) {
	number := evolution.NormalizeNumber(req.Number)
	if number == "" {
		return nil, &health.ValidationError{Field: "number", Message: "is required"}
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, &health.ValidationError{Field: "text", Message: "is required"}
	}
	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusConnected {
		return nil, ErrNotConnected
	}
	gw, err := s.gateway(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		UserID:       userID,
		InstanceName: name,
		CustomerID:   req.CustomerID,
		Recipient:    number,
		Body:         req.Text,
		Direction:    DirectionOutbound,
		Status:       MessageSent,
	}
	out, sendErr := gw.SendText(ctx, name, evolution.SendTextRequest{Number: number, Text: req.Text})
	if sendErr != nil {
		msg.Status = MessageFailed
		msg.Error = sendErr.Error()
	} else {
		msg.RemoteID = out.Key.ID
	}

	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	if sendErr != nil {
		return msg, sendErr
	}
	s.publish(ctx, events.TypeMessageSent, inst, map[string]interface{}{
		"message_id": msg.ID,
		"recipient":  number,
	})
	return msg, nil
}

// Messages lists the newest messages sent through an instance.
func (s *Service) Messages(ctx context.Context, userID, name string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND instance_name = ?", userID, name).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Settings are the locally managed instance options. Nil fields are left
// unchanged.
type Settings struct {
	WebhookURL         *string `json:"webhook_url,omitempty"`
	AutoReply          *bool   `json:"auto_reply,omitempty"`
	AutoReplyMessage   *string `json:"auto_reply_message,omitempty"`
	BusinessHoursStart *string `json:"business_hours_start,omitempty"`
	BusinessHoursEnd   *string `json:"business_hours_end,omitempty"`
}

// UpdateSettings applies settings, pushing a changed webhook to the gateway.
func (s *Service) UpdateSettings(ctx context.Context, userID, name string, set Settings) (*models.WhatsAppInstance, error) {
	for field, v := range map[string]*string{
		"business_hours_start": set.BusinessHoursStart,
		"business_hours_end":   set.BusinessHoursEnd,
	} {
		if v != nil && *v != "" && !clockPattern.MatchString(*v) {
			return nil, &health.ValidationError{Field: field, Message: "must be HH:MM"}
		}
	}

	inst, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	if set.WebhookURL != nil && *set.WebhookURL != inst.WebhookURL {
		gw, err := s.gateway(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := gw.SetWebhook(ctx, name, *set.WebhookURL, nil); err != nil {
			return nil, err
		}
		inst.WebhookURL = *set.WebhookURL
	}
	if set.AutoReply != nil {
		inst.AutoReply = *set.AutoReply
	}
	if set.AutoReplyMessage != nil {
		inst.AutoReplyMessage = *set.AutoReplyMessage
	}
	if set.BusinessHoursStart != nil {
		inst.BusinessHoursStart = *set.BusinessHoursStart
	}
	if set.BusinessHoursEnd != nil {
		inst.BusinessHoursEnd = *set.BusinessHoursEnd
	}
	if err := s.save(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}
