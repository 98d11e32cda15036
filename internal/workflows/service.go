package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/n8n"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

// Workflow statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Trigger types. Webhook is the default.
const (
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
	TriggerManual   = "manual"
)

var (
	ErrNotFound = errors.New("workflow not found")
	ErrInactive = errors.New("workflow is not active")
	ErrNoTarget = errors.New("workflow has no webhook to execute")
)

var triggerTypes = map[string]bool{
	TriggerWebhook:  true,
	TriggerSchedule: true,
	TriggerEvent:    true,
	TriggerManual:   true,
}

// ConfigStore loads a user's merged config.
type ConfigStore interface {
	Load(ctx context.Context, userID, configType string) (map[string]interface{}, error)
}

// Deliverer queues an event for a webhook.
type Deliverer interface {
	Deliver(url string, ev events.Event) (string, error)
}

// Service stores workflow definitions and drives them on n8n.
type Service struct {
	db        *gorm.DB
	configs   ConfigStore
	delivery  Deliverer
	publisher events.Publisher
	timeout   time.Duration
	hooks     *resty.Client
}

// NewService creates a Service. delivery and publisher may be nil.
func NewService(conn *gorm.DB, configs ConfigStore, delivery Deliverer, publisher events.Publisher, timeout time.Duration) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		db:        conn,
		configs:   configs,
		delivery:  delivery,
		publisher: publisher,
		timeout:   timeout,
		hooks:     httputil.NewRestyClient("", timeout),
	}
}

// Input is the editable part of a workflow.
type Input struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Status        string                 `json:"status,omitempty"`
	TriggerType   string                 `json:"trigger_type,omitempty"`
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty"`
	Actions       []string               `json:"actions,omitempty"`
	RemoteID      string                 `json:"remote_id,omitempty"`
}

func (in *Input) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return &health.ValidationError{Field: "name", Message: "is required"}
	}
	if in.Status == "" {
		in.Status = StatusInactive
	}
	if in.Status != StatusActive && in.Status != StatusInactive {
		return &health.ValidationError{Field: "status", Message: "must be active or inactive"}
	}
	if in.TriggerType == "" {
		in.TriggerType = TriggerWebhook
	}
	if !triggerTypes[in.TriggerType] {
		return &health.ValidationError{Field: "trigger_type", Message: "must be webhook, schedule, event or manual"}
	}
	if in.TriggerConfig == nil {
		in.TriggerConfig = map[string]interface{}{}
	}
	if in.Actions == nil {
		in.Actions = []string{}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, wf *models.Workflow, payload map[string]interface{}) {
	if err := s.publisher.Publish(ctx, events.New(eventType, wf.UserID, wf.ID, payload)); err != nil {
		log.Warn().Err(err).Str("workflowID", wf.ID).Str("eventType", eventType).Msg("Failed to publish workflow event")
	}
}

// Create stores a new workflow. Status defaults to inactive and the trigger
// type to webhook.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*models.Workflow, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	wf := &models.Workflow{
		UserID:        userID,
		Name:          in.Name,
		Description:   in.Description,
		Status:        in.Status,
		TriggerType:   in.TriggerType,
		TriggerConfig: datatypes.JSONMap(in.TriggerConfig),
		Actions:       datatypes.JSONSlice[string](in.Actions),
		RemoteID:      in.RemoteID,
	}
	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	log.Info().Str("userID", userID).Str("workflowID", wf.ID).Str("name", wf.Name).Msg("Workflow created")
	s.publish(ctx, events.TypeWorkflowCreated, wf, map[string]interface{}{"name": wf.Name, "trigger_type": wf.TriggerType})
	return wf, nil
}

// List returns the user's workflows, newest first. An empty status lists all.
func (s *Service) List(ctx context.Context, userID, status string) ([]models.Workflow, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Workflow
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}

// Get returns one workflow.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// Update replaces the definition of a workflow. Its status is kept; use
// SetStatus to change it.
func (s *Service) Update(ctx context.Context, userID, id string, in Input) (*models.Workflow, error) {
	wf, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in.Status = wf.Status
	if err := in.normalize(); err != nil {
		return nil, err
	}
	wf.Name = in.Name
	wf.Description = in.Description
	wf.TriggerType = in.TriggerType
	wf.TriggerConfig = datatypes.JSONMap(in.TriggerConfig)
	wf.Actions = datatypes.JSONSlice[string](in.Actions)
	wf.RemoteID = in.RemoteID
	if err := s.db.WithContext(ctx).Save(wf).Error; err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return wf, nil
}

// Delete removes a workflow.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.Workflow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) engine(ctx context.Context, userID string) (*n8n.Client, error) {
	cfg, err := s.configs.Load(ctx, userID, models.ConfigTypeN8n)
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
	return n8n.NewClient(apiURL, apiKey, s.timeout)
}

// SetStatus activates or deactivates a workflow. Linked workflows are
// toggled on n8n first and left unchanged locally if that fails.
func (s *Service) SetStatus(ctx context.Context, userID, id string, active bool) (*models.Workflow, error) {
	wf, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	status := StatusInactive
	if active {
		status = StatusActive
	}
	if wf.Status == status {
		return wf, nil
	}

	if wf.RemoteID != "" {
		engine, err := s.engine(ctx, userID)
		if err != nil {
			return nil, err
		}
		if active {
			err = engine.ActivateWorkflow(ctx, wf.RemoteID)
		} else {
			err = engine.DeactivateWorkflow(ctx, wf.RemoteID)
		}
		if err != nil {
			return nil, err
		}
	}

	from := wf.Status
	wf.Status = status
	if err := s.db.WithContext(ctx).Model(wf).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}
	s.publish(ctx, events.TypeWorkflowStatus, wf, map[string]interface{}{"from": from, "to": status})
	return wf, nil
}

// Remote lists the workflows defined on the user's n8n.
func (s *Service) Remote(ctx context.Context, userID string) ([]n8n.Workflow, error) {
	engine, err := s.engine(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engine.ListWorkflows(ctx)
}

// Execution reports how a workflow run was dispatched.
type Execution struct {
	WorkflowID string `json:"workflow_id"`
	URL        string `json:"url"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Delivered  bool   `json:"delivered"`
}

// Execute posts payload to the workflow's trigger URL, or the user's n8n
// webhook_url when the workflow has none. With wait the request is made
// inline; otherwise it is queued for delivery with retries.
func (s *Service) Execute(ctx context.Context, userID, id string, payload map[string]interface{}, wait bool) (*Execution, error) {
	wf, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != StatusActive {
		return nil, ErrInactive
	}

	target := configstore.String(wf.TriggerConfig, "webhook_url")
	if target == "" {
		cfg, err := s.configs.Load(ctx, userID, models.ConfigTypeN8n)
		if err != nil {
			return nil, err
		}
		target = configstore.String(cfg, "webhook_url")
	}
	if target == "" {
		return nil, ErrNoTarget
	}

	ev := events.New(events.TypeWorkflowExecuted, userID, wf.ID, map[string]interface{}{
		"workflow": wf.Name,
		"actions":  []string(wf.Actions),
		"data":     payload,
	})
	exec := &Execution{WorkflowID: wf.ID, URL: target}

	if wait || s.delivery == nil {
		if err := n8n.TriggerWebhook(ctx, s.hooks, target, ev); err != nil {
			return nil, err
		}
		exec.Delivered = true
	} else {
		if exec.DeliveryID, err = s.delivery.Deliver(target, ev); err != nil {
			return nil, err
		}
	}

	log.Info().Str("workflowID", wf.ID).Str("url", target).Bool("queued", !exec.Delivered).Msg("Workflow executed")
	s.publish(ctx, events.TypeWorkflowExecuted, wf, map[string]interface{}{"url": target, "delivery_id": exec.DeliveryID})
	return exec, nil
}
