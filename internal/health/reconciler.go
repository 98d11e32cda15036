package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

var (
	// ErrTestInProgress rejects a second test of the same integration while
	// the first is still running.
	ErrTestInProgress = errors.New("connection test already in progress")
	// ErrNoProber is returned for config types that cannot be tested.
	ErrNoProber = errors.New("integration cannot be tested")
)

// Prober issues one read-only request against an integration, built from
// the integration's current config.
type Prober interface {
	Probe(ctx context.Context, cfg map[string]interface{}) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, cfg map[string]interface{}) error

func (f ProberFunc) Probe(ctx context.Context, cfg map[string]interface{}) error { return f(ctx, cfg) }

// ConfigStore is the part of the config accessor the reconciler needs.
type ConfigStore interface {
	Load(ctx context.Context, userID, configType string) (map[string]interface{}, error)
	Update(ctx context.Context, userID, configType string, patch map[string]interface{}) (map[string]interface{}, error)
	ActiveConfigs(ctx context.Context, configType string) ([]models.IntegrationConfig, error)
}

type check struct {
	required []string
	prober   Prober
}

// Reconciler tests integrations and records the outcome in their config.
type Reconciler struct {
	store     ConfigStore
	publisher events.Publisher
	now       func() time.Time

	mu       sync.Mutex
	checks   map[string]check
	inFlight map[string]struct{}
}

// NewReconciler creates a Reconciler. A nil publisher disables health events.
func NewReconciler(store ConfigStore, publisher events.Publisher) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("config store cannot be nil")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reconciler{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		checks:    make(map[string]check),
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Register makes configType testable. Fields in required must be non-empty
// strings in the config before the prober is called.
func (r *Reconciler) Register(configType string, required []string, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[configType] = check{required: required, prober: p}
}

// Types lists the testable config types.
func (r *Reconciler) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.checks))
	for t := range r.checks {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Reconciler) lookup(configType string) (check, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.checks[configType]
	return c, ok
}

func (r *Reconciler) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Reconciler) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, key)
}

// Validate checks the required fields of cfg for configType.
func (r *Reconciler) Validate(configType string, cfg map[string]interface{}) error {
	c, ok := r.lookup(configType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProber, configType)
	}
	return validate(c.required, cfg)
}

func validate(required []string, cfg map[string]interface{}) error {
	for _, field := range required {
		v, _ := cfg[field].(string)
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
	}
	return nil
}

// Test runs one probe for (userID, configType) and persists the outcome as
// connected true or false. Probe failures are not returned as errors: they
// are the Status. Errors are reserved for validation, a concurrent test and
// persistence failures.
func (r *Reconciler) Test(ctx context.Context, userID, configType string) (Status, error) {
	c, ok := r.lookup(configType)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNoProber, configType)
	}

	cfg, err := r.store.Load(ctx, userID, configType)
	if err != nil {
		return Status{}, err
	}
	if err := validate(c.required, cfg); err != nil {
		log.Info().Str("userID", userID).Str("configType", configType).Err(err).Msg("Connection test blocked by validation")
		return Status{}, err
	}

	key := userID + "|" + configType
	if !r.acquire(key) {
		return Status{}, ErrTestInProgress
	}
	defer r.release(key)

	previous := StatusFromConfig(cfg)

	var status Status
	if probeErr := c.prober.Probe(ctx, cfg); probeErr != nil {
		status = Failed(r.now(), probeErr)
		log.Warn().Err(probeErr).Str("userID", userID).Str("configType", configType).Msg("Integration probe failed")
	} else {
		status = Succeeded(r.now())
		log.Info().Str("userID", userID).Str("configType", configType).Msg("Integration probe succeeded")
	}

	// The outcome is persisted even if the caller went away mid-probe.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := r.store.Update(persistCtx, userID, configType, status.Patch()); err != nil {
		return status, fmt.Errorf("failed to record %s health: %w", configType, err)
	}

	if previous.State != status.State {
		ev := events.New(events.TypeHealthChanged, userID, configType, map[string]interface{}{
			"from":       string(previous.State),
			"to":         string(status.State),
			"last_error": status.LastError,
		})
		if err := r.publisher.Publish(persistCtx, ev); err != nil {
			log.Warn().Err(err).Str("configType", configType).Msg("Failed to publish health change event")
		}
	}
	return status, nil
}

// Current returns the last recorded status without probing.
func (r *Reconciler) Current(ctx context.Context, userID, configType string) (Status, error) {
	cfg, err := r.store.Load(ctx, userID, configType)
	if err != nil {
		return Status{}, err
	}
	return StatusFromConfig(cfg), nil
}

// Sweep re-tests every active config of every registered type. Configs that
// fail validation are skipped; they were never testable.
func (r *Reconciler) Sweep(ctx context.Context) (tested, failed int) {
	for _, configType := range r.Types() {
		rows, err := r.store.ActiveConfigs(ctx, configType)
		if err != nil {
			log.Error().Err(err).Str("configType", configType).Msg("Health sweep could not list configs")
			continue
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return tested, failed
			}
			status, err := r.Test(ctx, row.UserID, configType)
			if err != nil {
				if !IsValidation(err) && !errors.Is(err, ErrTestInProgress) {
					log.Error().Err(err).Str("userID", row.UserID).Str("configType", configType).Msg("Health sweep test failed")
				}
				continue
			}
			tested++
			if !status.Connected() {
				failed++
			}
		}
	}
	log.Info().Int("tested", tested).Int("failed", failed).Msg("Health sweep complete")
	return tested, failed
}
