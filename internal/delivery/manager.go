package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

// Status is the state of one delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

var (
	// ErrNoURL is returned when there is nowhere to deliver to.
	ErrNoURL = errors.New("delivery URL is empty")
	// ErrNotFound is returned for unknown or expired delivery IDs.
	ErrNotFound = errors.New("delivery not found")
	// ErrNotFailed is returned when retrying a delivery that has not failed.
	ErrNotFailed = errors.New("delivery has not failed")
)

// Delivery is one event on its way to a webhook.
type Delivery struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	EventType    string                 `json:"event_type"`
	URL          string                 `json:"url"`
	Payload      map[string]interface{} `json:"payload"`
	Status       Status                 `json:"status"`
	AttemptCount int                    `json:"attempt_count"`
	LastError    string                 `json:"last_error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`

	event    events.Event
	inFlight bool
}

// Stats summarises the manager's state.
type Stats struct {
	Pending        int   `json:"pending"`
	Delivered      int   `json:"delivered"`
	Failed         int   `json:"failed"`
	MaxRetries     int   `json:"max_retries"`
	RetryBackoffMs int64 `json:"retry_backoff_ms"`
	TimeoutMs      int64 `json:"timeout_ms"`
}

// Config tunes retries.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
	// Retention is how long finished deliveries stay queryable.
	Retention time.Duration
}

// Manager posts events to webhooks in the background and retries failures
// until MaxRetries attempts have been made.
type Manager struct {
	cfg    Config
	client *resty.Client

	mu         sync.Mutex
	ctx        context.Context
	deliveries map[string]*Delivery
	delivered  int
	failed     int
}

// NewManager creates a Manager. Zero config values fall back to 3 retries,
// a 2s backoff, a 10s attempt timeout and one hour of retention.
func NewManager(cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	log.Info().
		Int("maxRetries", cfg.MaxRetries).
		Dur("retryBackoff", cfg.RetryBackoff).
		Dur("timeout", cfg.Timeout).
		Msg("Delivery manager initialized")
	return &Manager{
		cfg:        cfg,
		client:     httputil.NewRestyClient("", cfg.Timeout),
		ctx:        context.Background(),
		deliveries: make(map[string]*Delivery),
	}
}

// Deliver queues ev for url and makes the first attempt right away.
func (m *Manager) Deliver(url string, ev events.Event) (string, error) {
	if url == "" {
		return "", ErrNoURL
	}
	now := time.Now()
	d := &Delivery{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		EventType: ev.Type,
		URL:       url,
		Payload:   ev.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		event:     ev,
		inFlight:  true,
	}

	m.mu.Lock()
	m.deliveries[d.ID] = d
	ctx := m.ctx
	m.mu.Unlock()

	log.Info().Str("deliveryID", d.ID).Str("userID", d.UserID).Str("eventType", d.EventType).Msg("Starting delivery")
	go m.attempt(ctx, d)
	return d.ID, nil
}

func (m *Manager) attempt(parent context.Context, d *Delivery) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", d.EventType).
		SetBody(d.event).
		Post(d.URL)
	if err == nil && resp.IsError() {
		err = httputil.NewAPIError("webhook", "deliver", resp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d.inFlight = false
	d.AttemptCount++
	d.UpdatedAt = time.Now()

	if err == nil {
		d.Status = StatusDelivered
		d.LastError = ""
		m.delivered++
		log.Info().
			Str("deliveryID", d.ID).
			Int("attempt", d.AttemptCount).
			Int64("durationMs", time.Since(start).Milliseconds()).
			Msg("Event delivered")
		return
	}

	d.LastError = err.Error()
	if d.AttemptCount >= m.cfg.MaxRetries {
		d.Status = StatusFailed
		m.failed++
		log.Error().Err(err).Str("deliveryID", d.ID).Int("attemptCount", d.AttemptCount).Msg("Event delivery failed permanently")
		return
	}
	log.Warn().
		Err(err).
		Str("deliveryID", d.ID).
		Int("attemptCount", d.AttemptCount).
		Int("maxRetries", m.cfg.MaxRetries).
		Msg("Event delivery failed, will retry")
}

// Start runs the retry loop until ctx is done. Attempts started after Start
// are bounded by ctx as well.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.RetryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Delivery manager stopped")
			return
		case <-ticker.C:
			m.retryPending(ctx)
		}
	}
}

func (m *Manager) retryPending(ctx context.Context) {
	now := time.Now()
	var due []*Delivery

	m.mu.Lock()
	for id, d := range m.deliveries {
		switch {
		case d.Status == StatusPending && !d.inFlight && now.Sub(d.UpdatedAt) >= m.cfg.RetryBackoff:
			d.inFlight = true
			due = append(due, d)
		case d.Status != StatusPending && now.Sub(d.UpdatedAt) > m.cfg.Retention:
			delete(m.deliveries, id)
		}
	}
	m.mu.Unlock()

	for _, d := range due {
		log.Info().Str("deliveryID", d.ID).Int("attemptCount", d.AttemptCount).Msg("Retrying event delivery")
		go m.attempt(ctx, d)
	}
}

// Status returns a snapshot of one delivery.
func (m *Manager) Status(id string) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return *d, nil
}

// Pending lists a user's unfinished deliveries, oldest first. A limit of
// zero or less means no limit.
func (m *Manager) Pending(userID string, limit int) []Delivery {
	m.mu.Lock()
	out := make([]Delivery, 0)
	for _, d := range m.deliveries {
		if d.UserID == userID && d.Status == StatusPending {
			out = append(out, *d)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry gives a failed delivery a fresh set of attempts.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	d, ok := m.deliveries[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if d.Status != StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, d.Status)
	}
	d.Status = StatusPending
	d.AttemptCount = 0
	d.inFlight = true
	d.UpdatedAt = time.Now()
	m.failed--
	ctx := m.ctx
	m.mu.Unlock()

	log.Info().Str("deliveryID", id).Msg("Manual delivery retry")
	go m.attempt(ctx, d)
	return nil
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := 0
	for _, d := range m.deliveries {
		if d.Status == StatusPending {
			pending++
		}
	}
	return Stats{
		Pending:        pending,
		Delivered:      m.delivered,
		Failed:         m.failed,
		MaxRetries:     m.cfg.MaxRetries,
		RetryBackoffMs: m.cfg.RetryBackoff.Milliseconds(),
		TimeoutMs:      m.cfg.Timeout.Milliseconds(),
	}
}
