package configstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/db"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

var (
	// ErrNoUser is returned before any storage access when no user is given.
	ErrNoUser = errors.New("no authenticated user")
	// ErrUnknownType is returned for config types without registered defaults.
	ErrUnknownType = errors.New("unknown config type")
)

// A concurrent writer can win the race for the active slot between our
// deactivate and insert; the unique index rejects our insert and we retry.
const maxUpdateAttempts = 3

// Accessor loads and rotates per-user integration configuration rows.
type Accessor struct {
	db        *gorm.DB
	defaults  Defaults
	cache     *cache.Cache
	publisher events.Publisher

	// gen counts committed updates per cache key. A read only caches what it
	// fetched if no update committed in between.
	mu  sync.Mutex
	gen map[string]uint64
}

// NewAccessor creates an Accessor. A nil publisher disables change events.
func NewAccessor(conn *gorm.DB, defaults Defaults, publisher events.Publisher, cacheTTL time.Duration) (*Accessor, error) {
	if conn == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil")
	}
	if len(defaults) == 0 {
		return nil, fmt.Errorf("config defaults cannot be empty")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Accessor{
		db:        conn,
		defaults:  defaults,
		cache:     cache.New(cacheTTL, 2*cacheTTL),
		publisher: publisher,
		gen:       make(map[string]uint64),
	}, nil
}

// Types lists every config type the accessor knows.
func (a *Accessor) Types() []string {
	types := a.defaults.Types()
	sort.Strings(types)
	return types
}

func (a *Accessor) check(userID, configType string) (map[string]interface{}, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	def, ok := a.defaults.For(configType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, configType)
	}
	return def, nil
}

func cacheKey(userID, configType string) string {
	return userID + "|" + configType
}

// Load returns the user's active configuration merged over the defaults for
// configType. Without a stored row the defaults are returned unchanged.
func (a *Accessor) Load(ctx context.Context, userID, configType string) (map[string]interface{}, error) {
	def, err := a.check(userID, configType)
	if err != nil {
		return nil, err
	}
	stored, err := a.loadStored(ctx, userID, configType)
	if err != nil {
		return nil, err
	}
	return Merge(def, stored), nil
}

// LoadStored returns only what is persisted for (userID, configType), or an
// empty map when nothing is.
func (a *Accessor) LoadStored(ctx context.Context, userID, configType string) (map[string]interface{}, error) {
	if _, err := a.check(userID, configType); err != nil {
		return nil, err
	}
	return a.loadStored(ctx, userID, configType)
}

func (a *Accessor) loadStored(ctx context.Context, userID, configType string) (map[string]interface{}, error) {
	key := cacheKey(userID, configType)
	if v, found := a.cache.Get(key); found {
		return Merge(v.(map[string]interface{})), nil
	}

	gen := a.generation(key)
	row, err := head(a.db.WithContext(ctx), userID, configType, false)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Str("configType", configType).Msg("Error querying active config")
		return nil, fmt.Errorf("error querying %s config: %w", configType, err)
	}

	data := map[string]interface{}{}
	if row != nil {
		data = Merge(row.Data)
	}
	a.cacheIfCurrent(key, gen, data)
	return Merge(data), nil
}

func (a *Accessor) generation(key string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen[key]
}

// cacheIfCurrent caches data read at generation gen, unless an update has
// committed since.
func (a *Accessor) cacheIfCurrent(key string, gen uint64, data map[string]interface{}) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen[key] != gen {
		return false
	}
	a.cache.Set(key, data, cache.DefaultExpiration)
	return true
}

// invalidate drops the cached head after a commit and bumps the generation
// so reads that started earlier do not cache what they fetched.
func (a *Accessor) invalidate(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen[key]++
	a.cache.Delete(key)
}

// head returns the most recently created active row. Duplicate active rows
// cannot be created while the partial unique index exists, but the read path
// does not depend on it.
func head(tx *gorm.DB, userID, configType string, lock bool) (*models.IntegrationConfig, error) {
	q := tx.Where("user_id = ? AND config_type = ? AND is_active = ?", userID, configType, true).
		Order("created_at DESC").
		Order("id DESC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []models.IntegrationConfig
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Update merges patch onto the current configuration (defaults, then the
// active row) and, in a single transaction, deactivates every active row for
// (userID, configType) and inserts the merged result as the new active row.
// It returns the configuration as Load would now see it.
func (a *Accessor) Update(ctx context.Context, userID, configType string, patch map[string]interface{}) (map[string]interface{}, error) {
	def, err := a.check(userID, configType)
	if err != nil {
		return nil, err
	}

	var (
		saved map[string]interface{}
		rowID string
	)
	for attempt := 1; ; attempt++ {
		saved, rowID, err = a.rotate(ctx, userID, configType, def, patch)
		if err == nil {
			break
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < maxUpdateAttempts {
			log.Warn().Str("userID", userID).Str("configType", configType).Int("attempt", attempt).Msg("Concurrent config update detected, retrying")
			continue
		}
		log.Error().Err(err).Str("userID", userID).Str("configType", configType).Msg("Failed to update config")
		return nil, fmt.Errorf("failed to update %s config: %w", configType, err)
	}

	a.invalidate(cacheKey(userID, configType))

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev := events.New(events.TypeConfigUpdated, userID, configType, map[string]interface{}{
		"config_id": rowID,
		"keys":      keys,
	})
	if err := a.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("configType", configType).Msg("Failed to publish config change event")
	}

	log.Info().Str("userID", userID).Str("configType", configType).Str("configID", rowID).Msg("Config updated")
	return Merge(def, saved), nil
}

func (a *Accessor) rotate(ctx context.Context, userID, configType string, def, patch map[string]interface{}) (map[string]interface{}, string, error) {
	var (
		merged map[string]interface{}
		rowID  string
	)
	err := db.WithTx(ctx, a.db, func(tx *gorm.DB) error {
		current, err := head(tx, userID, configType, true)
		if err != nil {
			return fmt.Errorf("error locking active config: %w", err)
		}

		var base map[string]interface{}
		if current != nil {
			base = current.Data
		}
		merged = Merge(def, base, patch)

		now := time.Now().UTC()
		err = tx.Model(&models.IntegrationConfig{}).
			Where("user_id = ? AND config_type = ? AND is_active = ?", userID, configType, true).
			Updates(map[string]interface{}{"is_active": false, "deactivated_at": now}).Error
		if err != nil {
			return fmt.Errorf("error deactivating config: %w", err)
		}

		row := &models.IntegrationConfig{
			UserID:     userID,
			ConfigType: configType,
			Data:       merged,
			IsActive:   true,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("error inserting config: %w", err)
		}
		rowID = row.ID
		return nil
	})
	return merged, rowID, err
}

// History returns the rows of a lineage, newest first. limit <= 0 means 50.
func (a *Accessor) History(ctx context.Context, userID, configType string, limit int) ([]models.IntegrationConfig, error) {
	if _, err := a.check(userID, configType); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []models.IntegrationConfig
	err := a.db.WithContext(ctx).
		Where("user_id = ? AND config_type = ?", userID, configType).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying %s config history: %w", configType, err)
	}
	return rows, nil
}

// ActiveConfigs returns the active row of every user for configType.
func (a *Accessor) ActiveConfigs(ctx context.Context, configType string) ([]models.IntegrationConfig, error) {
	var rows []models.IntegrationConfig
	err := a.db.WithContext(ctx).
		Where("config_type = ? AND is_active = ?", configType, true).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying active %s configs: %w", configType, err)
	}
	return rows, nil
}
