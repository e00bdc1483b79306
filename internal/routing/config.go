package routing

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// DefaultConfigTTL is how long an effective config is served from cache
const DefaultConfigTTL = 5 * time.Minute

// SettingsStore persists per-user routing overrides
type SettingsStore interface {
	// GetRoutingSettings returns (nil, nil) when the user has no stored settings.
	GetRoutingSettings(ctx context.Context, userID string) (*models.RoutingSettings, error)
	SaveRoutingSettings(ctx context.Context, settings *models.RoutingSettings) error
}

// Broadcaster tells other instances that a user's config changed
type Broadcaster interface {
	PublishInvalidation(ctx context.Context, userID string) error
}

// EffectiveConfig is the catalog merged with a user's overrides. Values
// returned by ConfigService are shared and must not be mutated.
type EffectiveConfig struct {
	TaskRouting     map[string]models.Tier            `json:"task_routing"`
	ToolRouting     map[string]models.Tier            `json:"tool_routing"`
	Patterns        models.PatternSet                 `json:"patterns"`
	DefaultTier     models.Tier                       `json:"default_tier"`
	ChainingEnabled bool                              `json:"chaining_enabled"`
	ChainConfigs    map[string]models.ChainDefinition `json:"chain_configs"`
	DailyCostLimit  *float64                          `json:"daily_cost_limit_usd"`
	PreferSpeed     bool                              `json:"prefer_speed"`
	PreferQuality   bool                              `json:"prefer_quality"`

	// TaskChains comes from the catalog and is not user-overridable
	TaskChains map[string]string `json:"-"`

	CheapClassifier   Classifier `json:"-"`
	CapableClassifier Classifier `json:"-"`
}

// Merge builds the effective config for settings on top of catalog. A nil
// settings yields the catalog defaults.
func Merge(catalog *Catalog, settings *models.RoutingSettings) *EffectiveConfig {
	cfg := &EffectiveConfig{
		TaskRouting:     maps.Clone(catalog.TaskRouting),
		ToolRouting:     maps.Clone(catalog.ToolRouting),
		DefaultTier:     catalog.DefaultTier,
		ChainingEnabled: catalog.ChainingEnabled,
		ChainConfigs:    make(map[string]models.ChainDefinition, len(catalog.Chains)),
		TaskChains:      maps.Clone(catalog.TaskChains),
		Patterns: models.PatternSet{
			Cheap:   append([]string(nil), catalog.Patterns.Cheap...),
			Capable: append([]string(nil), catalog.Patterns.Capable...),
		},
	}
	for name, def := range catalog.Chains {
		cfg.ChainConfigs[name] = cloneChain(def)
	}

	if settings != nil {
		for task, tier := range settings.TaskRouting {
			if tier.Valid() {
				cfg.TaskRouting[task] = tier
			}
		}
		for tool, tier := range settings.ToolRouting {
			if tier.Valid() {
				cfg.ToolRouting[tool] = tier
			}
		}
		for name, def := range settings.ChainConfigs {
			cfg.ChainConfigs[name] = cloneChain(def)
		}

		cfg.Patterns.Cheap = append(cfg.Patterns.Cheap, settings.CustomPatterns.Cheap...)
		cfg.Patterns.Capable = append(cfg.Patterns.Capable, settings.CustomPatterns.Capable...)

		if settings.DefaultTier != nil && settings.DefaultTier.Valid() {
			cfg.DefaultTier = *settings.DefaultTier
		}
		if settings.EnableChaining != nil {
			cfg.ChainingEnabled = *settings.EnableChaining
		}
		if settings.CostLimitDaily != nil {
			limit := *settings.CostLimitDaily
			cfg.DailyCostLimit = &limit
		}
		if settings.PreferSpeed != nil {
			cfg.PreferSpeed = *settings.PreferSpeed
		}
		if settings.PreferQuality != nil {
			cfg.PreferQuality = *settings.PreferQuality
		}
	}

	cfg.CheapClassifier = lenientClassifier(cfg.Patterns.Cheap)
	cfg.CapableClassifier = lenientClassifier(cfg.Patterns.Capable)
	return cfg
}

type cacheEntry struct {
	mu        sync.Mutex
	cfg       *EffectiveConfig
	fetchedAt time.Time
}

// ConfigService loads, caches and updates per-user effective configs
type ConfigService struct {
	store       SettingsStore
	catalog     atomic.Pointer[Catalog]
	ttl         time.Duration
	now         func() time.Time
	broadcaster Broadcaster

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	sweepAt int

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// userLock serializes writes for one user. It is dropped once no writer
// holds or waits for it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// minSweep is the entry count below which expired entries are not swept
const minSweep = 1024

// ConfigOption configures a ConfigService.
type ConfigOption func(*ConfigService)

// WithTTL sets how long effective configs stay cached
func WithTTL(ttl time.Duration) ConfigOption {
	return func(s *ConfigService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ConfigOption {
	return func(s *ConfigService) {
		s.now = now
	}
}

// WithBroadcaster publishes invalidations to other instances
func WithBroadcaster(b Broadcaster) ConfigOption {
	return func(s *ConfigService) {
		s.broadcaster = b
	}
}

// NewConfigService creates a config service over store. A nil catalog means
// the built-in defaults.
func NewConfigService(store SettingsStore, catalog *Catalog, opts ...ConfigOption) *ConfigService {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &ConfigService{
		store:   store,
		ttl:     DefaultConfigTTL,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
		sweepAt: minSweep,
		locks:   make(map[string]*userLock),
	}
	s.catalog.Store(catalog)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog currently in use
func (s *ConfigService) Catalog() *Catalog {
	return s.catalog.Load()
}

// SetCatalog swaps the catalog and drops every cached config
func (s *ConfigService) SetCatalog(catalog *Catalog) {
	s.catalog.Store(catalog)
	s.InvalidateAll()
}

func (s *ConfigService) entry(userID string) *cacheEntry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}
	if len(s.entries) >= s.sweepAt {
		s.sweepLocked()
	}
	e = &cacheEntry{}
	s.entries[userID] = e
	return e
}

// sweepLocked drops entries that are empty or past the TTL. Entries busy
// loading are kept. The next sweep runs once the map doubles, so the cost is
// amortized over insertions. Callers hold s.mu.
func (s *ConfigService) sweepLocked() {
	now := s.now()
	for userID, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.cfg == nil || now.Sub(e.fetchedAt) >= s.ttl {
			delete(s.entries, userID)
		}
		e.mu.Unlock()
	}
	s.sweepAt = max(2*len(s.entries), minSweep)
}

// GetConfig returns the user's effective config, reloading from the store
// when the cached value is older than the TTL. Load failures are returned
// wrapped in ErrConfigLoad and never replaced with defaults.
func (s *ConfigService) GetConfig(ctx context.Context, userID string) (*EffectiveConfig, error) {
	e := s.entry(userID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg != nil && s.now().Sub(e.fetchedAt) < s.ttl {
		return e.cfg, nil
	}

	settings, err := s.store.GetRoutingSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %w", ErrConfigLoad, userID, err)
	}

	e.cfg = Merge(s.catalog.Load(), settings)
	e.fetchedAt = s.now()
	logger.Debug("routing config loaded", "user_id", userID)
	return e.cfg, nil
}

// DailyCostLimit returns the user's effective daily cost ceiling, if any
func (s *ConfigService) DailyCostLimit(ctx context.Context, userID string) (*float64, error) {
	cfg, err := s.GetConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return cfg.DailyCostLimit, nil
}

// Invalidate drops the cached config for userID on this instance. A load
// already in flight finishes on the removed entry and is not reused.
func (s *ConfigService) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
}

// InvalidateAll drops every cached config on this instance
func (s *ConfigService) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]*cacheEntry)
	s.sweepAt = minSweep
	s.mu.Unlock()
}

func (s *ConfigService) lockUser(userID string) *userLock {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *ConfigService) unlockUser(userID string, l *userLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
	s.locksMu.Unlock()
}

// UpdateConfig validates and persists a partial update, then invalidates the
// user's cached config and returns the reloaded effective config.
func (s *ConfigService) UpdateConfig(ctx context.Context, userID string, update models.RoutingSettingsUpdate) (*EffectiveConfig, error) {
	if err := ValidateUpdate(s.Catalog(), update); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, userID, func(settings *models.RoutingSettings) error {
		ApplyUpdate(settings, update)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetConfig(ctx, userID)
}

// Reset sections of a user's overrides. Valid sections are task_routing,
// tool_routing, patterns and chains.
func (s *ConfigService) Reset(ctx context.Context, userID string, sections []string) error {
	for _, section := range sections {
		switch section {
		case "task_routing", "tool_routing", "patterns", "chains":
		default:
			return &ValidationError{Field: "sections", Reason: fmt.Sprintf("unknown section %q", section)}
		}
	}

	return s.mutate(ctx, userID, func(settings *models.RoutingSettings) error {
		for _, section := range sections {
			switch section {
			case "task_routing":
				settings.TaskRouting = map[string]models.Tier{}
			case "tool_routing":
				settings.ToolRouting = map[string]models.Tier{}
			case "patterns":
				settings.CustomPatterns = models.PatternSet{}
			case "chains":
				settings.ChainConfigs = map[string]models.ChainDefinition{}
			}
		}
		return nil
	})
}

// CustomChains returns the chains the user defined, without the built-ins
func (s *ConfigService) CustomChains(ctx context.Context, userID string) (map[string]models.ChainDefinition, error) {
	settings, err := s.store.GetRoutingSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %w", ErrConfigLoad, userID, err)
	}
	if settings == nil || settings.ChainConfigs == nil {
		return map[string]models.ChainDefinition{}, nil
	}
	return settings.ChainConfigs, nil
}

// SaveChain creates or replaces a user chain. When oldName is set and differs
// from name, the chain is renamed and oldName must exist.
func (s *ConfigService) SaveChain(ctx context.Context, userID, oldName, name string, def models.ChainDefinition) error {
	if err := validateChain(name, def); err != nil {
		return err
	}

	return s.mutate(ctx, userID, func(settings *models.RoutingSettings) error {
		if oldName != "" {
			if _, ok := settings.ChainConfigs[oldName]; !ok {
				return fmt.Errorf("%w: %s", ErrUnknownChain, oldName)
			}
			delete(settings.ChainConfigs, oldName)
		}
		settings.ChainConfigs[name] = cloneChain(def)
		return nil
	})
}

// DeleteChain removes a user chain
func (s *ConfigService) DeleteChain(ctx context.Context, userID, name string) error {
	return s.mutate(ctx, userID, func(settings *models.RoutingSettings) error {
		if _, ok := settings.ChainConfigs[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChain, name)
		}
		delete(settings.ChainConfigs, name)
		return nil
	})
}

// mutate runs a read-modify-write of the stored settings under the user's
// write lock. The cache is invalidated only after a successful save.
func (s *ConfigService) mutate(ctx context.Context, userID string, fn func(*models.RoutingSettings) error) error {
	l := s.lockUser(userID)
	defer s.unlockUser(userID, l)

	settings, err := s.store.GetRoutingSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: user %s: %w", ErrConfigLoad, userID, err)
	}
	if settings == nil {
		settings = &models.RoutingSettings{UserID: userID}
	}
	ensureMaps(settings)

	if err := fn(settings); err != nil {
		return err
	}

	settings.UpdatedAt = s.now().UTC()
	if err := s.store.SaveRoutingSettings(ctx, settings); err != nil {
		return fmt.Errorf("save routing settings: %w", err)
	}

	s.Invalidate(userID)
	logger.Info("routing config updated", "user_id", userID)

	if s.broadcaster != nil {
		if err := s.broadcaster.PublishInvalidation(ctx, userID); err != nil {
			logger.Warn("failed to broadcast config invalidation", "user_id", userID, "error", err)
		}
	}
	return nil
}

func ensureMaps(settings *models.RoutingSettings) {
	if settings.TaskRouting == nil {
		settings.TaskRouting = map[string]models.Tier{}
	}
	if settings.ToolRouting == nil {
		settings.ToolRouting = map[string]models.Tier{}
	}
	if settings.ChainConfigs == nil {
		settings.ChainConfigs = map[string]models.ChainDefinition{}
	}
}

// ApplyUpdate writes every field present in update onto settings
func ApplyUpdate(settings *models.RoutingSettings, update models.RoutingSettingsUpdate) {
	if update.TaskRouting != nil {
		settings.TaskRouting = maps.Clone(update.TaskRouting)
	}
	if update.ToolRouting != nil {
		settings.ToolRouting = maps.Clone(update.ToolRouting)
	}
	if update.CustomPatterns != nil {
		settings.CustomPatterns = models.PatternSet{
			Cheap:   append([]string(nil), update.CustomPatterns.Cheap...),
			Capable: append([]string(nil), update.CustomPatterns.Capable...),
		}
	}
	if update.ChainConfigs != nil {
		settings.ChainConfigs = make(map[string]models.ChainDefinition, len(update.ChainConfigs))
		for name, def := range update.ChainConfigs {
			settings.ChainConfigs[name] = cloneChain(def)
		}
	}
	if update.DefaultTier != nil {
		tier := *update.DefaultTier
		settings.DefaultTier = &tier
	}
	if update.EnableChaining != nil {
		v := *update.EnableChaining
		settings.EnableChaining = &v
	}
	if update.ClearCostLimitDaily {
		settings.CostLimitDaily = nil
	} else if update.CostLimitDaily != nil {
		v := *update.CostLimitDaily
		settings.CostLimitDaily = &v
	}
	if update.PreferSpeed != nil {
		v := *update.PreferSpeed
		settings.PreferSpeed = &v
	}
	if update.PreferQuality != nil {
		v := *update.PreferQuality
		settings.PreferQuality = &v
	}
}
