// Package dashboards keeps one staking.Dashboard per authenticated user and
// renders dashboards into transport-neutral views.
package dashboards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"go.uber.org/zap"
)

var (
	// ErrUnknownUser is returned by Lookup for users without a dashboard.
	ErrUnknownUser = errors.New("unknown dashboard user")
	// ErrInvalidUserID reports an empty user id.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("dashboard registry closed")
)

// Factory builds a fresh dashboard for a new user.
type Factory func() (*staking.Dashboard, error)

// NewFactory wires sessions over gateway with the shared catalog, projector
// and price source.
func NewFactory(gateway staking.Gateway, catalog staking.PoolCatalog, projector staking.MetricsProjector, price staking.PriceSource, logger staking.OperationLogger) Factory {
	return func() (*staking.Dashboard, error) {
		options := []staking.SessionOption{}
		if logger != nil {
			options = append(options, staking.WithOperationLogger(logger))
		}
		session, err := staking.NewSession(gateway, catalog, options...)
		if err != nil {
			return nil, err
		}
		dashboard, err := staking.NewDashboard(session, projector, price)
		if err != nil {
			session.Close()
			return nil, err
		}
		return dashboard, nil
	}
}

type registryEntry struct {
	dashboard *staking.Dashboard
	lastSeen  time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL evicts dashboards unused for longer than ttl on Sweep.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(registry *Registry) {
		if ttl > 0 {
			registry.idleTTL = ttl
		}
	}
}

// WithRegistryClock overrides time.Now.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(registry *Registry) {
		if clock != nil {
			registry.clock = clock
		}
	}
}

// WithSizeObserver is called with the entry count after every change.
func WithSizeObserver(observer func(int)) RegistryOption {
	return func(registry *Registry) {
		registry.observeSize = observer
	}
}

// WithRegistryLogger attaches a zap logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(registry *Registry) {
		if logger != nil {
			registry.logger = logger
		}
	}
}

// Registry maps user ids to dashboards.
type Registry struct {
	factory     Factory
	idleTTL     time.Duration
	clock       func() time.Time
	observeSize func(int)
	logger      *zap.Logger

	mutex   sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry(factory Factory, options ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: dashboard factory is nil", staking.ErrInvalidServiceConfig)
	}
	registry := &Registry{
		factory: factory,
		idleTTL: 30 * time.Minute,
		clock:   time.Now,
		logger:  zap.NewNop(),
		entries: map[string]*registryEntry{},
	}
	for _, option := range options {
		option(registry)
	}
	return registry, nil
}

// Get returns the user's dashboard, creating it on first use.
func (registry *Registry) Get(userID string) (*staking.Dashboard, error) {
	key, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.closed {
		return nil, ErrRegistryClosed
	}
	if entry, ok := registry.entries[key]; ok {
		entry.lastSeen = registry.clock()
		return entry.dashboard, nil
	}
	dashboard, err := registry.factory()
	if err != nil {
		return nil, err
	}
	registry.entries[key] = &registryEntry{dashboard: dashboard, lastSeen: registry.clock()}
	registry.reportSizeLocked()
	return dashboard, nil
}

// Lookup returns an existing dashboard without creating one.
func (registry *Registry) Lookup(userID string) (*staking.Dashboard, error) {
	key, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, ok := registry.entries[key]
	if !ok {
		return nil, ErrUnknownUser
	}
	return entry.dashboard, nil
}

// Len returns the number of live dashboards.
func (registry *Registry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.entries)
}

// Sweep closes dashboards idle longer than the TTL and returns how many.
func (registry *Registry) Sweep() int {
	registry.mutex.Lock()
	cutoff := registry.clock().Add(-registry.idleTTL)
	evicted := []*staking.Dashboard{}
	for key, entry := range registry.entries {
		if entry.lastSeen.Before(cutoff) {
			evicted = append(evicted, entry.dashboard)
			delete(registry.entries, key)
		}
	}
	if len(evicted) > 0 {
		registry.reportSizeLocked()
	}
	registry.mutex.Unlock()

	for _, dashboard := range evicted {
		dashboard.Close()
	}
	if len(evicted) > 0 {
		registry.logger.Debug("idle dashboards evicted", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Run sweeps on every interval until ctx ends.
func (registry *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep()
		}
	}
}

// Close closes every dashboard and rejects further Get calls.
func (registry *Registry) Close() {
	registry.mutex.Lock()
	entries := registry.entries
	registry.entries = map[string]*registryEntry{}
	registry.closed = true
	registry.reportSizeLocked()
	registry.mutex.Unlock()

	for _, entry := range entries {
		entry.dashboard.Close()
	}
}

func (registry *Registry) reportSizeLocked() {
	if registry.observeSize != nil {
		registry.observeSize(len(registry.entries))
	}
}

func normalizeUserID(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", ErrInvalidUserID
	}
	return trimmed, nil
}
