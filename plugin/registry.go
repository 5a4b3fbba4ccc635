package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// hookTimeout bounds any single plugin callback. Plugins must never
// block the billing pipeline.
const hookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emission never type-switches per call.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit            []OnInit
	onShutdown        []OnShutdown
	onRateActivated   []OnRateActivated
	onTokenIssued     []OnTokenIssued
	onTokenRedeemed   []OnTokenRedeemed
	onBalanceDebited  []OnBalanceDebited
	onLowBalance      []OnLowBalance
	onReadingRecorded []OnReadingRecorded
	onReadingAmended  []OnReadingAmended
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var interfaces []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		interfaces = append(interfaces, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		interfaces = append(interfaces, "OnShutdown")
	}
	if v, ok := p.(OnRateActivated); ok {
		r.onRateActivated = append(r.onRateActivated, v)
		interfaces = append(interfaces, "OnRateActivated")
	}
	if v, ok := p.(OnTokenIssued); ok {
		r.onTokenIssued = append(r.onTokenIssued, v)
		interfaces = append(interfaces, "OnTokenIssued")
	}
	if v, ok := p.(OnTokenRedeemed); ok {
		r.onTokenRedeemed = append(r.onTokenRedeemed, v)
		interfaces = append(interfaces, "OnTokenRedeemed")
	}
	if v, ok := p.(OnBalanceDebited); ok {
		r.onBalanceDebited = append(r.onBalanceDebited, v)
		interfaces = append(interfaces, "OnBalanceDebited")
	}
	if v, ok := p.(OnLowBalance); ok {
		r.onLowBalance = append(r.onLowBalance, v)
		interfaces = append(interfaces, "OnLowBalance")
	}
	if v, ok := p.(OnReadingRecorded); ok {
		r.onReadingRecorded = append(r.onReadingRecorded, v)
		interfaces = append(interfaces, "OnReadingRecorded")
	}
	if v, ok := p.(OnReadingAmended); ok {
		r.onReadingAmended = append(r.onReadingAmended, v)
		interfaces = append(interfaces, "OnReadingAmended")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", interfaces,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, ledger)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitRateActivated emits a rate schedule activation event.
func (r *Registry) EmitRateActivated(ctx context.Context, s *rate.Schedule) {
	r.mu.RLock()
	plugins := r.onRateActivated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRateActivated(ctx, s)
		}); err != nil {
			r.logger.Warn("plugin OnRateActivated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitTokenIssued emits a token issued event.
func (r *Registry) EmitTokenIssued(ctx context.Context, t *token.Token) {
	r.mu.RLock()
	plugins := r.onTokenIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokenIssued(ctx, t)
		}); err != nil {
			r.logger.Warn("plugin OnTokenIssued failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitTokenRedeemed emits a token redeemed event.
func (r *Registry) EmitTokenRedeemed(ctx context.Context, t *token.Token, previous, current types.Volume) {
	r.mu.RLock()
	plugins := r.onTokenRedeemed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokenRedeemed(ctx, t, previous, current)
		}); err != nil {
			r.logger.Warn("plugin OnTokenRedeemed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitBalanceDebited emits a balance debited event.
func (r *Registry) EmitBalanceDebited(ctx context.Context, propertyID id.PropertyID, consumption, previous, current types.Volume) {
	r.mu.RLock()
	plugins := r.onBalanceDebited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBalanceDebited(ctx, propertyID, consumption, previous, current)
		}); err != nil {
			r.logger.Warn("plugin OnBalanceDebited failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitLowBalance emits a low balance alert.
func (r *Registry) EmitLowBalance(ctx context.Context, propertyID id.PropertyID, currentBalance types.Volume) {
	r.mu.RLock()
	plugins := r.onLowBalance
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLowBalance(ctx, propertyID, currentBalance)
		}); err != nil {
			r.logger.Warn("plugin OnLowBalance failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReadingRecorded emits a reading recorded event.
func (r *Registry) EmitReadingRecorded(ctx context.Context, rd *reading.MeterReading) {
	r.mu.RLock()
	plugins := r.onReadingRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReadingRecorded(ctx, rd)
		}); err != nil {
			r.logger.Warn("plugin OnReadingRecorded failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReadingAmended emits a reading amended event.
func (r *Registry) EmitReadingAmended(ctx context.Context, rd *reading.MeterReading, delta types.Volume) {
	r.mu.RLock()
	plugins := r.onReadingAmended
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReadingAmended(ctx, rd, delta)
		}); err != nil {
			r.logger.Warn("plugin OnReadingAmended failed", "plugin", p.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(hookTimeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
