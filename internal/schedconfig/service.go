package schedconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/orchcore/orchd/internal/cache"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/lock"
	"github.com/orchcore/orchd/internal/metrics"
)

// cacheTTL is how long the single cached config slot stays fresh before a
// reader forces a reload.
const cacheTTL = 5 * time.Minute

// reloadLockKey is the single-holder critical-section key every reload and
// update contends on; it is process-global on purpose — there is exactly
// one live config row per installation.
const reloadLockKey = "schedconfig:reload"

// Service implements the configuration store: a cached, versioned,
// validated SchedulingConfig shared across every capacity and placement
// decision.
type Service struct {
	store   Store       // nil => degraded, in-memory-only mode
	cache   cache.Cache // optional; UpdateConfig deletes a key from it, reads never consult it; may be nil
	locker  lock.Locker
	sink    *events.Sink // optional; nil disables event emission
	logger  *slog.Logger
	metrics *metrics.ConfigMetrics // nil disables instrumentation

	slot atomic.Pointer[cachedConfig]

	// degradedVersion is the locally-tracked version counter used only when
	// store is nil, since there is no history table to derive it from.
	degradedVersion atomic.Int64
}

type cachedConfig struct {
	cfg      *SchedulingConfig
	loadedAt time.Time
}

// NewService wires a Configuration Store on top of the given persistence,
// cross-replica cache, and lock. store may be nil to run in degraded
// (in-memory only) mode; cache may be nil. GetConfig serves only from the
// in-process slot and the store, never from cache.
func NewService(store Store, ch cache.Cache, locker lock.Locker, logger *slog.Logger, m *metrics.ConfigMetrics) *Service {
	return NewServiceWithSink(store, ch, locker, nil, logger, m)
}

// NewServiceWithSink is NewService plus an event sink; sink may be nil to
// disable emission entirely.
func NewServiceWithSink(store Store, ch cache.Cache, locker lock.Locker, sink *events.Sink, logger *slog.Logger, m *metrics.ConfigMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	s := &Service{store: store, cache: ch, locker: locker, sink: sink, logger: logger, metrics: m}
	if store == nil {
		s.logger.Warn("schedconfig running in degraded mode: no persistent store configured")
	}
	return s
}

func (s *Service) emit(ctx context.Context, eventType string, cfg *SchedulingConfig, payload map[string]any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(ctx, events.OrchestratorEvent{
		Type:         eventType,
		ResourceType: "SchedulingConfig",
		ResourceID:   fmt.Sprintf("%d", cfg.Version),
		Payload:      payload,
	}); err != nil {
		s.logger.Error("schedconfig: failed to emit event", "type", eventType, "error", err)
	}
}

// GetConfig returns the current config. Cache hits are lock-free; a miss or
// expiry enters the single-holder reload section.
func (s *Service) GetConfig(ctx context.Context) (*SchedulingConfig, error) {
	if entry := s.slot.Load(); entry != nil && time.Since(entry.loadedAt) < cacheTTL {
		s.observeCacheResult(true)
		return entry.cfg.Clone(), nil
	}
	s.observeCacheResult(false)
	return s.reload(ctx)
}

func (s *Service) observeCacheResult(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues().Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues().Inc()
	}
}

// reload enters the single-holder critical section, double-checking
// freshness inside it so concurrent cache-miss callers collapse into one
// load reaching the persistence layer.
func (s *Service) reload(ctx context.Context) (*SchedulingConfig, error) {
	handle, err := s.locker.Acquire(ctx, reloadLockKey)
	if err != nil {
		return nil, fmt.Errorf("schedconfig: acquire reload section: %w", err)
	}
	defer handle.Release(ctx)

	if entry := s.slot.Load(); entry != nil && time.Since(entry.loadedAt) < cacheTTL {
		return entry.cfg.Clone(), nil
	}

	start := time.Now()
	cfg, err := s.load(ctx)
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.ReloadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	s.slot.Store(&cachedConfig{cfg: cfg, loadedAt: time.Now()})
	s.observeVersion(cfg.Version)
	return cfg.Clone(), nil
}

func (s *Service) observeVersion(v int64) {
	if s.metrics != nil {
		s.metrics.CurrentVersion.Set(float64(v))
	}
}

// load fetches the live row from the store, bootstrapping canonical defaults
// on first-ever load with no persisted row.
func (s *Service) load(ctx context.Context) (*SchedulingConfig, error) {
	if s.store == nil {
		if entry := s.slot.Load(); entry != nil {
			return entry.cfg, nil
		}
		def := Default()
		def.CreatedAt, def.UpdatedAt = time.Now(), time.Now()
		s.degradedVersion.Store(def.Version)
		return def, nil
	}

	cfg, err := s.store.LoadCurrent(ctx)
	if errors.Is(err, ErrNotFound) {
		def := Default()
		def.CreatedAt, def.UpdatedAt = time.Now(), time.Now()
		if err := s.store.SaveCurrent(ctx, def); err != nil {
			return nil, fmt.Errorf("schedconfig: bootstrap defaults: %w", err)
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedconfig: load current: %w", err)
	}
	return cfg, nil
}

// UpdateConfig validates candidate, archives the current row as history,
// bumps the version, persists atomically, and refreshes the cache so the
// caller's next GetConfig observes its own write.
func (s *Service) UpdateConfig(ctx context.Context, candidate *SchedulingConfig, updatedBy string) (*SchedulingConfig, error) {
	if err := Validate(candidate); err != nil {
		if s.metrics != nil {
			s.metrics.UpdateTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	handle, err := s.locker.Acquire(ctx, reloadLockKey)
	if err != nil {
		return nil, fmt.Errorf("schedconfig: acquire update section: %w", err)
	}
	defer handle.Release(ctx)

	current, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("schedconfig: load current for update: %w", err)
	}

	next := candidate.Clone()
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now()
	next.UpdatedBy = updatedBy

	if s.store == nil {
		s.degradedVersion.Store(next.Version)
	} else if err := s.store.SaveCurrent(ctx, next); err != nil {
		return nil, fmt.Errorf("schedconfig: persist update: %w", err)
	}

	// Invalidate synchronously, as part of this successful update, so a
	// subsequent GetConfig by any caller (including this one) observes it.
	s.slot.Store(&cachedConfig{cfg: next, loadedAt: time.Now()})
	s.observeVersion(next.Version)
	if s.metrics != nil {
		s.metrics.UpdateTotal.WithLabelValues("accepted").Inc()
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, reloadLockKey)
	}
	s.emit(ctx, events.TypeConfigUpdated, next, map[string]any{"updatedBy": updatedBy})

	return next.Clone(), nil
}

// ReloadConfig invalidates the cache so the next GetConfig forces a fresh
// load.
func (s *Service) ReloadConfig(ctx context.Context) {
	prior := s.slot.Swap(nil)
	if s.sink == nil {
		return
	}
	version := int64(0)
	if prior != nil {
		version = prior.cfg.Version
	}
	s.emit(ctx, events.TypeConfigReloaded, &SchedulingConfig{Version: version}, map[string]any{"priorVersion": version})
}

// GetConfigHistory returns up to limit prior versions, most-recent-first.
// Degraded mode (no persistent store) always returns empty: there is no
// history table to read when nothing is persisted.
func (s *Service) GetConfigHistory(ctx context.Context, limit int) ([]*SchedulingConfig, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.History(ctx, limit)
}
