package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"consultation_chat/internal/domain"
	"consultation_chat/pkg/logger"
)

const (
	ReapReasonDead  = "transport_dead"
	ReapReasonStale = "stale"
)

// ReapHook получает сведения о каждом удаленном соединении.
type ReapHook func(info domain.ConnectionInfo, reason string)

// Reaper периодически удаляет из реестра мертвые и зависшие соединения.
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	log       logger.Logger
	onReap    ReapHook

	trigger chan struct{}

	mu        sync.RWMutex
	lastSweep *domain.SweepResult
}

func NewReaper(registry *Registry, interval, threshold time.Duration, log logger.Logger) *Reaper {
	return &Reaper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		log:       log,
		trigger:   make(chan struct{}, 1),
	}
}

func (r *Reaper) OnReap(hook ReapHook) {
	r.onReap = hook
}

// Run выполняет проходы по таймеру и по запросу Trigger до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reaper started", "interval", r.interval, "stale_threshold", r.threshold)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Reaper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		case <-r.trigger:
			r.Sweep()
		}
	}
}

// Trigger запрашивает внеочередной проход. Запросы, пришедшие до начала прохода, схлопываются.
func (r *Reaper) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Reaper) Sweep() domain.SweepResult {
	started := r.registry.Now()
	result := domain.SweepResult{StartedAt: started}

	for _, tc := range r.registry.tracked() {
		reason := r.inspect(tc, started)
		switch reason {
		case ReapReasonDead:
			result.Dead++
		case ReapReasonStale:
			result.Stale++
		default:
			continue
		}
		result.Removed++

		if r.onReap != nil {
			r.onReap(domain.ConnectionInfo{
				ConnectionID: tc.conn.ID,
				UserID:       tc.conn.UserID,
				ConnectedAt:  tc.conn.ConnectedAt,
				LastActivity: tc.lastActivity,
			}, reason)
		}
	}

	stats := r.registry.Stats()
	result.Active = stats.ActiveConnections
	result.Peak = stats.PeakConnections
	result.Duration = r.registry.Now().Sub(started)

	r.mu.Lock()
	r.lastSweep = &result
	r.mu.Unlock()

	r.log.Info("Reaper sweep completed",
		"removed", result.Removed,
		"dead", result.Dead,
		"stale", result.Stale,
		"active", result.Active,
		"peak", result.Peak,
		"duration", result.Duration,
	)

	return result
}

// inspect возвращает причину удаления соединения или пустую строку.
// Паника при обработке одного соединения не прерывает проход.
func (r *Reaper) inspect(tc trackedConnection, now time.Time) (reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Reaper failed to inspect connection",
				"connection_id", tc.conn.ID,
				"user_id", tc.conn.UserID,
				"panic", fmt.Sprint(rec),
			)
			reason = ""
		}
	}()

	if !tc.conn.Connected() {
		if r.registry.Deregister(tc.conn) {
			return ReapReasonDead
		}
		return ""
	}

	// Соединение могло проявить активность после снятия среза
	lastActivity, ok := r.registry.LastActivity(tc.conn.ID)
	if !ok || now.Sub(lastActivity) <= r.threshold {
		return ""
	}

	if err := tc.conn.Close(); err != nil {
		r.log.Warn("Failed to close stale connection", "error", err, "connection_id", tc.conn.ID)
	}
	if r.registry.Deregister(tc.conn) {
		return ReapReasonStale
	}
	return ""
}

func (r *Reaper) LastSweep() *domain.SweepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.lastSweep == nil {
		return nil
	}
	result := *r.lastSweep
	return &result
}
