package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned when a manual sync arrives within the cooldown.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultSyncCooldown is the minimum time between manual syncs.
const DefaultSyncCooldown = 30 * time.Second

// RateLimitError reports how long a caller has to wait before the next
// manual sync. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	Trigger         string    `json:"trigger"`
	DatasetsAdded   int       `json:"datasets_added"`
	DatasetsRemoved int       `json:"datasets_removed"`
	DatasetsTotal   int       `json:"datasets_total"`
	SyncedAt        time.Time `json:"synced_at"`
	Duration        float64   `json:"duration_ms"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncStatus describes the scheduler state.
type SyncStatus struct {
	Interval        string      `json:"interval"`
	Scheduled       bool        `json:"scheduled"`
	NextScheduledAt time.Time   `json:"next_scheduled_at,omitempty"`
	Last            *SyncResult `json:"last,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// Syncer synchronizes datasets with remote storage.
type Syncer interface {
	Sync(ctx context.Context) (SyncStats, error)
	DatasetCount() int
}

// SyncService runs dataset syncs on a schedule and on demand. Scheduled
// and manual syncs never overlap.
type SyncService struct {
	registry Syncer
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// running serializes registry syncs.
	running sync.Mutex

	mu         sync.Mutex
	lastManual time.Time
	next       time.Time
	last       *SyncResult
	lastErr    error
}

// NewSyncService creates a new sync service. A cooldown <= 0 uses
// DefaultSyncCooldown. An interval <= 0 disables the scheduler.
func NewSyncService(registry Syncer, interval, cooldown time.Duration, logger *slog.Logger) *SyncService {
	if cooldown <= 0 {
		cooldown = DefaultSyncCooldown
	}
	return &SyncService{
		registry: registry,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Start begins the periodic sync scheduler. It is a no-op when the
// interval is not positive or the scheduler is already running.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduled sync disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.next = time.Now().Add(s.interval)
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.schedule(ctx)
}

func (s *SyncService) schedule(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			s.next = time.Now().Add(s.interval)
			s.mu.Unlock()

			if _, err := s.run(ctx, "scheduled"); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
		}
	}
}

// Stop halts the scheduler and waits for a running scheduled sync.
// It is safe to call without Start and more than once.
func (s *SyncService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// TriggerSync runs a sync now. It returns a *RateLimitError when called
// again within the cooldown.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if wait := s.cooldown - time.Since(s.lastManual); !s.lastManual.IsZero() && wait > 0 {
		s.mu.Unlock()
		return SyncResult{}, &RateLimitError{RetryAfter: wait}
	}
	s.lastManual = time.Now()
	s.mu.Unlock()

	return s.run(ctx, "manual")
}

func (s *SyncService) run(ctx context.Context, trigger string) (SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	stats, err := s.registry.Sync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{
		Trigger:         trigger,
		DatasetsAdded:   stats.Added,
		DatasetsRemoved: stats.Removed,
		DatasetsTotal:   s.registry.DatasetCount(),
		SyncedAt:        time.Now(),
		Duration:        float64(time.Since(start).Microseconds()) / 1000,
		NextScheduledAt: s.next,
	}
	s.last = &result

	s.logger.Info("sync finished",
		"trigger", trigger,
		"added", result.DatasetsAdded,
		"removed", result.DatasetsRemoved,
		"total", result.DatasetsTotal,
	)
	return result, nil
}

// Status returns the scheduler state and the most recent sync.
func (s *SyncService) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SyncStatus{
		Interval:        s.interval.String(),
		Scheduled:       s.cancel != nil,
		NextScheduledAt: s.next,
	}
	if s.last != nil {
		last := *s.last
		status.Last = &last
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
