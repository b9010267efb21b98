package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/trend-comb/app/source"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to manage background task processing.
// Example usage:
//
//	scheduler := NewScheduler(registry, ledger, st, opts)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewSyncSourceConfigTask("reddit", configCache, registry))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// ConfigLoader reloads a single source configuration from disk.
type ConfigLoader interface {
	LoadConfig(sourceName string) (*source.Config, error)
}

// SourceApplier registers, replaces or removes a source adapter.
type SourceApplier interface {
	Apply(cfg *source.Config) error
}

// Refresher is a source whose cache can be warmed.
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) (int, error)
}

// ReservationExpirer rolls back abandoned credit reservations.
type ReservationExpirer interface {
	ExpireReservations(ctx context.Context, olderThan time.Duration) (int, error)
}

// ExpiredPurger is implemented by stores that need expired rows removed
// explicitly.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
