package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepReservationsTask rolls back reservations older than the TTL and,
// when the store needs it, purges expired rows.
type SweepReservationsTask struct {
	Task
	ledger ReservationExpirer
	purger ExpiredPurger
	ttl    time.Duration
}

// NewSweepReservationsTask takes an optional purger; pass nil when the
// store expires keys on its own.
func NewSweepReservationsTask(ledger ReservationExpirer, purger ExpiredPurger, ttl time.Duration) *SweepReservationsTask {
	return &SweepReservationsTask{
		Task:   NewTask(TaskTypeSweepReservations, ""),
		ledger: ledger,
		purger: purger,
		ttl:    ttl,
	}
}

func (t *SweepReservationsTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	expired, err := t.ledger.ExpireReservations(ctx, t.ttl)
	if err != nil {
		return fmt.Errorf("failed to expire reservations: %w", err)
	}

	var purged int64
	if t.purger != nil {
		purged, err = t.purger.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge expired entries: %w", err)
		}
	}

	if expired > 0 || purged > 0 {
		slog.Info("Task completed",
			"type", "SweepReservations",
			"expired", expired,
			"purged", purged,
			"duration", t.GetDuration())
	}

	return nil
}
