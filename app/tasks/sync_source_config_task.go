package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// SyncSourceConfigTask reloads one source file and re-registers its adapter.
type SyncSourceConfigTask struct {
	Task
	loader   ConfigLoader
	registry SourceApplier
}

func NewSyncSourceConfigTask(sourceName string, loader ConfigLoader, registry SourceApplier) *SyncSourceConfigTask {
	return &SyncSourceConfigTask{
		Task:     NewTask(TaskTypeSyncSourceConfig, sourceName),
		loader:   loader,
		registry: registry,
	}
}

func (t *SyncSourceConfigTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sourceConfig, err := t.loader.LoadConfig(t.Target)
	if err != nil {
		slog.Error("Task failed", "type", "SyncSourceConfig", "source", t.Target, "error", err)
		return fmt.Errorf("failed to load source config: %w", err)
	}

	if err := t.registry.Apply(sourceConfig); err != nil {
		slog.Error("Task failed", "type", "SyncSourceConfig", "source", t.Target, "error", err)
		return fmt.Errorf("failed to apply source config: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSourceConfig",
		"source", t.Target,
		"enabled", sourceConfig.Settings.Enabled,
		"duration", t.GetDuration())

	return nil
}
