package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// WarmSourceTask fetches a source upstream so feed requests hit the cache.
type WarmSourceTask struct {
	Task
	source Refresher
}

func NewWarmSourceTask(src Refresher) *WarmSourceTask {
	return &WarmSourceTask{
		Task:   NewTask(TaskTypeWarmSource, src.Name()),
		source: src,
	}
}

func (t *WarmSourceTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	count, err := t.source.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm source: %w", err)
	}

	slog.Info("Task completed",
		"type", "WarmSource",
		"source", t.Target,
		"items", count,
		"duration", t.GetDuration())

	return nil
}
