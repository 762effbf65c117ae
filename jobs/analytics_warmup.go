package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleAnalyticsWarmup requests the snapshot so the cache entry is fresh
// before dashboards ask for it.
func (t *Trigger) HandleAnalyticsWarmup(ctx context.Context, task *asynq.Task) error {
	var payload AnalyticsWarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Days <= 0 {
		payload.Days = 30
	}
	err := t.do(ctx, "GET", fmt.Sprintf("/api/analytics/snapshot?days=%d", payload.Days), nil)
	t.observe(TaskAnalyticsWarmup, err)
	if err != nil {
		if t.Logger != nil {
			t.Logger.Warn("analytics warmup trigger", slog.Any("error", err))
		}
		return err
	}
	return nil
}
