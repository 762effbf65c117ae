package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleNotifyCleanup prunes read notifications older than the retention window.
func (t *Trigger) HandleNotifyCleanup(ctx context.Context, task *asynq.Task) error {
	var payload NotifyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.DaysOld <= 0 {
		payload.DaysOld = 30
	}
	body := []byte(fmt.Sprintf(`{"days":%d}`, payload.DaysOld))
	err := t.do(ctx, "POST", "/api/notifications/clear-old", body)
	t.observe(TaskNotifyCleanup, err)
	if err != nil {
		if t.Logger != nil {
			t.Logger.Warn("notification cleanup trigger", slog.Any("error", err))
		}
		return err
	}
	return nil
}
