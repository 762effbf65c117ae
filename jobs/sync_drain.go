package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleSyncDrain asks the API server to flush eligible mirror queue items.
func (t *Trigger) HandleSyncDrain(ctx context.Context, task *asynq.Task) error {
	var payload SyncDrainPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	err := t.do(ctx, "POST", "/api/sync/drain", nil)
	t.observe(TaskSyncDrain, err)
	if err != nil {
		if t.Logger != nil {
			t.Logger.Warn("sync drain trigger", slog.Any("error", err))
		}
		return err
	}
	return nil
}
