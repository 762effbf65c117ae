package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncDrain triggers a mirror queue drain on the API server.
	TaskSyncDrain = "sync:drain"
	// TaskNotifyCleanup prunes read notifications past retention.
	TaskNotifyCleanup = "notify:cleanup"
	// TaskAnalyticsWarmup refreshes the analytics snapshot cache.
	TaskAnalyticsWarmup = "analytics:warmup"
)

// SyncDrainPayload carries scheduling metadata for a drain cycle.
type SyncDrainPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSyncDrainTask constructs an Asynq task for a drain cycle.
func NewSyncDrainTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SyncDrainPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncDrain, body, asynq.Queue(QueueDefault)), nil
}

// NotifyCleanupPayload selects which notifications to prune.
type NotifyCleanupPayload struct {
	DaysOld int `json:"days_old"`
}

// NewNotifyCleanupTask constructs an Asynq task for notification pruning.
func NewNotifyCleanupTask(daysOld int) (*asynq.Task, error) {
	body, err := json.Marshal(NotifyCleanupPayload{DaysOld: daysOld})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// AnalyticsWarmupPayload selects the window to precompute.
type AnalyticsWarmupPayload struct {
	Days int `json:"days"`
}

// NewAnalyticsWarmupTask constructs an Asynq task for cache warmup.
func NewAnalyticsWarmupTask(days int) (*asynq.Task, error) {
	body, err := json.Marshal(AnalyticsWarmupPayload{Days: days})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnalyticsWarmup, body, asynq.Queue(QueueDefault)), nil
}
