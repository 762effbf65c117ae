// Package syncq implements the durable offline operation queue that replays
// locally committed mutations against the remote endpoint.
package syncq

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders queue items ahead of their enqueue time.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Status is the delivery state of a queue item.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Item is one queued domain mutation awaiting remote delivery.
type Item struct {
	ID            string          `json:"id"`
	Operation     string          `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	Status        Status          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Timestamp     time.Time       `json:"timestamp"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// QueueStatus summarises the queue for status indicators. Pure snapshot,
// no side effects.
type QueueStatus struct {
	Online   bool `json:"online"`
	Syncing  bool `json:"syncing"`
	Total    int  `json:"total"`
	Pending  int  `json:"pending"`
	InFlight int  `json:"in_flight"`
	Failed   int  `json:"failed"`
}

// DrainResult reports the outcome of one drain pass.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Event is emitted to queue listeners.
type Event struct {
	Kind  string `json:"kind"` // queued, sync_start, sync_success, sync_failed, sync_complete, online, offline, persist_error
	Item  *Item  `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
	Error string `json:"error,omitempty"`
}

// Listener receives queue events. Panics are recovered by the queue.
type Listener func(Event)

// DeliveryError is a recoverable remote delivery failure. It drives retry
// and is surfaced only through item inspection, never to the caller of the
// originating mutation.
type DeliveryError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("deliver %s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("deliver %s: %s", e.Operation, e.Message)
}
