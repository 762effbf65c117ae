// Package notify implements the severity-tagged notification bus.
package notify

import "time"

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Notification is one entry in the append-only event log.
type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Severity  Severity   `json:"severity"`
	Timestamp time.Time  `json:"timestamp"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Event is delivered to subscribed listeners.
type Event struct {
	Kind         string        `json:"kind"` // created, read, read_all, deleted, cleared
	Notification *Notification `json:"notification,omitempty"`
	Count        int           `json:"count,omitempty"`
}

// Listener receives bus events. Panics are recovered by the bus.
type Listener func(Event)
