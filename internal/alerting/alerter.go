// Package alerting provides notification capabilities for the fleet control plane.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventStoreUnhealthy is sent when the persistence store stops responding.
	EventStoreUnhealthy AlertEvent = "store_unhealthy"
	// EventSchedulerStopped is sent when the revaluation scheduler stops.
	EventSchedulerStopped AlertEvent = "scheduler_stopped"
	// EventHeartbeatFailed is sent when a trader heartbeat check fails.
	EventHeartbeatFailed AlertEvent = "heartbeat_failed"
	// EventOptimizationFailed is sent when a parameter optimization run fails.
	EventOptimizationFailed AlertEvent = "optimization_failed"
	// EventOptimizationCompleted is sent when an optimization run completes.
	EventOptimizationCompleted AlertEvent = "optimization_completed"
	// EventTraderStale is sent when a trader has not reported for too long.
	EventTraderStale AlertEvent = "trader_stale"
	// EventOpsSummary is sent for the periodic fleet operations summary.
	EventOpsSummary AlertEvent = "ops_summary"
	// EventFleetStarted is sent when the control plane starts.
	EventFleetStarted AlertEvent = "fleet_started"
	// EventFleetStopped is sent when the control plane stops.
	EventFleetStopped AlertEvent = "fleet_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventStoreUnhealthy:
		return SeverityCritical
	case EventSchedulerStopped, EventTraderStale:
		return SeverityHigh
	case EventHeartbeatFailed, EventOptimizationFailed:
		return SeverityWarning
	case EventOptimizationCompleted, EventOpsSummary, EventFleetStarted, EventFleetStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
