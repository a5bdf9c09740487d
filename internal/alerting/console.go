package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the process log. It is the fallback
// channel when no external alerter is configured, and the usual one in
// local development.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter returns a console alerter. A nil logger falls back
// to slog.Default().
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger}
}

// Name identifies the channel in multi-alerter failure logs.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert writes the alert at a log level matching its severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	switch severity {
	case SeverityCritical:
		c.logger.Error("[ALERT] "+message, attrs...)
	case SeverityHigh, SeverityWarning:
		c.logger.Warn("[ALERT] "+message, attrs...)
	default:
		c.logger.Info("[ALERT] "+message, attrs...)
	}

	return nil
}
