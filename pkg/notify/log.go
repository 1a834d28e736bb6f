package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes events using structured logging.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.WarnContext(ctx, "device event",
		slog.String("event", event.Type),
		slog.String("device", event.Device),
		slog.String("status", event.Status),
		slog.String("previous", event.Previous),
		slog.String("rule", event.Rule),
	)
	return nil
}

func (n *LogNotifier) Name() string { return "log" }
