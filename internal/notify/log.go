package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records deliveries in the log instead of sending them. Used
// when no provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "verification email prepared",
		"kind", string(msg.Kind),
		"token_id", msg.TokenID.String(),
		"record_id", msg.RecordID.String(),
		"reminder_number", msg.ReminderNumber,
	)
	return nil
}
