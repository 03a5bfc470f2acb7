// Package notify delivers user-facing messages about tracked artifacts.
package notify

import "log/slog"

// Notifier delivers a message to the user. The dedupe id lets a sink
// replace an earlier message about the same event instead of stacking
// duplicates.
type Notifier interface {
	Notify(title, message, dedupeID string)
}

// LogNotifier writes notifications to the structured log. It is the
// default sink for CLI and daemon runs.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(title, message, dedupeID string) {
	n.logger.Info("notification", "title", title, "message", message, "id", dedupeID)
}

// Recorder captures notifications for inspection in tests.
type Recorder struct {
	Entries []RecordedNotification
}

// RecordedNotification is one captured Notify call.
type RecordedNotification struct {
	Title    string
	Message  string
	DedupeID string
}

func (r *Recorder) Notify(title, message, dedupeID string) {
	r.Entries = append(r.Entries, RecordedNotification{Title: title, Message: message, DedupeID: dedupeID})
}
