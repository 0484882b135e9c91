package notify

import "go.uber.org/zap"

// Notification is one rendered per-sender notification: its lines list the
// sender's pending messages, oldest first.
type Notification struct {
	SenderID   string
	SenderName string
	Lines      []string
}

// Notifier renders notifications to whatever surface is available. The
// bridge treats rendering as best-effort; implementations must not block.
type Notifier interface {
	Show(n Notification)
	Cancel(senderID string)
	CancelAll()
}

// LogNotifier writes notifications to the structured log. It is the
// default sink in a headless deployment.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Show(notif Notification) {
	n.logger.Info("notification",
		zap.String("sender_id", notif.SenderID),
		zap.String("sender_name", notif.SenderName),
		zap.Strings("lines", notif.Lines))
}

func (n *LogNotifier) Cancel(senderID string) {
	n.logger.Info("notification cancelled", zap.String("sender_id", senderID))
}

func (n *LogNotifier) CancelAll() {
	n.logger.Info("all notifications cancelled")
}
