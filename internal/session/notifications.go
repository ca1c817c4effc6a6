package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilbhutani/jawn/internal/prompt"
)

const defaultNotificationLimit = 50

type Notification struct {
	Message  string          `json:"message"`
	Severity prompt.Severity `json:"severity"`
	Time     time.Time       `json:"time"`
}

// NotificationLog keeps the most recent notifications of a session and
// mirrors them to the logger.
type NotificationLog struct {
	mu     sync.Mutex
	items  []Notification
	limit  int
	logger *slog.Logger
}

func NewNotificationLog(logger *slog.Logger, limit int) *NotificationLog {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return &NotificationLog{limit: limit, logger: logger}
}

func (l *NotificationLog) Notify(ctx context.Context, message string, severity prompt.Severity) {
	l.mu.Lock()
	l.items = append(l.items, Notification{Message: message, Severity: severity, Time: time.Now()})
	if over := len(l.items) - l.limit; over > 0 {
		l.items = append([]Notification(nil), l.items[over:]...)
	}
	l.mu.Unlock()

	level := slog.LevelInfo
	if severity == prompt.SeverityError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "notification", "message", message, "severity", severity)
}

// List returns the retained notifications, oldest first.
func (l *NotificationLog) List() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notification{}, l.items...)
}
