package notify

import (
	"context"
	"fmt"

	"github.com/mudler/xlog"
	"github.com/slack-go/slack"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient, user-facing message.
type Notification struct {
	Level   Level  `json:"type"`
	Message string `json:"message"`
}

func Info(format string, args ...any) Notification {
	return Notification{Level: LevelInfo, Message: fmt.Sprintf(format, args...)}
}

func Error(format string, args ...any) Notification {
	return Notification{Level: LevelError, Message: fmt.Sprintf(format, args...)}
}

// Notifier delivers notifications best-effort; failures are logged.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Log struct{}

func (Log) Notify(_ context.Context, n Notification) {
	switch n.Level {
	case LevelError:
		xlog.Error("Notification", "message", n.Message)
	default:
		xlog.Info("Notification", "level", n.Level, "message", n.Message)
	}
}

// Multi fans a notification out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Slack posts notifications to an incoming webhook.
type Slack struct {
	webhookURL string
	levels     map[Level]bool
}

// NewSlack posts every level unless levels narrows it down.
func NewSlack(webhookURL string, levels ...Level) *Slack {
	s := &Slack{webhookURL: webhookURL}
	if len(levels) > 0 {
		s.levels = make(map[Level]bool, len(levels))
		for _, l := range levels {
			s.levels[l] = true
		}
	}
	return s
}

func (s *Slack) Notify(ctx context.Context, n Notification) {
	if s.levels != nil && !s.levels[n.Level] {
		return
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s %s", prefix(n.Level), n.Message),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		xlog.Warn("Failed to post Slack notification", "error", err)
	}
}

func prefix(l Level) string {
	switch l {
	case LevelError:
		return ":warning:"
	case LevelSuccess:
		return ":white_check_mark:"
	default:
		return ":alarm_clock:"
	}
}
