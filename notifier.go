package transcript

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gistrec/clear-transcript/model"
)

// Notifier is the notification sink the reconciler talks to. Notify edits
// the live status message attached to a task; Deliver hands the finished
// transcript to its owner. The chat transport in front of this service
// provides the real implementation.
type Notifier interface {
	Notify(ctx context.Context, target model.NotificationTarget, text string) error
	Deliver(ctx context.Context, userID, taskID, transcript string) error
}

// LogNotifier is the default sink when no chat transport is attached: it
// writes every notification to the log. Deliveries always succeed, which
// makes the service usable headless (results stay available via result_uri).
type LogNotifier struct{}

func (n *LogNotifier) Notify(_ context.Context, target model.NotificationTarget, text string) error {
	logrus.WithFields(logrus.Fields{
		"chat_id":    target.ChatID,
		"message_id": target.MessageID,
	}).Info(text)
	return nil
}

func (n *LogNotifier) Deliver(_ context.Context, userID, taskID, transcript string) error {
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"task_id": taskID,
	}).Infof("transcript ready (%d characters)", len(transcript))
	return nil
}
