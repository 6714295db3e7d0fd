package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aerarium-app/aerarium/internal/jobs"
	"github.com/aerarium-app/aerarium/internal/mail"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// NewSendEmailTask wraps a mail message in an Asynq task.
func NewSendEmailTask(msg mail.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Deliverer sends a rendered mail message. Implemented by mail.Mailer.
type Deliverer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// NewSendEmailHandler returns the handler processing TaskTypeSendEmail
// tasks. A payload that cannot be decoded is dropped rather than retried;
// delivery failures are returned so Asynq retries them.
func NewSendEmailHandler(deliverer Deliverer, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("mail_send")
		var msg mail.Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		return tracker.End(deliverer.Send(ctx, msg))
	}
}
