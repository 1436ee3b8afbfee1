package notify

import (
	"context"

	"scolara.org/internal/obs"
)

// ConsoleMailer writes messages to the shared logger. Default outside prod.
type ConsoleMailer struct{}

var _ Mailer = ConsoleMailer{}

func (ConsoleMailer) Send(ctx context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"level":   "info",
		"msg":     "email",
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	return nil
}
