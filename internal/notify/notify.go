// Package notify is the thin email collaborator boundary. The ledger calls it
// best-effort: a delivery failure is logged and never fails the request.
package notify

import "context"

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
