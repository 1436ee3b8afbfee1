package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"scolara.org/internal/auth"
	"scolara.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so audit
// lines can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// event is the stdout shape of one audit line.
type event struct {
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// LogEvent writes an audit line enriched with request and user context.
// It is the streaming companion of the durable Store: privileged actions
// land both in the database and on stdout.
func LogEvent(ctx context.Context, name string, fields map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("event name is required")
	}
	ev := event{
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:   "audit",
		Event:  name,
		Fields: map[string]any{},
	}
	if ctx != nil {
		if rid, ok := ctx.Value(requestIDKey).(string); ok {
			ev.RequestID = rid
		}
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			ev.UserID = userID
		}
	}
	for k, v := range fields {
		ev.Fields[k] = v
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
