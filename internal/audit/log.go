package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/ids"
	"ristoro.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is an immutable record of a privileged action.
type Entry struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceID string            `json:"resource_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	UserID   string
	Resource string
	Limit    int
}

// Store appends entries. Implementations never update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Logger records privileged actions. Failures never propagate to callers.
type Logger struct {
	store Store
	now   func() time.Time
}

// NewLogger constructs a Logger backed by store. A nil store still emits
// entries to the operational log stream.
func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Record appends e. Store failures are logged and counted, then swallowed so
// the primary operation is not rolled back.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	e.ID = ids.New()
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		details := make(map[string]string, len(e.Details)+1)
		for k, v := range e.Details {
			details[k] = v
		}
		details["request_id"] = rid
		e.Details = details
	}
	if l.store == nil {
		_ = LogEvent(ctx, e.Action, entryFields(e))
		return
	}
	if err := l.store.Append(ctx, &e); err != nil {
		obs.AuditFailure()
		fields := entryFields(e)
		fields["request_id"] = requestIDFromContext(ctx)
		obs.Error("audit_append_failed", err, fields)
	}
}

// List returns recorded entries, newest first. Requires audit:read.
func (l *Logger) List(ctx context.Context, claims *auth.Claims, filter Filter) ([]Entry, error) {
	if err := auth.RequirePermission(claims, auth.PermAuditRead); err != nil {
		return nil, err
	}
	if l == nil || l.store == nil {
		return nil, nil
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return l.store.List(ctx, filter)
}

func entryFields(e Entry) map[string]any {
	fields := map[string]any{
		"user_id":     e.UserID,
		"action":      e.Action,
		"resource":    e.Resource,
		"resource_id": e.ResourceID,
	}
	if len(e.Details) > 0 {
		fields["details"] = e.Details
	}
	return fields
}

// LogEvent writes an audit event to the operational log stream enriched with
// request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if c := auth.ClaimsFromContext(ctx); c.Valid() {
		entry["subject"] = c.Subject
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
