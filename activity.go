package principal

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported session lifecycle events.
type ActivityEventType string

const (
	ActivityEventSessionResolved   ActivityEventType = "session.resolved"
	ActivityEventLoginSuccess      ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure      ActivityEventType = "auth.login.failure"
	ActivityEventMFASuccess        ActivityEventType = "auth.mfa.success"
	ActivityEventMFAFailure        ActivityEventType = "auth.mfa.failure"
	ActivityEventLogout            ActivityEventType = "auth.logout"
	ActivityEventInactivityTimeout ActivityEventType = "session.inactivity.timeout"
)

// ActivityEvent captures audit-friendly information about a session transition.
type ActivityEvent struct {
	EventType   ActivityEventType
	PrincipalID string
	Origin      OriginKind
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged, never propagated, so a slow or
// broken sink cannot block authentication.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
