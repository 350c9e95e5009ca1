package adapter

import "context"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is a fire-and-forget message to a user or to operators.
type Notification struct {
	Severity Severity
	UserID   string // empty for operator-only alerts
	Title    string
	Body     string
	Fields   map[string]string
}

// Notifier delivers notifications. Callers must not depend on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
