//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

package service

import (
	"context"

	"hrportal/internal/notify"
	"hrportal/pkg/platform/audit"
)

// Notifier delivers verification and reminder emails.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// AuditStore records workflow events. It joins a transaction carried in ctx.
type AuditStore interface {
	Append(ctx context.Context, event audit.Event) error
}
