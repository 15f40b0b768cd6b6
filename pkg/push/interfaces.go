package push

import (
	"context"
	"time"
)

// Transport delivers one message to one device token.
// Failures are reported in the outcome, never as an error.
type Transport interface {
	Send(ctx context.Context, msg Message) SendOutcome
}

// TokenStore reads and rewrites a user's device tokens.
type TokenStore interface {
	// LoadTokens returns an empty slice, not an error, for a user without devices.
	LoadTokens(ctx context.Context, uid string) ([]DeviceToken, error)
	// PruneTokens removes the given token values and keeps everything else,
	// including tokens registered after the caller's read.
	PruneTokens(ctx context.Context, uid string, tokens []string) error
	// RegisterToken appends a token if the user does not already hold it.
	RegisterToken(ctx context.Context, uid string, token DeviceToken) error
	// UnregisterToken removes a single token value.
	UnregisterToken(ctx context.Context, uid string, token string) error
}

// RecordWriter persists delivery-tracking and audit records.
type RecordWriter interface {
	// CreateNotification stores the record and returns its id.
	CreateNotification(ctx context.Context, n Notification) (string, error)
	AppendAuditLog(ctx context.Context, entry AuditEntry) error
}

// ScheduleStore is the scheduler's view of the scheduledNotifications collection.
type ScheduleStore interface {
	// Due returns candidate items for a tick. Implementations may return more
	// than the due set; callers re-check IsDue.
	Due(ctx context.Context, now time.Time) ([]ScheduledNotification, error)
	// Claim conditionally takes ownership of a still-scheduled item.
	// It reports false when the item is already sent or claimed by a live lease.
	Claim(ctx context.Context, id, claimant string, now time.Time, lease time.Duration) (bool, error)
	// MarkSent flips the item to StatusSent.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
}
