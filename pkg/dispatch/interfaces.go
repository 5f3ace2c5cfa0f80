package dispatch

import (
	"context"
)

// PushGateway defines the contract for the external push provider
// (e.g. Firebase Cloud Messaging, Apple's APNS).
type PushGateway interface {
	// Send delivers a single message and returns the provider's message ID.
	// Failures are reported as *SendError so callers can match on Kind.
	Send(ctx context.Context, msg PushMessage) (string, error)
}

// TriggerStore reads and settles notification trigger records.
type TriggerStore interface {
	// Get returns the current state of the trigger.
	// It returns an error wrapping ErrTriggerNotFound if the record does not exist.
	Get(ctx context.Context, triggerID string) (*TriggerRecord, error)

	// MarkProcessed applies the outcome as a partial update; fields not
	// covered by the outcome are left untouched.
	MarkProcessed(ctx context.Context, triggerID string, outcome Outcome) error
}

// UserStore manages the device token held on a user's profile.
type UserStore interface {
	// InvalidateToken removes the user's fcmToken and stamps tokenInvalidAt.
	InvalidateToken(ctx context.Context, userID string) error
}

// Claimer hands out a short exclusive lease on a trigger so that two
// concurrent deliveries of the same event cannot both send.
type Claimer interface {
	// Claim reports whether the caller now holds the lease.
	Claim(ctx context.Context, triggerID string) (bool, error)
}
