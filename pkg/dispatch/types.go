// Package dispatch contains the domain model and the contracts shared by the
// trigger dispatcher, its gateways and its stores.
package dispatch

import (
	"errors"
	"time"
)

// ErrTriggerNotFound is returned by a TriggerStore when the record is gone.
var ErrTriggerNotFound = errors.New("trigger not found")

// ErrTriggerContended reports that another delivery holds the dispatch lease.
var ErrTriggerContended = errors.New("trigger leased by another delivery")

// TriggerRecord is a document in the notification trigger collection.
// It is written by an upstream producer and settled exactly once by the dispatcher.
type TriggerRecord struct {
	ID          string            `json:"id"`
	Processed   bool              `json:"processed"`
	Success     *bool             `json:"success,omitempty"`
	FCMToken    string            `json:"fcmToken,omitempty"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Error       string            `json:"error,omitempty"`
	ProcessedAt *time.Time        `json:"processedAt,omitempty"`
}

// UserID returns the weak reference to the owning user, if any.
func (r *TriggerRecord) UserID() string {
	if r.Data == nil {
		return ""
	}
	return r.Data["userId"]
}

// UserRecord is the subset of a user profile this service touches.
type UserRecord struct {
	ID             string     `json:"id"`
	FCMToken       string     `json:"fcmToken,omitempty"`
	TokenInvalidAt *time.Time `json:"tokenInvalidAt,omitempty"`
}

// Outcome is the partial update applied to a trigger when it is settled.
// Processed is always written as true.
type Outcome struct {
	Success bool
	Error   string
	// StampProcessedAt sets processedAt to the store's write time.
	StampProcessedAt bool
}

// Result is what the dispatcher reports for one invocation.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	// Skipped is set when the trigger had already been handled.
	Skipped bool `json:"skipped,omitempty"`
	// Contended is set when another delivery holds the dispatch lease and the
	// trigger is still unprocessed. The caller must retry later.
	Contended bool `json:"contended,omitempty"`
}

// DeliveryHints are the platform delivery options attached to every message.
type DeliveryHints struct {
	AndroidPriority             string
	AndroidChannelID            string
	AndroidNotificationPriority string
	AndroidIcon                 string
	Sound                       string
	Badge                       int
	ContentAvailable            bool
	APNSPriority                string
}

// DefaultDeliveryHints returns high priority delivery on both platforms with
// the app's attendance channel and a content-available wake-up.
func DefaultDeliveryHints() DeliveryHints {
	return DeliveryHints{
		AndroidPriority:             "high",
		AndroidChannelID:            "attendance_channel",
		AndroidNotificationPriority: "max",
		AndroidIcon:                 "@mipmap/ic_launcher",
		Sound:                       "default",
		Badge:                       1,
		ContentAvailable:            true,
		APNSPriority:                "10",
	}
}

// PushMessage is the provider-neutral message handed to a PushGateway.
type PushMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
	Hints DeliveryHints
}
