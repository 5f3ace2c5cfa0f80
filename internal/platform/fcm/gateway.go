// Package fcm provides the Firebase Cloud Messaging push gateway.
package fcm

import (
	"context"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests substitute a mock.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Gateway sends single-token messages through Firebase Cloud Messaging and
// reports failures as *dispatch.SendError.
type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

// NewGateway wraps a messaging client; *messaging.Client from firebase.App.Messaging
// is the production implementation.
func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Send delivers one message to one registration token.
func (g *Gateway) Send(ctx context.Context, msg dispatch.PushMessage) (string, error) {
	messageID, err := g.client.Send(ctx, BuildMessage(msg))
	if err != nil {
		kind := classifyError(err)
		g.logger.Debug("FCM send failed", "kind", kind.String(), "err", err)
		return "", dispatch.NewSendError(kind, kind.String(), err)
	}
	return messageID, nil
}

// BuildMessage maps the provider-neutral message onto the FCM v1 shape,
// including the Android and APNs delivery hints.
func BuildMessage(msg dispatch.PushMessage) *messaging.Message {
	hints := msg.Hints
	badge := hints.Badge

	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: hints.AndroidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: hints.AndroidChannelID,
				Priority:  notificationPriority(hints.AndroidNotificationPriority),
				Sound:     hints.Sound,
				Icon:      hints.AndroidIcon,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": hints.APNSPriority,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            hints.Sound,
					Badge:            &badge,
					ContentAvailable: hints.ContentAvailable,
				},
			},
		},
	}
}

func notificationPriority(p string) messaging.AndroidNotificationPriority {
	switch p {
	case "min":
		return messaging.PriorityMin
	case "low":
		return messaging.PriorityLow
	case "high":
		return messaging.PriorityHigh
	case "max":
		return messaging.PriorityMax
	default:
		return messaging.PriorityDefault
	}
}

// classifyError maps Firebase SDK error codes onto dispatch kinds.
// FCM v1 answers INVALID_ARGUMENT both for a malformed registration token and
// for payload problems (reserved data keys, bad TTL, oversized data). Only the
// former condemns the token.
func classifyError(err error) dispatch.ErrorKind {
	switch {
	case messaging.IsUnregistered(err):
		return dispatch.KindUnregistered
	case messaging.IsInvalidArgument(err):
		if mentionsRegistrationToken(err) {
			return dispatch.KindInvalidToken
		}
		return dispatch.KindUnknown
	case messaging.IsQuotaExceeded(err):
		return dispatch.KindQuotaExceeded
	case messaging.IsUnavailable(err):
		return dispatch.KindUnavailable
	case messaging.IsInternal(err):
		return dispatch.KindInternal
	case messaging.IsThirdPartyAuthError(err), messaging.IsSenderIDMismatch(err):
		return dispatch.KindAuth
	default:
		return dispatch.KindUnknown
	}
}

func mentionsRegistrationToken(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}
