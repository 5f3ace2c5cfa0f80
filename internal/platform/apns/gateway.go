// Package apns provides a push gateway that talks to the Apple Push
// Notification Service directly, for deployments whose iOS clients register
// raw APNs device tokens instead of FCM registration tokens.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewGateway creates a token-authenticated APNs gateway.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newGateway(client, cfg.BundleID, logger), nil
}

func newGateway(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSGateway"),
	}
}

// Send pushes one notification. The returned message ID is the apns-id.
func (g *Gateway) Send(_ context.Context, msg dispatch.PushMessage) (string, error) {
	notification := &apns2.Notification{
		DeviceToken: msg.Token,
		Topic:       g.topic,
		Priority:    apnsPriority(msg.Hints.APNSPriority),
		PushType:    apns2.PushTypeAlert,
		Payload:     buildPayload(msg),
	}

	res, err := g.client.Push(notification)
	if err != nil {
		return "", dispatch.NewSendError(dispatch.KindUnknown, "transport", fmt.Errorf("apns transport failed: %w", err))
	}

	if res.Sent() {
		return res.ApnsID, nil
	}

	kind := classifyResponse(res)
	g.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode, "kind", kind.String())
	return "", dispatch.NewSendError(kind, res.Reason, fmt.Errorf("apns rejected notification: %s (%d)", res.Reason, res.StatusCode))
}

func buildPayload(msg dispatch.PushMessage) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound(msg.Hints.Sound).
		Badge(msg.Hints.Badge)
	if msg.Hints.ContentAvailable {
		p.ContentAvailable()
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	return p
}

func apnsPriority(header string) int {
	if p, err := strconv.Atoi(header); err == nil && (p == apns2.PriorityLow || p == apns2.PriorityHigh) {
		return p
	}
	return apns2.PriorityHigh
}

// classifyResponse maps APNs rejection reasons onto dispatch kinds.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func classifyResponse(res *apns2.Response) dispatch.ErrorKind {
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.KindInvalidToken
	case apns2.ReasonUnregistered:
		return dispatch.KindUnregistered
	case apns2.ReasonTooManyRequests:
		return dispatch.KindQuotaExceeded
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken:
		return dispatch.KindAuth
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return dispatch.KindUnavailable
	}
	return dispatch.KindUnknown
}
