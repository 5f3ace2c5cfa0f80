// Package trigger implements the notification dispatcher that settles newly
// created trigger records.
package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

const (
	errMissingToken = "No FCM token provided"
	errInvalidToken = "Invalid or unregistered FCM token"
)

// Dispatcher sends the push notification described by a trigger record and
// writes the outcome back onto it.
//
// Precondition: the event-delivery system invokes the dispatcher at least once
// per created record, and may invoke it more than once. The processed flag
// is checked before any external call, so a re-delivery that reads the record
// after the first invocation committed is a no-op. Two deliveries racing on
// the same unprocessed record can both send unless a Claimer is configured.
type Dispatcher struct {
	gateway  dispatch.PushGateway
	triggers dispatch.TriggerStore
	users    dispatch.UserStore
	claimer  dispatch.Claimer
	hints    dispatch.DeliveryHints
	logger   *slog.Logger
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithClaimer guards each send with an exclusive lease on the trigger.
func WithClaimer(c dispatch.Claimer) Option {
	return func(d *Dispatcher) {
		d.claimer = c
	}
}

// NewDispatcher wires the dispatcher to its gateway and stores.
func NewDispatcher(
	gateway dispatch.PushGateway,
	triggers dispatch.TriggerStore,
	users dispatch.UserStore,
	hints dispatch.DeliveryHints,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		gateway:  gateway,
		triggers: triggers,
		users:    users,
		hints:    hints,
		logger:   logger.With("component", "TriggerDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchByID loads the current state of the trigger and dispatches it.
// The returned error is only about loading the record; delivery failures are
// reported in the Result.
func (d *Dispatcher) DispatchByID(ctx context.Context, triggerID string) (dispatch.Result, error) {
	record, err := d.triggers.Get(ctx, triggerID)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("failed to load trigger %s: %w", triggerID, err)
	}
	if record.ID == "" {
		record.ID = triggerID
	}
	return d.Dispatch(ctx, record), nil
}

// Dispatch settles a single trigger. It never returns an error: every
// external failure is logged and folded into the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, record *dispatch.TriggerRecord) dispatch.Result {
	log := d.logger.With("trigger_id", record.ID)

	// 1. Idempotency guard
	if record.Processed {
		log.Info("Notification already processed, skipping")
		dispatchTotal.WithLabelValues(outcomeSkipped).Inc()
		return dispatch.Result{
			Success: record.Success != nil && *record.Success,
			Skipped: true,
		}
	}

	// 2. Validation
	if record.FCMToken == "" {
		log.Error("No FCM token provided in trigger document")
		d.settle(ctx, log, record.ID, dispatch.Outcome{Success: false, Error: errMissingToken})
		dispatchTotal.WithLabelValues(outcomeMissingToken).Inc()
		return dispatch.Result{Success: false, Error: errMissingToken}
	}

	// 3. Lease (only when a Claimer is configured)
	if d.claimer != nil {
		claimed, err := d.claimer.Claim(ctx, record.ID)
		switch {
		case err != nil:
			log.Warn("Trigger claim failed, dispatching without lease", "err", err)
		case !claimed:
			log.Info("Trigger leased by a concurrent delivery, deferring")
			dispatchTotal.WithLabelValues(outcomeContended).Inc()
			return dispatch.Result{Contended: true}
		}
	}

	// 4. Send
	msg := d.buildMessage(record)
	log.Info("Sending notification", "token_prefix", tokenPrefix(record.FCMToken))

	messageID, err := d.gateway.Send(ctx, msg)
	if err == nil {
		log.Info("Successfully sent notification", "message_id", messageID)
		d.settle(ctx, log, record.ID, dispatch.Outcome{Success: true, StampProcessedAt: true})
		dispatchTotal.WithLabelValues(outcomeSent).Inc()
		return dispatch.Result{Success: true, MessageID: messageID}
	}

	// 5. Classify
	kind := dispatch.KindOf(err)
	log.Error("Error sending notification", "kind", kind.String(), "err", err)

	errorDetails := err.Error()
	purgeToken := kind.PermanentTokenFailure()
	if purgeToken {
		errorDetails = errInvalidToken
		dispatchTotal.WithLabelValues(outcomeTokenInvalid).Inc()
	} else {
		dispatchTotal.WithLabelValues(outcomeFailed).Inc()
	}

	d.settle(ctx, log, record.ID, dispatch.Outcome{
		Success:          false,
		Error:            errorDetails,
		StampProcessedAt: true,
	})

	// 6. Self-healing: drop the dead token from the user profile.
	if userID := record.UserID(); purgeToken && userID != "" {
		if err := d.users.InvalidateToken(ctx, userID); err != nil {
			log.Error("Error updating user token status", "user_id", userID, "err", err)
			tokenCleanupTotal.WithLabelValues("error").Inc()
		} else {
			log.Info("Removed invalid token for user", "user_id", userID)
			tokenCleanupTotal.WithLabelValues("ok").Inc()
		}
	}

	return dispatch.Result{Success: false, Error: errorDetails}
}

// settle writes the outcome onto the trigger. A failed write is logged and
// does not change what the caller is told.
func (d *Dispatcher) settle(ctx context.Context, log *slog.Logger, triggerID string, outcome dispatch.Outcome) {
	if err := d.triggers.MarkProcessed(ctx, triggerID, outcome); err != nil {
		log.Error("Failed to mark trigger processed", "success", outcome.Success, "err", err)
	}
}

func (d *Dispatcher) buildMessage(record *dispatch.TriggerRecord) dispatch.PushMessage {
	data := record.Data
	if data == nil {
		data = map[string]string{}
	}
	return dispatch.PushMessage{
		Token: record.FCMToken,
		Title: record.Title,
		Body:  record.Body,
		Data:  data,
		Hints: d.hints,
	}
}

func tokenPrefix(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
