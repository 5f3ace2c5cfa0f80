package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

// TriggerDispatcher is the part of the dispatcher the pipeline drives.
type TriggerDispatcher interface {
	DispatchByID(ctx context.Context, triggerID string) (dispatch.Result, error)
}

// NewProcessor creates the stream processor for trigger events.
// Delivery outcomes are final for this invocation and always ACKed. A failure
// to read the trigger, or a lease held by another delivery, is returned so the
// message is redelivered.
func NewProcessor(dispatcher TriggerDispatcher, logger *slog.Logger) messagepipeline.StreamProcessor[TriggerEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *TriggerEvent) error {
		procLogger := logger.With(
			"trigger_id", event.TriggerID,
			"pubsub_msg_id", original.ID,
		)

		result, err := dispatcher.DispatchByID(ctx, event.TriggerID)
		if err != nil {
			if errors.Is(err, dispatch.ErrTriggerNotFound) {
				procLogger.Warn("Trigger document no longer exists; dropping event")
				return nil
			}
			procLogger.Error("Failed to load trigger", "err", err)
			return err // Retryable
		}

		switch {
		case result.Contended:
			// The lease holder may die before settling; Nack so the next
			// delivery re-reads the processed flag.
			procLogger.Info("Trigger leased elsewhere; requesting redelivery")
			return fmt.Errorf("trigger %s: %w", event.TriggerID, dispatch.ErrTriggerContended)
		case result.Skipped:
			procLogger.Debug("Trigger already handled")
		case result.Success:
			procLogger.Info("Trigger dispatched", "message_id", result.MessageID)
		default:
			procLogger.Warn("Trigger dispatch failed", "error", result.Error)
		}
		return nil
	}
}
