// Package pipeline contains the message processing components that turn
// trigger-created events into dispatches.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// TriggerEvent announces that a trigger document was created.
// Producers set either TriggerID or Document (the full Firestore resource
// name, e.g. projects/p/databases/(default)/documents/notification_triggers/abc).
type TriggerEvent struct {
	TriggerID string `json:"triggerId"`
	Document  string `json:"document,omitempty"`
}

var errEmptyEvent = errors.New("event carries neither triggerId nor document")

// NewTriggerEventTransformer returns a dataflow Transformer that decodes and
// validates a raw event payload. Documents outside the given collection are
// rejected.
func NewTriggerEventTransformer(collection string) func(context.Context, *messagepipeline.Message) (*TriggerEvent, bool, error) {
	return func(_ context.Context, msg *messagepipeline.Message) (*TriggerEvent, bool, error) {
		event, err := ParseTriggerEvent(msg.Payload, collection)
		if err != nil {
			// skip=true lets the StreamingService Nack so the message ends up on the DLQ.
			return nil, true, fmt.Errorf("failed to parse trigger event from message %s: %w", msg.ID, err)
		}
		return event, false, nil
	}
}

// ParseTriggerEvent decodes payload and resolves the trigger ID.
func ParseTriggerEvent(payload []byte, collection string) (*TriggerEvent, error) {
	var event TriggerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	if event.TriggerID == "" && event.Document != "" {
		id, err := triggerIDFromDocument(event.Document, collection)
		if err != nil {
			return nil, err
		}
		event.TriggerID = id
	}

	if event.TriggerID == "" {
		return nil, errEmptyEvent
	}
	if strings.Contains(event.TriggerID, "/") {
		return nil, fmt.Errorf("invalid trigger id %q", event.TriggerID)
	}
	return &event, nil
}

// triggerIDFromDocument accepts "<collection>/<id>" with any prefix.
func triggerIDFromDocument(document, collection string) (string, error) {
	parts := strings.Split(strings.Trim(document, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("document %q is not a document path", document)
	}
	coll, id := parts[len(parts)-2], parts[len(parts)-1]
	if coll != collection {
		return "", fmt.Errorf("document %q is not in collection %q", document, collection)
	}
	if id == "" {
		return "", fmt.Errorf("document %q has no id", document)
	}
	return id, nil
}
