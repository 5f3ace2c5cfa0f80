package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

const DefaultTriggersCollection = "notification_triggers"

// TriggerStore implements dispatch.TriggerStore using Google Cloud Firestore.
type TriggerStore struct {
	client     *firestore.Client
	collection string
}

func NewTriggerStore(client *firestore.Client, collection string) *TriggerStore {
	if collection == "" {
		collection = DefaultTriggersCollection
	}
	return &TriggerStore{client: client, collection: collection}
}

// triggerDoc is the stored shape written by the upstream producer.
// Data is decoded loosely because producers occasionally write non-string values.
type triggerDoc struct {
	Processed   bool                   `firestore:"processed"`
	Success     *bool                  `firestore:"success"`
	FCMToken    string                 `firestore:"fcmToken"`
	Title       string                 `firestore:"title"`
	Body        string                 `firestore:"body"`
	Data        map[string]interface{} `firestore:"data"`
	Error       string                 `firestore:"error"`
	ProcessedAt *time.Time             `firestore:"processedAt"`
}

func (s *TriggerStore) Get(ctx context.Context, triggerID string) (*dispatch.TriggerRecord, error) {
	doc, err := s.triggerRef(triggerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", dispatch.ErrTriggerNotFound, triggerID)
		}
		return nil, fmt.Errorf("firestore get failed: %w", err)
	}

	var stored triggerDoc
	if err := doc.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode trigger %s: %w", triggerID, err)
	}

	return &dispatch.TriggerRecord{
		ID:          doc.Ref.ID,
		Processed:   stored.Processed,
		Success:     stored.Success,
		FCMToken:    stored.FCMToken,
		Title:       stored.Title,
		Body:        stored.Body,
		Data:        stringifyData(stored.Data),
		Error:       stored.Error,
		ProcessedAt: stored.ProcessedAt,
	}, nil
}

// MarkProcessed settles the trigger with a partial update. processedAt, when
// requested, is the server's write time.
func (s *TriggerStore) MarkProcessed(ctx context.Context, triggerID string, outcome dispatch.Outcome) error {
	updates := []firestore.Update{
		{Path: "processed", Value: true},
		{Path: "success", Value: outcome.Success},
	}
	if outcome.Error != "" {
		updates = append(updates, firestore.Update{Path: "error", Value: outcome.Error})
	}
	if outcome.StampProcessedAt {
		updates = append(updates, firestore.Update{Path: "processedAt", Value: firestore.ServerTimestamp})
	}

	if _, err := s.triggerRef(triggerID).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", dispatch.ErrTriggerNotFound, triggerID)
		}
		return fmt.Errorf("firestore update failed: %w", err)
	}
	return nil
}

// triggerRef: notification_triggers/{triggerID}
func (s *TriggerStore) triggerRef(triggerID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(triggerID)
}

// stringifyData coerces the payload to the string map FCM requires.
func stringifyData(raw map[string]interface{}) map[string]string {
	if raw == nil {
		return nil
	}
	data := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			data[k] = val
		default:
			data[k] = fmt.Sprint(val)
		}
	}
	return data
}
