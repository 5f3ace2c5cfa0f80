package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

const DefaultUsersCollection = "users"

// UserStore implements dispatch.UserStore on the users collection.
type UserStore struct {
	client     *firestore.Client
	collection string
}

func NewUserStore(client *firestore.Client, collection string) *UserStore {
	if collection == "" {
		collection = DefaultUsersCollection
	}
	return &UserStore{client: client, collection: collection}
}

// InvalidateToken deletes users/{userID}.fcmToken and stamps tokenInvalidAt.
// It fails with NotFound if the user document does not exist.
func (s *UserStore) InvalidateToken(ctx context.Context, userID string) error {
	_, err := s.client.Collection(s.collection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "fcmToken", Value: firestore.Delete},
		{Path: "tokenInvalidAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate token for user %s: %w", userID, err)
	}
	return nil
}
