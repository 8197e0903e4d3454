package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

// CredentialCollection holds one document per credential: {_id: key, value}
const CredentialCollection = "kv"

type credentialDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// CredentialStore implements repositories.CredentialStore on a MongoDB collection
type CredentialStore struct {
	collection *mongo.Collection
}

var _ repositories.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store on the kv collection of db
func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return NewCredentialStoreWithCollection(db.Collection(CredentialCollection))
}

// NewCredentialStoreWithCollection creates a store on an explicit collection
func NewCredentialStoreWithCollection(collection *mongo.Collection) *CredentialStore {
	return &CredentialStore{collection: collection}
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	var doc credentialDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", repositories.ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	return doc.Value, nil
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	update := bson.M{"$set": bson.M{"value": value, "updated_at": time.Now()}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
