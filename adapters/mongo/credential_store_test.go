package mongo

import (
	"context"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

func TestCredentialStore_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("get existing", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "gemini_api_key"},
			{Key: "value", Value: "AIza-test-key"},
		}))

		store := NewCredentialStoreWithCollection(mt.Coll)
		value, err := store.Get(context.Background(), "gemini_api_key")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if value != "AIza-test-key" {
			t.Errorf("Get() = %q, want AIza-test-key", value)
		}
	})

	mt.Run("get missing", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		store := NewCredentialStoreWithCollection(mt.Coll)
		if _, err := store.Get(context.Background(), "gemini_api_key"); err != repositories.ErrCredentialNotFound {
			t.Errorf("Get() error = %v, want ErrCredentialNotFound", err)
		}
	})

	mt.Run("set upserts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		store := NewCredentialStoreWithCollection(mt.Coll)
		if err := store.Set(context.Background(), "gemini_api_key", "AIza-test-key"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "update" {
			t.Fatalf("expected an update command, got %+v", started)
		}
		if _, err := started.Command.LookupErr("updates"); err != nil {
			t.Errorf("update command has no updates: %v", err)
		}
	})

	mt.Run("delete", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		store := NewCredentialStoreWithCollection(mt.Coll)
		if err := store.Delete(context.Background(), "gemini_api_key"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
	})

	mt.Run("command error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11600,
			Name:    "InterruptedAtShutdown",
			Message: "shutting down",
		}))

		store := NewCredentialStoreWithCollection(mt.Coll)
		if err := store.Set(context.Background(), "gemini_api_key", "x"); err == nil {
			t.Error("Set() expected error")
		}
	})
}

// TestCredentialStore_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestCredentialStore_Integration(t *testing.T) {
	if os.Getenv("MONGODB_URI") == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	config := NewConfigFromEnv()
	config.Database = "biblia_responde_test"

	client, err := NewClient(ctx, config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	store := NewCredentialStore(client.Database)
	if err := store.Set(ctx, "gemini_api_key", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "gemini_api_key", "second"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := store.Get(ctx, "gemini_api_key")
	if err != nil || value != "second" {
		t.Fatalf("Get() = %q, %v, want second", value, err)
	}
	if err := store.Delete(ctx, "gemini_api_key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "gemini_api_key"); err != repositories.ErrCredentialNotFound {
		t.Errorf("Get() after delete error = %v", err)
	}
}
