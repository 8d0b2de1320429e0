package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupMongo(t *testing.T) *mongo.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Disconnect(ctx)
	})
	return client
}

func TestMongoStore_Contract(t *testing.T) {
	client := setupMongo(t)
	n := 0

	runStoreContract(t, func(t *testing.T) StockStore {
		n++
		db := client.Database(fmt.Sprintf("inventory_test_%d", n))
		s := NewMongoStore(db)
		require.NoError(t, s.CreateIndexes(context.Background()))
		return s
	})
}
