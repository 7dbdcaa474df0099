package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// unreachableDB returns a database whose server never answers, so every
// command fails once server selection times out.
func unreachableDB(t *testing.T) *mongo.Database {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client.Database("kolesa_test")
}

func TestMongoRepositoriesReportIndexFailures(t *testing.T) {
	db := unreachableDB(t)

	repo, err := NewMongoRepository(db.Collection("listings"))
	require.Error(t, err)
	require.Nil(t, repo)

	favs, err := NewMongoFavoriteRepository(db.Collection("favorites"))
	require.Error(t, err)
	require.Nil(t, favs)
}
