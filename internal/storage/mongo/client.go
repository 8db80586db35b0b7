package mongo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DataStore is the subset of *mongo.Collection the repository uses.
type DataStore interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// CollectionProvider hands out collections by name.
type CollectionProvider interface {
	Collection(name string) DataStore
}

// DatabaseProvider adapts a *mongo.Database to CollectionProvider.
type DatabaseProvider struct {
	db *mongo.Database
}

func NewDatabaseProvider(db *mongo.Database) *DatabaseProvider {
	return &DatabaseProvider{db: db}
}

func (p *DatabaseProvider) Collection(name string) DataStore {
	return p.db.Collection(name)
}

// Connect establishes a connection to MongoDB and pings it.
func Connect(ctx context.Context, uri string, log zerolog.Logger) (*mongo.Client, error) {
	log.Debug().Msg("Connecting to MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("Connect: ping: %w", err)
	}

	log.Info().Msg("Connected to MongoDB")
	return client, nil
}
