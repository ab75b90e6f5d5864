package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

// documentRecord is the stored shape. The aggregate is kept as its JSON
// encoding so the document round-trips exactly.
type documentRecord struct {
	ID          string    `bson:"_id"`
	Payload     string    `bson:"payload"`
	LastUpdated int64     `bson:"lastUpdated"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// MongoStore keeps documents in a MongoDB collection and watches them with
// change streams, which need a replica set or sharded cluster.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string // default "documents"
	Logger     *zap.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logging.OrNop(cfg.Logger).Named("mongo"),
	}, nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (model.AppData, error) {
	if id == "" {
		return model.AppData{}, ErrNoID
	}
	var rec documentRecord
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.AppData{}, ErrNotFound
	}
	if err != nil {
		return model.AppData{}, fmt.Errorf("failed to read document: %w", err)
	}
	return decode([]byte(rec.Payload))
}

func (m *MongoStore) Put(ctx context.Context, id string, d model.AppData) error {
	if id == "" {
		return ErrNoID
	}
	raw, err := encode(d)
	if err != nil {
		return err
	}

	rec := documentRecord{
		ID:          id,
		Payload:     string(raw),
		LastUpdated: d.LastUpdated,
		UpdatedAt:   time.Now().UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": id}, rec, opts); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func (m *MongoStore) Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error) {
	if id == "" {
		return nil, ErrNoID
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := m.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch document: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var event struct {
				FullDocument *documentRecord `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil || event.FullDocument == nil {
				m.logger.Warn("bad change event", zap.String("id", id), zap.Error(err))
				continue
			}
			d, err := decode([]byte(event.FullDocument.Payload))
			if err != nil {
				m.logger.Warn("bad document payload", zap.String("id", id), zap.Error(err))
				continue
			}
			fn(d)
		}
		if ctx.Err() != nil {
			finish(done, nil)
			return
		}
		finish(done, stream.Err())
	}()
	return done, nil
}

// Close disconnects from MongoDB.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
