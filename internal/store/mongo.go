package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ai-scribe-service/internal/models"
)

const defaultConnectTimeout = 10 * time.Second

// Mongo stores one document per recording session.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongo connects, pings the primary and ensures the owner/created index.
func NewMongo(ctx context.Context, cfg Config) (*Mongo, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("store: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: mongo ping: %w", err)
	}

	coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: mongo index: %w", err)
	}

	return &Mongo{client: client, coll: coll, now: time.Now}, nil
}

// CreateRecord inserts an empty transcript document.
func (m *Mongo) CreateRecord(ctx context.Context, rec models.NewRecord) (string, error) {
	now := m.now().UTC()
	doc := models.Record{
		ID:          uuid.NewString(),
		OwnerID:     rec.OwnerID,
		SessionCode: rec.SessionCode,
		Patient:     rec.Patient,
		Chunks:      []models.Chunk{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("store: insert record: %w", err)
	}
	return doc.ID, nil
}

// ReadChunks loads only the chunks field of a record.
func (m *Mongo) ReadChunks(ctx context.Context, id string) ([]models.Chunk, error) {
	var doc struct {
		Chunks []models.Chunk `bson:"chunks"`
	}
	opts := options.FindOne().SetProjection(bson.M{"chunks": 1})
	err := m.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read chunks: %w", err)
	}
	return doc.Chunks, nil
}

// Write replaces the chunk list and flattened text.
func (m *Mongo) Write(ctx context.Context, id string, u Update) error {
	chunks := u.Chunks
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	return m.set(ctx, id, bson.M{
		"chunks":    chunks,
		"full_text": u.FullText,
	})
}

// MarkComplete sets the completion timestamp.
func (m *Mongo) MarkComplete(ctx context.Context, id string, at time.Time) error {
	return m.set(ctx, id, bson.M{"completed_at": at.UTC()})
}

// SetPatient replaces the patient metadata.
func (m *Mongo) SetPatient(ctx context.Context, id string, p models.PatientMetadata) error {
	return m.set(ctx, id, bson.M{"patient": p})
}

func (m *Mongo) set(ctx context.Context, id string, fields bson.M) error {
	fields["updated_at"] = m.now().UTC()
	res, err := m.coll.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("store: update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReadLatest returns the owner's most recently created record.
func (m *Mongo) ReadLatest(ctx context.Context, ownerID string) (models.Record, error) {
	var rec models.Record
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := m.coll.FindOne(ctx, bson.M{"owner_id": ownerID}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("store: read latest: %w", err)
	}
	return rec, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
