// Package store persists transcript records.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-scribe-service/internal/models"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("store: record not found")

// Backend names.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Update is the result of one flush: the full ordered chunk list and the
// flattened text derived from it.
type Update struct {
	Chunks   []models.Chunk
	FullText string
}

// Store is the remote document store used by the persistence buffer.
// Each record belongs to exactly one session writer.
type Store interface {
	// CreateRecord creates an empty record and returns its id.
	CreateRecord(ctx context.Context, rec models.NewRecord) (string, error)
	// ReadChunks returns the stored chunks in order.
	ReadChunks(ctx context.Context, id string) ([]models.Chunk, error)
	// Write replaces the chunk list and flattened text.
	Write(ctx context.Context, id string, u Update) error
	// MarkComplete sets the completion timestamp.
	MarkComplete(ctx context.Context, id string, at time.Time) error
	// SetPatient replaces the patient metadata.
	SetPatient(ctx context.Context, id string, p models.PatientMetadata) error
	// ReadLatest returns the most recently created record of an owner.
	ReadLatest(ctx context.Context, ownerID string) (models.Record, error)
	// Close releases the backend.
	Close(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend         string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	ConnectTimeout  time.Duration
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendMongo:
		return NewMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
