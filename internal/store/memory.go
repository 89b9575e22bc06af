package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-scribe-service/internal/models"
)

// Memory is an in-process Store used when no remote store is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	seq     int64
	now     func() time.Time
}

type memRecord struct {
	models.Record
	seq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*memRecord),
		now:     time.Now,
	}
}

// CreateRecord stores an empty record under a new uuid.
func (m *Memory) CreateRecord(ctx context.Context, rec models.NewRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := m.now()
	m.seq++
	m.records[id] = &memRecord{
		Record: models.Record{
			ID:          id,
			OwnerID:     rec.OwnerID,
			SessionCode: rec.SessionCode,
			Patient:     rec.Patient,
			Chunks:      []models.Chunk{},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		seq: m.seq,
	}
	return id, nil
}

// ReadChunks returns a copy of the stored chunks.
func (m *Memory) ReadChunks(ctx context.Context, id string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]models.Chunk(nil), r.Chunks...), nil
}

// Write replaces the chunk list and flattened text.
func (m *Memory) Write(ctx context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Chunks = append([]models.Chunk(nil), u.Chunks...)
	r.FullText = u.FullText
	r.UpdatedAt = m.now()
	return nil
}

// MarkComplete sets the completion timestamp.
func (m *Memory) MarkComplete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.CompletedAt = &at
	r.UpdatedAt = m.now()
	return nil
}

// SetPatient replaces the patient metadata.
func (m *Memory) SetPatient(ctx context.Context, id string, p models.PatientMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Patient = p
	r.UpdatedAt = m.now()
	return nil
}

// ReadLatest orders by creation time, then by insertion order.
func (m *Memory) ReadLatest(ctx context.Context, ownerID string) (models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *memRecord
	for _, r := range m.records {
		if r.OwnerID != ownerID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) ||
			(r.CreatedAt.Equal(latest.CreatedAt) && r.seq > latest.seq) {
			latest = r
		}
	}
	if latest == nil {
		return models.Record{}, ErrNotFound
	}
	rec := latest.Record
	rec.Chunks = append([]models.Chunk(nil), latest.Chunks...)
	return rec, nil
}

// Close is a no-op.
func (m *Memory) Close(ctx context.Context) error { return nil }
