// Package buffer batches finalized chunks and writes them to the store
// without blocking the live transcription path.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/observability/metrics"
	"ai-scribe-service/internal/service/chunk"
	"ai-scribe-service/internal/store"
)

const (
	DefaultFlushDelay    = 1500 * time.Millisecond
	DefaultHighWaterMark = 5
	DefaultDrainTimeout  = 30 * time.Second

	// flushTimeout bounds one timer-driven read-append-write round trip.
	flushTimeout = 10 * time.Second
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("buffer: closed")

// Config holds buffer tuning.
type Config struct {
	// FlushDelay is both the debounce delay and the fixed retry delay.
	FlushDelay    time.Duration
	HighWaterMark int
	// DrainTimeout bounds how long Drain keeps retrying.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{
		FlushDelay:    DefaultFlushDelay,
		HighWaterMark: DefaultHighWaterMark,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// Buffer holds chunks pending persistence for one session. Chunks are always
// written in the order they were enqueued; a failed flush puts its snapshot
// back in front of anything enqueued meanwhile and retries after FlushDelay.
type Buffer struct {
	sessionID string
	cfg       Config
	store     store.Store
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.Mutex
	rec       models.NewRecord
	recordID  string
	pending   []models.Chunk
	timer     *time.Timer
	flushing  bool
	flushDone chan struct{}
	draining  bool
	closed    bool
}

// New creates a buffer for one session. The remote record is created lazily.
func New(sessionID string, st store.Store, rec models.NewRecord, cfg Config) *Buffer {
	def := DefaultConfig()
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = def.FlushDelay
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = def.HighWaterMark
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Buffer{
		sessionID: sessionID,
		cfg:       cfg,
		store:     st,
		rec:       rec,
		log:       logging.WithSession(sessionID, rec.OwnerID).With().Str("component", "buffer").Logger(),
		metrics:   metrics.DefaultMetrics,
		now:       time.Now,
	}
}

// RecordID returns the remote record id, empty until created.
func (b *Buffer) RecordID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recordID
}

// Pending returns the number of chunks not yet persisted.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// EnsureRecord creates the remote record if it does not exist yet.
func (b *Buffer) EnsureRecord(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.recordID != "" {
		id := b.recordID
		b.mu.Unlock()
		return id, nil
	}
	rec := b.rec
	b.mu.Unlock()

	id, err := b.store.CreateRecord(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("buffer: create record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// A concurrent caller may have won; keep the first id.
	if b.recordID == "" {
		b.recordID = id
		l := logging.WithRecord(b.sessionID, rec.OwnerID, id)
		l.Info().Msg("Transcript record created")
	}
	return b.recordID, nil
}

// SetPatient records patient metadata locally and on the remote record if it exists.
func (b *Buffer) SetPatient(ctx context.Context, p models.PatientMetadata) error {
	b.mu.Lock()
	b.rec.Patient = p
	id := b.recordID
	b.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := b.store.SetPatient(ctx, id, p); err != nil {
		return fmt.Errorf("buffer: set patient: %w", err)
	}
	return nil
}

// Enqueue appends chunks. Reaching the high-water mark triggers an immediate
// asynchronous flush; otherwise a debounced flush is scheduled.
func (b *Buffer) Enqueue(chunks ...models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.pending = append(b.pending, chunks...)
	b.metrics.AddPending(len(chunks))

	if b.draining {
		return nil
	}
	if len(b.pending) >= b.cfg.HighWaterMark && !b.flushing {
		b.stopTimerLocked()
		go b.backgroundFlush()
		return nil
	}
	b.scheduleLocked()
	return nil
}

// Flush writes every pending chunk in one read-append-write cycle. If a flush
// is already in flight it waits for it first, so flushes never overlap.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	for b.flushing {
		done := b.flushDone
		b.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}

	b.stopTimerLocked()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	snapshot := b.pending
	b.pending = nil
	b.flushing = true
	b.flushDone = make(chan struct{})
	b.mu.Unlock()

	start := time.Now()
	err := b.persist(ctx, snapshot)
	b.metrics.RecordFlush(err, len(snapshot), time.Since(start).Seconds())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing = false
	close(b.flushDone)

	if err != nil {
		b.pending = append(snapshot, b.pending...)
		b.log.Warn().Err(err).Int("chunks", len(b.pending)).Dur("retryIn", b.cfg.FlushDelay).Msg("Flush failed, chunks requeued")
		if !b.draining && !b.closed {
			b.scheduleLocked()
		}
		return err
	}

	b.metrics.AddPending(-len(snapshot))
	b.log.Debug().Int("chunks", len(snapshot)).Msg("Chunks persisted")

	if len(b.pending) > 0 && !b.draining && !b.closed {
		if len(b.pending) >= b.cfg.HighWaterMark {
			go b.backgroundFlush()
		} else {
			b.scheduleLocked()
		}
	}
	return nil
}

// persist appends snapshot to the stored chunks and rewrites the flattened text.
func (b *Buffer) persist(ctx context.Context, snapshot []models.Chunk) error {
	id, err := b.EnsureRecord(ctx)
	if err != nil {
		return err
	}
	existing, err := b.store.ReadChunks(ctx, id)
	if err != nil {
		return fmt.Errorf("buffer: read chunks: %w", err)
	}

	all := make([]models.Chunk, 0, len(existing)+len(snapshot))
	all = append(all, existing...)
	all = append(all, snapshot...)

	if err := b.store.Write(ctx, id, store.Update{Chunks: all, FullText: chunk.FlattenText(all)}); err != nil {
		return fmt.Errorf("buffer: write chunks: %w", err)
	}
	return nil
}

// Drain flushes until nothing is pending, retrying every FlushDelay until
// DrainTimeout. On success the record is marked complete. At the deadline
// Drain still waits for an in-flight flush to settle, so a requeued snapshot
// is counted, then abandons whatever is pending.
func (b *Buffer) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.draining = true
	b.stopTimerLocked()
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.draining = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.DrainTimeout)
	defer cancel()

	for {
		err := b.Flush(ctx)
		if err == nil && b.Pending() == 0 {
			break
		}
		if err == nil {
			continue
		}

		retry := time.NewTimer(b.cfg.FlushDelay)
		select {
		case <-ctx.Done():
			retry.Stop()
			n := b.abandon()
			b.log.Error().Err(err).Int("chunks", n).Msg("Drain timed out, pending chunks abandoned")
			return fmt.Errorf("buffer: drain abandoned %d chunks: %w", n, err)
		case <-retry.C:
		}
	}

	id := b.RecordID()
	if id == "" {
		return nil
	}
	if err := b.store.MarkComplete(ctx, id, b.now()); err != nil {
		b.log.Warn().Err(err).Msg("Mark complete failed")
		return fmt.Errorf("buffer: mark complete: %w", err)
	}
	b.log.Info().Str("recordId", id).Msg("Transcript record completed")
	return nil
}

// abandon drops every pending chunk once no flush is in flight.
func (b *Buffer) abandon() int {
	b.mu.Lock()
	for b.flushing {
		done := b.flushDone
		b.mu.Unlock()
		<-done
		b.mu.Lock()
	}
	defer b.mu.Unlock()
	n := len(b.pending)
	b.pending = nil
	b.metrics.AddPending(-n)
	b.metrics.RecordAbandoned(n)
	return n
}

// Close stops timers and rejects further chunks. It does not flush; call Drain first.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimerLocked()
}

func (b *Buffer) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	// Failures are logged and rescheduled inside Flush.
	_ = b.Flush(ctx)
}

// scheduleLocked arms the debounce timer if it is not already armed.
func (b *Buffer) scheduleLocked() {
	if b.timer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(b.cfg.FlushDelay, func() {
		b.mu.Lock()
		if b.timer == t {
			b.timer = nil
		}
		b.mu.Unlock()
		b.backgroundFlush()
	})
	b.timer = t
}

func (b *Buffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
