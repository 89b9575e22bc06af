package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/store"
)

// flakyStore wraps a memory store and fails writes while failWrites > 0.
type flakyStore struct {
	*store.Memory

	mu          sync.Mutex
	failWrites  int
	failCreate  bool
	writes      int
	blockWrite  chan struct{}
	writeCalled chan struct{}
}

var errUnavailable = errors.New("store unavailable")

func newFlakyStore() *flakyStore {
	return &flakyStore{Memory: store.NewMemory()}
}

func (s *flakyStore) CreateRecord(ctx context.Context, rec models.NewRecord) (string, error) {
	s.mu.Lock()
	fail := s.failCreate
	s.mu.Unlock()
	if fail {
		return "", errUnavailable
	}
	return s.Memory.CreateRecord(ctx, rec)
}

func (s *flakyStore) Write(ctx context.Context, id string, u store.Update) error {
	s.mu.Lock()
	s.writes++
	block, called := s.blockWrite, s.writeCalled
	fail := s.failWrites > 0
	if fail {
		s.failWrites--
	}
	s.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fail {
		return errUnavailable
	}
	return s.Memory.Write(ctx, id, u)
}

func (s *flakyStore) setFailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

func (s *flakyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func c(speaker int, text string) models.Chunk {
	return models.Chunk{Speaker: speaker, Text: text, WordCount: 1, Finalized: true}
}

func texts(chunks []models.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch.Text)
	}
	return out
}

// slowConfig keeps timers out of the way so tests drive flushes explicitly.
func slowConfig() Config {
	return Config{FlushDelay: time.Hour, HighWaterMark: 100, DrainTimeout: time.Second}
}

func newBuffer(st store.Store, cfg Config) *Buffer {
	return New("sess-1", st, models.NewRecord{OwnerID: "dr-1", SessionCode: "dr-1-20260101-1"}, cfg)
}

func stored(t *testing.T, st store.Store, b *Buffer) []models.Chunk {
	t.Helper()
	chunks, err := st.ReadChunks(context.Background(), b.RecordID())
	require.NoError(t, err)
	return chunks
}

// persisted returns the stored chunk count, zero before the record exists.
func persisted(st store.Store, b *Buffer) int {
	id := b.RecordID()
	if id == "" {
		return 0
	}
	chunks, _ := st.ReadChunks(context.Background(), id)
	return len(chunks)
}

func TestFlush_PreservesOrderAcrossFlushes(t *testing.T) {
	st := store.NewMemory()
	b := newBuffer(st, slowConfig())
	ctx := context.Background()

	require.NoError(t, b.Enqueue(c(0, "C1"), c(1, "C2")))
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Enqueue(c(0, "C3")))
	require.NoError(t, b.Flush(ctx))

	require.Equal(t, []string{"C1", "C2", "C3"}, texts(stored(t, st, b)))

	rec, err := st.ReadLatest(ctx, "dr-1")
	require.NoError(t, err)
	require.Equal(t, "[Speaker 0]: C1\n[Speaker 1]: C2\n[Speaker 0]: C3", rec.FullText)
}

func TestFlush_RetryDoesNotLoseOrDuplicate(t *testing.T) {
	st := newFlakyStore()
	b := newBuffer(st, slowConfig())
	ctx := context.Background()

	st.setFailWrites(1)
	require.NoError(t, b.Enqueue(c(0, "C1"), c(0, "C2")))
	require.ErrorIs(t, b.Flush(ctx), errUnavailable)
	require.Equal(t, 2, b.Pending())

	require.NoError(t, b.Enqueue(c(1, "C3")))
	require.NoError(t, b.Flush(ctx))

	require.Equal(t, []string{"C1", "C2", "C3"}, texts(stored(t, st, b)))
	require.Zero(t, b.Pending())
}

func TestFlush_ChunksEnqueuedDuringFailedFlushFollowSnapshot(t *testing.T) {
	st := newFlakyStore()
	st.failWrites = 1
	st.blockWrite = make(chan struct{})
	st.writeCalled = make(chan struct{}, 1)
	b := newBuffer(st, slowConfig())

	require.NoError(t, b.Enqueue(c(0, "C1"), c(0, "C2")))
	errCh := make(chan error, 1)
	go func() { errCh <- b.Flush(context.Background()) }()

	<-st.writeCalled
	require.NoError(t, b.Enqueue(c(1, "C3")))
	close(st.blockWrite)
	require.Error(t, <-errCh)

	st.mu.Lock()
	st.blockWrite, st.writeCalled = nil, nil
	st.mu.Unlock()

	require.NoError(t, b.Flush(context.Background()))
	require.Equal(t, []string{"C1", "C2", "C3"}, texts(stored(t, st, b)))
}

func TestEnqueue_DebouncedFlush(t *testing.T) {
	st := store.NewMemory()
	b := newBuffer(st, Config{FlushDelay: 20 * time.Millisecond, HighWaterMark: 100, DrainTimeout: time.Second})

	require.NoError(t, b.Enqueue(c(0, "C1")))
	require.NoError(t, b.Enqueue(c(0, "C2")))
	require.Equal(t, 2, b.Pending())

	require.Eventually(t, func() bool { return persisted(st, b) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"C1", "C2"}, texts(stored(t, st, b)))
}

func TestEnqueue_HighWaterMarkFlushesImmediately(t *testing.T) {
	st := newFlakyStore()
	b := newBuffer(st, Config{FlushDelay: time.Hour, HighWaterMark: 3, DrainTimeout: time.Second})

	require.NoError(t, b.Enqueue(c(0, "C1"), c(0, "C2")))
	require.Zero(t, st.writeCount())

	require.NoError(t, b.Enqueue(c(0, "C3")))
	require.Eventually(t, func() bool { return persisted(st, b) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, st.writeCount())
}

func TestFailedFlush_RetriesAfterDelay(t *testing.T) {
	st := newFlakyStore()
	st.setFailWrites(2)
	b := newBuffer(st, Config{FlushDelay: 10 * time.Millisecond, HighWaterMark: 100, DrainTimeout: time.Second})

	require.NoError(t, b.Enqueue(c(0, "C1")))

	require.Eventually(t, func() bool { return persisted(st, b) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 3, st.writeCount())
	require.Equal(t, []string{"C1"}, texts(stored(t, st, b)))
}

func TestRecordCreationFailure_RetriedByFlush(t *testing.T) {
	st := newFlakyStore()
	st.failCreate = true
	b := newBuffer(st, slowConfig())
	ctx := context.Background()

	_, err := b.EnsureRecord(ctx)
	require.Error(t, err)

	require.NoError(t, b.Enqueue(c(0, "C1")))
	require.Error(t, b.Flush(ctx))
	require.Equal(t, 1, b.Pending())

	st.mu.Lock()
	st.failCreate = false
	st.mu.Unlock()

	require.NoError(t, b.Flush(ctx))
	require.NotEmpty(t, b.RecordID())
	require.Equal(t, []string{"C1"}, texts(stored(t, st, b)))
}

func TestDrain_FlushesAndMarksComplete(t *testing.T) {
	st := store.NewMemory()
	b := newBuffer(st, slowConfig())
	ctx := context.Background()

	require.NoError(t, b.Enqueue(c(0, "C1")))
	require.NoError(t, b.Drain(ctx))

	rec, err := st.ReadLatest(ctx, "dr-1")
	require.NoError(t, err)
	require.Len(t, rec.Chunks, 1)
	require.NotNil(t, rec.CompletedAt)
}

func TestDrain_RetriesTransientFailures(t *testing.T) {
	st := newFlakyStore()
	st.setFailWrites(2)
	b := newBuffer(st, Config{FlushDelay: 5 * time.Millisecond, HighWaterMark: 100, DrainTimeout: time.Second})

	require.NoError(t, b.Enqueue(c(0, "C1"), c(1, "C2")))
	require.NoError(t, b.Drain(context.Background()))
	require.Equal(t, []string{"C1", "C2"}, texts(stored(t, st, b)))
}

func TestDrain_AbandonsAtTimeout(t *testing.T) {
	st := newFlakyStore()
	st.setFailWrites(1000)
	b := newBuffer(st, Config{FlushDelay: 5 * time.Millisecond, HighWaterMark: 100, DrainTimeout: 40 * time.Millisecond})

	require.NoError(t, b.Enqueue(c(0, "C1")))
	err := b.Drain(context.Background())
	require.Error(t, err)
	require.Zero(t, b.Pending())

	rec, err := st.ReadLatest(context.Background(), "dr-1")
	require.NoError(t, err)
	require.Nil(t, rec.CompletedAt, "record is not completed when chunks were abandoned")
}

func TestDrain_WaitsForInFlightFlush(t *testing.T) {
	st := newFlakyStore()
	st.blockWrite = make(chan struct{})
	st.writeCalled = make(chan struct{}, 2)
	b := newBuffer(st, slowConfig())

	require.NoError(t, b.Enqueue(c(0, "C1")))
	go b.Flush(context.Background())
	<-st.writeCalled

	drained := make(chan error, 1)
	go func() { drained <- b.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("drain returned while a flush was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(st.blockWrite)
	require.NoError(t, <-drained)
	require.Equal(t, 1, st.writeCount(), "drain must not race a second write")
}

func TestDrain_TimeoutCountsSnapshotOfInFlightFlush(t *testing.T) {
	st := newFlakyStore()
	st.setFailWrites(1)
	st.blockWrite = make(chan struct{})
	st.writeCalled = make(chan struct{}, 1)
	b := newBuffer(st, Config{FlushDelay: time.Hour, HighWaterMark: 1, DrainTimeout: 50 * time.Millisecond})

	// The high-water mark starts a background flush that blocks in Write.
	require.NoError(t, b.Enqueue(c(0, "C1")))
	<-st.writeCalled

	drained := make(chan error, 1)
	go func() { drained <- b.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("drain returned while a flush was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(st.blockWrite)
	err := <-drained
	require.Error(t, err)
	require.Contains(t, err.Error(), "abandoned 1 chunks")
	require.Zero(t, b.Pending())

	b.Close()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, b.Pending())
	require.Equal(t, 1, st.writeCount())
}

func TestSetPatient(t *testing.T) {
	st := store.NewMemory()
	b := newBuffer(st, slowConfig())
	ctx := context.Background()

	// Before the record exists the metadata is used at creation.
	require.NoError(t, b.SetPatient(ctx, models.PatientMetadata{PatientID: "p-1"}))
	_, err := b.EnsureRecord(ctx)
	require.NoError(t, err)

	rec, err := st.ReadLatest(ctx, "dr-1")
	require.NoError(t, err)
	require.Equal(t, "p-1", rec.Patient.PatientID)

	require.NoError(t, b.SetPatient(ctx, models.PatientMetadata{PatientID: "p-2"}))
	rec, _ = st.ReadLatest(ctx, "dr-1")
	require.Equal(t, "p-2", rec.Patient.PatientID)
}

func TestClose_RejectsEnqueue(t *testing.T) {
	b := newBuffer(store.NewMemory(), slowConfig())
	b.Close()
	require.ErrorIs(t, b.Enqueue(c(0, "C1")), ErrClosed)
}
