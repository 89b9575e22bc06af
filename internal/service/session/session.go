// Package session binds one client connection to its transcription pipeline:
// upstream controller, chunk aggregator and persistence buffer.
package session

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
	"ai-scribe-service/internal/schema"
	"ai-scribe-service/internal/service/buffer"
	"ai-scribe-service/internal/service/chunk"
	"ai-scribe-service/internal/service/lifecycle"
	"ai-scribe-service/internal/service/stt"
	"ai-scribe-service/internal/service/transcription"
	"ai-scribe-service/internal/store"
)

var (
	// ErrRecording is returned by start_recording while a recording is active.
	ErrRecording = errors.New("session: recording in progress")
	// ErrNotRecording is returned by stop_recording when nothing is recording.
	ErrNotRecording = errors.New("session: not recording")
	// ErrClosed is returned for commands received after teardown.
	ErrClosed = errors.New("session: closed")
)

// Sink delivers events to the connected client.
type Sink interface {
	Send(event any) error
}

// Publisher fans events out beyond the connected client.
type Publisher interface {
	PublishLive(ctx context.Context, key string, event any) error
	PublishChunk(ctx context.Context, key string, event any) error
}

// Config holds per-session tuning.
type Config struct {
	Controller       transcription.Config
	Buffer           buffer.Config
	MaxChunkDuration time.Duration
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Factory   stt.Factory
	Store     store.Store
	Publisher Publisher
	Codes     *CodeGenerator
	Validator *schema.Validator
}

// Session is one client connection. A session may record several times; each
// recording gets a new controller while the aggregator, buffer and record are
// kept for the lifetime of the connection.
type Session struct {
	id        string
	ownerID   string
	cfg       Config
	deps      Deps
	sink      Sink
	lc        *lifecycle.Lifecycle
	log       zerolog.Logger
	metrics   *metrics.Metrics
	startedAt time.Time

	// aggMu serializes aggregator access and the enqueue that follows, so
	// chunks reach the buffer in finalization order.
	aggMu sync.Mutex
	agg   *chunk.Aggregator

	mu        sync.Mutex
	ctrl      *transcription.Controller
	buf       *buffer.Buffer
	code      string
	patient   models.PatientMetadata
	recording bool
	closed    bool
	stopping  sync.WaitGroup
}

func newSession(id, ownerID string, sink Sink, cfg Config, deps Deps) *Session {
	m := metrics.DefaultMetrics
	m.RecordSessionStart()
	return &Session{
		id:        id,
		ownerID:   ownerID,
		cfg:       cfg,
		deps:      deps,
		sink:      sink,
		lc:        lifecycle.New(id),
		log:       logging.WithSession(id, ownerID),
		metrics:   m,
		startedAt: time.Now(),
		agg:       chunk.NewAggregator(cfg.MaxChunkDuration),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OwnerID returns the user id taken from the connection handshake.
func (s *Session) OwnerID() string { return s.ownerID }

// State returns the state of the current recording.
func (s *Session) State() lifecycle.State { return s.lc.State() }

// RecordID returns the transcript record id, empty until created.
func (s *Session) RecordID() string {
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf == nil {
		return ""
	}
	return buf.RecordID()
}

// HandleAudio forwards one PCM frame. Frames are dropped while not recording.
func (s *Session) HandleAudio(ctx context.Context, frame []byte) {
	s.metrics.RecordAudioReceived(len(frame))

	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl == nil {
		s.metrics.RecordAudioDropped()
		return
	}
	if err := ctrl.SendAudio(ctx, frame); err != nil {
		s.log.Debug().Err(err).Int("bytes", len(frame)).Msg("Audio frame not forwarded")
	}
}

// HandleMessage decodes a text frame and dispatches it. Invalid messages are
// reported to the client and leave the connection open.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	msg, err := models.ParseClientMessage(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Rejected control message")
		s.sendError(err)
		return
	}
	if err := s.HandleCommand(ctx, msg); err != nil {
		s.sendError(err)
	}
}

// HandleCommand executes one control command.
func (s *Session) HandleCommand(ctx context.Context, msg models.ClientMessage) error {
	if err := s.deps.Validator.ValidateCommand(msg); err != nil {
		return err
	}
	s.metrics.RecordCommand(string(msg.Type))
	s.log.Debug().Str("command", string(msg.Type)).Msg("Control command")

	switch msg.Type {
	case models.CommandStartRecording:
		return s.startRecording(ctx, msg)
	case models.CommandStopRecording:
		if !s.stopRecording(ctx) {
			return ErrNotRecording
		}
		return nil
	case models.CommandSetPatientMetadata:
		return s.setPatient(ctx, *msg.Patient)
	case models.CommandPing:
		s.send(models.NewEvent(models.EventTypePong, s.id))
		return nil
	default:
		return fmt.Errorf("%w: %q", models.ErrUnknownCommand, msg.Type)
	}
}

func (s *Session) startRecording(ctx context.Context, msg models.ClientMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.recording {
		s.mu.Unlock()
		return ErrRecording
	}
	switch st := s.lc.State(); {
	case st.IsTerminal():
		s.lc.Reset(s.id)
	case st != lifecycle.StateIdle:
		// The previous recording is still draining.
		s.mu.Unlock()
		return ErrRecording
	}

	if msg.Patient != nil {
		s.patient = *msg.Patient
	}
	if s.buf == nil {
		s.code = msg.SessionHint
		if s.code == "" {
			s.code = s.deps.Codes.Next(s.ownerID)
		}
		s.buf = buffer.New(s.id, s.deps.Store, models.NewRecord{
			OwnerID:     s.ownerID,
			SessionCode: s.code,
			Patient:     s.patient,
		}, s.cfg.Buffer)
	}
	buf, code := s.buf, s.code
	ctrl := transcription.New(s.lc, s.deps.Factory, s, s.cfg.Controller)
	s.ctrl = ctrl
	s.recording = true
	s.mu.Unlock()

	if msg.Patient != nil {
		if err := buf.SetPatient(ctx, *msg.Patient); err != nil {
			s.log.Warn().Err(err).Msg("Patient metadata not saved")
		}
	}
	recordID, err := buf.EnsureRecord(ctx)
	if err != nil {
		// The first flush retries creation.
		s.log.Warn().Err(err).Msg("Transcript record creation deferred")
	}

	if err := ctrl.Connect(ctx); err != nil {
		s.mu.Lock()
		if s.ctrl == ctrl {
			s.recording = false
		}
		s.mu.Unlock()
		if errors.Is(err, transcription.ErrDisconnected) {
			return nil
		}
		s.log.Error().Err(err).Msg("Recording failed to start")
		s.sendStatus(models.StatusFailed, recordID, code)
		return fmt.Errorf("start recording: %w", err)
	}

	s.log.Info().
		Str("sessionCode", code).
		Str("recordId", recordID).
		Str("sttProvider", ctrl.Provider()).
		Msg("Recording started")
	s.sendStatus(models.StatusRecording, recordID, code)
	return nil
}

// stopRecording disconnects upstream, then drains the buffer. It reports
// false if no recording was active.
func (s *Session) stopRecording(ctx context.Context) bool {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return false
	}
	s.recording = false
	s.stopping.Add(1)
	ctrl, buf, code := s.ctrl, s.buf, s.code
	s.mu.Unlock()
	defer s.stopping.Done()

	ctrl.Disconnect()
	if err := buf.Drain(ctx); err != nil {
		s.log.Error().Err(err).Msg("Transcript drain incomplete")
	}
	s.lc.Close()

	s.log.Info().Str("sessionCode", code).Msg("Recording stopped")
	s.sendStatus(models.StatusStopped, buf.RecordID(), code)
	return true
}

func (s *Session) setPatient(ctx context.Context, p models.PatientMetadata) error {
	s.mu.Lock()
	s.patient = p
	buf := s.buf
	s.mu.Unlock()

	if buf == nil {
		return nil
	}
	if err := buf.SetPatient(ctx, p); err != nil {
		// Metadata is kept locally; persistence problems stay off the live path.
		s.log.Warn().Err(err).Msg("Patient metadata not saved")
	}
	return nil
}

// Close stops any active recording, drains pending chunks and releases the
// session. Idempotent.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopRecording(ctx)
	// An upstream close may have started the stop already.
	s.stopping.Wait()

	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf != nil {
		buf.Close()
	}

	dur := time.Since(s.startedAt)
	s.metrics.RecordSessionEnd(dur.Seconds())
	s.log.Info().Dur("duration", dur).Msg("Session closed")
}

// OnTranscript implements transcription.Listener.
func (s *Session) OnTranscript(res models.TranscriptResult) {
	if res.IsFinal {
		s.metrics.RecordFinalTranscript(len(res.Words))
	} else {
		s.metrics.RecordInterimTranscript()
	}

	live := models.LiveTranscriptEvent{
		Event:       models.NewEvent(models.EventTypeTranscript, s.id),
		Speaker:     chunk.DominantSpeaker(res.Words),
		Text:        res.Transcript,
		IsFinal:     res.IsFinal,
		SpeechFinal: res.SpeechFinal,
	}
	if n := len(res.Words); n > 0 {
		live.Start, live.End = res.Words[0].Start, res.Words[n-1].End
	}
	if res.IsFinal {
		live.Words = res.Words
	}
	s.send(live)
	s.publishLive(live)

	if !res.IsFinal {
		return
	}
	s.emit(func(agg *chunk.Aggregator) []models.Chunk {
		return agg.Ingest(res.Words, res.SpeechFinal)
	})
}

// OnUtteranceEnd implements transcription.Listener.
func (s *Session) OnUtteranceEnd() {
	s.emit((*chunk.Aggregator).Flush)
}

// OnSpeechStarted implements transcription.Listener.
func (s *Session) OnSpeechStarted() {
	s.sendStatus(models.StatusSpeechStarted, "", "")
}

// OnFlush implements transcription.Listener.
func (s *Session) OnFlush() {
	s.emit((*chunk.Aggregator).Flush)
}

// OnClose implements transcription.Listener. The upstream went away on its
// own, so the recording is wound down as if the client had stopped it.
func (s *Session) OnClose() {
	s.emit((*chunk.Aggregator).Flush)
	s.sendStatus(models.StatusUpstreamClose, "", "")
	go s.stopRecording(context.Background())
}

// OnError implements transcription.Listener.
func (s *Session) OnError(err error) {
	s.sendError(err)
}

// emit runs step against the aggregator and hands the finalized chunks to the
// buffer, the client and the publisher.
func (s *Session) emit(step func(*chunk.Aggregator) []models.Chunk) {
	s.aggMu.Lock()
	chunks := step(s.agg)
	if len(chunks) > 0 {
		s.enqueue(chunks)
	}
	s.aggMu.Unlock()

	if len(chunks) == 0 {
		return
	}
	s.metrics.RecordChunksFinalized(len(chunks))
	for _, c := range chunks {
		if err := s.deps.Validator.ValidateChunk(c); err != nil {
			s.log.Error().Err(err).Int("speaker", c.Speaker).Msg("Finalized chunk violates invariants")
		}
		ev := models.ChunkEvent{
			Event: models.NewEvent(models.EventTypeChunk, s.id),
			Chunk: c,
		}
		s.send(ev)
		s.publishChunk(ev)
	}
}

func (s *Session) enqueue(chunks []models.Chunk) {
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()

	if buf == nil {
		s.log.Error().Int("chunks", len(chunks)).Msg("Chunks finalized without a buffer")
		return
	}
	if err := buf.Enqueue(chunks...); err != nil {
		s.log.Warn().Err(err).Int("chunks", len(chunks)).Msg("Chunks not queued for persistence")
	}
}

func (s *Session) sendStatus(status, recordID, code string) {
	s.send(models.ConnectionEvent{
		Event:        models.NewEvent(models.EventTypeConnection, s.id),
		Status:       status,
		TranscriptID: recordID,
		SessionCode:  code,
	})
}

func (s *Session) sendError(err error) {
	s.send(models.ErrorEvent{
		Event:   models.NewEvent(models.EventTypeError, s.id),
		Message: err.Error(),
	})
}

func (s *Session) send(event any) {
	if err := s.sink.Send(event); err != nil {
		s.log.Debug().Err(err).Msg("Client send failed")
	}
}

func (s *Session) publishLive(event any) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishLive(context.Background(), s.id, event); err != nil {
		s.log.Warn().Err(err).Msg("Live event not published")
	}
}

func (s *Session) publishChunk(event any) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishChunk(context.Background(), s.id, event); err != nil {
		s.log.Warn().Err(err).Msg("Chunk event not published")
	}
}
