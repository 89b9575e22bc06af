// Package deepgram provides a Deepgram live transcription adapter.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"ai-scribe-service/internal/service/normalize"
	"ai-scribe-service/internal/service/stt"
)

var (
	// ErrConnectFailed is returned when the websocket handshake does not complete.
	ErrConnectFailed = errors.New("deepgram: connect failed")
	// ErrNotStarted is returned by SendAudio before Start or after Close.
	ErrNotStarted = errors.New("deepgram: stream not started")
	// ErrMissingAPIKey is returned by Start when no API key is configured.
	ErrMissingAPIKey = errors.New("deepgram: api key not configured")
)

var initOnce sync.Once

// Config holds Deepgram-specific configuration.
type Config struct {
	APIKey         string
	Model          string
	LanguageCode   string
	SampleRateHz   int
	AudioEncoding  string
	Channels       int
	InterimResults bool
	Diarize        bool
	Punctuate      bool
	SmartFormat    bool
	UtteranceEndMs int
}

// DefaultConfig returns the default Deepgram configuration.
func DefaultConfig() Config {
	return Config{
		Model:          "nova-2",
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		AudioEncoding:  "linear16",
		Channels:       1,
		InterimResults: true,
		Diarize:        true,
		Punctuate:      true,
		SmartFormat:    true,
		UtteranceEndMs: 1000,
	}
}

// liveConn is the subset of the SDK websocket client the adapter drives.
type liveConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Stop()
}

type dialFunc func(ctx context.Context, cfg Config, tOptions *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error)

// Adapter implements stt.Adapter using the Deepgram live websocket API.
type Adapter struct {
	cfg  Config
	dial dialFunc

	mu     sync.Mutex
	conn   liveConn
	closed bool
}

// New creates a new Deepgram adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, dial: dialSDK}
}

func dialSDK(ctx context.Context, cfg Config, tOptions *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error) {
	initOnce.Do(listen.InitWithDefault)
	return listen.NewWSUsingCallback(ctx, cfg.APIKey, &interfaces.ClientOptions{}, tOptions, cb)
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "deepgram" }

// Start opens the websocket and blocks until the handshake completes.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	if a.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.mu.Unlock()

	// The stream outlives the connect call; Close ends it.
	conn, err := a.dial(context.WithoutCancel(ctx), a.cfg, a.transcriptionOptions(opts), &handler{cb: cb})
	if err != nil {
		return fmt.Errorf("deepgram: new client: %w", err)
	}
	if !conn.Connect() {
		return ErrConnectFailed
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		conn.Stop()
		return ErrNotStarted
	}
	a.conn = conn
	return nil
}

func (a *Adapter) transcriptionOptions(opts stt.Options) *interfaces.LiveTranscriptionOptions {
	o := &interfaces.LiveTranscriptionOptions{
		Model:          a.cfg.Model,
		Language:       a.cfg.LanguageCode,
		Encoding:       a.cfg.AudioEncoding,
		SampleRate:     a.cfg.SampleRateHz,
		Channels:       a.cfg.Channels,
		InterimResults: a.cfg.InterimResults,
		Diarize:        a.cfg.Diarize,
		Punctuate:      a.cfg.Punctuate,
		SmartFormat:    a.cfg.SmartFormat,
		VadEvents:      opts.VADEvents,
	}
	// utterance_end_ms requires interim results upstream.
	if a.cfg.UtteranceEndMs > 0 && a.cfg.InterimResults {
		o.UtteranceEndMs = strconv.Itoa(a.cfg.UtteranceEndMs)
	}
	return o
}

// SendAudio writes PCM16 audio to the websocket.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	conn := a.conn
	closed := a.closed
	a.mu.Unlock()

	if closed || conn == nil {
		return ErrNotStarted
	}
	if _, err := conn.Write(audio); err != nil {
		return fmt.Errorf("deepgram: write: %w", err)
	}
	return nil
}

// Close ends the stream. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		conn.Stop()
	}
	return nil
}

var _ api.LiveMessageCallback = (*handler)(nil)

// handler maps SDK callbacks onto stt.Callback.
type handler struct {
	cb stt.Callback
}

func (h *handler) Open(*api.OpenResponse) error { return nil }

func (h *handler) Message(mr *api.MessageResponse) error {
	if res, ok := normalize.FromDeepgram(mr); ok {
		h.cb.OnTranscript(res)
	}
	return nil
}

func (h *handler) Metadata(*api.MetadataResponse) error { return nil }

func (h *handler) SpeechStarted(*api.SpeechStartedResponse) error {
	h.cb.OnSpeechStarted()
	return nil
}

func (h *handler) UtteranceEnd(*api.UtteranceEndResponse) error {
	h.cb.OnUtteranceEnd()
	return nil
}

func (h *handler) Close(*api.CloseResponse) error {
	h.cb.OnClose()
	return nil
}

func (h *handler) Error(er *api.ErrorResponse) error {
	if er == nil {
		h.cb.OnError(errors.New("deepgram: unknown error"))
		return nil
	}
	h.cb.OnError(fmt.Errorf("deepgram: %v: %v", er.ErrCode, er.ErrMsg))
	return nil
}

func (h *handler) UnhandledEvent([]byte) error { return nil }
