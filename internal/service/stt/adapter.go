// Package stt defines the interface for streaming Speech-to-Text adapters.
package stt

import (
	"context"

	"ai-scribe-service/internal/models"
)

// Callback receives normalized events from the STT provider.
type Callback interface {
	// OnTranscript is called for every non-empty interim or final result.
	OnTranscript(res models.TranscriptResult)

	// OnUtteranceEnd is called when the provider detects a pause after speech.
	OnUtteranceEnd()

	// OnSpeechStarted is called for provider voice-activity start events.
	OnSpeechStarted()

	// OnClose is called when the upstream connection closes.
	OnClose()

	// OnError is called when an error occurs during transcription.
	OnError(err error)
}

// Options controls per-connection features requested from the provider.
type Options struct {
	// VADEvents requests voice-activity events. Optional upstream feature.
	VADEvents bool
}

// Adapter defines the interface for STT providers (Deepgram, Google, mock).
// An adapter represents exactly one upstream connection and is not reusable
// after Close.
type Adapter interface {
	// Name returns the provider name for logs and metrics.
	Name() string

	// Start opens the streaming connection. It returns once the connection is open.
	Start(ctx context.Context, opts Options, cb Callback) error

	// SendAudio sends PCM16 mono audio bytes to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources. Idempotent.
	Close() error
}

// Factory builds a fresh adapter for one connection attempt.
type Factory func() Adapter
