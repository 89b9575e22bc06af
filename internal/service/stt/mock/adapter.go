// Package mock provides a scripted STT adapter for running without cloud credentials.
// It simulates a diarized two-speaker conversation: progressive interim results
// as audio arrives, one final result per utterance with per-word speaker labels,
// and an utterance-end signal after each final.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/service/stt"
)

// ErrVADUnsupported is returned by Start when the adapter is configured to
// reject voice-activity events.
var ErrVADUnsupported = errors.New("mock: vad events unsupported")

// SimulatedUtterance is one scripted speaker turn.
type SimulatedUtterance struct {
	Speaker    int
	Text       string
	Confidence float64
}

// DefaultUtterances provides a sample clinical exchange.
var DefaultUtterances = []SimulatedUtterance{
	{Speaker: 0, Text: "good morning what brings you in today", Confidence: 0.94},
	{Speaker: 1, Text: "I have had a headache for three days", Confidence: 0.91},
	{Speaker: 0, Text: "is the pain constant or does it come and go", Confidence: 0.93},
	{Speaker: 1, Text: "it comes and goes mostly in the afternoon", Confidence: 0.89},
	{Speaker: 0, Text: "any nausea or sensitivity to light", Confidence: 0.95},
	{Speaker: 1, Text: "a little sensitivity to light yes", Confidence: 0.92},
}

const (
	wordSpacing     = 0.35 // seconds between word starts
	wordLength      = 0.30 // seconds per word
	bytesPerSecond  = 32000
	defaultLatency  = 50 * time.Millisecond
	eventQueueDepth = 256
)

// Option customizes the adapter.
type Option func(*Adapter)

// WithLatency sets the simulated processing delay per event.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) { a.latency = d }
}

// WithFramesPerWord sets how many audio frames reveal one more word.
func WithFramesPerWord(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.framesPerWord = n
		}
	}
}

// WithUtterances replaces the scripted conversation.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(a *Adapter) {
		if len(u) > 0 {
			a.utterances = u
		}
	}
}

// WithFailOnVAD makes Start fail when VAD events are requested.
func WithFailOnVAD() Option {
	return func(a *Adapter) { a.failOnVAD = true }
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	latency       time.Duration
	framesPerWord int
	failOnVAD     bool
	utterances    []SimulatedUtterance

	mu        sync.Mutex
	cb        stt.Callback
	vad       bool
	events    chan func(stt.Callback)
	done      chan struct{}
	frames    int
	uttIndex  int
	wordIndex int
	uttStart  float64
	audioSecs float64
	lastEnd   float64
	started   bool
	closed    bool
}

// New creates a new mock STT adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		latency:       defaultLatency,
		framesPerWord: 1,
		utterances:    DefaultUtterances,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "mock" }

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.VADEvents && a.failOnVAD {
		return ErrVADUnsupported
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("mock: adapter closed")
	}
	a.cb = cb
	a.vad = opts.VADEvents
	a.events = make(chan func(stt.Callback), eventQueueDepth)
	a.done = make(chan struct{})
	a.started = true
	go a.deliver(cb, a.events, a.done)
	return nil
}

// deliver runs callbacks in order with the simulated latency.
func (a *Adapter) deliver(cb stt.Callback, events <-chan func(stt.Callback), done chan<- struct{}) {
	defer close(done)
	for fn := range events {
		if a.latency > 0 {
			time.Sleep(a.latency)
		}
		fn(cb)
	}
	cb.OnClose()
}

// SendAudio advances the scripted conversation. Every framesPerWord frames
// reveals one more word as an interim result; completing an utterance emits the
// final result followed by an utterance-end signal.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.started {
		return nil
	}

	a.audioSecs += float64(len(audio)) / bytesPerSecond
	a.frames++
	if a.frames%a.framesPerWord != 0 {
		return nil
	}

	utt := a.utterances[a.uttIndex%len(a.utterances)]
	words := strings.Fields(utt.Text)
	if a.wordIndex == 0 {
		a.uttStart = max(a.audioSecs, a.lastEnd+wordSpacing-wordLength)
		if a.vad {
			a.enqueue(func(cb stt.Callback) { cb.OnSpeechStarted() })
		}
	}
	a.wordIndex++

	if a.wordIndex < len(words) {
		res := a.result(utt, words[:a.wordIndex], false)
		a.enqueue(func(cb stt.Callback) { cb.OnTranscript(res) })
		return nil
	}

	a.finishUtterance(utt, words)
	return nil
}

// finishUtterance emits the final for the current utterance. Caller holds mu.
func (a *Adapter) finishUtterance(utt SimulatedUtterance, words []string) {
	res := a.result(utt, words, true)
	if n := len(res.Words); n > 0 {
		a.lastEnd = res.Words[n-1].End
	}
	a.enqueue(func(cb stt.Callback) {
		cb.OnTranscript(res)
		cb.OnUtteranceEnd()
	})
	a.uttIndex++
	a.wordIndex = 0
}

func (a *Adapter) result(utt SimulatedUtterance, words []string, final bool) models.TranscriptResult {
	events := make([]models.WordEvent, 0, len(words))
	for i, w := range words {
		start := a.uttStart + float64(i)*wordSpacing
		events = append(events, models.WordEvent{
			Text:       w,
			Start:      start,
			End:        start + wordLength,
			Speaker:    utt.Speaker,
			Confidence: utt.Confidence,
		})
	}
	return models.TranscriptResult{
		Transcript:  strings.Join(words, " "),
		Words:       events,
		IsFinal:     final,
		SpeechFinal: final,
		Confidence:  utt.Confidence,
	}
}

func (a *Adapter) enqueue(fn func(stt.Callback)) {
	a.events <- fn
}

// Close ends the mock session. An utterance in progress is finalized with the
// words revealed so far, then all queued events are delivered before returning.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if !a.started {
		a.mu.Unlock()
		return nil
	}

	if a.wordIndex > 0 {
		utt := a.utterances[a.uttIndex%len(a.utterances)]
		words := strings.Fields(utt.Text)[:a.wordIndex]
		a.finishUtterance(utt, words)
	}
	close(a.events)
	done := a.done
	a.mu.Unlock()

	<-done
	return nil
}
