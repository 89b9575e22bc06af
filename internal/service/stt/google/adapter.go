// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-scribe-service/internal/service/normalize"
	"ai-scribe-service/internal/service/stt"
)

// ErrNotStarted is returned by SendAudio before Start or after Close.
var ErrNotStarted = errors.New("google: stream not started")

// configGrace is how long Start waits for the streaming config to be
// rejected. A valid config gets no response until audio arrives.
const configGrace = 300 * time.Millisecond

// Config holds Google STT-specific configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	Model          string
	Diarize        bool
	MinSpeakers    int32
	MaxSpeakers    int32
}

// DefaultConfig returns the default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Diarize:        true,
		MinSpeakers:    1,
		MaxSpeakers:    4,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	cfg   Config
	grace time.Duration

	mu     sync.Mutex
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	done   chan struct{}
	closed bool

	// sendMu serializes Send with CloseSend; gRPC forbids running them concurrently.
	sendMu     sync.Mutex
	sendClosed bool
}

// New creates a new Google STT adapter. The client is created on Start.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, grace: configGrace}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "google" }

// Start creates the client, opens a streaming recognition session and sends
// the initial config. A config rejected within the grace window fails Start,
// so callers can retry with other options. Results are delivered from a
// background receive loop.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	// The stream outlives the connect call; Close ends it.
	streamCtx := context.WithoutCancel(ctx)

	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("google: new client: %w", err)
	}
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("google: open stream: %w", err)
	}
	if err := a.attach(client, stream, opts, cb); err != nil {
		client.Close()
		return err
	}
	return nil
}

// attach sends the config, starts the receive loop and waits up to the grace
// window for the first outcome. The receive loop and attach race to claim
// the first Recv; whoever claims it decides whether an early error fails
// Start or reaches the callback.
func (a *Adapter) attach(client *speech.Client, stream speechpb.Speech_StreamingRecognizeClient, opts stt.Options, cb stt.Callback) error {
	if err := stream.Send(a.configRequest(opts)); err != nil {
		return fmt.Errorf("google: send config: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		stream.CloseSend()
		return ErrNotStarted
	}
	done := make(chan struct{})
	first := make(chan error, 1)
	claimed := &atomic.Bool{}
	a.client = client
	a.stream = stream
	a.cb = cb
	a.done = done
	go a.listen(stream, cb, done, first, claimed)
	a.mu.Unlock()

	timer := time.NewTimer(a.grace)
	defer timer.Stop()

	var err error
	select {
	case err = <-first:
	case <-timer.C:
		if claimed.CompareAndSwap(false, true) {
			return nil
		}
		err = <-first
	}
	if err == nil {
		return nil
	}

	<-done
	a.mu.Lock()
	a.client, a.stream, a.cb, a.done = nil, nil, nil, nil
	a.mu.Unlock()
	return fmt.Errorf("google: config rejected: %w", err)
}

func (a *Adapter) configRequest(opts stt.Options) *speechpb.StreamingRecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
		SampleRateHertz:            a.cfg.SampleRateHz,
		LanguageCode:               a.cfg.LanguageCode,
		Model:                      a.cfg.Model,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		EnableAutomaticPunctuation: true,
	}
	if a.cfg.Diarize {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          a.cfg.MinSpeakers,
			MaxSpeakerCount:          a.cfg.MaxSpeakers,
		}
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:                    rc,
				InterimResults:            a.cfg.InterimResults,
				EnableVoiceActivityEvents: opts.VADEvents,
			},
		},
	}
}

// parseAudioEncoding converts string encoding to Google's enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	closed := a.closed
	a.mu.Unlock()

	if closed || stream == nil {
		return ErrNotStarted
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.sendClosed {
		return ErrNotStarted
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, waits for the receive loop to deliver the
// remaining results, then releases the client. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stream, client, done := a.stream, a.client, a.done
	a.mu.Unlock()

	if stream == nil {
		return nil
	}

	a.sendMu.Lock()
	a.sendClosed = true
	err := stream.CloseSend()
	a.sendMu.Unlock()

	<-done
	if client != nil {
		if cerr := client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// listen receives responses until the stream ends. If it claims the first
// Recv, its outcome goes to first, and an error there ends the loop without
// callbacks.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback, done chan<- struct{}, first chan<- error, claimed *atomic.Bool) {
	defer close(done)

	resp, err := stream.Recv()
	if claimed.CompareAndSwap(false, true) {
		first <- err
		if err != nil {
			return
		}
	}
	for {
		if err != nil {
			if !isStreamEnd(err) {
				cb.OnError(err)
			}
			cb.OnClose()
			return
		}
		handleResponse(resp, cb)
		resp, err = stream.Recv()
	}
}

func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled
}

// handleResponse maps one streaming response onto callbacks.
func handleResponse(resp *speechpb.StreamingRecognizeResponse, cb stt.Callback) {
	if st := resp.GetError(); st != nil {
		cb.OnError(fmt.Errorf("google: %s", st.GetMessage()))
		return
	}

	switch resp.GetSpeechEventType() {
	case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
		cb.OnSpeechStarted()
	case speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE,
		speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END:
		defer cb.OnUtteranceEnd()
	}

	// Google has no per-result utterance marker; a final result ends the utterance.
	for _, r := range resp.GetResults() {
		if res, ok := normalize.FromGoogle(r, r.GetIsFinal()); ok {
			cb.OnTranscript(res)
		}
	}
}
