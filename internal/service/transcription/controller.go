// Package transcription owns the upstream streaming connection of one recording.
package transcription

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
	"ai-scribe-service/internal/service/lifecycle"
	"ai-scribe-service/internal/service/stt"
)

// DefaultConnectTimeout bounds upstream connection establishment.
const DefaultConnectTimeout = 10 * time.Second

var (
	// ErrNotIdle is returned by Connect when the controller has already been used.
	ErrNotIdle = errors.New("transcription: controller not idle")
	// ErrDisconnected is returned by Connect when Disconnect won the race.
	ErrDisconnected = errors.New("transcription: disconnected during connect")
)

// Listener receives controller events. Calls may arrive from provider goroutines.
type Listener interface {
	// OnTranscript is called for every interim and final result.
	OnTranscript(res models.TranscriptResult)
	// OnUtteranceEnd asks for a forced aggregator flush; the connection stays open.
	OnUtteranceEnd()
	// OnSpeechStarted is called for upstream voice-activity start events.
	OnSpeechStarted()
	// OnFlush asks for a forced aggregator flush during Disconnect.
	OnFlush()
	// OnClose is called when the upstream closed without Disconnect.
	OnClose()
	// OnError reports an upstream error. The connection is not closed by it.
	OnError(err error)
}

// Config holds controller configuration.
type Config struct {
	ConnectTimeout time.Duration
	// VADEvents requests voice-activity events on the first connect attempt.
	VADEvents bool
}

// Controller owns exactly one upstream connection for one recording.
// Closed and Failed are terminal; a new recording needs a new Controller.
type Controller struct {
	cfg      Config
	factory  stt.Factory
	listener Listener
	lc       *lifecycle.Lifecycle
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	adapter  stt.Adapter
	current  *attempt
	provider string
	closing  bool
}

// New creates a controller driving lc. lc must be Idle.
func New(lc *lifecycle.Lifecycle, factory stt.Factory, listener Listener, cfg Config) *Controller {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Controller{
		cfg:      cfg,
		factory:  factory,
		listener: listener,
		lc:       lc,
		log:      logging.WithComponent("transcription").With().Str("sessionId", lc.Name()).Logger(),
		metrics:  metrics.DefaultMetrics,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() lifecycle.State {
	return c.lc.State()
}

// Provider returns the name of the connected provider, empty before Connect.
func (c *Controller) Provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// Connect opens the upstream connection. With VAD configured it first tries
// with voice-activity events and, if that attempt fails before the connection
// opens, retries once without them. Both failures are returned joined and the
// lifecycle moves to Failed.
func (c *Controller) Connect(ctx context.Context) error {
	if _, err := c.lc.Transition(lifecycle.StateConnecting); err != nil {
		return fmt.Errorf("%w: %s", ErrNotIdle, c.lc.State())
	}

	tiers := []bool{false}
	if c.cfg.VADEvents {
		tiers = []bool{true, false}
	}

	var errs []error
	for i, vad := range tiers {
		if i > 0 {
			if !c.retryTier() {
				break
			}
			c.metrics.RecordFallback(c.Provider())
			c.log.Warn().Err(errs[len(errs)-1]).Msg("Connect with VAD events failed, retrying without")
		}

		err := c.dial(ctx, vad)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("connect (vad=%t): %w", vad, err))
		if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
			break
		}
	}

	joined := errors.Join(errs...)
	if c.lc.Fail() {
		c.log.Error().Err(joined).Msg("Upstream connection failed")
	}
	return joined
}

// retryTier moves Connecting -> Idle -> Connecting for the fallback attempt.
func (c *Controller) retryTier() bool {
	if _, err := c.lc.Transition(lifecycle.StateIdle); err != nil {
		return false
	}
	_, err := c.lc.Transition(lifecycle.StateConnecting)
	return err == nil
}

// dial runs one connection attempt with a fresh adapter.
func (c *Controller) dial(ctx context.Context, vad bool) error {
	adapter := c.factory()
	att := &attempt{
		c:   c,
		log: logging.WithStream(c.lc.Name(), adapter.Name()).With().Str("component", "transcription").Logger(),
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.provider = adapter.Name()
	c.current = att
	c.mu.Unlock()

	start := time.Now()
	err := startWithTimeout(ctx, c.cfg.ConnectTimeout, adapter, stt.Options{VADEvents: vad}, att)
	c.metrics.RecordConnect(adapter.Name(), vad, err, time.Since(start).Seconds())

	c.mu.Lock()
	if err != nil {
		c.current = nil
		c.mu.Unlock()
		return err
	}
	if c.closing {
		c.current = nil
		c.mu.Unlock()
		adapter.Close()
		return ErrDisconnected
	}
	if _, err := c.lc.Transition(lifecycle.StateLive); err != nil {
		c.current = nil
		c.mu.Unlock()
		adapter.Close()
		return err
	}
	c.adapter = adapter
	c.mu.Unlock()

	att.log.Info().Bool("vad", vad).Msg("Upstream connection live")
	return nil
}

// startWithTimeout bounds Start. If Start completes after the timeout the
// late connection is closed.
func startWithTimeout(ctx context.Context, timeout time.Duration, adapter stt.Adapter, opts stt.Options, cb stt.Callback) error {
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- adapter.Start(ctx, opts, cb)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-resultCh:
		return err
	case <-timer.C:
		go closeWhenStarted(adapter, resultCh)
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		go closeWhenStarted(adapter, resultCh)
		return ctx.Err()
	}
}

func closeWhenStarted(adapter stt.Adapter, resultCh <-chan error) {
	if err := <-resultCh; err == nil {
		adapter.Close()
	}
}

// SendAudio forwards a PCM frame. Frames are dropped unless the connection is live.
func (c *Controller) SendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()

	if adapter == nil || !c.lc.Is(lifecycle.StateLive) {
		c.metrics.RecordAudioDropped()
		return nil
	}
	return adapter.SendAudio(ctx, audio)
}

// Disconnect closes the upstream connection and then requests a forced flush,
// so results the provider delivers while closing are included. Idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	adapter := c.adapter
	c.mu.Unlock()

	switch c.lc.State() {
	case lifecycle.StateLive:
		c.lc.Transition(lifecycle.StateDraining)
	case lifecycle.StateIdle, lifecycle.StateConnecting:
		c.lc.Close()
	}

	if adapter != nil {
		if err := adapter.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Upstream close failed")
		}
	}

	c.mu.Lock()
	c.current, c.adapter = nil, nil
	c.mu.Unlock()

	c.listener.OnFlush()
	c.log.Info().Msg("Upstream disconnected")
}

// isCurrent reports whether events from att should reach the listener.
func (c *Controller) isCurrent(att *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == att
}

// upstreamClosed handles a close the controller did not request.
func (c *Controller) upstreamClosed(att *attempt) {
	c.mu.Lock()
	if c.current != att || c.closing || c.adapter == nil {
		c.mu.Unlock()
		return
	}
	c.closing = true
	adapter := c.adapter
	c.current, c.adapter = nil, nil
	c.mu.Unlock()

	if c.lc.Is(lifecycle.StateLive) {
		c.lc.Transition(lifecycle.StateDraining)
	}
	// Close can wait on the goroutine delivering this callback.
	go adapter.Close()
	c.log.Warn().Msg("Upstream closed unexpectedly")
	c.listener.OnClose()
}

// attempt binds callbacks to one connection attempt so events from an
// abandoned adapter are ignored.
type attempt struct {
	c   *Controller
	log zerolog.Logger
}

func (a *attempt) OnTranscript(res models.TranscriptResult) {
	if a.c.isCurrent(a) {
		a.c.listener.OnTranscript(res)
	}
}

func (a *attempt) OnUtteranceEnd() {
	if a.c.isCurrent(a) {
		a.c.metrics.RecordUtterance()
		a.c.listener.OnUtteranceEnd()
	}
}

func (a *attempt) OnSpeechStarted() {
	if a.c.isCurrent(a) {
		a.c.metrics.RecordSpeechStarted()
		a.c.listener.OnSpeechStarted()
	}
}

func (a *attempt) OnClose() {
	a.c.upstreamClosed(a)
}

func (a *attempt) OnError(err error) {
	if !a.c.isCurrent(a) {
		return
	}
	a.c.metrics.RecordSTTError(a.c.Provider(), "stream")
	a.log.Warn().Err(err).Msg("Upstream error")
	a.c.listener.OnError(err)
}
