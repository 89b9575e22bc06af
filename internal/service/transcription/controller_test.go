package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/service/lifecycle"
	"ai-scribe-service/internal/service/stt"
)

type fakeAdapter struct {
	mu         sync.Mutex
	failVAD    bool
	failAlways bool
	startDelay time.Duration
	opts       stt.Options
	cb         stt.Callback
	sent       [][]byte
	closes     int
	// onClose runs inside Close before it returns, like a provider flushing tail results.
	onClose func(cb stt.Callback)
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	if a.startDelay > 0 {
		time.Sleep(a.startDelay)
	}
	if a.failAlways || (opts.VADEvents && a.failVAD) {
		return errors.New("handshake rejected")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts = opts
	a.cb = cb
	return nil
}

func (a *fakeAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, audio)
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closes++
	cb, onClose := a.cb, a.onClose
	a.mu.Unlock()
	if onClose != nil && cb != nil {
		onClose(cb)
	}
	return nil
}

func (a *fakeAdapter) callback() stt.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

func (a *fakeAdapter) closeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}

type recordingListener struct {
	mu          sync.Mutex
	transcripts []models.TranscriptResult
	utterances  int
	started     int
	flushes     int
	closes      int
	errs        []error
	order       []string
}

func (l *recordingListener) OnTranscript(res models.TranscriptResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcripts = append(l.transcripts, res)
	l.order = append(l.order, "transcript")
}

func (l *recordingListener) OnUtteranceEnd() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utterances++
}

func (l *recordingListener) OnSpeechStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *recordingListener) OnFlush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushes++
	l.order = append(l.order, "flush")
}

func (l *recordingListener) OnClose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) snapshot() recordingListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return recordingListener{
		transcripts: append([]models.TranscriptResult{}, l.transcripts...),
		utterances:  l.utterances,
		started:     l.started,
		flushes:     l.flushes,
		closes:      l.closes,
		errs:        append([]error{}, l.errs...),
		order:       append([]string{}, l.order...),
	}
}

// factoryOf hands out the given adapters in order.
func factoryOf(adapters ...*fakeAdapter) (stt.Factory, *int) {
	calls := 0
	return func() stt.Adapter {
		a := adapters[calls]
		calls++
		return a
	}, &calls
}

func newController(factory stt.Factory, l Listener, cfg Config) (*Controller, *lifecycle.Lifecycle) {
	lc := lifecycle.New("sess-1")
	return New(lc, factory, l, cfg), lc
}

func final(text string) models.TranscriptResult {
	return models.TranscriptResult{
		Transcript: text,
		IsFinal:    true,
		Words:      []models.WordEvent{{Text: text, Start: 0, End: 0.5}},
	}
}

func TestConnect_WithVAD(t *testing.T) {
	a := &fakeAdapter{}
	factory, calls := factoryOf(a)
	c, lc := newController(factory, &recordingListener{}, Config{VADEvents: true})

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, lifecycle.StateLive, lc.State())
	require.True(t, a.opts.VADEvents)
	require.Equal(t, 1, *calls)
	require.Equal(t, "fake", c.Provider())
}

func TestConnect_FallsBackWithoutVAD(t *testing.T) {
	first := &fakeAdapter{failVAD: true}
	second := &fakeAdapter{failVAD: true}
	factory, calls := factoryOf(first, second)
	c, lc := newController(factory, &recordingListener{}, Config{VADEvents: true})

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, lifecycle.StateLive, lc.State())
	require.Equal(t, 2, *calls)
	require.False(t, second.opts.VADEvents)
}

func TestConnect_BothTiersFail(t *testing.T) {
	factory, calls := factoryOf(&fakeAdapter{failAlways: true}, &fakeAdapter{failAlways: true})
	c, lc := newController(factory, &recordingListener{}, Config{VADEvents: true})

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "vad=true")
	require.Contains(t, err.Error(), "vad=false")
	require.Equal(t, lifecycle.StateFailed, lc.State())
	require.Equal(t, 2, *calls)
}

func TestConnect_WithoutVADConfiguredTriesOnce(t *testing.T) {
	factory, calls := factoryOf(&fakeAdapter{failAlways: true})
	c, lc := newController(factory, &recordingListener{}, Config{})

	require.Error(t, c.Connect(context.Background()))
	require.Equal(t, 1, *calls)
	require.Equal(t, lifecycle.StateFailed, lc.State())
}

func TestConnect_TimeoutFallsBackAndClosesLateAdapter(t *testing.T) {
	slow := &fakeAdapter{startDelay: 100 * time.Millisecond}
	fast := &fakeAdapter{}
	factory, _ := factoryOf(slow, fast)
	l := &recordingListener{}
	c, lc := newController(factory, l, Config{VADEvents: true, ConnectTimeout: 20 * time.Millisecond})

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, lifecycle.StateLive, lc.State())

	// The slow adapter finishes its handshake later and must be closed.
	require.Eventually(t, func() bool { return slow.closeCount() == 1 }, time.Second, 5*time.Millisecond)

	// Events from the abandoned adapter are ignored.
	slow.callback().OnTranscript(final("stale"))
	require.Empty(t, l.snapshot().transcripts)
}

func TestConnect_NotIdle(t *testing.T) {
	factory, _ := factoryOf(&fakeAdapter{})
	c, _ := newController(factory, &recordingListener{}, Config{})

	require.NoError(t, c.Connect(context.Background()))
	require.ErrorIs(t, c.Connect(context.Background()), ErrNotIdle)
}

func TestSendAudio_DroppedUnlessLive(t *testing.T) {
	a := &fakeAdapter{}
	factory, _ := factoryOf(a)
	c, _ := newController(factory, &recordingListener{}, Config{})

	require.NoError(t, c.SendAudio(context.Background(), []byte{1}))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SendAudio(context.Background(), []byte{2}))
	c.Disconnect()
	require.NoError(t, c.SendAudio(context.Background(), []byte{3}))

	require.Equal(t, [][]byte{{2}}, a.sent)
}

func TestEvents_ForwardedToListener(t *testing.T) {
	a := &fakeAdapter{}
	factory, _ := factoryOf(a)
	l := &recordingListener{}
	c, _ := newController(factory, l, Config{})
	require.NoError(t, c.Connect(context.Background()))

	cb := a.callback()
	cb.OnTranscript(final("hello"))
	cb.OnSpeechStarted()
	cb.OnUtteranceEnd()
	cb.OnError(errors.New("advisory"))

	s := l.snapshot()
	require.Len(t, s.transcripts, 1)
	require.Equal(t, 1, s.started)
	require.Equal(t, 1, s.utterances)
	require.Len(t, s.errs, 1)
	require.Equal(t, lifecycle.StateLive, c.State(), "errors do not close the connection")
}

func TestDisconnect_FlushesAfterProviderTail(t *testing.T) {
	a := &fakeAdapter{onClose: func(cb stt.Callback) {
		cb.OnTranscript(final("tail"))
		cb.OnClose()
	}}
	factory, _ := factoryOf(a)
	l := &recordingListener{}
	c, lc := newController(factory, l, Config{})
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	c.Disconnect()

	s := l.snapshot()
	require.Equal(t, []string{"transcript", "flush"}, s.order)
	require.Equal(t, 1, s.flushes)
	require.Equal(t, 0, s.closes, "requested close is not reported as upstream close")
	require.Equal(t, 1, a.closeCount())
	require.Equal(t, lifecycle.StateDraining, lc.State())
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	factory, calls := factoryOf(&fakeAdapter{})
	l := &recordingListener{}
	c, lc := newController(factory, l, Config{})

	c.Disconnect()
	require.Equal(t, lifecycle.StateClosed, lc.State())
	require.Equal(t, 1, l.snapshot().flushes)

	require.ErrorIs(t, c.Connect(context.Background()), ErrNotIdle)
	require.Equal(t, 0, *calls)
}

func TestDisconnect_DuringConnect(t *testing.T) {
	a := &fakeAdapter{startDelay: 50 * time.Millisecond}
	factory, _ := factoryOf(a)
	c, lc := newController(factory, &recordingListener{}, Config{VADEvents: true})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return lc.Is(lifecycle.StateConnecting) }, time.Second, time.Millisecond)
	c.Disconnect()

	err := <-errCh
	require.ErrorIs(t, err, ErrDisconnected)
	require.Equal(t, lifecycle.StateClosed, lc.State())
	require.Equal(t, 1, a.closeCount())
}

func TestUpstreamClose_ReportedOnce(t *testing.T) {
	a := &fakeAdapter{}
	factory, _ := factoryOf(a)
	l := &recordingListener{}
	c, lc := newController(factory, l, Config{})
	require.NoError(t, c.Connect(context.Background()))

	cb := a.callback()
	cb.OnClose()
	cb.OnClose()

	require.Equal(t, 1, l.snapshot().closes)
	require.Equal(t, lifecycle.StateDraining, lc.State())

	// Disconnect after an upstream close is a no-op.
	c.Disconnect()
	require.Equal(t, 0, l.snapshot().flushes)
}
