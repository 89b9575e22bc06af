package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// micCapture records 16kHz mono s16 from the default Pulse source and
// emits chunkSize slices.
type micCapture struct {
	client *pulse.Client
	stream *pulse.RecordStream
	chunks chan []byte

	mu      sync.Mutex
	pending []byte
	stopped bool
}

func startMic(ctx context.Context) (*micCapture, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("ai-scribe-audioclient"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	source, err := client.DefaultSource()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read default source: %w", err)
	}

	m := &micCapture{client: client, chunks: make(chan []byte, 64)}
	writer := pulse.NewWriter(writerFunc(m.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(16000),
		pulse.RecordBufferFragmentSize(chunkSize),
		pulse.RecordMediaName("ai scribe dictation"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	m.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		m.stop()
	}()
	return m, nil
}

func (m *micCapture) onPCM(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return 0, io.EOF
	}
	m.pending = append(m.pending, buf...)
	for len(m.pending) >= chunkSize {
		chunk := make([]byte, chunkSize)
		copy(chunk, m.pending[:chunkSize])
		m.pending = m.pending[chunkSize:]
		select {
		case m.chunks <- chunk:
		default: // reader fell behind; drop
		}
	}
	return len(buf), nil
}

// stop halts capture and closes the chunk channel exactly once.
func (m *micCapture) stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.stream.Stop()
	m.stream.Close()
	m.client.Close()
	close(m.chunks)
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
