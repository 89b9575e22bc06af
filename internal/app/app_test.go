package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-scribe-service/internal/config"
	"ai-scribe-service/internal/service/stt/deepgram"
)

func testConfig() *config.Config {
	return &config.Config{
		STT:         config.STTConfig{Provider: ProviderMock, ConnectTimeout: time.Second},
		Chunk:       config.ChunkConfig{MaxDuration: 30 * time.Second},
		Persistence: config.PersistenceConfig{Backend: "memory", FlushDelay: 10 * time.Millisecond, HighWaterMark: 5, DrainTimeout: time.Second},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.STTConfig
		wantName string
		wantErr  error
	}{
		{"mock", config.STTConfig{Provider: "mock"}, "mock", nil},
		{"empty defaults to mock", config.STTConfig{}, "mock", nil},
		{"deepgram", config.STTConfig{Provider: "Deepgram", DeepgramAPIKey: "key"}, "deepgram", nil},
		{"deepgram without key", config.STTConfig{Provider: "deepgram"}, "", deepgram.ErrMissingAPIKey},
		{"google", config.STTConfig{Provider: "google", SampleRateHz: 16000}, "google", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantName, factory().Name())
		})
	}

	_, err := NewFactory(config.STTConfig{Provider: "whisper"})
	require.Error(t, err)
}

func TestApplication_StartShutdown(t *testing.T) {
	a := New(testConfig())
	require.False(t, a.Ready())

	require.NoError(t, a.Start(context.Background()))
	require.True(t, a.Ready())
	require.NotNil(t, a.Registry)
	require.NotNil(t, a.Store)

	a.Registry.Open("dr-1", discardSink{})
	require.Equal(t, 1, a.Registry.Count())

	require.NoError(t, a.Shutdown(context.Background()))
	require.False(t, a.Ready())
	require.Zero(t, a.Registry.Count())
}

func TestApplication_StartRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.Backend = "redis"
	a := New(cfg)
	require.Error(t, a.Start(context.Background()))
	require.False(t, a.Ready())
}

type discardSink struct{}

func (discardSink) Send(any) error { return errors.New("closed") }
