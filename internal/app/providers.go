package app

import (
	"fmt"
	"strings"

	"ai-scribe-service/internal/config"
	"ai-scribe-service/internal/service/stt"
	"ai-scribe-service/internal/service/stt/deepgram"
	"ai-scribe-service/internal/service/stt/google"
	"ai-scribe-service/internal/service/stt/mock"
)

// Supported STT_PROVIDER values.
const (
	ProviderMock     = "mock"
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
)

// NewFactory returns a factory building one fresh adapter per connection
// attempt for the configured provider.
func NewFactory(cfg config.STTConfig) (stt.Factory, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderMock, "":
		return func() stt.Adapter { return mock.New() }, nil

	case ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("app: %w", deepgram.ErrMissingAPIKey)
		}
		dg := deepgram.DefaultConfig()
		dg.APIKey = cfg.DeepgramAPIKey
		if cfg.Model != "" {
			dg.Model = cfg.Model
		}
		dg.LanguageCode = cfg.LanguageCode
		dg.SampleRateHz = cfg.SampleRateHz
		dg.AudioEncoding = strings.ToLower(cfg.AudioEncoding)
		dg.InterimResults = cfg.InterimResults
		dg.Diarize = cfg.Diarize
		dg.UtteranceEndMs = cfg.UtteranceEndMs
		return func() stt.Adapter { return deepgram.New(dg) }, nil

	case ProviderGoogle:
		gc := google.DefaultConfig()
		gc.Model = cfg.Model
		gc.LanguageCode = cfg.LanguageCode
		gc.SampleRateHz = int32(cfg.SampleRateHz)
		gc.AudioEncoding = strings.ToUpper(cfg.AudioEncoding)
		gc.InterimResults = cfg.InterimResults
		gc.Diarize = cfg.Diarize
		return func() stt.Adapter { return google.New(gc) }, nil

	default:
		return nil, fmt.Errorf("app: unknown STT provider %q", cfg.Provider)
	}
}
