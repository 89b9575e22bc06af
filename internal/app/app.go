// Package app wires configuration, logging and the shared collaborators of
// every session.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-scribe-service/internal/config"
	"ai-scribe-service/internal/events"
	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/service/buffer"
	"ai-scribe-service/internal/service/session"
	"ai-scribe-service/internal/service/transcription"
	"ai-scribe-service/internal/store"
)

// storeConnectTimeout bounds the initial store connection at startup.
const storeConnectTimeout = 10 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Store     store.Store
	Publisher *events.Publisher
	Registry  *session.Registry

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Logger.Info().
		Str("logLevel", logCfg.Level).
		Str("sttProvider", cfg.STT.Provider).
		Str("persistBackend", cfg.Persistence.Backend).
		Msg("AI scribe service application created")
	return a
}

// Start connects the store, builds the publisher and the session registry.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	factory, err := NewFactory(a.Cfg.STT)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()
	st, err := store.New(storeCtx, store.Config{
		Backend:         a.Cfg.Persistence.Backend,
		MongoURI:        a.Cfg.Persistence.MongoURI,
		MongoDatabase:   a.Cfg.Persistence.MongoDatabase,
		MongoCollection: a.Cfg.Persistence.MongoCollection,
		ConnectTimeout:  storeConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("app: store: %w", err)
	}
	a.Store = st

	a.Publisher = events.New(&events.Config{
		Enabled:    a.Cfg.Kafka.Enabled,
		Brokers:    a.Cfg.Kafka.Brokers,
		TopicLive:  a.Cfg.Kafka.TopicLive,
		TopicChunk: a.Cfg.Kafka.TopicChunk,
		Principal:  a.Cfg.Kafka.Principal,
	})

	a.Registry = session.NewRegistry(session.Config{
		Controller: transcription.Config{
			ConnectTimeout: a.Cfg.STT.ConnectTimeout,
			VADEvents:      a.Cfg.STT.VADEvents,
		},
		Buffer: buffer.Config{
			FlushDelay:    a.Cfg.Persistence.FlushDelay,
			HighWaterMark: a.Cfg.Persistence.HighWaterMark,
			DrainTimeout:  a.Cfg.Persistence.DrainTimeout,
		},
		MaxChunkDuration: a.Cfg.Chunk.MaxDuration,
	}, session.Deps{
		Factory:   factory,
		Store:     st,
		Publisher: a.Publisher,
	})

	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI scribe service starting")
	return nil
}

// Ready reports whether Start completed and Shutdown has not begun.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops every session, draining pending chunks, then releases the
// publisher and the store.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().Msg("AI scribe service shutting down")

	if a.Registry != nil {
		a.Registry.CloseAll(ctx)
	}

	var errs []error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}
