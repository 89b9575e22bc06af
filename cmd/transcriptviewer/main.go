// Transcript Viewer - Real-time transcription display
// Consumes from Kafka topics and displays via WebSocket to browser
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/viewer"
)

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicLive := flag.String("topic-live", "scribe.transcript.live", "Live transcript topic")
	topicChunk := flag.String("topic-chunk", "scribe.transcript.chunk", "Finalized chunk topic")
	lookback := flag.Duration("lookback", time.Hour, "How far back to replay on startup")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logging.Init(logCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := viewer.NewHub()
	go hub.Run(ctx)

	brokerList := strings.Split(*brokers, ",")
	for _, topic := range []string{*topicLive, *topicChunk} {
		go viewer.Consume(ctx, hub, viewer.NewReader(ctx, brokerList, topic, *lookback), topic)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", viewer.Page)
	r.Get("/ws", hub.Handler())

	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", "http://localhost:"+*port).
		Strs("brokers", brokerList).
		Str("topicLive", *topicLive).
		Str("topicChunk", *topicChunk).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
