package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-scribe-service/internal/app"
	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/store"
	"ai-scribe-service/internal/transport/ws"
)

// NewRouter constructs the HTTP router for the service. The application
// must have been started.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stream", ws.Handler(application.Registry))
		r.Get("/transcripts/latest", latestTranscript(application.Store))
	})

	return r
}

// latestTranscript returns the most recent record for ?ownerId=.
func latestTranscript(st store.Store) http.HandlerFunc {
	log := logging.WithComponent("http")
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("ownerId")
		if ownerID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing ownerId"})
			return
		}

		rec, err := st.ReadLatest(r.Context(), ownerID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no transcript for owner"})
			return
		case err != nil:
			log.Error().Err(err).Str("ownerId", ownerID).Msg("Latest transcript lookup failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
